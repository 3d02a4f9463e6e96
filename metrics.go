package xdb

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are Prometheus collectors for coordinator activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	attempts   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	executions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xdb",
			Name:      "target_attempts_total",
			Help:      "Statement attempts per target and result (ok, error, canceled).",
		}, []string{"target", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xdb",
			Name:      "target_attempt_duration_seconds",
			Help:      "Duration of statement attempts per target and command kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target", "kind"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xdb",
			Name:      "executions_total",
			Help:      "Coordinated executions per policy and aggregate result (ok, partial, failed).",
		}, []string{"policy", "result"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.attempts, m.duration, m.executions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeAttempt(target string, kind Kind, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result = "canceled"
	case err != nil:
		result = "error"
	}
	m.attempts.WithLabelValues(target, result).Inc()
	m.duration.WithLabelValues(target, kind.String()).Observe(d.Seconds())
}

func (m *Metrics) observeResult(r *Result) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case r.HasErrorOnAll():
		result = "failed"
	case r.HasError():
		result = "partial"
	}
	m.executions.WithLabelValues(r.Policy.String(), result).Inc()
}
