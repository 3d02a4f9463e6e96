package xdb

import (
	"database/sql"
	"log/slog"
)

// Option configures a Coordinator, Executor or Repository.
type Option func(*options)

type options struct {
	open     Opener
	recorder Recorder
	logger   *slog.Logger
	metrics  *Metrics
	deferred bool
	bind     []BindOption
}

func newOptions(opts []Option) options {
	o := options{open: sql.Open}
	for _, fn := range opts {
		fn(&o)
	}
	if o.open == nil {
		o.open = sql.Open
	}
	o.logger = loggerOrDiscard(o.logger)
	return o
}

// WithOpener replaces sql.Open, e.g. to wrap a driver or share handles in
// tests.
func WithOpener(open Opener) Option { return func(o *options) { o.open = open } }

// WithRecorder receives the literal-substituted text of every statement
// before it is sent.
func WithRecorder(r Recorder) Option { return func(o *options) { o.recorder = r } }

// WithLogger sets the logger for per-target attempt records. Nil discards.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics records attempts and executions into m.
func WithMetrics(m *Metrics) Option { return func(o *options) { o.metrics = m } }

// WithDeferredRelease keeps each target's connection open between
// statements until Release is called explicitly.
func WithDeferredRelease(on bool) Option { return func(o *options) { o.deferred = on } }

// WithBindOptions sets the options used when a Repository binds rows.
func WithBindOptions(opts ...BindOption) Option {
	return func(o *options) { o.bind = append(o.bind, opts...) }
}
