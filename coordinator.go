package xdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Outcome is what one target produced for one execution.
type Outcome struct {
	Target    string
	Index     int  // position in the TargetSet
	Attempted bool // false for targets skipped by RunOnFirst

	RowsAffected int64
	Scalar       any
	Table        *Table
	Tables       []*Table
	Rows         *sql.Rows // KindReader without a Consumer
	Value        any       // Consumer result
	Outputs      map[string]any

	Err      error // *EngineError
	BindErr  error // from the Consumer; never triggers failover
	Duration time.Duration
}

// OK reports whether the target was attempted and the engine succeeded.
func (o *Outcome) OK() bool { return o.Attempted && o.Err == nil }

// Result aggregates the outcomes of one coordinated execution. It is not
// modified after Run returns.
type Result struct {
	ID       uuid.UUID
	Policy   Policy
	Outcomes []Outcome // one per target, in target order
}

// HasError reports whether any attempted target failed.
func (r *Result) HasError() bool {
	for i := range r.Outcomes {
		if r.Outcomes[i].Err != nil {
			return true
		}
	}
	return false
}

// HasErrorOnAll reports whether targets failed and none succeeded.
func (r *Result) HasErrorOnAll() bool {
	if !r.HasError() {
		return false
	}
	for i := range r.Outcomes {
		if r.Outcomes[i].OK() {
			return false
		}
	}
	return true
}

// Err returns the last target's error when every attempted target failed,
// and nil otherwise. Use Errors for partial failures.
func (r *Result) Err() error {
	if !r.HasErrorOnAll() {
		return nil
	}
	for i := len(r.Outcomes) - 1; i >= 0; i-- {
		if err := r.Outcomes[i].Err; err != nil {
			return err
		}
	}
	return nil
}

// Errors returns every per-target engine error in target order.
func (r *Result) Errors() []error {
	var errs []error
	for i := range r.Outcomes {
		if err := r.Outcomes[i].Err; err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Message joins the per-target error messages, one "name: error" per line.
func (r *Result) Message() string {
	var b strings.Builder
	for i := range r.Outcomes {
		o := &r.Outcomes[i]
		if o.Err == nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %v", o.Target, o.Err)
	}
	return b.String()
}

// RowsAffected sums the rows affected by every successful target.
func (r *Result) RowsAffected() int64 {
	var n int64
	for i := range r.Outcomes {
		if r.Outcomes[i].OK() {
			n += r.Outcomes[i].RowsAffected
		}
	}
	return n
}

// First returns the first successful outcome in target order.
func (r *Result) First() (*Outcome, bool) {
	for i := range r.Outcomes {
		if r.Outcomes[i].OK() {
			return &r.Outcomes[i], true
		}
	}
	return nil, false
}

// ByTarget returns the outcome of the named target.
func (r *Result) ByTarget(name string) (*Outcome, bool) {
	for i := range r.Outcomes {
		if strings.EqualFold(r.Outcomes[i].Target, name) {
			return &r.Outcomes[i], true
		}
	}
	return nil, false
}

// Coordinator applies commands to a TargetSet according to its policy.
//
// RunOnFirst tries targets sequentially and stops at the first success.
// RunOnAll runs every target concurrently; a failing target never cancels
// the others. Each target has its own Executor, kept across calls.
type Coordinator struct {
	set      *TargetSet
	opts     options
	deferred atomic.Bool

	mu        sync.Mutex
	executors []*Executor
}

func NewCoordinator(set *TargetSet, opts ...Option) (*Coordinator, error) {
	if set == nil || set.Len() == 0 {
		return nil, fmt.Errorf("%w: target set is empty", ErrConfiguration)
	}
	c := &Coordinator{
		set:       set,
		opts:      newOptions(opts),
		executors: make([]*Executor, set.Len()),
	}
	c.deferred.Store(c.opts.deferred)
	return c, nil
}

func (c *Coordinator) TargetSet() *TargetSet { return c.set }

// SetDeferredRelease switches between releasing connections after every
// statement (off) and keeping them until Release (on).
func (c *Coordinator) SetDeferredRelease(on bool) { c.deferred.Store(on) }

func (c *Coordinator) executor(i int) *Executor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.executors[i] == nil {
		c.executors[i] = &Executor{
			target:   c.set.targets[i],
			open:     c.opts.open,
			recorder: c.opts.recorder,
			logger:   c.opts.logger,
		}
	}
	return c.executors[i]
}

// Validate renders cmd once for every distinct dialect of the target set.
// Missing parameters and malformed statement text are caller errors and are
// reported here without opening a connection.
func (c *Coordinator) Validate(cmd Command) error {
	var b binding
	if cmd.Params != nil {
		b = cmd.Params.bind()
	}
	seen := make(map[Dialect]bool, 1)
	for _, t := range c.set.targets {
		if seen[t.Dialect] {
			continue
		}
		seen[t.Dialect] = true
		if _, _, err := cmd.Statement.render(t.Dialect, b); err != nil {
			if errors.Is(err, ErrMissingParameter) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}
	return nil
}

// Run executes cmd under the set's policy and returns the aggregate. Callers
// should Validate cmd first; a statement that does not render is otherwise
// reported by every attempted target as a render failure.
func (c *Coordinator) Run(ctx context.Context, cmd Command) *Result {
	n := c.set.Len()
	res := &Result{ID: uuid.New(), Policy: c.set.policy, Outcomes: make([]Outcome, n)}
	for i, t := range c.set.targets {
		res.Outcomes[i] = Outcome{Target: t.Name, Index: i}
	}

	switch c.set.policy {
	case RunOnAll:
		var g errgroup.Group
		for i := range n {
			g.Go(func() error {
				res.Outcomes[i] = c.attempt(ctx, res.ID, i, cmd)
				return nil
			})
		}
		_ = g.Wait()
	default:
		for i := range n {
			res.Outcomes[i] = c.attempt(ctx, res.ID, i, cmd)
			if res.Outcomes[i].Err == nil || ctx.Err() != nil {
				break
			}
		}
	}

	c.opts.metrics.observeResult(res)
	if res.HasErrorOnAll() {
		c.opts.logger.LogAttrs(ctx, slog.LevelWarn, "xdb execution failed on all targets",
			slog.String("execution", res.ID.String()),
			slog.String("policy", res.Policy.String()),
			slog.Int("errors", len(res.Errors())))
	}
	return res
}

func (c *Coordinator) attempt(ctx context.Context, id uuid.UUID, i int, cmd Command) Outcome {
	ex := c.executor(i)
	start := time.Now()
	var out Outcome
	if err := ex.Prepare(ctx); err != nil {
		out = Outcome{Target: ex.target.Name, Attempted: true, Err: err, Duration: time.Since(start)}
	} else {
		out = ex.Execute(ctx, cmd)
		held := out.Err == nil && out.Rows != nil
		if !held {
			if err := ex.Release(!c.deferred.Load() || out.Err != nil); err != nil {
				c.opts.logger.LogAttrs(ctx, slog.LevelWarn, "xdb release failed",
					slog.String("execution", id.String()),
					slog.String("target", ex.target.Name),
					slog.Any("err", err))
			}
		}
	}
	out.Index = i

	c.opts.metrics.observeAttempt(out.Target, cmd.Kind, out.Err, out.Duration)
	attrs := []slog.Attr{
		slog.String("execution", id.String()),
		slog.String("target", out.Target),
		slog.String("kind", cmd.Kind.String()),
		slog.Duration("duration", out.Duration),
	}
	if out.Err != nil {
		c.opts.logger.LogAttrs(ctx, slog.LevelWarn, "xdb attempt failed", append(attrs, slog.Any("err", out.Err))...)
	} else {
		c.opts.logger.LogAttrs(ctx, slog.LevelDebug, "xdb attempt", append(attrs, slog.Int64("rows_affected", out.RowsAffected))...)
	}
	return out
}

// Prepare opens connections ahead of execution and turns on deferred
// release. Under RunOnAll every target is prepared; under RunOnFirst the
// first target that connects is. It fails only when no target connects.
func (c *Coordinator) Prepare(ctx context.Context) error {
	c.deferred.Store(true)
	var errs []error
	for i := range c.set.Len() {
		if err := c.executor(i).Prepare(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		if c.set.policy == RunOnFirst {
			return nil
		}
	}
	if len(errs) == c.set.Len() {
		return errors.Join(errs...)
	}
	return nil
}

// Release closes every executor's cursor, connection and handle and turns
// deferred release back off.
func (c *Coordinator) Release() error {
	c.deferred.Store(c.opts.deferred)
	c.mu.Lock()
	exs := append([]*Executor(nil), c.executors...)
	c.mu.Unlock()
	var errs []error
	for _, ex := range exs {
		if ex != nil {
			errs = append(errs, ex.Release(true))
		}
	}
	return errors.Join(errs...)
}
