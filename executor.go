package xdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Kind selects what an execution produces.
type Kind int

const (
	KindNonQuery Kind = iota // rows affected
	KindScalar               // first column of the first row
	KindReader               // a live cursor (or a Consumer's result)
	KindTable                // first result set, materialized
	KindDataSet              // every result set, materialized
)

func (k Kind) String() string {
	switch k {
	case KindNonQuery:
		return "nonquery"
	case KindScalar:
		return "scalar"
	case KindReader:
		return "reader"
	case KindTable:
		return "table"
	case KindDataSet:
		return "dataset"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// State is the lifecycle position of an Executor.
type State int

const (
	StateIdle State = iota
	StatePrepared
	StateExecuting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrepared:
		return "prepared"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Consumer reads a cursor while the target's connection is still held. Its
// result lands in Outcome.Value and its error in Outcome.BindErr.
type Consumer func(ctx context.Context, c Cursor) (any, error)

// Command is one statement execution request.
type Command struct {
	Statement Statement
	Params    *Registry // may be nil
	Kind      Kind
	// Consume is used with KindReader. When nil the live cursor is handed
	// back in Outcome.Rows and the executor stays Executing until Release.
	Consume Consumer
}

// Opener opens a database handle. It defaults to sql.Open.
type Opener func(driverName, dsn string) (*sql.DB, error)

// Executor owns one pinned connection to a single target.
//
// State machine: Idle → Prepared → Executing → Completed|Failed, then
// Release returns to Idle (stopImmediately) or Prepared (connection kept).
// Calls are serialized; an Executor never runs two statements at once.
type Executor struct {
	mu       sync.Mutex
	target   Target
	open     Opener
	recorder Recorder
	logger   *slog.Logger

	state  State
	db     *sql.DB
	conn   *sql.Conn
	rows   *sql.Rows
	cancel context.CancelFunc
}

// NewExecutor creates an idle executor for t. Only the opener, recorder and
// logger options apply.
func NewExecutor(t Target, opts ...Option) *Executor {
	o := newOptions(opts)
	if t.Dialect == DialectGeneric {
		t.Dialect = DialectFor(t.Driver)
	}
	return &Executor{target: t, open: o.open, recorder: o.recorder, logger: o.logger}
}

func (e *Executor) Target() Target { return e.target }

func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Prepare opens the database handle and pins one physical connection within
// the target's connect timeout. It is a no-op when a connection is already
// held and idle; a leftover cursor from a previous statement is closed.
func (e *Executor) Prepare(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateExecuting && e.rows == nil {
		return engineError(e.target.Name, "prepare", fmt.Errorf("%w: %s", ErrState, e.state))
	}
	if e.conn != nil {
		return e.releaseLocked(false)
	}

	if e.db == nil {
		db, err := e.open(e.target.Driver, e.target.DSN)
		if err != nil {
			return engineError(e.target.Name, "open", err)
		}
		e.db = db
	}
	cctx, cancel := context.WithTimeout(ctx, e.target.connectTimeout())
	defer cancel()
	conn, err := e.db.Conn(cctx)
	if err == nil {
		if err = conn.PingContext(cctx); err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		_ = e.db.Close()
		e.db = nil
		e.state = StateIdle
		return engineError(e.target.Name, "prepare", err)
	}
	e.conn = conn
	e.state = StatePrepared
	return nil
}

// Execute runs cmd on the pinned connection. It requires StatePrepared.
// Engine failures are reported in Outcome.Err as *EngineError; output
// parameters are collected only once the statement has completed. When the
// context is canceled or the command timeout expires the connection is
// released.
func (e *Executor) Execute(ctx context.Context, cmd Command) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	out := Outcome{Target: e.target.Name, Attempted: true}
	var b binding
	fail := func(op string, err error) Outcome {
		out.Err = engineError(e.target.Name, op, err)
		out.Outputs = b.outputs()
		out.Duration = time.Since(start)
		return out
	}

	if e.state != StatePrepared {
		return fail("execute", fmt.Errorf("%w: execute in state %s", ErrState, e.state))
	}

	var params []Parameter
	if cmd.Params != nil {
		b = cmd.Params.bind()
		params = cmd.Params.Params()
	}
	query, args, err := cmd.Statement.render(e.target.Dialect, b)
	if err != nil {
		return fail("render", err)
	}
	if e.recorder != nil {
		if text, err := cmd.Statement.preview(e.target.Dialect, params); err == nil {
			e.recorder.RecordStatement(text)
		}
	}

	e.state = StateExecuting
	cctx, cancel := context.WithTimeout(ctx, e.target.commandTimeout())
	held := false
	defer func() {
		if !held {
			cancel()
		}
	}()

	op, err := "exec", error(nil)
	switch cmd.Kind {
	case KindNonQuery:
		var res sql.Result
		res, err = Exec(cctx, e.conn, query, args...)
		if err == nil {
			if n, rerr := res.RowsAffected(); rerr == nil {
				out.RowsAffected = n
			}
		}
	case KindScalar, KindTable, KindDataSet, KindReader:
		op = "query"
		var rows *sql.Rows
		rows, err = e.conn.QueryContext(cctx, query, args...)
		if err != nil {
			break
		}
		if cmd.Kind == KindReader && cmd.Consume == nil {
			e.rows, e.cancel, held = rows, cancel, true
			out.Rows = rows
			out.Duration = time.Since(start)
			return out
		}
		err = e.consume(cctx, rows, cmd, &out)
		if cerr := rows.Close(); err == nil && cerr != nil {
			err = cerr
		}
	default:
		err = fmt.Errorf("xdb: unknown command kind %d", int(cmd.Kind))
	}

	if err != nil {
		e.state = StateFailed
		if cctx.Err() != nil {
			_ = e.releaseLocked(true)
		}
		return fail(op, err)
	}
	e.state = StateCompleted
	out.Outputs = b.outputs()
	out.Duration = time.Since(start)
	return out
}

// consume drains rows according to cmd.Kind. Consumer errors are binding
// errors unless the cursor itself reports a failure.
func (e *Executor) consume(ctx context.Context, rows *sql.Rows, cmd Command, out *Outcome) error {
	var err error
	switch cmd.Kind {
	case KindScalar:
		out.Scalar, err = readScalar(rows)
	case KindTable:
		out.Table, err = readTable(rows)
	case KindDataSet:
		out.Tables, err = readDataSet(rows)
	case KindReader:
		v, cerr := cmd.Consume(ctx, rows)
		if rerr := rows.Err(); rerr != nil {
			return rerr
		}
		if ctx.Err() != nil && cerr != nil && errors.Is(cerr, ctx.Err()) {
			return cerr
		}
		out.Value, out.BindErr = v, cerr
	}
	return err
}

// Release closes any open cursor. With stopImmediately the connection and
// database handle are closed too and the executor returns to Idle;
// otherwise the connection is kept for the next statement and the executor
// returns to Prepared. Release is idempotent and safe in any state.
func (e *Executor) Release(stopImmediately bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.releaseLocked(stopImmediately)
}

func (e *Executor) releaseLocked(stop bool) error {
	var errs []error
	if e.rows != nil {
		errs = append(errs, e.rows.Close())
		e.rows = nil
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if !stop && e.conn != nil {
		e.state = StatePrepared
		return errors.Join(errs...)
	}
	if e.conn != nil {
		errs = append(errs, e.conn.Close())
		e.conn = nil
	}
	if e.db != nil {
		errs = append(errs, e.db.Close())
		e.db = nil
	}
	e.state = StateIdle
	return errors.Join(errs...)
}
