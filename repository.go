package xdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Repository is the single-owner facade over a Coordinator: stage a
// statement with Run, stage parameters, then execute or bind.
//
//	repo.Run("select id, name from users where team = :team")
//	_ = repo.In("team", 7)
//	users, err := xdb.GetList[User](ctx, repo)
//
// Parameters are cleared by every Run. Output parameter values are
// available through Value after an execution completes.
type Repository struct {
	mu     sync.Mutex
	coord  *Coordinator
	bind   []BindOption
	stmt   *Statement
	params *Registry
	last   *Result
}

func NewRepository(set *TargetSet, opts ...Option) (*Repository, error) {
	c, err := NewCoordinator(set, opts...)
	if err != nil {
		return nil, err
	}
	return &Repository{coord: c, bind: c.opts.bind, params: NewRegistry()}, nil
}

// Open loads a YAML target configuration and creates a Repository for it.
func Open(configPath string, opts ...Option) (*Repository, error) {
	set, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return NewRepository(set, opts...)
}

func (r *Repository) Coordinator() *Coordinator { return r.coord }

// Run stages a statement and clears any staged parameters. The command
// type defaults to CommandText; pass CommandStoredProcedure for a procedure
// name.
func (r *Repository) Run(text string, typ ...CommandType) *Repository {
	r.mu.Lock()
	defer r.mu.Unlock()
	ct := CommandText
	if len(typ) > 0 {
		ct = typ[0]
	}
	r.stmt = &Statement{Text: text, Type: ct}
	r.params.Clear()
	return r
}

func (r *Repository) In(name string, value any, typ ...DBType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params.In(name, value, typ...)
}

func (r *Repository) Out(name string, typ DBType, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params.Out(name, typ, value)
}

func (r *Repository) InOut(name string, value any, typ ...DBType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params.InOut(name, value, typ...)
}

func (r *Repository) AddParam(p Parameter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params.Add(p)
}

// Params returns the staged parameters in declaration order.
func (r *Repository) Params() []Parameter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params.Params()
}

// LastResult returns the aggregate of the most recent execution, or nil.
func (r *Repository) LastResult() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// PreviewSQL renders the staged statement with literal parameter values in
// the first target's dialect. It performs no I/O.
func (r *Repository) PreviewSQL() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stmt == nil {
		return "", ErrNoStatement
	}
	return r.stmt.preview(r.coord.set.targets[0].Dialect, r.params.params)
}

// Prepare opens target connections ahead of time and keeps them open
// between statements until Release.
func (r *Repository) Prepare(ctx context.Context) error {
	return r.coord.Prepare(ctx)
}

// Release closes every open cursor and connection.
func (r *Repository) Release() error {
	return r.coord.Release()
}

// run executes one command. Statement and parameter errors are returned
// before any target is contacted, with a nil Result. Otherwise the returned
// error is non-nil only when every attempted target failed; partial failures
// are visible on the Result.
func (r *Repository) run(ctx context.Context, kind Kind, consume Consumer) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stmt == nil {
		return nil, ErrNoStatement
	}
	cmd := Command{Statement: *r.stmt, Params: r.params, Kind: kind, Consume: consume}
	if err := r.coord.Validate(cmd); err != nil {
		return nil, err
	}
	res := r.coord.Run(ctx, cmd)
	r.last = res
	if o, ok := res.First(); ok {
		r.params.setOutputs(o.Outputs)
	}
	if res.HasErrorOnAll() {
		return res, res.Err()
	}
	return res, nil
}

// first returns the first successful outcome of an execution.
func (r *Repository) first(ctx context.Context, kind Kind, consume Consumer) (*Outcome, error) {
	res, err := r.run(ctx, kind, consume)
	if err != nil {
		return nil, err
	}
	o, ok := res.First()
	if !ok {
		return nil, fmt.Errorf("xdb: no target succeeded")
	}
	return o, o.BindErr
}

// Execute runs the staged statement as a non-query. Result.RowsAffected
// sums the successful targets.
func (r *Repository) Execute(ctx context.Context) (*Result, error) {
	return r.run(ctx, KindNonQuery, nil)
}

// GetTable materializes the first result set of the first successful target.
func (r *Repository) GetTable(ctx context.Context) (*Table, error) {
	o, err := r.first(ctx, KindTable, nil)
	if err != nil {
		return nil, err
	}
	return o.Table, nil
}

// GetDataSet materializes every result set of the first successful target.
func (r *Repository) GetDataSet(ctx context.Context) ([]*Table, error) {
	o, err := r.first(ctx, KindDataSet, nil)
	if err != nil {
		return nil, err
	}
	return o.Tables, nil
}

// GetReader returns the live cursor of the first successful target. The
// connection stays busy until the rows are closed and Release (or the next
// statement) runs.
func (r *Repository) GetReader(ctx context.Context) (*sql.Rows, error) {
	o, err := r.first(ctx, KindReader, nil)
	if err != nil {
		return nil, err
	}
	return o.Rows, nil
}

// Read runs the staged statement and hands each successful target's cursor
// to fn while the connection is held. It returns fn's value for the first
// successful target.
func Read[T any](ctx context.Context, r *Repository, fn func(context.Context, Cursor) (T, error)) (T, error) {
	var zero T
	o, err := r.first(ctx, KindReader, func(ctx context.Context, c Cursor) (any, error) {
		return fn(ctx, c)
	})
	if err != nil {
		return zero, err
	}
	v, _ := o.Value.(T)
	return v, nil
}

// GetList binds every row of the first result set into a []T.
func GetList[T any](ctx context.Context, r *Repository) ([]T, error) {
	return Read(ctx, r, func(_ context.Context, c Cursor) ([]T, error) {
		return BindAll[T](c, r.bind...)
	})
}

// Map binds the first row into a T. It returns sql.ErrNoRows when the
// result set is empty.
func Map[T any](ctx context.Context, r *Repository) (T, error) {
	return Read(ctx, r, func(_ context.Context, c Cursor) (T, error) {
		return BindOne[T](c, r.bind...)
	})
}

// GetPrimitiveList reads a single-column result set into a []T.
func GetPrimitiveList[T any](ctx context.Context, r *Repository) ([]T, error) {
	return Read(ctx, r, func(_ context.Context, c Cursor) ([]T, error) {
		return BindPrimitives[T](c, r.bind...)
	})
}

// GetScalar returns the first column of the first row converted to T. An
// empty result set or a NULL yields the zero value.
func GetScalar[T any](ctx context.Context, r *Repository) (T, error) {
	var zero T
	o, err := r.first(ctx, KindScalar, nil)
	if err != nil {
		return zero, err
	}
	return convertValue[T](o.Scalar)
}

// GetListByTarget binds the first result set of every successful target.
// Under RunOnFirst that is a single entry. A target whose rows fail to bind
// is left out of the map and its error, prefixed with the target name, is
// joined into the returned error; the other targets' lists are still
// returned.
func GetListByTarget[T any](ctx context.Context, r *Repository) (map[string][]T, error) {
	res, err := r.run(ctx, KindReader, func(_ context.Context, c Cursor) (any, error) {
		return BindAll[T](c, r.bind...)
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string][]T, len(res.Outcomes))
	var errs []error
	for i := range res.Outcomes {
		o := &res.Outcomes[i]
		if !o.OK() {
			continue
		}
		if o.BindErr != nil {
			errs = append(errs, fmt.Errorf("xdb: bind on %s: %w", o.Target, o.BindErr))
			continue
		}
		v, _ := o.Value.([]T)
		out[o.Target] = v
	}
	return out, errors.Join(errs...)
}

// Value returns a staged parameter's value converted to T: the
// engine-returned value for output parameters after an execution,
// otherwise the supplied value.
func Value[T any](r *Repository, name string) (T, error) {
	r.mu.Lock()
	v, ok := r.params.Value(name)
	r.mu.Unlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("xdb: parameter %q is not staged", name)
	}
	return convertValue[T](v)
}

// convertValue converts a driver value to T. NULL yields the zero value.
func convertValue[T any](v any) (T, error) {
	var out T
	if v == nil {
		return out, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	var ns sql.Null[T]
	if err := ns.Scan(v); err != nil {
		return out, fmt.Errorf("%w: %w", ErrTypeCoercion, err)
	}
	return ns.V, nil
}
