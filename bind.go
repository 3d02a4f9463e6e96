package xdb

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
)

// BindOption configures one binding call.
type BindOption func(*bindConfig)

type bindConfig struct {
	mapper *Mapper
	strict bool
}

// Strict makes binding fail with ErrSchemaMismatch when a field tagged
// `db:"name,required"` (or a required FieldMapper field) has no column.
// The check runs before the first row is read.
func Strict(on bool) BindOption { return func(c *bindConfig) { c.strict = on } }

// WithMapper binds through m instead of the process-wide mapper.
func WithMapper(m *Mapper) BindOption { return func(c *bindConfig) { c.mapper = m } }

func newBindConfig(opts []BindOption) bindConfig {
	c := bindConfig{}
	for _, o := range opts {
		o(&c)
	}
	if c.mapper == nil {
		c.mapper = getMapper()
	}
	return c
}

type binder[T any] struct {
	p *plan
}

// newBinder derives the shape of the cursor's current result set and
// resolves its plan. In strict mode missing required columns fail here.
func newBinder[T any](c Cursor, cfg bindConfig) (*binder[T], error) {
	shape, err := ShapeOf(c)
	if err != nil {
		return nil, err
	}
	rt := reflect.TypeFor[T]()
	p, err := cfg.mapper.getPlan(rt, shape)
	if err != nil {
		return nil, err
	}
	if cfg.strict && len(p.missing) > 0 {
		return nil, fmt.Errorf("%w: %s has no column for required field(s) %s",
			ErrSchemaMismatch, rt, strings.Join(p.missing, ", "))
	}
	return &binder[T]{p: p}, nil
}

// scan reads the current row into a new T.
func (b *binder[T]) scan(c Cursor) (T, error) {
	rv := reflect.New(b.p.rt) // *T
	if b.p.kind == planStruct && b.p.rt.Kind() == reflect.Pointer {
		rv.Elem().Set(reflect.New(b.p.rt.Elem()))
	}
	var fields []Field
	if b.p.kind == planFields {
		fields = rv.Interface().(FieldMapper).DBFields()
	}
	dests, finalize := b.p.destPtrs(rv, fields)
	if err := c.Scan(dests...); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrTypeCoercion, err)
	}
	if err := finalize(); err != nil {
		var zero T
		return zero, err
	}
	return *(rv.Interface().(*T)), nil
}

// BindAll reads every remaining row of the cursor's current result set into
// a slice of T. Columns without a matching field are ignored; fields without
// a column keep their zero value. The cursor is not closed.
func BindAll[T any](c Cursor, opts ...BindOption) ([]T, error) {
	b, err := newBinder[T](c, newBindConfig(opts))
	if err != nil {
		return nil, err
	}
	var out []T
	for c.Next() {
		v, err := b.scan(c)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// BindOne reads the first row of the current result set. Remaining rows of
// that set are left unread. It returns sql.ErrNoRows when the set is empty.
func BindOne[T any](c Cursor, opts ...BindOption) (T, error) {
	var zero T
	b, err := newBinder[T](c, newBindConfig(opts))
	if err != nil {
		return zero, err
	}
	if !c.Next() {
		if err := c.Err(); err != nil {
			return zero, err
		}
		return zero, sql.ErrNoRows
	}
	return b.scan(c)
}

// BindNext advances the cursor to its next result set and binds it. The
// shape of every result set is derived independently. It returns
// sql.ErrNoRows when there is no further result set.
func BindNext[T any](c Cursor, opts ...BindOption) ([]T, error) {
	if !c.NextResultSet() {
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, sql.ErrNoRows
	}
	return BindAll[T](c, opts...)
}

// BindPrimitives reads a single-column result set into a slice of
// primitives (or sql.Scanner values).
func BindPrimitives[T any](c Cursor, opts ...BindOption) ([]T, error) {
	if !isWholeValue(reflect.TypeFor[T]()) {
		return nil, fmt.Errorf("xdb: %s is not a primitive type", reflect.TypeFor[T]())
	}
	return BindAll[T](c, opts...)
}
