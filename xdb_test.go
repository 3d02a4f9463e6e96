package xdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"
)

type DBHandler func(query string, args []driver.NamedValue) (cols []string, rows [][]driver.Value, err error)

type testConnector struct {
	h DBHandler
}

func (c *testConnector) Connect(context.Context) (driver.Conn, error) {
	return &fakeConn{s: &fakeServer{handle: adaptHandler(c.h)}}, nil
}
func (c *testConnector) Driver() driver.Driver { return testDriver{} }

type testDriver struct{}

func (testDriver) Open(name string) (driver.Conn, error) {
	return nil, errors.New("testDriver.Open should not be called; use sql.OpenDB with connector")
}

// newTestDB creates a *sql.DB backed by the in-memory test driver.
func newTestDB(t *testing.T, h DBHandler) *sql.DB {
	t.Helper()
	return sql.OpenDB(&testConnector{h: h})
}

func adaptHandler(h DBHandler) handlerFunc {
	return func(query string, args []driver.NamedValue) (reply, error) {
		cols, rows, err := h(query, args)
		if err != nil {
			return reply{}, err
		}
		return reply{sets: []resultSet{{cols: cols, rows: rows}}}, nil
	}
}

// ---------------------------------------------------------------------------
// fakeServer: one database target with canned replies.

type resultSet struct {
	cols []string
	rows [][]driver.Value
}

type reply struct {
	sets     []resultSet
	affected int64
	outs     map[string]driver.Value // by parameter name, or "#<ordinal>"
	block    bool                    // wait for the context to end
	nextErr  error                   // returned by the first Next
}

type handlerFunc func(query string, args []driver.NamedValue) (reply, error)

type fakeServer struct {
	handle     handlerFunc
	connectErr error

	mu       sync.Mutex
	queries  []string
	args     [][]driver.NamedValue
	connects int
	closes   int
}

func (s *fakeServer) Connect(context.Context) (driver.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	s.connects++
	return &fakeConn{s: s}, nil
}

func (s *fakeServer) Driver() driver.Driver { return testDriver{} }

func (s *fakeServer) stats() (connects, closes, calls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects, s.closes, len(s.queries)
}

func (s *fakeServer) lastQuery() (string, []driver.NamedValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queries) == 0 {
		return "", nil
	}
	n := len(s.queries) - 1
	return s.queries[n], s.args[n]
}

func (s *fakeServer) call(ctx context.Context, query string, args []driver.NamedValue) (reply, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.args = append(s.args, args)
	h := s.handle
	s.mu.Unlock()

	if h == nil {
		return reply{}, errors.New("fake: no handler")
	}
	rep, err := h(query, args)
	if rep.block {
		<-ctx.Done()
		return reply{}, ctx.Err()
	}
	for _, a := range args {
		out, ok := a.Value.(sql.Out)
		if !ok {
			continue
		}
		key := a.Name
		if key == "" {
			key = "#" + strconv.Itoa(a.Ordinal)
		}
		if v, ok := rep.outs[key]; ok {
			*(out.Dest.(*any)) = v
		}
	}
	if err != nil {
		return reply{}, err
	}
	return rep, nil
}

type fakeConn struct {
	s      *fakeServer
	closed bool
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("fake: prepare unsupported") }
func (c *fakeConn) Begin() (driver.Tx, error)           { return nil, errors.New("fake: tx unsupported") }
func (c *fakeConn) Ping(context.Context) error          { return nil }

func (c *fakeConn) Close() error {
	if !c.closed {
		c.closed = true
		c.s.mu.Lock()
		c.s.closes++
		c.s.mu.Unlock()
	}
	return nil
}

// CheckNamedValue lets sql.Out through; everything else uses the default
// conversion.
func (c *fakeConn) CheckNamedValue(nv *driver.NamedValue) error {
	if _, ok := nv.Value.(sql.Out); ok {
		return nil
	}
	return driver.ErrSkip
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	rep, err := c.s.call(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return driver.RowsAffected(rep.affected), nil
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	rep, err := c.s.call(ctx, query, args)
	if err != nil {
		return nil, err
	}
	sets := rep.sets
	if len(sets) == 0 {
		sets = []resultSet{{cols: []string{"result"}}}
	}
	return &fakeRows{sets: sets, nextErr: rep.nextErr}, nil
}

type fakeRows struct {
	sets    []resultSet
	set     int
	i       int
	nextErr error
}

func (r *fakeRows) Columns() []string { return append([]string(nil), r.sets[r.set].cols...) }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.nextErr != nil {
		return r.nextErr
	}
	rows := r.sets[r.set].rows
	if r.i >= len(rows) {
		return io.EOF
	}
	row := rows[r.i]
	for i := range dest {
		if i < len(row) {
			dest[i] = row[i]
		} else {
			dest[i] = nil
		}
	}
	r.i++
	return nil
}

func (r *fakeRows) HasNextResultSet() bool { return r.set+1 < len(r.sets) }

func (r *fakeRows) NextResultSet() error {
	if !r.HasNextResultSet() {
		return io.EOF
	}
	r.set++
	r.i = 0
	return nil
}

// ---------------------------------------------------------------------------
// fakeCluster: servers keyed by DSN, opened through WithOpener.

type fakeCluster map[string]*fakeServer

func (c fakeCluster) open(_ string, dsn string) (*sql.DB, error) {
	s, ok := c[dsn]
	if !ok {
		return nil, fmt.Errorf("fake: unknown dsn %q", dsn)
	}
	return sql.OpenDB(s), nil
}

// newCluster builds one server per handler, named a, b, c, ... and returns a
// target set with the given policy over them.
func newCluster(t *testing.T, policy Policy, handlers ...handlerFunc) (fakeCluster, *TargetSet) {
	t.Helper()
	cl := make(fakeCluster, len(handlers))
	targets := make([]Target, len(handlers))
	for i, h := range handlers {
		name := string(rune('a' + i))
		cl[name] = &fakeServer{handle: h}
		targets[i] = Target{Name: name, Driver: "fake", DSN: name}
	}
	set, err := NewTargetSet(policy, targets...)
	if err != nil {
		t.Fatalf("NewTargetSet: %v", err)
	}
	return cl, set
}

func affected(n int64) handlerFunc {
	return func(string, []driver.NamedValue) (reply, error) { return reply{affected: n}, nil }
}

func failing(err error) handlerFunc {
	return func(string, []driver.NamedValue) (reply, error) { return reply{}, err }
}

func rowsOf(cols []string, rows ...[]driver.Value) handlerFunc {
	return func(string, []driver.NamedValue) (reply, error) {
		return reply{sets: []resultSet{{cols: cols, rows: rows}}}, nil
	}
}
