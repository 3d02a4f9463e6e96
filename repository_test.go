package xdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestRepository(t *testing.T, policy Policy, handlers ...handlerFunc) (*Repository, fakeCluster) {
	t.Helper()
	cl, set := newCluster(t, policy, handlers...)
	repo, err := NewRepository(set, WithOpener(cl.open))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = repo.Release() })
	return repo, cl
}

type user struct {
	ID    int64
	Name  string
	Email *string
}

var usersHandler = rowsOf([]string{"id", "name", "email"},
	[]driver.Value{int64(1), "ada", "ada@example.com"},
	[]driver.Value{int64(2), "bob", nil},
)

func TestRepository_NoStatement(t *testing.T) {
	repo, _ := newTestRepository(t, RunOnFirst, affected(1))
	ctx := context.Background()
	if _, err := repo.Execute(ctx); !errors.Is(err, ErrNoStatement) {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := GetList[user](ctx, repo); !errors.Is(err, ErrNoStatement) {
		t.Fatalf("GetList: %v", err)
	}
	if _, err := repo.PreviewSQL(); !errors.Is(err, ErrNoStatement) {
		t.Fatalf("PreviewSQL: %v", err)
	}
}

func TestRepository_RunClearsParams(t *testing.T) {
	repo, _ := newTestRepository(t, RunOnFirst, affected(1))
	repo.Run("select 1 where a = :a")
	if err := repo.In("a", 1); err != nil {
		t.Fatal(err)
	}
	if err := repo.In("A", 2); !errors.Is(err, ErrDuplicateParameter) {
		t.Fatalf("duplicate: %v", err)
	}
	if err := repo.In(" ", 2); !errors.Is(err, ErrInvalidParameterName) {
		t.Fatalf("blank: %v", err)
	}
	repo.Run("select 2")
	if n := len(repo.Params()); n != 0 {
		t.Fatalf("params survived Run: %d", n)
	}
}

func TestRepository_PreviewSQL(t *testing.T) {
	opened := 0
	opener := func(string, string) (*sql.DB, error) {
		opened++
		return nil, errors.New("preview must not connect")
	}
	set, err := NewTargetSet(RunOnFirst, Target{Name: "pg", Driver: "pgx", DSN: "a"})
	if err != nil {
		t.Fatal(err)
	}
	repo, err := NewRepository(set, WithOpener(opener))
	if err != nil {
		t.Fatal(err)
	}
	repo.Run("select * from users where name = :name and active = :active")
	_ = repo.In("name", "o'hara")
	_ = repo.In("active", true)

	got, err := repo.PreviewSQL()
	if err != nil {
		t.Fatal(err)
	}
	if want := "select * from users where name = 'o''hara' and active = TRUE"; got != want {
		t.Fatalf("preview\n got %q\nwant %q", got, want)
	}
	if opened != 0 {
		t.Fatalf("PreviewSQL opened %d connections", opened)
	}
	if repo.LastResult() != nil {
		t.Fatal("PreviewSQL recorded a result")
	}
	if ex := repo.Coordinator().executors[0]; ex != nil && ex.State() != StateIdle {
		t.Fatalf("executor state %s", ex.State())
	}
}

func TestRepository_MissingParameterFailsBeforeConnecting(t *testing.T) {
	repo, cl := newTestRepository(t, RunOnFirst, affected(1), affected(1), affected(1))
	repo.Run("update t set x = :x where id = :id")
	_ = repo.In("x", 1)

	res, err := repo.Execute(context.Background())
	if !errors.Is(err, ErrMissingParameter) || !strings.Contains(err.Error(), ":id") {
		t.Fatalf("want ErrMissingParameter for :id, got %v", err)
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		t.Fatalf("caller error reported as engine error: %v", err)
	}
	if res != nil || repo.LastResult() != nil {
		t.Fatalf("result recorded for a statement that never ran: %+v", res)
	}
	for _, name := range []string{"a", "b", "c"} {
		if connects, _, calls := cl[name].stats(); connects != 0 || calls != 0 {
			t.Fatalf("%s: connects=%d calls=%d", name, connects, calls)
		}
	}

	repo.Run("select 'unterminated from t where id = :id")
	_ = repo.In("id", 1)
	if _, err := GetList[user](context.Background(), repo); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("want ErrConfiguration for malformed text, got %v", err)
	}
	if connects, _, _ := cl["a"].stats(); connects != 0 {
		t.Fatalf("malformed statement connected: %d", connects)
	}
}

func TestRepository_GetListAndMap(t *testing.T) {
	repo, srv := newTestRepository(t, RunOnFirst, usersHandler)
	ctx := context.Background()

	repo.Run("select id, name, email from users where team = :team")
	_ = repo.In("team", 7)
	users, err := GetList[user](ctx, repo)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0].Name != "ada" || *users[0].Email != "ada@example.com" || users[1].Email != nil {
		t.Fatalf("users: %+v", users)
	}
	q, args := srv["a"].lastQuery()
	if q != "select id, name, email from users where team = ?" || len(args) != 1 || args[0].Value != int64(7) {
		t.Fatalf("sent %q %#v", q, args)
	}

	repo.Run("select id, name, email from users limit 1")
	u, err := Map[user](ctx, repo)
	if err != nil || u.ID != 1 {
		t.Fatalf("Map: %+v %v", u, err)
	}
	if res := repo.LastResult(); res == nil || res.HasError() {
		t.Fatalf("LastResult: %+v", res)
	}
}

func TestRepository_MapNoRows(t *testing.T) {
	repo, _ := newTestRepository(t, RunOnFirst, rowsOf([]string{"id", "name", "email"}))
	repo.Run("select id, name, email from users where id = 0")
	if _, err := Map[user](context.Background(), repo); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("want sql.ErrNoRows, got %v", err)
	}
}

func TestRepository_PrimitivesAndScalar(t *testing.T) {
	repo, _ := newTestRepository(t, RunOnFirst, rowsOf([]string{"id"},
		[]driver.Value{int64(3)}, []driver.Value{int64(4)}))
	ctx := context.Background()

	repo.Run("select id from users")
	ids, err := GetPrimitiveList[int](ctx, repo)
	if err != nil || len(ids) != 2 || ids[1] != 4 {
		t.Fatalf("ids: %v %v", ids, err)
	}

	repo.Run("select count(*) from users")
	n, err := GetScalar[int64](ctx, repo)
	if err != nil || n != 3 {
		t.Fatalf("scalar: %v %v", n, err)
	}
	s, err := GetScalar[string](ctx, repo)
	if err != nil || s != "3" {
		t.Fatalf("scalar as string: %q %v", s, err)
	}
}

func TestRepository_ScalarNullAndEmpty(t *testing.T) {
	repo, _ := newTestRepository(t, RunOnFirst, rowsOf([]string{"n"}, []driver.Value{nil}))
	repo.Run("select max(id) from users")
	n, err := GetScalar[int](context.Background(), repo)
	if err != nil || n != 0 {
		t.Fatalf("NULL scalar: %v %v", n, err)
	}
}

func TestRepository_ScalarCoercionError(t *testing.T) {
	repo, _ := newTestRepository(t, RunOnFirst, rowsOf([]string{"n"}, []driver.Value{"many"}))
	repo.Run("select 'many'")
	if _, err := GetScalar[int](context.Background(), repo); !errors.Is(err, ErrTypeCoercion) {
		t.Fatalf("want ErrTypeCoercion, got %v", err)
	}
}

func TestRepository_BindErrorSurfaces(t *testing.T) {
	repo, cl := newTestRepository(t, RunOnFirst, rowsOf([]string{"id"}, []driver.Value{"x"}), usersHandler)
	repo.Run("select id from users")
	if _, err := GetPrimitiveList[int](context.Background(), repo); !errors.Is(err, ErrTypeCoercion) {
		t.Fatalf("want ErrTypeCoercion, got %v", err)
	}
	if _, _, calls := cl["b"].stats(); calls != 0 {
		t.Fatal("binding failure triggered failover")
	}
}

func TestRepository_ExecuteAcrossTargets(t *testing.T) {
	boom := errors.New("disk full")
	repo, _ := newTestRepository(t, RunOnAll, affected(2), failing(boom), affected(3))
	repo.Run("update users set active = :on")
	_ = repo.In("on", false)

	res, err := repo.Execute(context.Background())
	if err != nil {
		t.Fatalf("partial failure returned error: %v", err)
	}
	if !res.HasError() || res.HasErrorOnAll() || res.RowsAffected() != 5 {
		t.Fatalf("result: %s rows=%d", res.Message(), res.RowsAffected())
	}
	if errs := res.Errors(); len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Fatalf("errors: %v", errs)
	}
}

func TestRepository_ExecuteAllFail(t *testing.T) {
	boom := errors.New("read only")
	repo, _ := newTestRepository(t, RunOnAll, failing(boom), failing(boom))
	repo.Run("delete from users")
	res, err := repo.Execute(context.Background())
	if !errors.Is(err, boom) || res == nil || !res.HasErrorOnAll() {
		t.Fatalf("err=%v res=%+v", err, res)
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Target != "b" {
		t.Fatalf("representative error: %v", err)
	}
}

func TestRepository_GetListByTarget(t *testing.T) {
	repo, _ := newTestRepository(t, RunOnAll,
		rowsOf([]string{"id"}, []driver.Value{int64(1)}),
		failing(errors.New("down")),
		rowsOf([]string{"id"}, []driver.Value{int64(2)}, []driver.Value{int64(3)}),
	)
	repo.Run("select id from users")
	got, err := GetListByTarget[int64](context.Background(), repo)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || len(got["a"]) != 1 || len(got["c"]) != 2 || got["c"][1] != 3 {
		t.Fatalf("by target: %v", got)
	}
	if _, ok := got["b"]; ok {
		t.Fatal("failed target has an entry")
	}
}

func TestRepository_GetListByTargetKeepsOtherTargets(t *testing.T) {
	repo, _ := newTestRepository(t, RunOnAll,
		rowsOf([]string{"id"}, []driver.Value{"not-a-number"}),
		rowsOf([]string{"id"}, []driver.Value{int64(2)}),
		rowsOf([]string{"id"}, []driver.Value{int64(3)}),
	)
	repo.Run("select id from users")
	got, err := GetListByTarget[int64](context.Background(), repo)
	if !errors.Is(err, ErrTypeCoercion) || !strings.Contains(err.Error(), "bind on a") {
		t.Fatalf("want coercion error naming a, got %v", err)
	}
	if len(got) != 2 || got["b"][0] != 2 || got["c"][0] != 3 {
		t.Fatalf("by target: %v", got)
	}
	if _, ok := got["a"]; ok {
		t.Fatal("target with a binding error has an entry")
	}
}

func TestRepository_TableDataSetReader(t *testing.T) {
	repo, _ := newTestRepository(t, RunOnFirst, func(string, []driver.NamedValue) (reply, error) {
		return reply{sets: []resultSet{
			{cols: []string{"id", "name"}, rows: [][]driver.Value{{int64(1), "ada"}}},
			{cols: []string{"total"}, rows: [][]driver.Value{{int64(1)}}},
		}}, nil
	})
	ctx := context.Background()
	repo.Run("exec report")

	tbl, err := repo.GetTable(ctx)
	if err != nil || tbl.Len() != 1 {
		t.Fatalf("table: %+v %v", tbl, err)
	}
	if v, _ := tbl.Value(0, "name"); v != "ada" {
		t.Fatalf("name=%v", v)
	}

	set, err := repo.GetDataSet(ctx)
	if err != nil || len(set) != 2 || set[1].Columns[0] != "total" {
		t.Fatalf("data set: %+v %v", set, err)
	}

	rows, err := repo.GetReader(ctx)
	if err != nil {
		t.Fatal(err)
	}
	users, err := BindAll[user](rows)
	if err != nil || len(users) != 1 || users[0].Name != "ada" {
		t.Fatalf("reader: %+v %v", users, err)
	}
	if err := repo.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestRepository_OutputParameters(t *testing.T) {
	cl := fakeCluster{"mssql": &fakeServer{handle: func(q string, args []driver.NamedValue) (reply, error) {
		return reply{affected: 1, outs: map[string]driver.Value{"Total": int64(42)}}, nil
	}}}
	set, err := NewTargetSet(RunOnFirst, Target{Name: "mssql", Driver: "sqlserver", DSN: "mssql"})
	if err != nil {
		t.Fatal(err)
	}
	repo, err := NewRepository(set, WithOpener(cl.open))
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Release()

	repo.Run("dbo.CountUsers", CommandStoredProcedure)
	_ = repo.In("Team", 7)
	_ = repo.Out("Total", TypeInt, nil)

	if v, err := Value[int64](repo, "total"); err != nil || v != 0 {
		t.Fatalf("before execute: %v %v", v, err)
	}
	if _, err := repo.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if v, err := Value[int64](repo, "TOTAL"); err != nil || v != 42 {
		t.Fatalf("after execute: %v %v", v, err)
	}
	if v, err := Value[int](repo, "team"); err != nil || v != 7 {
		t.Fatalf("input value: %v %v", v, err)
	}
	if _, err := Value[int](repo, "missing"); err == nil {
		t.Fatal("expected error for unknown parameter")
	}
}

func TestRepository_PrepareRelease(t *testing.T) {
	repo, cl := newTestRepository(t, RunOnFirst, affected(1))
	ctx := context.Background()
	if err := <-repo.PrepareAsync(ctx); err != nil {
		t.Fatal(err)
	}
	repo.Run("update users set seen = 1")
	for range 3 {
		if _, err := repo.Execute(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if connects, closes, calls := cl["a"].stats(); connects != 1 || closes != 0 || calls != 3 {
		t.Fatalf("connects=%d closes=%d calls=%d", connects, closes, calls)
	}
	if err := repo.Release(); err != nil {
		t.Fatal(err)
	}
	if _, closes, _ := cl["a"].stats(); closes != 1 {
		t.Fatalf("closes=%d", closes)
	}
}

func TestRepository_ExecuteAsync(t *testing.T) {
	repo, _ := newTestRepository(t, RunOnFirst, affected(4))
	repo.Run("delete from sessions")
	select {
	case r := <-repo.ExecuteAsync(context.Background()):
		if r.Err != nil || r.Result.RowsAffected() != 4 {
			t.Fatalf("async: %+v", r)
		}
		if repo.LastResult().ID != r.Result.ID {
			t.Fatal("LastResult is not the async result")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ExecuteAsync did not deliver")
	}
}

func TestConvertValue(t *testing.T) {
	if v, err := convertValue[int64](int64(5)); err != nil || v != 5 {
		t.Fatalf("direct: %v %v", v, err)
	}
	if v, err := convertValue[float64]("2.5"); err != nil || v != 2.5 {
		t.Fatalf("from string: %v %v", v, err)
	}
	if v, err := convertValue[string]([]byte("hi")); err != nil || v != "hi" {
		t.Fatalf("from bytes: %v %v", v, err)
	}
	if v, err := convertValue[*int](nil); err != nil || v != nil {
		t.Fatalf("nil: %v %v", v, err)
	}
	if _, err := convertValue[bool]("maybe"); !errors.Is(err, ErrTypeCoercion) {
		t.Fatalf("want ErrTypeCoercion, got %v", err)
	}
}
