package xdb

import (
	"context"
)

// Query executes the SQL query on a single connection and binds all rows of
// the first result set into a slice of T, through the process-wide plan
// cache. It is the single-target building block the Repository composes;
// use it directly when no failover or broadcast is needed.
//
// T may be a struct (supports `db` tags, ,inline and ,required), a
// FieldMapper, a primitive, or any type implementing sql.Scanner.
//
// Example:
//
//	type User struct {
//	    ID    int64  `db:"id"`
//	    Email string `db:"email"`
//	}
//
//	users, err := xdb.Query[User](ctx, db, `SELECT id, email FROM users ORDER BY id`)
func Query[T any](ctx context.Context, q Querier, query string, args ...any) (out []T, err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	// Propagate rows.Close() error if nothing else failed.
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return BindAll[T](rows)
}
