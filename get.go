package xdb

import (
	"context"
)

// Get executes the SQL query and binds the first row into a value of type T.
//
// It returns sql.ErrNoRows if the query yields no rows and does not enforce
// "exactly one row" beyond the first; if more rows exist, they are ignored.
func Get[T any](ctx context.Context, q Querier, query string, args ...any) (out T, err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return out, err
	}
	// Ensure Close error is propagated if no earlier error occurred.
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return BindOne[T](rows)
}
