package xdb

import (
	"context"
	"database/sql"
)

// Exec executes a statement that does not return rows (INSERT, UPDATE,
// DELETE, DDL) on a single connection.
//
// It forwards to the underlying Execer. On success it returns the driver's
// sql.Result, which may support LastInsertId and RowsAffected depending on
// the database/driver. No placeholder rewriting happens here.
func Exec(ctx context.Context, e Execer, query string, args ...any) (sql.Result, error) {
	return e.ExecContext(ctx, query, args...)
}
