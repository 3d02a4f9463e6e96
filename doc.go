/*
Package xdb is a relational database access layer over database/sql. It
binds result sets to Go types, stages named parameters with direction and
type tags, and runs statements against one or more database targets.

# Binding

A struct binds column to field by `db:"name"` first, otherwise by
case-insensitive field name. Embedded structs and `db:",inline"` fields are
flattened, `db:"-"` is skipped and `db:"name,required"` marks a field that
must have a column when binding in Strict mode. NULL becomes the field's
zero value (or a nil pointer). Types whose pointer implements FieldMapper
are bound through the addresses they return, without reflection on fields.

Binding plans are built once per (type, column set) and cached for the life
of the process; the columns of a result set are read once, not per row.

	users, err := xdb.BindAll[User](rows, xdb.Strict(true))

# Targets

A TargetSet is an ordered list of database targets plus a Policy.
RunOnFirst tries targets in order and stops at the first success;
RunOnAll executes on every target concurrently and keeps every outcome.
A Result never aborts on one target's failure: HasError reports any
failure and HasErrorOnAll reports that nothing succeeded.

# Repository

	repo, err := xdb.NewRepository(set, xdb.WithLogger(logger))
	repo.Run("update accounts set balance = balance + :amount where id = :id")
	_ = repo.In("amount", 10)
	_ = repo.In("id", 42)
	res, err := repo.Execute(ctx)

Statements reference parameters as :name and are rewritten to each target's
placeholder style. For SQL Server targets the text is sent unchanged and
parameters are bound as @name. PreviewSQL renders the statement with
literal values and never touches a connection.

# Errors

Configuration and parameter mistakes are returned by the call that made
them. Driver failures are wrapped in *EngineError, which carries the target
name and, for PostgreSQL and SQLite, the engine's error code.
*/
package xdb
