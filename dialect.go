package xdb

import (
	"fmt"
	"strings"
)

// Placeholder selects the positional parameter style for a target database.
//
// Common choices:
//   - PlaceholderQuestion   → "?"           (MySQL, SQLite, DuckDB, ClickHouse)
//   - PlaceholderDollar     → "$1, $2, …"  (PostgreSQL)
//   - PlaceholderAtP        → "@p1, @p2…"  (SQL Server)
//   - PlaceholderColonNum   → ":1, :2, …"  (Oracle)
type Placeholder int

const (
	PlaceholderQuestion Placeholder = iota
	PlaceholderDollar
	PlaceholderAtP
	PlaceholderColonNum
)

// Dialect describes how statements and parameters are shaped for one engine.
type Dialect int

const (
	DialectGeneric Dialect = iota
	DialectSQLite
	DialectMySQL
	DialectPostgres
	DialectSQLServer
	DialectOracle
)

var dialectNames = map[Dialect]string{
	DialectGeneric:   "generic",
	DialectSQLite:    "sqlite",
	DialectMySQL:     "mysql",
	DialectPostgres:  "postgres",
	DialectSQLServer: "sqlserver",
	DialectOracle:    "oracle",
}

func (d Dialect) String() string {
	if s, ok := dialectNames[d]; ok {
		return s
	}
	return fmt.Sprintf("Dialect(%d)", int(d))
}

// Placeholder returns the positional placeholder style of the dialect.
func (d Dialect) Placeholder() Placeholder {
	switch d {
	case DialectPostgres:
		return PlaceholderDollar
	case DialectSQLServer:
		return PlaceholderAtP
	case DialectOracle:
		return PlaceholderColonNum
	default:
		return PlaceholderQuestion
	}
}

// Named reports whether parameters are passed by name (sql.Named) rather
// than rewritten to positional placeholders. SQL Server drivers bind @name
// arguments natively and require named sql.Out values for output parameters.
func (d Dialect) Named() bool { return d == DialectSQLServer }

// DialectFor picks a Dialect based on a database/sql driver name.
//
// Examples:
//
//	xdb.DialectFor("pgx")       // => DialectPostgres
//	xdb.DialectFor("sqlserver") // => DialectSQLServer
//	xdb.DialectFor("sqlite")    // => DialectSQLite
func DialectFor(driverName string) Dialect {
	switch strings.ToLower(driverName) {
	case "pgx", "postgres", "postgresql", "lib/pq", "pg":
		return DialectPostgres
	case "sqlserver", "mssql", "azuresql":
		return DialectSQLServer
	case "godror", "oracle", "goracle", "oci8":
		return DialectOracle
	case "sqlite", "sqlite3":
		return DialectSQLite
	case "mysql":
		return DialectMySQL
	default:
		return DialectGeneric
	}
}

// ParseDialect parses a dialect name as written in configuration files.
// Driver names are accepted too.
func ParseDialect(s string) (Dialect, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DialectGeneric, nil
	}
	for d, name := range dialectNames {
		if name == s {
			return d, nil
		}
	}
	if d := DialectFor(s); d != DialectGeneric {
		return d, nil
	}
	return DialectGeneric, fmt.Errorf("%w: unknown dialect %q", ErrConfiguration, s)
}
