package xdb

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
)

// ErrConfiguration is returned when a target set or repository is configured
// inconsistently (no targets, duplicate target names, unknown policy).
var ErrConfiguration = errors.New("xdb: configuration error")

// ErrDuplicateParameter is returned when a parameter with the same
// case-insensitive name is already staged.
var ErrDuplicateParameter = errors.New("xdb: duplicate parameter")

// ErrInvalidParameterName is returned for blank parameter names.
var ErrInvalidParameterName = errors.New("xdb: invalid parameter name")

// ErrSchemaMismatch is returned in strict mode when a required field has no
// matching column. It is raised before any row is read.
var ErrSchemaMismatch = errors.New("xdb: schema mismatch")

// ErrTypeCoercion is returned when a column value cannot be converted to the
// destination field type.
var ErrTypeCoercion = errors.New("xdb: type coercion")

// ErrNoDefaultConstructor is returned when the destination type has no usable
// zero value to populate (interfaces, funcs, channels).
var ErrNoDefaultConstructor = errors.New("xdb: type cannot be instantiated")

// ErrMissingParameter is returned when the statement references a :name
// parameter that is not staged. It is reported before any connection opens.
var ErrMissingParameter = errors.New("xdb: missing parameter")

// ErrNoStatement is returned by execution methods called before Run.
var ErrNoStatement = errors.New("xdb: no statement configured")

// ErrState is returned when an executor method is called in the wrong state.
var ErrState = errors.New("xdb: invalid executor state")

// EngineError wraps a failure reported by the driver for one target.
type EngineError struct {
	Target string // target name
	Op     string // prepare, exec, query, scan
	Code   string // SQLSTATE or engine-specific code, if known
	Err    error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("xdb: %s on %s [%s]: %v", e.Op, e.Target, e.Code, e.Err)
	}
	return fmt.Sprintf("xdb: %s on %s: %v", e.Op, e.Target, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

func engineError(target, op string, err error) *EngineError {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}
	return &EngineError{Target: target, Op: op, Code: engineCode(err), Err: err}
}

// engineCode extracts a server error code from the drivers we know about.
func engineCode(err error) string {
	var pg *pgconn.PgError
	if errors.As(err, &pg) {
		return pg.Code
	}
	var lite *sqlite.Error
	if errors.As(err, &lite) {
		return "SQLITE_" + strconv.Itoa(lite.Code())
	}
	return ""
}
