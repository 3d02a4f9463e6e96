package xdb

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CommandType tells how Statement.Text is interpreted.
type CommandType int

const (
	CommandText CommandType = iota
	CommandStoredProcedure
)

func (c CommandType) String() string {
	if c == CommandStoredProcedure {
		return "procedure"
	}
	return "text"
}

// Statement is the SQL text or procedure name to execute.
//
// Text statements reference parameters as :name. For SQL Server targets the
// text is passed through unchanged and parameters are bound by name (@name).
// Text without any :name token is sent with the parameters as positional
// arguments in declaration order.
type Statement struct {
	Text string
	Type CommandType
}

// render builds the driver query and arguments for one dialect.
func (s Statement) render(d Dialect, b binding) (string, []any, error) {
	if d.Named() {
		return s.Text, b.named, nil
	}
	if s.Type == CommandStoredProcedure {
		return procedureCall(s.Text, d, len(b.ordered)), b.ordered, nil
	}
	q, args, err := bindNamed(s.Text, b.lookup)
	if err != nil {
		return "", nil, err
	}
	if args == nil && q == s.Text {
		args = b.ordered
	}
	return rewritePlaceholders(q, d.Placeholder()), args, nil
}

func procedureCall(name string, d Dialect, n int) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
	if d == DialectOracle {
		return rewritePlaceholders("BEGIN "+name+"("+marks+"); END;", d.Placeholder())
	}
	return rewritePlaceholders("CALL "+name+"("+marks+")", d.Placeholder())
}

// preview renders the statement with literal parameter values for
// diagnostics. It never touches a connection.
func (s Statement) preview(d Dialect, params []Parameter) (string, error) {
	lit := func(v any) string { return literal(v, d) }
	if s.Type == CommandStoredProcedure {
		parts := make([]string, 0, len(params))
		for _, p := range params {
			v := lit(p.Value)
			if d.Named() {
				v = "@" + p.Name + " = " + v
				if p.Direction != DirectionIn {
					v += " OUTPUT"
				}
			}
			parts = append(parts, v)
		}
		if d.Named() {
			if len(parts) == 0 {
				return "EXEC " + s.Text, nil
			}
			return "EXEC " + s.Text + " " + strings.Join(parts, ", "), nil
		}
		if d == DialectOracle {
			return "BEGIN " + s.Text + "(" + strings.Join(parts, ", ") + "); END;", nil
		}
		return "CALL " + s.Text + "(" + strings.Join(parts, ", ") + ")", nil
	}
	values := make(map[string]any, len(params))
	for _, p := range params {
		values[strings.ToLower(p.Name)] = p.Value
	}
	return substituteNamed(s.Text, d.Named(), func(name string) (any, bool) {
		v, ok := values[strings.ToLower(name)]
		return v, ok
	}, lit)
}

func literal(v any, d Dialect) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quote(x)
	case []byte:
		if d == DialectSQLServer {
			return "0x" + strings.ToUpper(hex.EncodeToString(x))
		}
		return "X'" + strings.ToUpper(hex.EncodeToString(x)) + "'"
	case time.Time:
		return quote(x.Format("2006-01-02 15:04:05.000"))
	case bool:
		if d == DialectSQLServer || d == DialectOracle {
			if x {
				return "1"
			}
			return "0"
		}
		return strings.ToUpper(strconv.FormatBool(x))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x)
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return "NULL"
		}
		return literal(dv, d)
	case fmt.Stringer:
		return quote(x.String())
	default:
		return quote(fmt.Sprint(x))
	}
}

func quote(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }
