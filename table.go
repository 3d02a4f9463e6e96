package xdb

import (
	"github.com/jmoiron/sqlx"
)

// Table is a fully materialized result set: column names as reported by the
// driver and one []any per row.
type Table struct {
	Columns []string
	Rows    [][]any
}

func (t *Table) Len() int { return len(t.Rows) }

// Column returns the index of a column (case-insensitive, quotes ignored),
// or -1.
func (t *Table) Column(name string) int {
	want := normalizeColAscii(name)
	for i, c := range t.Columns {
		if normalizeColAscii(c) == want {
			return i
		}
	}
	return -1
}

// Value returns the value at (row, column name).
func (t *Table) Value(row int, col string) (any, bool) {
	i := t.Column(col)
	if i < 0 || row < 0 || row >= len(t.Rows) {
		return nil, false
	}
	return t.Rows[row][i], true
}

// Maps returns the rows keyed by column name.
func (t *Table) Maps() []map[string]any {
	out := make([]map[string]any, len(t.Rows))
	for r, row := range t.Rows {
		m := make(map[string]any, len(t.Columns))
		for i, c := range t.Columns {
			m[c] = row[i]
		}
		out[r] = m
	}
	return out
}

// readTable materializes the cursor's current result set.
func readTable(c Cursor) (*Table, error) {
	cols, err := c.Columns()
	if err != nil {
		return nil, err
	}
	t := &Table{Columns: cols}
	for c.Next() {
		row, err := sqlx.SliceScan(c)
		if err != nil {
			return nil, err
		}
		t.Rows = append(t.Rows, row)
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// readDataSet materializes every result set of the cursor.
func readDataSet(c Cursor) ([]*Table, error) {
	var set []*Table
	for {
		t, err := readTable(c)
		if err != nil {
			return nil, err
		}
		set = append(set, t)
		if !c.NextResultSet() {
			break
		}
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// readScalar returns the first column of the first row, or nil when the
// result set is empty. Additional columns and rows are ignored.
func readScalar(c Cursor) (any, error) {
	if !c.Next() {
		return nil, c.Err()
	}
	row, err := sqlx.SliceScan(c)
	if err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, nil
	}
	return row[0], nil
}
