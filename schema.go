package xdb

import (
	"fmt"
	"hash/fnv"
	"slices"
)

// Shape is the normalized column set of one result set. Column names are
// unquoted and lower-cased; Key is an FNV-1a hash over them.
type Shape struct {
	Columns []string
	Key     uint64
}

// ShapeOf reads the column names of the cursor's current result set.
// It is called once per result set, never per row.
func ShapeOf(c Cursor) (Shape, error) {
	cols, err := c.Columns()
	if err != nil {
		return Shape{}, err
	}
	if len(cols) == 0 {
		return Shape{}, fmt.Errorf("xdb: result set has zero columns")
	}
	return newShape(cols), nil
}

func newShape(cols []string) Shape {
	norm := make([]string, len(cols))
	h := fnv.New64a()
	for i, c := range cols {
		norm[i] = normalizeColAscii(c)
		_, _ = h.Write([]byte(norm[i]))
		_, _ = h.Write([]byte{0})
	}
	return Shape{Columns: norm, Key: h.Sum64()}
}

// Has reports whether the shape contains the column (case-insensitive).
func (s Shape) Has(name string) bool {
	return slices.Contains(s.Columns, normalizeColAscii(name))
}

func (s Shape) equal(cols []string) bool { return slices.Equal(s.Columns, cols) }

// ---------------- Column normalization (ASCII fast-path) ----------------

func normalizeColAscii(s string) string {
	if l := len(s); l >= 2 {
		switch s[0] {
		case '"':
			if s[l-1] == '"' {
				s = s[1 : l-1]
			}
		case '`':
			if s[l-1] == '`' {
				s = s[1 : l-1]
			}
		case '[':
			if s[l-1] == ']' {
				s = s[1 : l-1]
			}
		}
	}
	return toLowerAscii(s)
}

func toLowerAscii(s string) string {
	var need bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			need = true
			break
		}
	}
	if !need {
		return s
	}
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c = c + ('a' - 'A')
		}
		b[i] = c
	}
	return string(b)
}
