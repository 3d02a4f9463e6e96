package xdb

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type nameToken struct {
	name  string
	start int
	end   int
}

// lookupFunc resolves a :name token to its bound value.
type lookupFunc func(name string) (any, bool)

// bindNamed replaces :name tokens with "?" and returns the positional args in
// token order. Slices and arrays expand to one placeholder per element; []byte
// is scalar; an empty slice becomes NULL (so `IN (NULL)` matches no rows).
// Quoted strings, comments and PostgreSQL $tag$ blocks are skipped.
func bindNamed(query string, lookup lookupFunc) (string, []any, error) {
	toks, err := findNamedParams(query, false)
	if err != nil {
		return "", nil, err
	}
	if len(toks) == 0 {
		return query, nil, nil
	}

	var b strings.Builder
	b.Grow(len(query))
	args := make([]any, 0, len(toks))
	last := 0

	for _, t := range toks {
		b.WriteString(query[last:t.start])

		val, ok := lookup(t.name)
		if !ok {
			return "", nil, fmt.Errorf("%w: :%s", ErrMissingParameter, t.name)
		}

		rv := reflect.ValueOf(val)
		if isSliceOrArray(rv) {
			n := rv.Len()
			if n == 0 {
				b.WriteString("NULL")
			} else {
				for i := 0; i < n; i++ {
					if i > 0 {
						b.WriteByte(',')
					}
					b.WriteByte('?')
					args = append(args, rv.Index(i).Interface())
				}
			}
		} else {
			b.WriteByte('?')
			args = append(args, val)
		}
		last = t.end
	}
	b.WriteString(query[last:])
	return b.String(), args, nil
}

// substituteNamed replaces :name tokens (and @name tokens when at is set)
// with rendered literals. Unknown names are left untouched.
func substituteNamed(query string, at bool, lookup lookupFunc, render func(any) string) (string, error) {
	toks, err := findNamedParams(query, at)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(query))
	last := 0
	for _, t := range toks {
		val, ok := lookup(t.name)
		if !ok {
			continue
		}
		b.WriteString(query[last:t.start])
		rv := reflect.ValueOf(val)
		if isSliceOrArray(rv) {
			if rv.Len() == 0 {
				b.WriteString("NULL")
			}
			for i := 0; i < rv.Len(); i++ {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(render(rv.Index(i).Interface()))
			}
		} else {
			b.WriteString(render(val))
		}
		last = t.end
	}
	b.WriteString(query[last:])
	return b.String(), nil
}

func findNamedParams(query string, at bool) ([]nameToken, error) {
	var out []nameToken
	i := 0
	for i < len(query) {
		r, w := utf8.DecodeRuneInString(query[i:])
		switch r {
		case '\'':
			j, err := skipSingleQuoted(query, i+w)
			if err != nil {
				return nil, err
			}
			i = j
			continue
		case '"':
			j, err := skipDoubleQuoted(query, i+w)
			if err != nil {
				return nil, err
			}
			i = j
			continue
		case '`':
			j, err := skipBacktickQuoted(query, i+w)
			if err != nil {
				return nil, err
			}
			i = j
			continue
		case '-':
			if hasPrefix(query[i:], "--") {
				i = skipLineComment(query, i+2)
				continue
			}
		case '/':
			if hasPrefix(query[i:], "/*") {
				j, err := skipBlockComment(query, i+2)
				if err != nil {
					return nil, err
				}
				i = j
				continue
			}
		case '$':
			if j, ok, err := skipDollarQuoted(query, i); err != nil {
				return nil, err
			} else if ok {
				i = j
				continue
			}
		case ':', '@':
			if r == ':' && hasPrefix(query[i:], "::") {
				i += 2 // skip PG cast
				continue
			}
			if r == '@' && !at {
				break
			}
			if r == '@' && hasPrefix(query[i:], "@@") {
				i += 2 // @@ROWCOUNT style globals
				continue
			}
			start := i
			name, end := parseIdent(query, i+1)
			if name != "" {
				out = append(out, nameToken{name: name, start: start, end: end})
				i = end
				continue
			}
		}
		i += w
	}
	return out, nil
}

func rewritePlaceholders(query string, ph Placeholder) string {
	if ph == PlaceholderQuestion {
		return query
	}
	out := make([]byte, 0, len(query)+16)
	i, arg := 0, 1

	for i < len(query) {
		r, w := utf8.DecodeRuneInString(query[i:])
		switch r {
		case '\'':
			j, _ := skipSingleQuoted(query, i+w)
			out = append(out, query[i:j]...)
			i = j
			continue
		case '"':
			j, _ := skipDoubleQuoted(query, i+w)
			out = append(out, query[i:j]...)
			i = j
			continue
		case '`':
			j, _ := skipBacktickQuoted(query, i+w)
			out = append(out, query[i:j]...)
			i = j
			continue
		case '-':
			if hasPrefix(query[i:], "--") {
				j := skipLineComment(query, i+2)
				out = append(out, query[i:j]...)
				i = j
				continue
			}
		case '/':
			if hasPrefix(query[i:], "/*") {
				j, _ := skipBlockComment(query, i+2)
				out = append(out, query[i:j]...)
				i = j
				continue
			}
		case '$':
			if j, ok, _ := skipDollarQuoted(query, i); ok {
				out = append(out, query[i:j]...)
				i = j
				continue
			}
		case '?':
			switch ph {
			case PlaceholderDollar:
				out = append(out, '$')
				out = strconv.AppendInt(out, int64(arg), 10)
			case PlaceholderAtP:
				out = append(out, '@', 'p')
				out = strconv.AppendInt(out, int64(arg), 10)
			case PlaceholderColonNum:
				out = append(out, ':')
				out = strconv.AppendInt(out, int64(arg), 10)
			default:
				out = append(out, '?')
			}
			arg++
			i += w
			continue
		}
		out = append(out, query[i:i+w]...)
		i += w
	}
	return string(out)
}

func skipSingleQuoted(s string, i int) (int, error) {
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		i += w
		if r == '\'' {
			if i < len(s) && s[i] == '\'' {
				i++
				continue
			}
			return i, nil
		}
	}
	return 0, fmt.Errorf("xdb: unterminated single-quoted string")
}

func skipDoubleQuoted(s string, i int) (int, error) {
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		i += w
		if r == '"' {
			if i < len(s) && s[i] == '"' {
				i++
				continue
			}
			return i, nil
		}
	}
	return 0, fmt.Errorf("xdb: unterminated double-quoted identifier")
}

func skipBacktickQuoted(s string, i int) (int, error) {
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		i += w
		if r == '`' {
			if i < len(s) && s[i] == '`' {
				i++
				continue
			}
			return i, nil
		}
	}
	return 0, fmt.Errorf("xdb: unterminated backtick-quoted identifier")
}

func skipLineComment(s string, i int) int {
	for i < len(s) {
		if s[i] == '\n' {
			return i + 1
		}
		i++
	}
	return i
}

func skipBlockComment(s string, i int) (int, error) {
	for i < len(s)-1 {
		if s[i] == '*' && s[i+1] == '/' {
			return i + 2, nil
		}
		i++
	}
	return 0, fmt.Errorf("xdb: unterminated block comment")
}

// skipDollarQuoted handles $$...$$ and $tag$...$tag$ (PostgreSQL).
func skipDollarQuoted(s string, i int) (int, bool, error) {
	if s[i] != '$' {
		return 0, false, nil
	}
	j := i + 1
	for j < len(s) && s[j] != '$' && isTagChar(rune(s[j])) {
		j++
	}
	if j >= len(s) || s[j] != '$' {
		return 0, false, nil
	}
	tag := s[i : j+1]
	k := j + 1
	for {
		idx := strings.Index(s[k:], tag)
		if idx < 0 {
			return 0, true, fmt.Errorf("xdb: unterminated dollar-quoted string")
		}
		k += idx + len(tag)
		return k, true, nil
	}
}

func isTagChar(r rune) bool      { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }
func hasPrefix(s, p string) bool { return len(s) >= len(p) && s[:len(p)] == p }

func parseIdent(s string, i int) (string, int) {
	start := i
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		if !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			break
		}
		i += w
	}
	if i == start {
		return "", i
	}
	return s[start:i], i
}

func isSliceOrArray(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Slice:
		return v.Type().Elem().Kind() != reflect.Uint8 // []byte → scalar
	case reflect.Array:
		return true
	default:
		return false
	}
}
