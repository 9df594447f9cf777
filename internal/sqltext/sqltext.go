// Package sqltext scans SQL text lexically for bind parameters.
//
// The scanner knows just enough SQL to skip string literals, quoted
// identifiers and comments. It does not parse statements.
package sqltext

import (
	"strings"

	"github.com/syssam/persist/dialect"
)

// Syntax holds the lexical rules that differ between dialects.
type Syntax struct {
	// BackslashEscapes reports whether a backslash escapes the next
	// character inside string literals.
	BackslashEscapes bool
}

// Standard follows standard SQL, where only a doubled quote escapes a quote.
// PostgreSQL and SQLite use it.
var Standard = Syntax{}

// For returns the lexical rules of the named dialect.
func For(name string) Syntax {
	switch name {
	case dialect.Spanner, dialect.MySQL:
		return Syntax{BackslashEscapes: true}
	default:
		return Standard
	}
}

// Params returns the bind parameters of query with the standard rules.
func Params(query string) []string { return Standard.Params(query) }

// Params returns the bind parameters of query in order of appearance.
// Recognized forms are ?, $n, @name and :name. Statement hints (@{...})
// and PostgreSQL casts (::type) are not parameters.
func (s Syntax) Params(query string) []string {
	var (
		params []string
		n      = len(query)
	)
	for i := 0; i < n; {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = s.skipQuoted(query, i, c)
		case c == '-' && i+1 < n && query[i+1] == '-':
			i = skipLine(query, i)
		case c == '#' && (i == 0 || query[i-1] != '$'):
			i = skipLine(query, i)
		case c == '/' && i+1 < n && query[i+1] == '*':
			i = skipBlock(query, i)
		case c == '?':
			params = append(params, "?")
			i++
		case c == '$' && i+1 < n && isDigit(query[i+1]):
			j := i + 1
			for j < n && isDigit(query[j]) {
				j++
			}
			params = append(params, query[i:j])
			i = j
		case (c == '@' || c == ':') && i+1 < n && isIdentStart(query[i+1]):
			if c == ':' && i > 0 && query[i-1] == ':' {
				i++
				continue
			}
			j := i + 1
			for j < n && isIdent(query[j]) {
				j++
			}
			params = append(params, query[i:j])
			i = j
		case c == ':' && i+1 < n && query[i+1] == ':':
			i += 2
		default:
			i++
		}
	}
	return params
}

// Equal reports whether a and b hold the same parameters in the same order.
func Equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Surrounds reports whether rewritten is query with only hint syntax
// placed around it: rewritten must equal prefix + query + suffix, where
// prefix holds statement hints (@{...}), comments and whitespace, and
// suffix holds comments and whitespace.
func Surrounds(rewritten, query string) bool {
	q := strings.TrimSpace(query)
	if q == "" {
		return IsPrefix(rewritten)
	}
	for from := 0; ; {
		i := strings.Index(rewritten[from:], q)
		if i < 0 {
			return false
		}
		i += from
		if IsPrefix(rewritten[:i]) && IsSuffix(rewritten[i+len(q):]) {
			return true
		}
		from = i + 1
	}
}

// IsPrefix reports whether s holds only statement hints, comments and
// whitespace.
func IsPrefix(s string) bool { return decorations(s, true) }

// IsSuffix reports whether s holds only comments and whitespace.
func IsSuffix(s string) bool { return decorations(s, false) }

func decorations(s string, prefix bool) bool {
	for i := 0; i < len(s); {
		switch c := s[i]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case strings.HasPrefix(s[i:], "/*"):
			// MySQL runs the body of /*! ... */ as SQL.
			if strings.HasPrefix(s[i:], "/*!") {
				return false
			}
			j := strings.Index(s[i+2:], "*/")
			if j < 0 {
				return false
			}
			i += 2 + j + 2
		case strings.HasPrefix(s[i:], "--"):
			// A line comment left open before the statement would hide it.
			j := strings.IndexByte(s[i:], '\n')
			if j < 0 {
				return !prefix
			}
			i += j + 1
		case prefix && strings.HasPrefix(s[i:], "@{"):
			j := strings.IndexByte(s[i:], '}')
			if j < 0 || !isHintBody(s[i+2:i+j]) {
				return false
			}
			i += j + 1
		default:
			return false
		}
	}
	return true
}

func isHintBody(s string) bool {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case isIdent(c), c == '=', c == ',', c == ' ', c == '.', c == '-', c == '+':
		default:
			return false
		}
	}
	return true
}

func (s Syntax) skipQuoted(q string, i int, quote byte) int {
	for j := i + 1; j < len(q); j++ {
		if q[j] == quote {
			// Doubled quotes escape the quote character.
			if j+1 < len(q) && q[j+1] == quote {
				j++
				continue
			}
			return j + 1
		}
		if s.BackslashEscapes && q[j] == '\\' && quote != '`' {
			j++
		}
	}
	return len(q)
}

func skipLine(s string, i int) int {
	if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(s)
}

func skipBlock(s string, i int) int {
	if j := strings.Index(s[i+2:], "*/"); j >= 0 {
		return i + 2 + j + 2
	}
	return len(s)
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdent(c byte) bool { return isIdentStart(c) || isDigit(c) }
