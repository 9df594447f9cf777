package dialect

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/syssam/persist"
)

// Dialect names.
const (
	Spanner   = "spanner"
	SpannerPG = "spanner-pg"
	Postgres  = "postgres"
	MySQL     = "mysql"
	SQLite    = "sqlite"
)

// ExecQuerier wraps the two database operations.
type ExecQuerier interface {
	// Exec executes a query that does not return records. For example, in SQL, INSERT or UPDATE.
	// It scans the result into the pointer v. For SQL drivers, it is dialect/sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a query that returns rows, typically a SELECT in SQL.
	// It scans the result into the pointer v. For SQL drivers, it is *dialect/sql.Rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all necessary operations for a session.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps the Exec and Query operations in transaction.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

// MutationApplier applies a batch of mutations atomically. Transactions of
// drivers that support mutations implement it.
type MutationApplier interface {
	Apply(ctx context.Context, ms []*persist.Mutation) error
}

// HintContext carries the hints requested for one statement.
type HintContext struct {
	// Statement hints, keyed by hint name. For example FORCE_INDEX.
	Statement map[string]string
	// Tag is an optional request tag appended to the statement.
	Tag string
}

// Empty reports whether the context requests nothing.
func (h HintContext) Empty() bool {
	return len(h.Statement) == 0 && h.Tag == ""
}

// Keys returns the hint names in sorted order.
func (h HintContext) Keys() []string {
	keys := make([]string, 0, len(h.Statement))
	for k := range h.Statement {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Hint is the rendered hint text placed around a statement.
type Hint struct {
	Prefix string
	Suffix string
}

// Empty reports whether the hint adds no text.
func (h Hint) Empty() bool {
	return h.Prefix == "" && h.Suffix == ""
}

// Apply returns query with the hint text around it.
func (h Hint) Apply(query string) string {
	return h.Prefix + query + h.Suffix
}

// HintRenderer renders dialect-specific hint syntax. A renderer never sees
// or changes the statement itself.
type HintRenderer interface {
	RenderHint(HintContext) (Hint, error)
}

// The HintRendererFunc type is an adapter to allow the use of ordinary
// functions as HintRenderer.
type HintRendererFunc func(HintContext) (Hint, error)

// RenderHint calls f(hc).
func (f HintRendererFunc) RenderHint(hc HintContext) (Hint, error) {
	return f(hc)
}

var (
	hintKeyRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	hintValueRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*|-?[0-9]+(\.[0-9]+)?)$`)
)

// CheckHint validates a hint name and value. Names must be identifiers and
// values identifiers, numbers or booleans, so a hint can never inject SQL.
func CheckHint(key, value string) error {
	if !hintKeyRe.MatchString(key) {
		return fmt.Errorf("invalid hint name %q", key)
	}
	if !hintValueRe.MatchString(value) {
		return fmt.Errorf("invalid value %q for hint %s", value, key)
	}
	return nil
}

// CheckTag validates a request tag rendered inside a comment.
func CheckTag(tag string) error {
	if strings.Contains(tag, "*/") || strings.Contains(tag, "/*") || strings.ContainsAny(tag, "\r\n") {
		return fmt.Errorf("invalid request tag %q", tag)
	}
	return nil
}

// Comment renders hints as a leading comment. It is used for dialects
// without statement hint syntax, where hints only tag the statement.
var Comment HintRenderer = HintRendererFunc(func(hc HintContext) (Hint, error) {
	var parts []string
	for _, k := range hc.Keys() {
		v := hc.Statement[k]
		if err := CheckHint(k, v); err != nil {
			return Hint{}, err
		}
		parts = append(parts, strings.ToUpper(k)+"="+v)
	}
	if hc.Tag != "" {
		if err := CheckTag(hc.Tag); err != nil {
			return Hint{}, err
		}
		parts = append(parts, "tag="+hc.Tag)
	}
	if len(parts) == 0 {
		return Hint{}, nil
	}
	return Hint{Prefix: "/* " + strings.Join(parts, ", ") + " */ "}, nil
})

// Placeholder is a bind parameter style.
type Placeholder uint8

const (
	// PlaceholderQuestion: ?
	PlaceholderQuestion Placeholder = iota
	// PlaceholderDollar: $1, $2
	PlaceholderDollar
	// PlaceholderAt: @p1, @p2
	PlaceholderAt
)

// Format returns the i-th (1-based) bind parameter.
func (p Placeholder) Format(i int) string {
	switch p {
	case PlaceholderDollar:
		return "$" + strconv.Itoa(i)
	case PlaceholderAt:
		return "@p" + strconv.Itoa(i)
	default:
		return "?"
	}
}

// PlaceholderOf returns the bind parameter style of a dialect.
func PlaceholderOf(name string) Placeholder {
	switch name {
	case Postgres, SpannerPG:
		return PlaceholderDollar
	case Spanner:
		return PlaceholderAt
	default:
		return PlaceholderQuestion
	}
}

// Known reports whether name is a supported dialect.
func Known(name string) bool {
	switch name {
	case Spanner, SpannerPG, Postgres, MySQL, SQLite:
		return true
	}
	return false
}

// ParseDialect resolves a dialect name case-insensitively.
func ParseDialect(s string) (string, error) {
	name := persist.Fold(s)
	switch name {
	case "postgresql", "pgx":
		name = Postgres
	case "sqlite3":
		name = SQLite
	case "spanner_pg", "spannerpg":
		name = SpannerPG
	}
	if !Known(name) {
		return "", fmt.Errorf("dialect: unknown dialect %q", s)
	}
	return name, nil
}
