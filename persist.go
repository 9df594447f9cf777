package persist

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// WriteStrategy selects how writes of an entity reach the database.
type WriteStrategy uint8

const (
	// StrategyDML writes through INSERT/UPDATE/DELETE statements. Statements can be
	// prepared, batched and their effects read back in the same transaction.
	StrategyDML WriteStrategy = iota
	// StrategyMutation writes through atomic, non-interactive mutations that are
	// buffered by the session and applied when it flushes. Values computed by the
	// database are not visible until the transaction commits.
	StrategyMutation
)

// String returns the lower-case name of the strategy.
func (s WriteStrategy) String() string {
	switch s {
	case StrategyDML:
		return "dml"
	case StrategyMutation:
		return "mutation"
	default:
		return fmt.Sprintf("WriteStrategy(%d)", s)
	}
}

// ParseWriteStrategy parses a strategy name. Matching is case-insensitive.
func ParseWriteStrategy(s string) (WriteStrategy, error) {
	switch fold(s) {
	case "dml", "":
		return StrategyDML, nil
	case "mutation", "mutations":
		return StrategyMutation, nil
	}
	return 0, fmt.Errorf("persist: unknown write strategy %q", s)
}

// MutationOp is the kind of a mutation write.
type MutationOp uint8

const (
	OpInsert MutationOp = iota + 1
	OpUpdate
	OpInsertOrUpdate
	OpReplace
	OpDelete
)

var opNames = [...]string{
	OpInsert:         "insert",
	OpUpdate:         "update",
	OpInsertOrUpdate: "insert_or_update",
	OpReplace:        "replace",
	OpDelete:         "delete",
}

// String returns the name of the operation.
func (o MutationOp) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return fmt.Sprintf("MutationOp(%d)", o)
}

// Mutation is a single row write applied outside the statement model.
// Key lists the key columns of the row; every key column is also present
// in Columns. Delete mutations carry only the key columns.
type Mutation struct {
	Op      MutationOp
	Table   string
	Key     []string
	Columns []string
	Values  []any
}

// Value returns the value written to the given column.
func (m *Mutation) Value(column string) (any, bool) {
	for i, c := range m.Columns {
		if c == column {
			return m.Values[i], true
		}
	}
	return nil, false
}

// IsKey reports whether column is a key column.
func (m *Mutation) IsKey(column string) bool {
	for _, k := range m.Key {
		if k == column {
			return true
		}
	}
	return false
}

// KeyValues returns the values of the key columns, in key order.
func (m *Mutation) KeyValues() []any {
	vs := make([]any, 0, len(m.Key))
	for _, k := range m.Key {
		v, _ := m.Value(k)
		vs = append(vs, v)
	}
	return vs
}

// String returns a compact description used in logs and errors.
func (m *Mutation) String() string {
	return fmt.Sprintf("%s %s(%s)", m.Op, m.Table, strings.Join(m.Columns, ", "))
}

// Values holds the property values of one entity row, keyed by property name.
type Values map[string]any

// Clone returns a shallow copy of v.
func (v Values) Clone() Values {
	c := make(Values, len(v))
	for k, x := range v {
		c[k] = x
	}
	return c
}

// fold normalizes an enum-like configuration value for comparison.
// A Caser keeps state, so each call gets its own.
func fold(s string) string {
	return strings.TrimSpace(cases.Fold().String(s))
}

// Fold exposes the case folding used for configuration values to other packages.
func Fold(s string) string { return fold(s) }
