package sql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/persist/dialect"
)

// DialectBuilder prepares statement builders for one dialect.
type DialectBuilder struct {
	dialect string
}

// Dialect returns a builder for the given dialect.
//
//	query, args, err := sql.Dialect(dialect.Postgres).
//	    Update("Singers").
//	    Set("LastName", "Richards").
//	    Where("SingerId", "s1").
//	    Query()
func Dialect(name string) *DialectBuilder {
	return &DialectBuilder{dialect: name}
}

// Insert returns an INSERT builder for the table.
func (d *DialectBuilder) Insert(table string) *InsertBuilder {
	return &InsertBuilder{builder: d.builder(), table: table}
}

// Update returns an UPDATE builder for the table.
func (d *DialectBuilder) Update(table string) *UpdateBuilder {
	return &UpdateBuilder{builder: d.builder(), table: table}
}

// Delete returns a DELETE builder for the table.
func (d *DialectBuilder) Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{builder: d.builder(), table: table}
}

// Select returns a SELECT builder of the given columns.
func (d *DialectBuilder) Select(columns ...string) *SelectBuilder {
	return &SelectBuilder{builder: d.builder(), columns: columns}
}

// Quote quotes an identifier for the dialect.
func (d *DialectBuilder) Quote(ident string) string {
	return quote(d.dialect, ident)
}

func (d *DialectBuilder) builder() builder {
	return builder{dialect: d.dialect, ph: dialect.PlaceholderOf(d.dialect)}
}

func quote(name, ident string) string {
	switch name {
	case dialect.Postgres, dialect.SpannerPG:
		return `"` + ident + `"`
	default:
		return "`" + ident + "`"
	}
}

// builder holds the state shared by all statement builders.
type builder struct {
	dialect string
	ph      dialect.Placeholder
	sb      strings.Builder
	args    []any
	comment string
	errs    []error
}

func (b *builder) ident(s string) *builder {
	if !isValidIdentifier(s) {
		b.errs = append(b.errs, fmt.Errorf("dialect/sql: invalid identifier %q", s))
	}
	b.sb.WriteString(quote(b.dialect, s))
	return b
}

func (b *builder) idents(ss []string) *builder {
	for i, s := range ss {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.ident(s)
	}
	return b
}

func (b *builder) arg(v any) *builder {
	b.args = append(b.args, v)
	b.sb.WriteString(b.ph.Format(len(b.args)))
	return b
}

func (b *builder) write(s string) *builder {
	b.sb.WriteString(s)
	return b
}

func (b *builder) where(preds []pred) {
	for i, p := range preds {
		if i == 0 {
			b.write(" WHERE ")
		} else {
			b.write(" AND ")
		}
		b.ident(p.column).write(" = ").arg(p.value)
	}
}

func (b *builder) start() {
	if b.comment != "" {
		if strings.Contains(b.comment, "*/") {
			b.errs = append(b.errs, fmt.Errorf("dialect/sql: invalid comment %q", b.comment))
		}
		b.write("/* ").write(b.comment).write(" */ ")
	}
}

func (b *builder) query() (string, []any, error) {
	if err := errors.Join(b.errs...); err != nil {
		return "", nil, err
	}
	return b.sb.String(), b.args, nil
}

// pred is an equality condition.
type pred struct {
	column string
	value  any
}

// InsertBuilder builds INSERT statements.
type InsertBuilder struct {
	builder
	table    string
	columns  []string
	values   []any
	conflict []string
	update   []string
	upsert   bool
}

// Comment sets a comment placed before the statement.
func (i *InsertBuilder) Comment(c string) *InsertBuilder {
	i.comment = c
	return i
}

// Columns sets the inserted columns.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = append(i.columns, columns...)
	return i
}

// Values sets the inserted values, one per column.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = append(i.values, values...)
	return i
}

// OnConflict turns the statement into an upsert: on a conflict over the key
// columns the given columns are updated to the inserted values.
func (i *InsertBuilder) OnConflict(key []string, update ...string) *InsertBuilder {
	i.upsert = true
	i.conflict = key
	i.update = update
	return i
}

// Query returns the statement and its arguments.
func (i *InsertBuilder) Query() (string, []any, error) {
	b := &i.builder
	if len(i.columns) != len(i.values) {
		b.errs = append(b.errs, fmt.Errorf("dialect/sql: insert into %s: %d columns and %d values", i.table, len(i.columns), len(i.values)))
	}
	b.start()
	if i.upsert && i.dialect == dialect.Spanner {
		b.write("INSERT OR UPDATE INTO ")
	} else {
		b.write("INSERT INTO ")
	}
	b.ident(i.table).write(" (").idents(i.columns).write(") VALUES (")
	for j, v := range i.values {
		if j > 0 {
			b.write(", ")
		}
		b.arg(v)
	}
	b.write(")")
	if i.upsert {
		i.writeConflict()
	}
	return b.query()
}

func (i *InsertBuilder) writeConflict() {
	b := &i.builder
	if len(i.conflict) == 0 {
		b.errs = append(b.errs, fmt.Errorf("dialect/sql: upsert into %s without conflict columns", i.table))
		return
	}
	switch i.dialect {
	case dialect.Spanner:
	case dialect.MySQL:
		b.write(" ON DUPLICATE KEY UPDATE ")
		update := i.update
		if len(update) == 0 {
			update = i.conflict[:1]
		}
		for j, c := range update {
			if j > 0 {
				b.write(", ")
			}
			b.ident(c).write(" = VALUES(").ident(c).write(")")
		}
	default:
		b.write(" ON CONFLICT (").idents(i.conflict).write(")")
		if len(i.update) == 0 {
			b.write(" DO NOTHING")
			return
		}
		b.write(" DO UPDATE SET ")
		for j, c := range i.update {
			if j > 0 {
				b.write(", ")
			}
			b.ident(c).write(" = excluded.").ident(c)
		}
	}
}

// UpdateBuilder builds UPDATE statements.
type UpdateBuilder struct {
	builder
	table  string
	set    []pred
	wheres []pred
}

// Comment sets a comment placed before the statement.
func (u *UpdateBuilder) Comment(c string) *UpdateBuilder {
	u.comment = c
	return u
}

// Set adds a column assignment.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.set = append(u.set, pred{column, v})
	return u
}

// Where adds an equality condition. Conditions are joined with AND.
func (u *UpdateBuilder) Where(column string, v any) *UpdateBuilder {
	u.wheres = append(u.wheres, pred{column, v})
	return u
}

// Query returns the statement and its arguments.
func (u *UpdateBuilder) Query() (string, []any, error) {
	b := &u.builder
	if len(u.set) == 0 {
		b.errs = append(b.errs, fmt.Errorf("dialect/sql: update %s: no columns to set", u.table))
	}
	b.start()
	b.write("UPDATE ").ident(u.table).write(" SET ")
	for i, p := range u.set {
		if i > 0 {
			b.write(", ")
		}
		b.ident(p.column).write(" = ").arg(p.value)
	}
	b.where(u.wheres)
	return b.query()
}

// DeleteBuilder builds DELETE statements.
type DeleteBuilder struct {
	builder
	table  string
	wheres []pred
}

// Comment sets a comment placed before the statement.
func (d *DeleteBuilder) Comment(c string) *DeleteBuilder {
	d.comment = c
	return d
}

// Where adds an equality condition. Conditions are joined with AND.
func (d *DeleteBuilder) Where(column string, v any) *DeleteBuilder {
	d.wheres = append(d.wheres, pred{column, v})
	return d
}

// Query returns the statement and its arguments.
func (d *DeleteBuilder) Query() (string, []any, error) {
	b := &d.builder
	if len(d.wheres) == 0 {
		b.errs = append(b.errs, fmt.Errorf("dialect/sql: delete from %s without conditions", d.table))
	}
	b.start()
	b.write("DELETE FROM ").ident(d.table)
	b.where(d.wheres)
	return b.query()
}

// SelectBuilder builds single-table SELECT statements.
type SelectBuilder struct {
	builder
	columns []string
	table   string
	wheres  []pred
}

// Comment sets a comment placed before the statement.
func (s *SelectBuilder) Comment(c string) *SelectBuilder {
	s.comment = c
	return s
}

// From sets the table.
func (s *SelectBuilder) From(table string) *SelectBuilder {
	s.table = table
	return s
}

// Where adds an equality condition. Conditions are joined with AND.
func (s *SelectBuilder) Where(column string, v any) *SelectBuilder {
	s.wheres = append(s.wheres, pred{column, v})
	return s
}

// Query returns the statement and its arguments.
func (s *SelectBuilder) Query() (string, []any, error) {
	b := &s.builder
	b.start()
	b.write("SELECT ")
	if len(s.columns) == 0 {
		b.write("*")
	} else {
		b.idents(s.columns)
	}
	b.write(" FROM ").ident(s.table)
	b.where(s.wheres)
	return b.query()
}
