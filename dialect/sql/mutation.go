package sql

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/persist"
)

// Apply implements dialect.MutationApplier by running each mutation as a
// statement inside the transaction. Update mutations of missing rows fail,
// delete mutations of missing rows do not.
func (tx *Tx) Apply(ctx context.Context, ms []*persist.Mutation) error {
	return applyMutations(ctx, tx.Conn, ms)
}

// Apply implements dialect.MutationApplier in a transaction of its own.
func (d *Driver) Apply(ctx context.Context, ms []*persist.Mutation) (rerr error) {
	tx, err := d.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr != nil {
			rerr = errors.Join(rerr, tx.Rollback())
		}
	}()
	if err := tx.(*Tx).Apply(ctx, ms); err != nil {
		return err
	}
	return tx.Commit()
}

// MutationStatements returns the statements that apply m on a database
// without native mutations.
func MutationStatements(dialectName string, m *persist.Mutation) ([]Statement, error) {
	d := Dialect(dialectName)
	if len(m.Key) == 0 {
		return nil, fmt.Errorf("dialect/sql: mutation %s has no key", m)
	}
	if len(m.Columns) != len(m.Values) {
		return nil, fmt.Errorf("dialect/sql: mutation %s has %d columns and %d values", m, len(m.Columns), len(m.Values))
	}
	keys := m.KeyValues()
	for i, k := range keys {
		if k == nil {
			return nil, fmt.Errorf("dialect/sql: mutation %s misses key column %s", m, m.Key[i])
		}
	}
	var stmts []Statement
	add := func(query string, args []any, err error, check bool) error {
		if err != nil {
			return err
		}
		stmts = append(stmts, Statement{Query: query, Args: args, CheckRows: check})
		return nil
	}
	deleteRow := func() error {
		del := d.Delete(m.Table)
		for i, k := range m.Key {
			del.Where(k, keys[i])
		}
		q, args, err := del.Query()
		return add(q, args, err, false)
	}
	switch m.Op {
	case persist.OpInsert:
		q, args, err := d.Insert(m.Table).Columns(m.Columns...).Values(m.Values...).Query()
		if err := add(q, args, err, false); err != nil {
			return nil, err
		}
	case persist.OpUpdate:
		upd := d.Update(m.Table)
		for i, c := range m.Columns {
			if !m.IsKey(c) {
				upd.Set(c, m.Values[i])
			}
		}
		for i, k := range m.Key {
			upd.Where(k, keys[i])
		}
		q, args, err := upd.Query()
		if err := add(q, args, err, true); err != nil {
			return nil, err
		}
	case persist.OpInsertOrUpdate:
		var update []string
		for _, c := range m.Columns {
			if !m.IsKey(c) {
				update = append(update, c)
			}
		}
		q, args, err := d.Insert(m.Table).Columns(m.Columns...).Values(m.Values...).OnConflict(m.Key, update...).Query()
		if err := add(q, args, err, false); err != nil {
			return nil, err
		}
	case persist.OpReplace:
		if err := deleteRow(); err != nil {
			return nil, err
		}
		q, args, err := d.Insert(m.Table).Columns(m.Columns...).Values(m.Values...).Query()
		if err := add(q, args, err, false); err != nil {
			return nil, err
		}
	case persist.OpDelete:
		if err := deleteRow(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("dialect/sql: unknown mutation op %s", m.Op)
	}
	return stmts, nil
}

// Statement is a query with its arguments.
type Statement struct {
	Query string
	Args  []any
	// CheckRows fails the statement if it affects no rows.
	CheckRows bool
}

// NotFoundError is returned when an update mutation finds no row.
type NotFoundError struct {
	Table string
	Key   []any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dialect/sql: row %v not found in %s", e.Key, e.Table)
}

func applyMutations(ctx context.Context, c Conn, ms []*persist.Mutation) error {
	for _, m := range ms {
		stmts, err := MutationStatements(c.dialect, m)
		if err != nil {
			return persist.NewMutationError(m.Table, m.Op.String(), err)
		}
		for _, st := range stmts {
			var res Result
			if err := c.Exec(ctx, st.Query, st.Args, &res); err != nil {
				return persist.NewMutationError(m.Table, m.Op.String(), err)
			}
			if !st.CheckRows {
				continue
			}
			n, err := RowsAffected(res)
			if err != nil {
				return persist.NewMutationError(m.Table, m.Op.String(), err)
			}
			if n == 0 {
				return persist.NewMutationError(m.Table, m.Op.String(), &NotFoundError{Table: m.Table, Key: m.KeyValues()})
			}
		}
	}
	return nil
}
