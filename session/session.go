// Package session implements the unit of work opened from a session factory.
//
// A session writes each entity with the strategy frozen into its factory:
//
//   - DML entities are written with INSERT, UPDATE and DELETE statements.
//     Statements are queued and sent at flush, except when a generated
//     value must be read back or a versioned row is written without forced
//     batching; those are sent immediately.
//   - Mutation entities are buffered as mutations and applied atomically at
//     flush. Nothing is read back after a mutation write.
//
// A session lazily begins one transaction on first use. It is not safe for
// concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/intercept"
	"github.com/syssam/persist/registry"
	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/schema/field"
)

// Config is the frozen configuration a session runs with. It is filled by
// the session factory and shared read-only by all of its sessions.
type Config struct {
	Name     string
	Dialect  string
	Registry *registry.Registry
	Driver   dialect.Driver
	// Interceptor is nil when the factory has no interceptor attached.
	Interceptor             intercept.Interceptor
	EmitComments            bool
	ForceBatchVersionedData bool
	Logger                  *slog.Logger
	Now                     func() time.Time
	NewID                   func() string
}

// ErrClosed is returned by operations on a committed or rolled back session.
var ErrClosed = errors.New("persist: session is closed")

// ErrFailed is returned by operations on a session whose transaction was
// rolled back because a write failed part way through. The returned error
// also wraps that failure.
var ErrFailed = errors.New("persist: session failed")

// Session is a unit of work.
type Session struct {
	cfg       *Config
	tx        dialect.Tx
	queue     []*statement
	mutations []*persist.Mutation
	checks    []*versionCheck
	closed    bool
	// err is the write failure that rolled back the transaction.
	err error
}

// statement is a DML statement waiting to be sent.
type statement struct {
	entity *schema.Entity
	op     string
	query  string
	args   []any
	hints  dialect.HintContext
	// stale is set when the statement must affect exactly one row.
	stale *persist.StaleObjectError
}

// versionCheck verifies the version of a row before a mutation batch.
type versionCheck struct {
	entity  *schema.Entity
	key     []any
	version any
}

// New returns a session running with cfg.
func New(cfg *Config) *Session {
	return &Session{cfg: cfg}
}

// Pending returns the number of queued statements and buffered mutations.
func (s *Session) Pending() (statements, mutations int) {
	return len(s.queue), len(s.mutations)
}

// Insert writes a new row. The returned values hold the generated key, the
// initial version and, for DML entities, the generated values read back.
func (s *Session) Insert(ctx context.Context, entity string, v persist.Values) (persist.Values, error) {
	e, row, err := s.prepare(entity, v)
	if err != nil {
		return nil, err
	}
	if err := s.assignKey(e, row); err != nil {
		return nil, err
	}
	if vp, ok := e.Version(); ok {
		if _, set := row[vp.Name()]; !set {
			row[vp.Name()] = s.initialVersion(e, vp)
		}
	}
	var cols []string
	var vals []any
	for _, p := range e.Properties() {
		d, _ := e.Field(p)
		x, ok := row[p.Name()]
		switch {
		case !d.Writable():
			continue
		case !ok && !d.Optional:
			return nil, fmt.Errorf("persist: insert %s: missing required property %s", e.Name(), p.Name())
		case ok:
			cols = append(cols, d.Column)
			vals = append(vals, x)
		}
	}
	if e.WriteStrategy() == persist.StrategyMutation {
		s.mutations = append(s.mutations, &persist.Mutation{
			Op: persist.OpInsert, Table: e.Table(), Key: keyColumns(e), Columns: cols, Values: vals,
		})
		return row, nil
	}
	query, args, err := sql.Dialect(s.cfg.Dialect).Insert(e.Table()).
		Comment(s.comment("insert", e)).
		Columns(cols...).
		Values(vals...).
		Query()
	if err != nil {
		return nil, persist.NewMutationError(e.Name(), "insert", err)
	}
	st := &statement{entity: e, op: "insert", query: query, args: args, hints: hints(ctx)}
	readBack := readBackProperties(e, (*field.Descriptor).ReadBackOnInsert)
	if err := s.send(ctx, st, len(readBack) > 0); err != nil {
		return nil, err
	}
	if err := s.readBack(ctx, e, row, readBack); err != nil {
		return nil, s.fail(err)
	}
	return row, nil
}

// Update writes the given properties of an existing row. Without dynamic
// update every updatable property must be given. Versioned rows must carry
// their current version; the returned values hold the next one.
func (s *Session) Update(ctx context.Context, entity string, v persist.Values) (persist.Values, error) {
	e, row, err := s.prepare(entity, v)
	if err != nil {
		return nil, err
	}
	key, err := keyValues(e, row)
	if err != nil {
		return nil, err
	}
	vp, versioned := e.Version()
	var (
		cols    []string
		vals    []any
		missing []string
	)
	for _, p := range e.Properties() {
		d, _ := e.Field(p)
		if e.IsKey(p) || (versioned && p == vp) || d.Computed {
			continue
		}
		x, ok := row[p.Name()]
		switch {
		case ok && d.Immutable:
			return nil, fmt.Errorf("persist: update %s: property %s is immutable", e.Name(), p.Name())
		case ok:
			cols = append(cols, d.Column)
			vals = append(vals, x)
		case !d.Immutable:
			missing = append(missing, p.Name())
		}
	}
	if !e.DynamicUpdate() && len(missing) > 0 {
		return nil, fmt.Errorf("persist: update %s: dynamic update is off and the row image misses %v", e.Name(), missing)
	}
	var current any
	if versioned {
		var ok bool
		if current, ok = row[vp.Name()]; !ok || current == nil {
			return nil, fmt.Errorf("persist: update %s: missing current version %s", e.Name(), vp.Name())
		}
		next, err := s.nextVersion(e, vp, current)
		if err != nil {
			return nil, err
		}
		row[vp.Name()] = next
		d, _ := e.Field(vp)
		cols = append(cols, d.Column)
		vals = append(vals, next)
	}
	if len(cols) == 0 {
		return row, nil
	}
	if e.WriteStrategy() == persist.StrategyMutation {
		s.mutations = append(s.mutations, &persist.Mutation{
			Op:      persist.OpUpdate,
			Table:   e.Table(),
			Key:     keyColumns(e),
			Columns: append(keyColumns(e), cols...),
			Values:  append(append([]any(nil), key...), vals...),
		})
		if versioned {
			s.checks = append(s.checks, &versionCheck{entity: e, key: key, version: current})
		}
		return row, nil
	}
	upd := sql.Dialect(s.cfg.Dialect).Update(e.Table()).Comment(s.comment("update", e))
	for i, c := range cols {
		upd.Set(c, vals[i])
	}
	s.where(e, key, current, func(c string, v any) { upd.Where(c, v) })
	query, args, err := upd.Query()
	if err != nil {
		return nil, persist.NewMutationError(e.Name(), "update", err)
	}
	st := &statement{
		entity: e, op: "update", query: query, args: args, hints: hints(ctx),
		stale: persist.NewStaleObjectError(e.Name(), key, current),
	}
	readBack := readBackProperties(e, (*field.Descriptor).ReadBackOnUpdate)
	if err := s.send(ctx, st, len(readBack) > 0); err != nil {
		return nil, err
	}
	if err := s.readBack(ctx, e, row, readBack); err != nil {
		return nil, s.fail(err)
	}
	return row, nil
}

// Delete removes a row. Versioned rows must carry their current version.
func (s *Session) Delete(ctx context.Context, entity string, v persist.Values) error {
	e, row, err := s.prepare(entity, v)
	if err != nil {
		return err
	}
	key, err := keyValues(e, row)
	if err != nil {
		return err
	}
	var current any
	if vp, ok := e.Version(); ok {
		if current = row[vp.Name()]; current == nil {
			return fmt.Errorf("persist: delete %s: missing current version %s", e.Name(), vp.Name())
		}
	}
	if e.WriteStrategy() == persist.StrategyMutation {
		kc := keyColumns(e)
		s.mutations = append(s.mutations, &persist.Mutation{
			Op: persist.OpDelete, Table: e.Table(), Key: kc, Columns: kc, Values: key,
		})
		if current != nil {
			s.checks = append(s.checks, &versionCheck{entity: e, key: key, version: current})
		}
		return nil
	}
	del := sql.Dialect(s.cfg.Dialect).Delete(e.Table()).Comment(s.comment("delete", e))
	s.where(e, key, current, func(c string, v any) { del.Where(c, v) })
	query, args, err := del.Query()
	if err != nil {
		return persist.NewMutationError(e.Name(), "delete", err)
	}
	return s.send(ctx, &statement{
		entity: e, op: "delete", query: query, args: args, hints: hints(ctx),
		stale: persist.NewStaleObjectError(e.Name(), key, current),
	}, false)
}

// Upsert inserts the row or updates the given properties of an existing
// one. Generated values are never read back after an upsert.
func (s *Session) Upsert(ctx context.Context, entity string, v persist.Values) (persist.Values, error) {
	e, row, err := s.prepare(entity, v)
	if err != nil {
		return nil, err
	}
	if _, ok := e.Version(); ok {
		return nil, fmt.Errorf("persist: upsert %s: versioned entities cannot be upserted", e.Name())
	}
	if err := s.assignKey(e, row); err != nil {
		return nil, err
	}
	var cols, update []string
	var vals []any
	for _, p := range e.Properties() {
		d, _ := e.Field(p)
		x, ok := row[p.Name()]
		if !ok || !d.Writable() {
			continue
		}
		cols = append(cols, d.Column)
		vals = append(vals, x)
		if !e.IsKey(p) && d.Updatable() {
			update = append(update, d.Column)
		}
	}
	if e.WriteStrategy() == persist.StrategyMutation {
		s.mutations = append(s.mutations, &persist.Mutation{
			Op: persist.OpInsertOrUpdate, Table: e.Table(), Key: keyColumns(e), Columns: cols, Values: vals,
		})
		return row, nil
	}
	query, args, err := sql.Dialect(s.cfg.Dialect).Insert(e.Table()).
		Comment(s.comment("upsert", e)).
		Columns(cols...).
		Values(vals...).
		OnConflict(keyColumns(e), update...).
		Query()
	if err != nil {
		return nil, persist.NewMutationError(e.Name(), "upsert", err)
	}
	return row, s.send(ctx, &statement{entity: e, op: "upsert", query: query, args: args, hints: hints(ctx)}, false)
}

// Refresh flushes the session and reloads the generated values and the
// version of a row, including generated values whose read-back is
// suppressed.
func (s *Session) Refresh(ctx context.Context, entity string, v persist.Values) (persist.Values, error) {
	e, row, err := s.prepare(entity, v)
	if err != nil {
		return nil, err
	}
	if _, err := keyValues(e, row); err != nil {
		return nil, err
	}
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	props := e.Generated()
	if vp, ok := e.Version(); ok {
		props = append(props, vp)
	}
	if len(props) == 0 {
		return row, nil
	}
	return row, s.readBack(ctx, e, row, props)
}

// Flush sends the queued statements, verifies the versions of the rows
// touched by buffered mutations and applies the mutations as one batch.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	if len(s.queue) == 0 && len(s.mutations) == 0 {
		return nil
	}
	statements, mutations := len(s.queue), len(s.mutations)
	if err := s.flushQueue(ctx); err != nil {
		return err
	}
	if err := s.applyMutations(ctx); err != nil {
		return err
	}
	s.logger().DebugContext(ctx, "flush", "factory", s.cfg.Name, "statements", statements, "mutations", mutations)
	return nil
}

// Commit flushes the session and commits its transaction. The session is
// rolled back if the flush fails, and a session that already failed is
// never committed.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.Flush(ctx); err != nil {
		return errors.Join(err, s.Rollback())
	}
	s.closed = true
	if s.tx == nil {
		return nil
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("persist: commit: %w", err)
	}
	return nil
}

// Rollback discards all pending writes and rolls back the transaction.
func (s *Session) Rollback() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.queue, s.mutations, s.checks = nil, nil, nil
	if s.tx == nil {
		return nil
	}
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("persist: rollback: %w", err)
	}
	return nil
}

func (s *Session) prepare(entity string, v persist.Values) (*schema.Entity, persist.Values, error) {
	if err := s.usable(); err != nil {
		return nil, nil, err
	}
	e, err := s.cfg.Registry.Get(entity)
	if err != nil {
		return nil, nil, err
	}
	for name := range v {
		p, err := e.Property(name)
		if err != nil {
			return nil, nil, err
		}
		if d, _ := e.Field(p); d.Computed {
			return nil, nil, fmt.Errorf("persist: %s.%s is generated and cannot be written", e.Name(), name)
		}
	}
	return e, v.Clone(), nil
}

func (s *Session) assignKey(e *schema.Entity, row persist.Values) error {
	key := e.Key()
	if e.Identity() == schema.IdentityGenerated && len(key) == 1 {
		if x, ok := row[key[0].Name()]; !ok || x == nil || x == "" {
			row[key[0].Name()] = s.newID()
		}
	}
	_, err := keyValues(e, row)
	return err
}

func (s *Session) initialVersion(e *schema.Entity, vp schema.Property) any {
	if d, _ := e.Field(vp); d.Type == field.TypeTime {
		return s.now()
	}
	return int64(1)
}

func (s *Session) nextVersion(e *schema.Entity, vp schema.Property, current any) (any, error) {
	if d, _ := e.Field(vp); d.Type == field.TypeTime {
		return s.now(), nil
	}
	n, ok := toInt64(current)
	if !ok {
		return nil, fmt.Errorf("persist: %s.%s: version %v (%T) is not an integer in the int64 range", e.Name(), vp.Name(), current, current)
	}
	if n == math.MaxInt64 {
		return nil, fmt.Errorf("persist: %s.%s: version %d cannot be incremented", e.Name(), vp.Name(), n)
	}
	return n + 1, nil
}

func (s *Session) comment(op string, e *schema.Entity) string {
	if !s.cfg.EmitComments {
		return ""
	}
	return op + " " + e.Name()
}

func (s *Session) where(e *schema.Entity, key []any, version any, where func(string, any)) {
	for i, p := range e.Key() {
		d, _ := e.Field(p)
		where(d.Column, key[i])
	}
	if vp, ok := e.Version(); ok && version != nil {
		d, _ := e.Field(vp)
		where(d.Column, version)
	}
}

// send queues st, or sends it immediately together with everything queued
// before it when now is set or the row is versioned and versioned data is
// not batched.
func (s *Session) send(ctx context.Context, st *statement, now bool) error {
	s.queue = append(s.queue, st)
	_, versioned := st.entity.Version()
	if now || (versioned && !s.cfg.ForceBatchVersionedData) {
		return s.flushQueue(ctx)
	}
	return nil
}

func (s *Session) flushQueue(ctx context.Context) error {
	for len(s.queue) > 0 {
		st := s.queue[0]
		s.queue = s.queue[1:]
		if err := s.exec(ctx, st); err != nil {
			return s.fail(err)
		}
	}
	return nil
}

func (s *Session) exec(ctx context.Context, st *statement) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	query, err := s.intercept(st.query, st.hints)
	if err != nil {
		return err
	}
	var res sql.Result
	if err := tx.Exec(ctx, query, st.args, &res); err != nil {
		return persist.NewMutationError(st.entity.Name(), st.op, err)
	}
	if st.stale == nil {
		return nil
	}
	n, err := sql.RowsAffected(res)
	if err != nil {
		return persist.NewMutationError(st.entity.Name(), st.op, err)
	}
	if n != 1 {
		return st.stale
	}
	return nil
}

func (s *Session) query(ctx context.Context, e *schema.Entity, query string, args []any, hc dialect.HintContext, n int) ([]any, bool, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, false, err
	}
	if query, err = s.intercept(query, hc); err != nil {
		return nil, false, err
	}
	rows := &sql.Rows{}
	if err := tx.Query(ctx, query, args, rows); err != nil {
		return nil, false, persist.NewMutationError(e.Name(), "select", err)
	}
	return sql.ScanOne(rows, n)
}

func (s *Session) intercept(query string, hc dialect.HintContext) (string, error) {
	if s.cfg.Interceptor == nil {
		return query, nil
	}
	return s.cfg.Interceptor.OnPrepareStatement(query, hc)
}

// readBack selects props of the row by key and stores them in row.
func (s *Session) readBack(ctx context.Context, e *schema.Entity, row persist.Values, props []schema.Property) error {
	if len(props) == 0 {
		return nil
	}
	key, err := keyValues(e, row)
	if err != nil {
		return err
	}
	cols := make([]string, len(props))
	for i, p := range props {
		d, _ := e.Field(p)
		cols[i] = d.Column
	}
	sel := sql.Dialect(s.cfg.Dialect).Select(cols...).From(e.Table()).Comment(s.comment("select", e))
	for i, p := range e.Key() {
		d, _ := e.Field(p)
		sel.Where(d.Column, key[i])
	}
	query, args, err := sel.Query()
	if err != nil {
		return persist.NewMutationError(e.Name(), "select", err)
	}
	vs, ok, err := s.query(ctx, e, query, args, dialect.HintContext{}, len(cols))
	if err != nil {
		return err
	}
	if !ok {
		return persist.NewStaleObjectError(e.Name(), key, nil)
	}
	for i, p := range props {
		row[p.Name()] = vs[i]
	}
	return nil
}

func (s *Session) applyMutations(ctx context.Context) error {
	if len(s.mutations) == 0 {
		return nil
	}
	ms, checks := s.mutations, s.checks
	s.mutations, s.checks = nil, nil
	for _, c := range checks {
		if err := s.checkVersion(ctx, c); err != nil {
			return s.fail(err)
		}
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return s.fail(err)
	}
	a, ok := tx.(dialect.MutationApplier)
	if !ok {
		return s.fail(fmt.Errorf("persist: driver %s does not apply mutations", s.cfg.Driver.Dialect()))
	}
	if err := a.Apply(ctx, ms); err != nil {
		return s.fail(err)
	}
	return nil
}

// usable returns the error an operation on s fails with, if any.
func (s *Session) usable() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.err != nil:
		return fmt.Errorf("%w: %w", ErrFailed, s.err)
	default:
		return nil
	}
}

// fail rolls back the transaction after a write failed, so that the writes
// sent before it are never committed. It drops every pending write and
// returns err.
func (s *Session) fail(err error) error {
	s.err = err
	s.queue, s.mutations, s.checks = nil, nil, nil
	if s.tx == nil {
		return err
	}
	tx := s.tx
	s.tx = nil
	if rerr := tx.Rollback(); rerr != nil {
		return errors.Join(err, fmt.Errorf("persist: rollback: %w", rerr))
	}
	return err
}

func (s *Session) checkVersion(ctx context.Context, c *versionCheck) error {
	vp, _ := c.entity.Version()
	d, _ := c.entity.Field(vp)
	sel := sql.Dialect(s.cfg.Dialect).Select(d.Column).From(c.entity.Table()).Comment(s.comment("check", c.entity))
	for i, p := range c.entity.Key() {
		kd, _ := c.entity.Field(p)
		sel.Where(kd.Column, c.key[i])
	}
	query, args, err := sel.Query()
	if err != nil {
		return persist.NewMutationError(c.entity.Name(), "select", err)
	}
	vs, ok, err := s.query(ctx, c.entity, query, args, dialect.HintContext{}, 1)
	if err != nil {
		return err
	}
	if !ok || !sameVersion(vs[0], c.version) {
		return persist.NewStaleObjectError(c.entity.Name(), c.key, c.version)
	}
	return nil
}

func (s *Session) begin(ctx context.Context) (dialect.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	if s.cfg.Driver == nil {
		return nil, errors.New("persist: session factory has no driver")
	}
	tx, err := s.cfg.Driver.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("persist: begin transaction: %w", err)
	}
	s.tx = tx
	return tx, nil
}

func (s *Session) logger() *slog.Logger {
	if s.cfg.Logger != nil {
		return s.cfg.Logger
	}
	return slog.Default()
}

func (s *Session) now() time.Time {
	if s.cfg.Now != nil {
		return s.cfg.Now()
	}
	return time.Now().UTC()
}

func (s *Session) newID() string {
	if s.cfg.NewID != nil {
		return s.cfg.NewID()
	}
	return uuid.NewString()
}

func hints(ctx context.Context) dialect.HintContext {
	hc, _ := intercept.HintsFromContext(ctx)
	return hc
}

func keyColumns(e *schema.Entity) []string {
	key := e.Key()
	cols := make([]string, len(key))
	for i, p := range key {
		d, _ := e.Field(p)
		cols[i] = d.Column
	}
	return cols
}

func keyValues(e *schema.Entity, row persist.Values) ([]any, error) {
	key := e.Key()
	vs := make([]any, len(key))
	for i, p := range key {
		x, ok := row[p.Name()]
		if !ok || x == nil {
			return nil, fmt.Errorf("persist: %s: missing key property %s", e.Name(), p.Name())
		}
		vs[i] = x
	}
	return vs, nil
}

func readBackProperties(e *schema.Entity, when func(*field.Descriptor) bool) []schema.Property {
	var ps []schema.Property
	for _, p := range e.Generated() {
		if d, _ := e.Field(p); when(&d) {
			ps = append(ps, p)
		}
	}
	return ps
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func sameVersion(got, want any) bool {
	if g, ok := toInt64(got); ok {
		w, ok := toInt64(want)
		return ok && g == w
	}
	if g, ok := got.(time.Time); ok {
		w, ok := want.(time.Time)
		return ok && g.Equal(w)
	}
	return reflect.DeepEqual(got, want)
}
