package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
)

// WriteStats holds statement and mutation statistics.
type WriteStats struct {
	// Queries is the number of queries executed.
	Queries atomic.Int64
	// Execs is the number of exec statements executed.
	Execs atomic.Int64
	// Batches is the number of mutation batches applied.
	Batches atomic.Int64
	// Mutations is the number of mutations applied.
	Mutations atomic.Int64
	// Duration is the total time spent in the database, in nanoseconds.
	Duration atomic.Int64
	// Slow is the number of operations exceeding the slow threshold.
	Slow atomic.Int64
	// Errors is the number of failed operations.
	Errors atomic.Int64
}

// Snapshot returns a point-in-time copy of the statistics.
func (s *WriteStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Queries:   s.Queries.Load(),
		Execs:     s.Execs.Load(),
		Batches:   s.Batches.Load(),
		Mutations: s.Mutations.Load(),
		Duration:  time.Duration(s.Duration.Load()),
		Slow:      s.Slow.Load(),
		Errors:    s.Errors.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *WriteStats) Reset() {
	s.Queries.Store(0)
	s.Execs.Store(0)
	s.Batches.Store(0)
	s.Mutations.Store(0)
	s.Duration.Store(0)
	s.Slow.Store(0)
	s.Errors.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of write statistics.
type StatsSnapshot struct {
	Queries   int64
	Execs     int64
	Batches   int64
	Mutations int64
	Duration  time.Duration
	Slow      int64
	Errors    int64
}

// Statements returns the number of statements executed.
func (s StatsSnapshot) Statements() int64 {
	return s.Queries + s.Execs
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d batches=%d mutations=%d duration=%s slow=%d errors=%d",
		s.Queries, s.Execs, s.Batches, s.Mutations, s.Duration, s.Slow, s.Errors,
	)
}

// SlowHook is called when a statement or batch exceeds the slow threshold.
// For batches, query describes the batch.
type SlowHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsDriver wraps a Driver with statistics collection.
type StatsDriver struct {
	*Driver
	stats         *WriteStats
	slowThreshold time.Duration
	slowHook      SlowHook
	mu            sync.RWMutex
}

// StatsOption configures the StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the threshold for slow statement detection.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.slowThreshold = d
	}
}

// WithSlowHook sets a callback function for slow statements and batches.
func WithSlowHook(hook SlowHook) StatsOption {
	return func(s *StatsDriver) {
		s.slowHook = hook
	}
}

// WithSlowLog logs slow statements and batches to the given logger.
func WithSlowLog(l *slog.Logger) StatsOption {
	return WithSlowHook(func(ctx context.Context, query string, args []any, duration time.Duration) {
		l.WarnContext(ctx, "slow statement", "duration", duration, "query", query, "args", args)
	})
}

// NewStatsDriver wraps a Driver with statistics collection.
//
//	drv, _ := sql.Open(dialect.Postgres, "postgres", dsn)
//	stats := sql.NewStatsDriver(drv, sql.WithSlowThreshold(200*time.Millisecond))
//	fmt.Println(stats.Stats().Snapshot())
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Driver:        drv,
		stats:         &WriteStats{},
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the collected statistics.
func (d *StatsDriver) Stats() *WriteStats {
	return d.stats
}

// SlowThreshold returns the current slow threshold.
func (d *StatsDriver) SlowThreshold() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.slowThreshold
}

// SetSlowThreshold updates the slow threshold.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slowThreshold = threshold
}

// Query executes a query and records statistics.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.stats.Queries.Add(1)
	d.record(ctx, query, args, start, err)
	return err
}

// Exec executes a statement and records statistics.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.stats.Execs.Add(1)
	d.record(ctx, query, args, start, err)
	return err
}

// Apply applies a mutation batch and records statistics.
func (d *StatsDriver) Apply(ctx context.Context, ms []*persist.Mutation) error {
	start := time.Now()
	err := d.Driver.Apply(ctx, ms)
	d.recordBatch(ctx, ms, start, err)
	return err
}

func (d *StatsDriver) recordBatch(ctx context.Context, ms []*persist.Mutation, start time.Time, err error) {
	d.stats.Batches.Add(1)
	d.stats.Mutations.Add(int64(len(ms)))
	d.record(ctx, fmt.Sprintf("apply %d mutations", len(ms)), nil, start, err)
}

func (d *StatsDriver) record(ctx context.Context, query string, args any, start time.Time, err error) {
	duration := time.Since(start)
	d.stats.Duration.Add(int64(duration))
	if err != nil {
		d.stats.Errors.Add(1)
	}

	d.mu.RLock()
	threshold := d.slowThreshold
	hook := d.slowHook
	d.mu.RUnlock()

	if duration > threshold {
		d.stats.Slow.Add(1)
		if hook != nil {
			argsSlice, _ := args.([]any)
			hook(ctx, query, argsSlice, duration)
		}
	}
}

// Tx starts a transaction that also records statistics.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsTx{Tx: tx, driver: d}, nil
}

// StatsTx wraps a transaction with statistics collection.
type StatsTx struct {
	dialect.Tx
	driver *StatsDriver
}

// Query executes a query within the transaction and records statistics.
func (tx *StatsTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Query(ctx, query, args, v)
	tx.driver.stats.Queries.Add(1)
	tx.driver.record(ctx, query, args, start, err)
	return err
}

// Exec executes a statement within the transaction and records statistics.
func (tx *StatsTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Exec(ctx, query, args, v)
	tx.driver.stats.Execs.Add(1)
	tx.driver.record(ctx, query, args, start, err)
	return err
}

// Apply applies a mutation batch within the transaction and records statistics.
func (tx *StatsTx) Apply(ctx context.Context, ms []*persist.Mutation) error {
	start := time.Now()
	err := apply(ctx, tx.Tx, ms)
	tx.driver.recordBatch(ctx, ms, start, err)
	return err
}

// DebugDriver wraps a Driver with debug logging.
type DebugDriver struct {
	*Driver
	logger *slog.Logger
}

// DebugOption configures the DebugDriver.
type DebugOption func(*DebugDriver)

// DebugWithLogger sets the logger. Default is slog.Default().
func DebugWithLogger(l *slog.Logger) DebugOption {
	return func(d *DebugDriver) {
		d.logger = l
	}
}

// NewDebugDriver wraps a Driver with debug logging of every statement,
// mutation batch and transaction boundary.
func NewDebugDriver(drv *Driver, opts ...DebugOption) *DebugDriver {
	d := &DebugDriver{Driver: drv, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Query executes a query and logs it.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.logger.DebugContext(ctx, "query", "sql", query, "args", args)
	return d.Driver.Query(ctx, query, args, v)
}

// Exec executes a statement and logs it.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.logger.DebugContext(ctx, "exec", "sql", query, "args", args)
	return d.Driver.Exec(ctx, query, args, v)
}

// Apply applies a mutation batch and logs it.
func (d *DebugDriver) Apply(ctx context.Context, ms []*persist.Mutation) error {
	logBatch(ctx, d.logger, "apply", ms)
	return d.Driver.Apply(ctx, ms)
}

// Tx starts a transaction with debug logging.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	d.logger.DebugContext(ctx, "begin transaction")
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &DebugTx{Tx: tx, logger: d.logger}, nil
}

// DebugTx wraps a transaction with debug logging.
type DebugTx struct {
	dialect.Tx
	logger *slog.Logger
}

// Query executes a query within the transaction and logs it.
func (tx *DebugTx) Query(ctx context.Context, query string, args, v any) error {
	tx.logger.DebugContext(ctx, "tx query", "sql", query, "args", args)
	return tx.Tx.Query(ctx, query, args, v)
}

// Exec executes a statement within the transaction and logs it.
func (tx *DebugTx) Exec(ctx context.Context, query string, args, v any) error {
	tx.logger.DebugContext(ctx, "tx exec", "sql", query, "args", args)
	return tx.Tx.Exec(ctx, query, args, v)
}

// Apply applies a mutation batch within the transaction and logs it.
func (tx *DebugTx) Apply(ctx context.Context, ms []*persist.Mutation) error {
	logBatch(ctx, tx.logger, "tx apply", ms)
	return apply(ctx, tx.Tx, ms)
}

// Commit commits the transaction and logs it.
func (tx *DebugTx) Commit() error {
	tx.logger.Debug("commit transaction")
	return tx.Tx.Commit()
}

// Rollback rolls back the transaction and logs it.
func (tx *DebugTx) Rollback() error {
	tx.logger.Debug("rollback transaction")
	return tx.Tx.Rollback()
}

func logBatch(ctx context.Context, l *slog.Logger, msg string, ms []*persist.Mutation) {
	if !l.Enabled(ctx, slog.LevelDebug) {
		return
	}
	desc := make([]string, len(ms))
	for i, m := range ms {
		desc[i] = m.String()
	}
	l.DebugContext(ctx, msg, "mutations", desc)
}

// apply forwards a batch to a wrapped transaction.
func apply(ctx context.Context, tx dialect.Tx, ms []*persist.Mutation) error {
	a, ok := tx.(dialect.MutationApplier)
	if !ok {
		return errors.New("dialect/sql: transaction does not apply mutations")
	}
	return a.Apply(ctx, ms)
}

// Ensure interfaces are implemented.
var (
	_ dialect.Driver          = (*StatsDriver)(nil)
	_ dialect.Tx              = (*StatsTx)(nil)
	_ dialect.MutationApplier = (*StatsTx)(nil)
	_ dialect.Driver          = (*DebugDriver)(nil)
	_ dialect.Tx              = (*DebugTx)(nil)
	_ dialect.MutationApplier = (*DebugTx)(nil)
)

// OpenWithStats opens a database connection with statistics collection enabled.
func OpenWithStats(dialectName, driverName, source string, opts ...StatsOption) (*StatsDriver, error) {
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return NewStatsDriver(OpenDB(dialectName, db), opts...), nil
}
