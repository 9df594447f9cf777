// Package sql implements the dialect contracts over database/sql.
//
// # Driver
//
//	drv, err := sql.Open(dialect.Postgres, "postgres", dsn)
//	tx, err := drv.Tx(ctx)
//
// The transactions of a Driver implement dialect.MutationApplier. Each
// mutation runs as one or more statements inside the transaction:
//
//   - insert: INSERT
//   - update: UPDATE by key, failing when no row matches
//   - insert_or_update: the dialect upsert (ON CONFLICT, ON DUPLICATE KEY, INSERT OR UPDATE)
//   - replace: DELETE by key, then INSERT
//   - delete: DELETE by key
//
// # Statement Builders
//
// The builders cover the single-table statements a session issues. Identifiers
// are validated and quoted, and arguments are bound with the placeholder style
// of the dialect:
//
//	query, args, err := sql.Dialect(dialect.Spanner).
//	    Insert("Singers").
//	    Comment("insert Singer").
//	    Columns("SingerId", "LastName").
//	    Values("s1", "Richards").
//	    Query()
//	// /* insert Singer */ INSERT INTO `Singers` (`SingerId`, `LastName`) VALUES (@p1, @p2)
//
// # Statistics and Debugging
//
// StatsDriver counts statements, mutation batches and slow operations.
// DebugDriver logs every statement and batch through log/slog at debug level.
package sql
