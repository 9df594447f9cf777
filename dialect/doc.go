// Package dialect defines the contracts between sessions and a database.
//
// # Supported Dialects
//
//   - Spanner: GoogleSQL dialect of a mutation-capable database
//   - SpannerPG: PostgreSQL interface of the same database
//   - Postgres: PostgreSQL
//   - MySQL: MySQL/MariaDB
//   - SQLite: SQLite
//
// # Driver Interface
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// Transactions that can apply mutation batches also implement
// MutationApplier. The dialect/sql package emulates it with statements for
// databases without native mutations.
//
// # Hints
//
// A HintRenderer turns a HintContext into text placed before and after a
// statement. Renderers never parse SQL. The dialect/spanner package holds
// renderers for both statement hint syntaxes:
//
//	@{FORCE_INDEX=SingersByLastName} SELECT ...   -- GoogleSQL
//	/*@ FORCE_INDEX=SingersByLastName */ SELECT ... -- PostgreSQL interface
//
// # Sub-packages
//
//   - dialect/sql: database/sql driver, statement builder, mutation emulation
//   - dialect/spanner: statement hint rendering
package dialect
