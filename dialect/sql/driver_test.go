package sql

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist/dialect"
)

func TestOpenDB(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
	}{
		{"Postgres", dialect.Postgres},
		{"MySQL", dialect.MySQL},
		{"SQLite", dialect.SQLite},
		{"Spanner", dialect.Spanner},
		{"SpannerPG", dialect.SpannerPG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			drv := OpenDB(tt.dialect, db)
			assert.NotNil(t, drv)
			assert.Equal(t, tt.dialect, drv.Dialect())
		})
	}
}

func TestDriverQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)

	t.Run("scan_one", func(t *testing.T) {
		mock.ExpectQuery(`SELECT "FullName" FROM "Singers" WHERE "SingerId" = \$1`).
			WithArgs("s1").
			WillReturnRows(sqlmock.NewRows([]string{"FullName"}).AddRow("Keith Richards"))

		rows := &Rows{}
		err := drv.Query(context.Background(), `SELECT "FullName" FROM "Singers" WHERE "SingerId" = $1`, []any{"s1"}, rows)
		require.NoError(t, err)
		vs, ok, err := ScanOne(rows, 1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Keith Richards", vs[0])
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("scan_none", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"FullName"}))

		rows := &Rows{}
		require.NoError(t, drv.Query(context.Background(), "SELECT 1", []any{}, rows))
		_, ok, err := ScanOne(rows, 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("scan_many", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1).AddRow(2))

		rows := &Rows{}
		require.NoError(t, drv.Query(context.Background(), "SELECT 1", []any{}, rows))
		_, _, err := ScanOne(rows, 1)
		assert.Error(t, err)
	})

	t.Run("query_error", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("database error"))

		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT", []any{}, rows)
		assert.ErrorContains(t, err, "dialect/sql: query")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid_types", func(t *testing.T) {
		assert.Error(t, drv.Query(context.Background(), "SELECT 1", []any{}, nil))
		assert.Error(t, drv.Query(context.Background(), "SELECT 1", "x", &Rows{}))
	})
}

func TestDriverExec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.MySQL, db)

	t.Run("rows_affected", func(t *testing.T) {
		mock.ExpectExec("UPDATE `Singers` SET").
			WithArgs("Richards", "s1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		var res Result
		err := drv.Exec(context.Background(), "UPDATE `Singers` SET `LastName` = ? WHERE `SingerId` = ?", []any{"Richards", "s1"}, &res)
		require.NoError(t, err)
		n, err := RowsAffected(res)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec_error", func(t *testing.T) {
		mock.ExpectExec("DELETE").WillReturnError(errors.New("constraint violation"))

		err := drv.Exec(context.Background(), "DELETE FROM `Singers`", []any{}, nil)
		assert.ErrorContains(t, err, "constraint violation")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid_result", func(t *testing.T) {
		assert.Error(t, drv.Exec(context.Background(), "DELETE", []any{}, &Rows{}))
	})
}

func TestDriverTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)

	t.Run("commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Exec(context.Background(), `INSERT INTO "Singers" ("SingerId") VALUES ($1)`, []any{"s1"}, nil))
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("error"))
		mock.ExpectRollback()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.Error(t, tx.Exec(context.Background(), `INSERT INTO "Singers" ("SingerId") VALUES ($1)`, []any{"s1"}, nil))
		require.NoError(t, tx.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDriverPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	require.NoError(t, OpenDB(dialect.SQLite, db).Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.ErrorContains(t, OpenDB(dialect.SQLite, db).Ping(context.Background()), "ping")
}

func TestDialectPrefix(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, dialect.SpannerPG, OpenDB("spanner-pg-traced", db).Dialect())
	assert.Equal(t, dialect.Postgres, OpenDB("postgres-traced", db).Dialect())
	assert.Equal(t, "custom", OpenDB("custom", db).Dialect())
}

func TestIsValidIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"Singers", true},
		{"_private", true},
		{"schema.Singers", true},
		{"AlbumWithVersion2", true},
		{"", false},
		{"1Singer", false},
		{"Singer Id", false},
		{"x; DROP TABLE Singers", false},
		{"x`y", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, isValidIdentifier(tt.input))
		})
	}
}
