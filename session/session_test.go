package session_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/spanner"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/intercept"
	"github.com/syssam/persist/registry"
	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/schema/field"
	"github.com/syssam/persist/schema/mixin"
	"github.com/syssam/persist/session"
)

func singer() *schema.Entity {
	return schema.New("Singer").
		Identity(schema.IdentityAssigned, "SingerId").
		Fields(
			field.String("SingerId"),
			field.String("FirstName").Optional(),
			field.String("LastName"),
			field.String("FullName").Generated(),
		).
		MustBuild()
}

func album() *schema.Entity {
	return schema.New("Album").
		Identity(schema.IdentityComposite, "SingerId", "AlbumId").
		Fields(
			field.String("SingerId"),
			field.String("AlbumId"),
			field.String("Title").Optional(),
		).
		MustBuild()
}

func versioned() *schema.Entity {
	return schema.New("AlbumWithVersion").
		Table("AlbumWithVersion").
		Identity(schema.IdentityAssigned, "AlbumId").
		Fields(field.String("AlbumId"), field.String("Title")).
		Mixin(mixin.Version{}).
		MustBuild()
}

func mutations(t *testing.T, e *schema.Entity, suppress ...string) *schema.Entity {
	t.Helper()
	require.NoError(t, e.SetWriteStrategy(persist.StrategyMutation))
	require.NoError(t, e.SetDynamicUpdate(true))
	for _, name := range suppress {
		p, err := e.Property(name)
		require.NoError(t, err)
		require.NoError(t, e.SetGeneration(p, field.GenerationNever))
	}
	return e
}

func open(t *testing.T, cfg session.Config, entities ...*schema.Entity) (*session.Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	reg := registry.MustNew(entities...)
	reg.Freeze()
	cfg.Registry = reg
	cfg.Dialect = dialect.Postgres
	cfg.Driver = sql.OpenDB(dialect.Postgres, db)
	return session.New(&cfg), mock
}

func TestInsertQueued(t *testing.T) {
	ctx := context.Background()
	s, mock := open(t, session.Config{}, album())

	row, err := s.Insert(ctx, "Album", persist.Values{"SingerId": "s1", "AlbumId": "a1", "Title": "Blue"})
	require.NoError(t, err)
	assert.Equal(t, "Blue", row["Title"])
	st, ms := s.Pending()
	assert.Equal(t, 1, st)
	assert.Zero(t, ms)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "Albums" ("SingerId", "AlbumId", "Title") VALUES ($1, $2, $3)`).
		WithArgs("s1", "a1", "Blue").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReadBack(t *testing.T) {
	ctx := context.Background()
	s, mock := open(t, session.Config{EmitComments: true}, singer())

	mock.ExpectBegin()
	mock.ExpectExec(`/* insert Singer */ INSERT INTO "Singers" ("SingerId", "LastName") VALUES ($1, $2)`).
		WithArgs("s1", "Richards").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`/* select Singer */ SELECT "FullName" FROM "Singers" WHERE "SingerId" = $1`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"FullName"}).AddRow("Richards"))

	row, err := s.Insert(ctx, "Singer", persist.Values{"SingerId": "s1", "LastName": "Richards"})
	require.NoError(t, err)
	assert.Equal(t, "Richards", row["FullName"])
	st, _ := s.Pending()
	assert.Zero(t, st)

	mock.ExpectCommit()
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVersionedUpdate(t *testing.T) {
	const query = `UPDATE "AlbumWithVersion" SET "Title" = $1, "Version" = $2 WHERE "AlbumId" = $3 AND "Version" = $4`
	ctx := context.Background()

	t.Run("immediate", func(t *testing.T) {
		s, mock := open(t, session.Config{}, versioned())
		mock.ExpectBegin()
		mock.ExpectExec(query).
			WithArgs("Blue", int64(3), "a1", int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		row, err := s.Update(ctx, "AlbumWithVersion", persist.Values{"AlbumId": "a1", "Title": "Blue", "Version": int64(2)})
		require.NoError(t, err)
		assert.Equal(t, int64(3), row["Version"])
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale", func(t *testing.T) {
		s, mock := open(t, session.Config{}, versioned())
		mock.ExpectBegin()
		mock.ExpectExec(query).
			WithArgs("Blue", int64(3), "a1", int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
		_, err := s.Update(ctx, "AlbumWithVersion", persist.Values{"AlbumId": "a1", "Title": "Blue", "Version": int64(2)})
		require.True(t, persist.IsStaleObject(err))
		assert.True(t, errors.Is(err, persist.ErrStaleObject))
		require.NoError(t, s.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("batched", func(t *testing.T) {
		s, mock := open(t, session.Config{ForceBatchVersionedData: true}, versioned())
		_, err := s.Update(ctx, "AlbumWithVersion", persist.Values{"AlbumId": "a1", "Title": "Blue", "Version": 2})
		require.NoError(t, err)
		st, _ := s.Pending()
		assert.Equal(t, 1, st)

		mock.ExpectBegin()
		mock.ExpectExec(query).
			WithArgs("Blue", int64(3), "a1", int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, s.Flush(ctx))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, mock := open(t, session.Config{EmitComments: true}, versioned(), album())

	mock.ExpectBegin()
	mock.ExpectExec(`/* delete AlbumWithVersion */ DELETE FROM "AlbumWithVersion" WHERE "AlbumId" = $1 AND "Version" = $2`).
		WithArgs("a1", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Delete(ctx, "AlbumWithVersion", persist.Values{"AlbumId": "a1", "Version": int64(4)}))

	require.NoError(t, s.Delete(ctx, "Album", persist.Values{"SingerId": "s1", "AlbumId": "a1"}))
	mock.ExpectExec(`/* delete Album */ DELETE FROM "Albums" WHERE "SingerId" = $1 AND "AlbumId" = $2`).
		WithArgs("s1", "a1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	err := s.Commit(ctx)
	require.True(t, persist.IsStaleObject(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	s, mock := open(t, session.Config{}, album())

	_, err := s.Upsert(ctx, "Album", persist.Values{"SingerId": "s1", "AlbumId": "a1", "Title": "Blue"})
	require.NoError(t, err)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "Albums" ("SingerId", "AlbumId", "Title") VALUES ($1, $2, $3) ON CONFLICT ("SingerId", "AlbumId") DO UPDATE SET "Title" = excluded."Title"`).
		WithArgs("s1", "a1", "Blue").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, s.Commit(ctx))

	s, _ = open(t, session.Config{}, versioned())
	_, err = s.Upsert(ctx, "AlbumWithVersion", persist.Values{"AlbumId": "a1", "Title": "Blue"})
	assert.ErrorContains(t, err, "versioned")
}

func TestMutationInsert(t *testing.T) {
	ctx := context.Background()
	s, mock := open(t, session.Config{EmitComments: true}, mutations(t, singer(), "FullName"))

	row, err := s.Insert(ctx, "Singer", persist.Values{"SingerId": "s1", "FirstName": "Keith", "LastName": "Richards"})
	require.NoError(t, err)
	assert.NotContains(t, row, "FullName")
	st, ms := s.Pending()
	assert.Zero(t, st)
	assert.Equal(t, 1, ms)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "Singers" ("SingerId", "FirstName", "LastName") VALUES ($1, $2, $3)`).
		WithArgs("s1", "Keith", "Richards").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = s.Insert(ctx, "Singer", persist.Values{"SingerId": "s2", "LastName": "Jagger"})
	assert.ErrorIs(t, err, session.ErrClosed)
}

func TestFailedFlush(t *testing.T) {
	const insert = `INSERT INTO "Albums" ("SingerId", "AlbumId") VALUES ($1, $2)`
	ctx := context.Background()

	t.Run("statements", func(t *testing.T) {
		s, mock := open(t, session.Config{}, album())
		for _, id := range []string{"a1", "a2", "a3"} {
			_, err := s.Insert(ctx, "Album", persist.Values{"SingerId": "s1", "AlbumId": id})
			require.NoError(t, err)
		}

		mock.ExpectBegin()
		mock.ExpectExec(insert).WithArgs("s1", "a1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insert).WithArgs("s1", "a2").WillReturnError(errors.New("boom"))
		mock.ExpectRollback()
		err := s.Flush(ctx)
		require.ErrorContains(t, err, "boom")
		assert.True(t, persist.IsMutationError(err))
		st, ms := s.Pending()
		assert.Zero(t, st+ms)

		// The statement sent before the failure is rolled back, never committed.
		err = s.Commit(ctx)
		require.ErrorIs(t, err, session.ErrFailed)
		assert.ErrorContains(t, err, "boom")
		_, err = s.Insert(ctx, "Album", persist.Values{"SingerId": "s1", "AlbumId": "a4"})
		assert.ErrorIs(t, err, session.ErrFailed)
		assert.ErrorIs(t, s.Flush(ctx), session.ErrFailed)
		require.NoError(t, s.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mutations", func(t *testing.T) {
		s, mock := open(t, session.Config{}, album(), mutations(t, singer(), "FullName"))
		_, err := s.Insert(ctx, "Album", persist.Values{"SingerId": "s1", "AlbumId": "a1"})
		require.NoError(t, err)
		_, err = s.Insert(ctx, "Singer", persist.Values{"SingerId": "s1", "LastName": "Richards"})
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectExec(insert).WithArgs("s1", "a1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO "Singers" ("SingerId", "LastName") VALUES ($1, $2)`).
			WithArgs("s1", "Richards").
			WillReturnError(errors.New("duplicate key"))
		mock.ExpectRollback()
		err = s.Commit(ctx)
		require.ErrorContains(t, err, "duplicate key")
		assert.NotErrorIs(t, err, session.ErrFailed)
		assert.ErrorIs(t, s.Commit(ctx), session.ErrFailed)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("read back", func(t *testing.T) {
		s, mock := open(t, session.Config{}, singer())
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO "Singers" ("SingerId", "LastName") VALUES ($1, $2)`).
			WithArgs("s1", "Richards").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT "FullName" FROM "Singers" WHERE "SingerId" = $1`).
			WithArgs("s1").
			WillReturnError(errors.New("timeout"))
		mock.ExpectRollback()
		_, err := s.Insert(ctx, "Singer", persist.Values{"SingerId": "s1", "LastName": "Richards"})
		require.ErrorContains(t, err, "timeout")
		assert.ErrorIs(t, s.Commit(ctx), session.ErrFailed)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMutationVersionCheck(t *testing.T) {
	const check = `SELECT "Version" FROM "AlbumWithVersion" WHERE "AlbumId" = $1`
	ctx := context.Background()
	update := persist.Values{"AlbumId": "a1", "Title": "Blue", "Version": int64(2)}

	t.Run("current", func(t *testing.T) {
		s, mock := open(t, session.Config{ForceBatchVersionedData: true}, mutations(t, versioned()))
		_, err := s.Update(ctx, "AlbumWithVersion", update)
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectQuery(check).WithArgs("a1").WillReturnRows(sqlmock.NewRows([]string{"Version"}).AddRow(int64(2)))
		mock.ExpectExec(`UPDATE "AlbumWithVersion" SET "Title" = $1, "Version" = $2 WHERE "AlbumId" = $3`).
			WithArgs("Blue", int64(3), "a1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		require.NoError(t, s.Commit(ctx))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale", func(t *testing.T) {
		s, mock := open(t, session.Config{ForceBatchVersionedData: true}, mutations(t, versioned()))
		_, err := s.Update(ctx, "AlbumWithVersion", update)
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectQuery(check).WithArgs("a1").WillReturnRows(sqlmock.NewRows([]string{"Version"}).AddRow(int64(5)))
		mock.ExpectRollback()
		err = s.Commit(ctx)
		var stale *persist.StaleObjectError
		require.True(t, errors.As(err, &stale))
		assert.Equal(t, "AlbumWithVersion", stale.Entity)
		assert.Equal(t, int64(2), stale.Version)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	s, mock := open(t, session.Config{}, mutations(t, singer(), "FullName"))

	_, err := s.Insert(ctx, "Singer", persist.Values{"SingerId": "s1", "LastName": "Richards"})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "Singers" ("SingerId", "LastName") VALUES ($1, $2)`).
		WithArgs("s1", "Richards").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT "FullName" FROM "Singers" WHERE "SingerId" = $1`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"FullName"}).AddRow("Richards"))
	row, err := s.Refresh(ctx, "Singer", persist.Values{"SingerId": "s1"})
	require.NoError(t, err)
	assert.Equal(t, "Richards", row["FullName"])

	mock.ExpectQuery(`SELECT "FullName" FROM "Singers" WHERE "SingerId" = $1`).
		WithArgs("s2").
		WillReturnRows(sqlmock.NewRows([]string{"FullName"}))
	_, err = s.Refresh(ctx, "Singer", persist.Values{"SingerId": "s2"})
	assert.True(t, persist.IsStaleObject(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHints(t *testing.T) {
	ctx := intercept.WithHint(context.Background(), "force_index", "AlbumsByTitle")
	cfg := session.Config{
		EmitComments: true,
		Interceptor:  intercept.Guard(intercept.NewHintInterceptor(spanner.PostgreSQL)),
	}
	s, mock := open(t, cfg, album())

	_, err := s.Insert(ctx, "Album", persist.Values{"SingerId": "s1", "AlbumId": "a1"})
	require.NoError(t, err)
	_, err = s.Insert(context.Background(), "Album", persist.Values{"SingerId": "s1", "AlbumId": "a2"})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`/*@ FORCE_INDEX=AlbumsByTitle */ /* insert Album */ INSERT INTO "Albums" ("SingerId", "AlbumId") VALUES ($1, $2)`).
		WithArgs("s1", "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`/* insert Album */ INSERT INTO "Albums" ("SingerId", "AlbumId") VALUES ($1, $2)`).
		WithArgs("s1", "a2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHintsIgnoredWithoutInterceptor(t *testing.T) {
	ctx := intercept.WithHint(context.Background(), "force_index", "AlbumsByTitle")
	s, mock := open(t, session.Config{}, album())

	_, err := s.Insert(ctx, "Album", persist.Values{"SingerId": "s1", "AlbumId": "a1"})
	require.NoError(t, err)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "Albums" ("SingerId", "AlbumId") VALUES ($1, $2)`).
		WithArgs("s1", "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGeneratedIdentity(t *testing.T) {
	t.Parallel()

	track := schema.New("Track").
		Identity(schema.IdentityGenerated, "TrackId").
		Fields(field.String("TrackId"), field.String("Title")).
		MustBuild()
	ctx := context.Background()

	s, _ := open(t, session.Config{NewID: func() string { return "t-1" }}, track)
	row, err := s.Insert(ctx, "Track", persist.Values{"Title": "Angie"})
	require.NoError(t, err)
	assert.Equal(t, "t-1", row["TrackId"])

	row, err = s.Insert(ctx, "Track", persist.Values{"TrackId": "t-2", "Title": "Angie"})
	require.NoError(t, err)
	assert.Equal(t, "t-2", row["TrackId"])
	require.NoError(t, s.Rollback())

	s, _ = open(t, session.Config{}, track)
	row, err = s.Insert(ctx, "Track", persist.Values{"Title": "Angie"})
	require.NoError(t, err)
	_, err = uuid.Parse(row["TrackId"].(string))
	assert.NoError(t, err)
}

func TestWriteErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := open(t, session.Config{}, singer(), versioned())

	tests := []struct {
		name string
		run  func() error
		want string
	}{
		{"unknown entity", func() error {
			_, err := s.Insert(ctx, "Label", persist.Values{})
			return err
		}, "unknown entity"},
		{"unknown property", func() error {
			_, err := s.Insert(ctx, "Singer", persist.Values{"SingerId": "s1", "NickName": "Keef"})
			return err
		}, "NickName"},
		{"generated property", func() error {
			_, err := s.Insert(ctx, "Singer", persist.Values{"SingerId": "s1", "FullName": "x"})
			return err
		}, "generated"},
		{"missing key", func() error {
			_, err := s.Insert(ctx, "Singer", persist.Values{"LastName": "Richards"})
			return err
		}, "missing key property SingerId"},
		{"missing required", func() error {
			_, err := s.Insert(ctx, "Singer", persist.Values{"SingerId": "s1"})
			return err
		}, "missing required property LastName"},
		{"full row image", func() error {
			_, err := s.Update(ctx, "Singer", persist.Values{"SingerId": "s1", "FirstName": "Keith"})
			return err
		}, "dynamic update is off"},
		{"missing version", func() error {
			_, err := s.Update(ctx, "AlbumWithVersion", persist.Values{"AlbumId": "a1", "Title": "Blue"})
			return err
		}, "missing current version"},
		{"non-integer version", func() error {
			_, err := s.Update(ctx, "AlbumWithVersion", persist.Values{"AlbumId": "a1", "Title": "Blue", "Version": "2"})
			return err
		}, "not an integer"},
		{"version above int64", func() error {
			_, err := s.Update(ctx, "AlbumWithVersion", persist.Values{"AlbumId": "a1", "Title": "Blue", "Version": uint64(math.MaxUint64)})
			return err
		}, "not an integer in the int64 range"},
		{"version at int64 limit", func() error {
			_, err := s.Update(ctx, "AlbumWithVersion", persist.Values{"AlbumId": "a1", "Title": "Blue", "Version": int64(math.MaxInt64)})
			return err
		}, "cannot be incremented"},
		{"delete without version", func() error {
			return s.Delete(ctx, "AlbumWithVersion", persist.Values{"AlbumId": "a1"})
		}, "missing current version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorContains(t, tt.run(), tt.want)
		})
	}
	st, ms := s.Pending()
	assert.Zero(t, st+ms)
}

func TestImmutableUpdate(t *testing.T) {
	t.Parallel()

	e := schema.New("Event").
		Identity(schema.IdentityAssigned, "Id").
		Fields(field.String("Id"), field.String("Kind").Immutable(), field.String("Note").Optional()).
		DynamicUpdate(true).
		MustBuild()
	s, _ := open(t, session.Config{}, e)
	_, err := s.Update(context.Background(), "Event", persist.Values{"Id": "e1", "Kind": "x"})
	assert.ErrorContains(t, err, "immutable")

	row, err := s.Update(context.Background(), "Event", persist.Values{"Id": "e1", "Note": "n"})
	require.NoError(t, err)
	assert.Equal(t, "n", row["Note"])
}
