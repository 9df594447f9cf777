package registry_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
	"github.com/syssam/persist/registry"
	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/schema/field"
)

func singer() *schema.Entity {
	return schema.New("Singer").
		Identity(schema.IdentityAssigned, "SingerId").
		Fields(
			field.String("SingerId"),
			field.String("LastName"),
			field.String("FullName").Generated(),
		).
		MustBuild()
}

func album() *schema.Entity {
	return schema.New("Album").
		Identity(schema.IdentityAssigned, "AlbumId").
		Fields(field.String("AlbumId"), field.String("Title")).
		MustBuild()
}

func TestRegisterGet(t *testing.T) {
	t.Parallel()

	r := registry.MustNew(singer())
	e, err := r.Get("Singer")
	require.NoError(t, err)
	assert.Equal(t, "Singer", e.Name())

	err = r.Register(singer())
	var dre *persist.DuplicateRegistrationError
	require.True(t, errors.As(err, &dre))
	assert.Equal(t, "Singer", dre.Entity)

	_, err = r.Get("Venue")
	assert.True(t, persist.IsUnknownEntity(err))
	assert.ErrorIs(t, err, persist.ErrUnknownEntity)
}

func TestNewDuplicate(t *testing.T) {
	t.Parallel()

	_, err := registry.New(album(), album())
	assert.True(t, persist.IsDuplicateRegistration(err))
	assert.Panics(t, func() { registry.MustNew(album(), album()) })
}

func TestRegisterNil(t *testing.T) {
	t.Parallel()

	var r registry.Registry
	assert.ErrorIs(t, r.Register(nil), registry.ErrNilEntity)
	assert.Zero(t, r.Len())
	_, err := registry.New(album(), nil)
	assert.ErrorIs(t, err, registry.ErrNilEntity)
}

func TestZeroValue(t *testing.T) {
	t.Parallel()

	var r registry.Registry
	require.NoError(t, r.Register(album()))
	assert.Equal(t, 1, r.Len())
}

func TestNamesSorted(t *testing.T) {
	t.Parallel()

	r := registry.MustNew(singer(), album())
	assert.Equal(t, []string{"Album", "Singer"}, r.Names())
	es := r.Entities()
	require.Len(t, es, 2)
	assert.Equal(t, "Album", es[0].Name())
}

func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()

	r := registry.MustNew(singer())
	s := r.Snapshot()

	se, err := s.Get("Singer")
	require.NoError(t, err)
	require.NoError(t, se.SetWriteStrategy(persist.StrategyMutation))

	re, _ := r.Get("Singer")
	assert.Equal(t, persist.StrategyDML, re.WriteStrategy())

	require.NoError(t, r.Register(album()))
	_, err = s.Get("Album")
	assert.True(t, persist.IsUnknownEntity(err))
}

func TestFreeze(t *testing.T) {
	t.Parallel()

	r := registry.MustNew(singer())
	s := r.Snapshot()
	s.Freeze()
	assert.True(t, s.Frozen())
	assert.False(t, r.Frozen())

	assert.True(t, persist.IsFrozenConfiguration(s.Register(album())))
	e, _ := s.Get("Singer")
	assert.True(t, persist.IsFrozenConfiguration(e.SetDynamicUpdate(true)))

	// A snapshot of a frozen registry is writable again.
	c := s.Snapshot()
	assert.False(t, c.Frozen())
	ce, _ := c.Get("Singer")
	assert.NoError(t, ce.SetDynamicUpdate(true))
}

func TestConcurrentReads(t *testing.T) {
	t.Parallel()

	r := registry.MustNew(singer(), album())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := r.Snapshot()
			e, err := s.Get("Singer")
			assert.NoError(t, err)
			assert.NoError(t, e.SetWriteStrategy(persist.StrategyMutation))
			assert.Len(t, r.Names(), 2)
		}()
	}
	wg.Wait()
	e, _ := r.Get("Singer")
	assert.Equal(t, persist.StrategyDML, e.WriteStrategy())
}
