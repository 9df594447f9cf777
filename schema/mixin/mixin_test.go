package mixin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/schema/field"
	"github.com/syssam/persist/schema/mixin"
)

func TestVersion(t *testing.T) {
	t.Parallel()

	e := schema.New("AlbumWithVersion").
		Identity(schema.IdentityAssigned, "AlbumId").
		Mixin(mixin.Version{}).
		Fields(field.String("AlbumId")).
		MustBuild()

	v, ok := e.Version()
	require.True(t, ok)
	assert.Equal(t, "Version", v.Name())
	d, err := e.Field(v)
	require.NoError(t, err)
	assert.Equal(t, field.TypeInt64, d.Type)

	e = schema.New("Other").Mixin(mixin.Version{Name: "Rev"}).MustBuild()
	v, ok = e.Version()
	require.True(t, ok)
	assert.Equal(t, "Rev", v.Name())
}

func TestTimestampVersion(t *testing.T) {
	t.Parallel()

	e := schema.New("Doc").Mixin(mixin.TimestampVersion{}).MustBuild()
	v, ok := e.Version()
	require.True(t, ok)
	d, _ := e.Field(v)
	assert.Equal(t, "LastModified", d.Name)
	assert.Equal(t, field.TypeTime, d.Type)
}

func TestCommitTimestamps(t *testing.T) {
	t.Parallel()

	e := schema.New("Track").Mixin(mixin.CommitTimestamps{}).MustBuild()
	gen := e.Generated()
	require.Len(t, gen, 2)

	created, _ := e.Field(gen[0])
	assert.Equal(t, "CreatedAt", created.Name)
	assert.True(t, created.ReadBackOnInsert())
	assert.False(t, created.ReadBackOnUpdate())

	updated, _ := e.Field(gen[1])
	assert.True(t, updated.ReadBackOnUpdate())
}
