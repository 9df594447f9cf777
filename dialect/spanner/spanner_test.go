package spanner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/spanner"
)

func TestGoogleSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		hc     dialect.HintContext
		prefix string
		suffix string
	}{
		{
			name: "empty",
		},
		{
			name:   "single",
			hc:     dialect.HintContext{Statement: map[string]string{"FORCE_INDEX": "SingersByLastName"}},
			prefix: "@{FORCE_INDEX=SingersByLastName} ",
		},
		{
			name: "sorted and upper-cased",
			hc: dialect.HintContext{Statement: map[string]string{
				"use_additional_parallelism": "TRUE",
				"force_index":                "_BASE_TABLE",
			}},
			prefix: "@{FORCE_INDEX=_BASE_TABLE, USE_ADDITIONAL_PARALLELISM=TRUE} ",
		},
		{
			name:   "tag",
			hc:     dialect.HintContext{Tag: "action=list_singers"},
			suffix: " /* action=list_singers */",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := spanner.GoogleSQL.RenderHint(tt.hc)
			require.NoError(t, err)
			assert.Equal(t, tt.prefix, h.Prefix)
			assert.Equal(t, tt.suffix, h.Suffix)
		})
	}
}

func TestPostgreSQL(t *testing.T) {
	t.Parallel()

	h, err := spanner.PostgreSQL.RenderHint(dialect.HintContext{
		Statement: map[string]string{"FORCE_INDEX": "SingersByLastName"},
	})
	require.NoError(t, err)
	assert.Equal(t, `/*@ FORCE_INDEX=SingersByLastName */ select * from singers`, h.Apply("select * from singers"))
}

func TestInvalidHints(t *testing.T) {
	t.Parallel()

	for _, hc := range []dialect.HintContext{
		{Statement: map[string]string{"FORCE_INDEX": "x} DELETE FROM Singers; --"}},
		{Statement: map[string]string{"bad key": "x"}},
		{Tag: "*/ DROP TABLE Singers /*"},
	} {
		_, err := spanner.GoogleSQL.RenderHint(hc)
		assert.Error(t, err)
		_, err = spanner.PostgreSQL.RenderHint(hc)
		assert.Error(t, err)
	}
}

func TestRendererFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, spanner.GoogleSQL, spanner.RendererFor(dialect.Spanner))
	assert.Equal(t, spanner.PostgreSQL, spanner.RendererFor(dialect.SpannerPG))
	h, err := spanner.RendererFor(dialect.SQLite).RenderHint(dialect.HintContext{Tag: "t"})
	require.NoError(t, err)
	assert.Equal(t, "/* tag=t */ ", h.Prefix)
}
