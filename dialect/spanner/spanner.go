// Package spanner renders statement hints for a Spanner-compatible database.
//
// Both syntaxes place the hints before the statement:
//
//	@{FORCE_INDEX=SingersByLastName, USE_ADDITIONAL_PARALLELISM=TRUE} SELECT ...
//	/*@ FORCE_INDEX=SingersByLastName */ SELECT ...
//
// A request tag, when set, is appended as a trailing comment.
package spanner

import (
	"strings"

	"github.com/syssam/persist/dialect"
)

type renderer struct {
	open, close string
}

var (
	// GoogleSQL renders hints for the GoogleSQL dialect.
	GoogleSQL dialect.HintRenderer = renderer{open: "@{", close: "} "}
	// PostgreSQL renders hints for the PostgreSQL interface.
	PostgreSQL dialect.HintRenderer = renderer{open: "/*@ ", close: " */ "}
)

// RenderHint implements dialect.HintRenderer.
func (r renderer) RenderHint(hc dialect.HintContext) (dialect.Hint, error) {
	var h dialect.Hint
	if len(hc.Statement) > 0 {
		var b strings.Builder
		b.WriteString(r.open)
		for i, k := range hc.Keys() {
			v := hc.Statement[k]
			if err := dialect.CheckHint(k, v); err != nil {
				return dialect.Hint{}, err
			}
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strings.ToUpper(k))
			b.WriteByte('=')
			b.WriteString(v)
		}
		b.WriteString(r.close)
		h.Prefix = b.String()
	}
	if hc.Tag != "" {
		if err := dialect.CheckTag(hc.Tag); err != nil {
			return dialect.Hint{}, err
		}
		h.Suffix = " /* " + hc.Tag + " */"
	}
	return h, nil
}

// RendererFor returns the hint renderer of a dialect. Dialects without
// statement hint syntax get dialect.Comment.
func RendererFor(name string) dialect.HintRenderer {
	switch name {
	case dialect.Spanner:
		return GoogleSQL
	case dialect.SpannerPG:
		return PostgreSQL
	default:
		return dialect.Comment
	}
}
