// Package intercept holds the statement hook that sessions call right
// before a generated statement is sent to the database.
//
// An interceptor may only add statement hints and comments around a
// statement. Any rewrite that changes the statement itself or its bind
// parameters fails with a persist.HintRewriteError, which aborts the
// statement.
package intercept

import (
	"context"
	"fmt"
	"maps"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/internal/sqltext"
)

// Interceptor rewrites a statement before it is executed.
type Interceptor interface {
	OnPrepareStatement(query string, hc dialect.HintContext) (string, error)
}

// The Func type is an adapter to allow the use of ordinary functions as Interceptor.
type Func func(string, dialect.HintContext) (string, error)

// OnPrepareStatement calls f(query, hc).
func (f Func) OnPrepareStatement(query string, hc dialect.HintContext) (string, error) {
	return f(query, hc)
}

// Chain runs interceptors in order, each on the output of the previous one.
func Chain(is ...Interceptor) Interceptor {
	return Func(func(query string, hc dialect.HintContext) (string, error) {
		for _, i := range is {
			var err error
			if query, err = i.OnPrepareStatement(query, hc); err != nil {
				return "", err
			}
		}
		return query, nil
	})
}

// HintInterceptor renders the hint context of a statement with a dialect
// renderer and places the result around the statement.
type HintInterceptor struct {
	renderer dialect.HintRenderer
	syntax   sqltext.Syntax
}

// NewHintInterceptor returns an interceptor rendering hints with r.
// Rewrites are verified with standard SQL lexing unless Dialect is set.
func NewHintInterceptor(r dialect.HintRenderer) *HintInterceptor {
	return &HintInterceptor{renderer: r, syntax: sqltext.Standard}
}

// Dialect sets the dialect whose lexical rules verify the rewrites.
func (h *HintInterceptor) Dialect(name string) *HintInterceptor {
	h.syntax = sqltext.For(name)
	return h
}

// OnPrepareStatement implements Interceptor. Statements without hints are
// returned unchanged.
func (h *HintInterceptor) OnPrepareStatement(query string, hc dialect.HintContext) (string, error) {
	if hc.Empty() {
		return query, nil
	}
	hint, err := h.renderer.RenderHint(hc)
	if err != nil {
		return "", persist.NewHintRewriteError(query, "render hint", err)
	}
	rewritten := hint.Apply(query)
	if err := verify(h.syntax, query, rewritten); err != nil {
		return "", err
	}
	return rewritten, nil
}

// Verify checks that rewritten is query with only statement hints and
// comments added before it and comments added after it, and that both bind
// the same parameters in the same order. Literals are lexed as in standard
// SQL; use VerifyDialect for dialects with backslash escapes.
func Verify(query, rewritten string) error {
	return verify(sqltext.Standard, query, rewritten)
}

// VerifyDialect is like Verify with the lexical rules of the named dialect.
func VerifyDialect(name, query, rewritten string) error {
	return verify(sqltext.For(name), query, rewritten)
}

func verify(syntax sqltext.Syntax, query, rewritten string) error {
	if !sqltext.Surrounds(rewritten, query) {
		return persist.NewHintRewriteError(query, "statement text changed", nil)
	}
	before, after := syntax.Params(query), syntax.Params(rewritten)
	if !sqltext.Equal(before, after) {
		return persist.NewHintRewriteError(query, fmt.Sprintf("bind parameters changed from %v to %v", before, after), nil)
	}
	return nil
}

// Guard wraps i so that every rewrite is verified with standard SQL lexing.
func Guard(i Interceptor) Interceptor {
	return guard(sqltext.Standard, i)
}

// GuardDialect is like Guard with the lexical rules of the named dialect.
func GuardDialect(name string, i Interceptor) Interceptor {
	return guard(sqltext.For(name), i)
}

func guard(syntax sqltext.Syntax, i Interceptor) Interceptor {
	return Func(func(query string, hc dialect.HintContext) (string, error) {
		rewritten, err := i.OnPrepareStatement(query, hc)
		if err != nil {
			if persist.IsHintRewrite(err) {
				return "", err
			}
			return "", persist.NewHintRewriteError(query, "interceptor failed", err)
		}
		if err := verify(syntax, query, rewritten); err != nil {
			return "", err
		}
		return rewritten, nil
	})
}

// hintsCtxKey is the context key for the statement hints.
type hintsCtxKey struct{}

// WithHints returns a new context carrying the hints for the statements
// executed with it.
func WithHints(ctx context.Context, hc dialect.HintContext) context.Context {
	return context.WithValue(ctx, hintsCtxKey{}, hc)
}

// WithHint returns a new context that adds one statement hint to the hints
// already in ctx.
func WithHint(ctx context.Context, name, value string) context.Context {
	hc, _ := HintsFromContext(ctx)
	stmt := make(map[string]string, len(hc.Statement)+1)
	maps.Copy(stmt, hc.Statement)
	stmt[name] = value
	hc.Statement = stmt
	return WithHints(ctx, hc)
}

// WithTag returns a new context that sets the request tag.
func WithTag(ctx context.Context, tag string) context.Context {
	hc, _ := HintsFromContext(ctx)
	hc.Tag = tag
	return WithHints(ctx, hc)
}

// HintsFromContext returns the hints carried by ctx.
func HintsFromContext(ctx context.Context) (dialect.HintContext, bool) {
	hc, ok := ctx.Value(hintsCtxKey{}).(dialect.HintContext)
	return hc, ok
}
