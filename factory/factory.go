// Package factory builds immutable session factories from an entity
// registry.
//
// Build takes its own snapshot of the registry, applies per-variant strategy
// changes to it, validates it with the guard rules, freezes it and attaches
// the hint interceptor when asked to. Later changes to the registry never
// reach a factory already built, so one registry can serve any number of
// factory variants:
//
//	plain, err := factory.Build(reg, factory.WithDriver(drv))
//	hinted, err := factory.Build(reg, factory.WithDriver(drv), factory.WithComments(), factory.WithHintInterceptor())
//	batched, err := factory.Build(reg,
//		factory.WithDriver(drv),
//		factory.UseMutations(),
//		factory.WithForceBatchVersionedData(),
//	)
package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/spanner"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/guard"
	"github.com/syssam/persist/intercept"
	"github.com/syssam/persist/registry"
	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/session"
	"github.com/syssam/persist/strategy"
)

// Configuration is the frozen configuration of a session factory.
type Configuration struct {
	name        string
	reg         *registry.Registry
	opts        Options
	dialect     string
	interceptor intercept.Interceptor
	warnings    []*guard.Warning
}

// Name returns the variant name.
func (c *Configuration) Name() string { return c.name }

// Registry returns the frozen registry snapshot.
func (c *Configuration) Registry() *registry.Registry { return c.reg }

// Entities returns the frozen entities, sorted by name.
func (c *Configuration) Entities() []*schema.Entity { return c.reg.Entities() }

// Entity returns a frozen entity by name.
func (c *Configuration) Entity(name string) (*schema.Entity, error) { return c.reg.Get(name) }

// Options returns the factory-level switches.
func (c *Configuration) Options() Options { return c.opts }

// EmitComments reports whether statements carry an operation comment.
func (c *Configuration) EmitComments() bool { return c.opts.EmitComments }

// InterceptorEnabled reports whether an interceptor is attached.
func (c *Configuration) InterceptorEnabled() bool { return c.interceptor != nil }

// Interceptor returns the attached interceptor, or nil.
func (c *Configuration) Interceptor() intercept.Interceptor { return c.interceptor }

// ForceBatchVersionedData reports whether versioned data is batched.
func (c *Configuration) ForceBatchVersionedData() bool { return c.opts.ForceBatchVersionedData }

// Dialect returns the SQL dialect.
func (c *Configuration) Dialect() string { return c.dialect }

// Warnings returns the guard warnings reported when the factory was built.
func (c *Configuration) Warnings() []*guard.Warning { return c.warnings }

// SessionFactory opens sessions sharing one frozen configuration.
// It is safe for concurrent use.
type SessionFactory struct {
	cfg         *Configuration
	rules       []guard.Rule
	driver      dialect.Driver
	stats       *sql.WriteStats
	logger      *slog.Logger
	fingerprint string
}

// Build builds a session factory from a snapshot of reg. It fails with the
// guard violations, a single *persist.InvalidConfigurationError or a
// *persist.AggregateError, when the configuration is invalid.
func Build(reg *registry.Registry, opts ...Option) (*SessionFactory, error) {
	if reg == nil {
		return nil, NewOptionError("Registry", nil, "registry cannot be nil")
	}
	c := &config{}
	if err := c.apply(opts...); err != nil {
		return nil, err
	}
	if c.dialect == "" {
		c.dialect = dialect.Spanner
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	drv, stats, err := c.decorate()
	if err != nil {
		return nil, err
	}
	snap := reg.Snapshot()
	sel := strategy.New(snap)
	for _, fn := range c.configure {
		if err := fn(sel); err != nil {
			return nil, err
		}
	}
	res := guard.Check(snap, guard.Options{ForceBatchVersionedData: c.opts.ForceBatchVersionedData}, c.rules...)
	if err := res.Err(); err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		c.logger.Warn("session factory configuration", "variant", c.name, "warning", w.String())
	}
	snap.Freeze()
	cfg := &Configuration{
		name:     c.name,
		reg:      snap,
		opts:     c.opts,
		dialect:  c.dialect,
		warnings: res.Warnings,
	}
	if c.opts.EnableInterceptor {
		r := c.renderer
		if r == nil {
			r = spanner.RendererFor(c.dialect)
		}
		chain := append([]intercept.Interceptor{intercept.NewHintInterceptor(r).Dialect(c.dialect)}, c.interceptors...)
		cfg.interceptor = intercept.GuardDialect(c.dialect, intercept.Chain(chain...))
	}
	fp, err := fingerprintOf(cfg)
	if err != nil {
		return nil, err
	}
	f := &SessionFactory{
		cfg:         cfg,
		rules:       c.rules,
		driver:      drv,
		stats:       stats,
		logger:      c.logger,
		fingerprint: fp,
	}
	c.logger.Info("session factory built",
		"variant", c.name,
		"entities", snap.Len(),
		"mutation_entities", sel.Mutations(),
		"fingerprint", fp,
	)
	return f, nil
}

// MustBuild is like Build but panics on error.
func MustBuild(reg *registry.Registry, opts ...Option) *SessionFactory {
	f, err := Build(reg, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

// Configuration returns the frozen configuration.
func (f *SessionFactory) Configuration() *Configuration { return f.cfg }

// Fingerprint returns a digest of the configuration. Factories built with
// the same entities, strategies and options share a fingerprint whatever
// their variant name.
func (f *SessionFactory) Fingerprint() string { return f.fingerprint }

// Stats returns the statistics recorded for the factory's sessions, or nil
// unless the factory was built with WithStats.
func (f *SessionFactory) Stats() *sql.WriteStats { return f.stats }

// Validate re-runs the guard rules over the frozen configuration. It
// returns nil for every factory Build returned.
func (f *SessionFactory) Validate() error {
	return guard.Validate(f.cfg.reg, guard.Options{ForceBatchVersionedData: f.cfg.opts.ForceBatchVersionedData}, f.rules...)
}

// Prepare returns query as it would be sent for the given hints. Without an
// interceptor the query is returned unchanged.
func (f *SessionFactory) Prepare(query string, hc dialect.HintContext) (string, error) {
	if f.cfg.interceptor == nil {
		return query, nil
	}
	return f.cfg.interceptor.OnPrepareStatement(query, hc)
}

// Open opens a new session.
func (f *SessionFactory) Open(ctx context.Context) (*session.Session, error) {
	if f.driver == nil {
		return nil, errors.New("persist: session factory has no driver")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return session.New(&session.Config{
		Name:                    f.cfg.name,
		Dialect:                 f.cfg.dialect,
		Registry:                f.cfg.reg,
		Driver:                  f.driver,
		Interceptor:             f.cfg.interceptor,
		EmitComments:            f.cfg.opts.EmitComments,
		ForceBatchVersionedData: f.cfg.opts.ForceBatchVersionedData,
		Logger:                  f.logger,
	}), nil
}

// BuildAll builds the named variants concurrently, each from its own
// snapshot of base. The options in common are applied before the options
// of each variant.
func BuildAll(ctx context.Context, base *registry.Registry, common []Option, variants map[string][]Option) (map[string]*SessionFactory, error) {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		mu        sync.Mutex
		factories = make(map[string]*SessionFactory, len(names))
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for _, name := range names {
		eg.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			opts := append(append([]Option{WithName(name)}, common...), variants[name]...)
			f, err := Build(base, opts...)
			if err != nil {
				return fmt.Errorf("persist: variant %s: %w", name, err)
			}
			mu.Lock()
			factories[name] = f
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return factories, nil
}
