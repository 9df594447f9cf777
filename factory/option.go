package factory

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/guard"
	"github.com/syssam/persist/intercept"
	"github.com/syssam/persist/strategy"
)

// Options are the factory-level switches of a session factory.
type Options struct {
	// EmitComments prefixes generated statements with a /* <op> <Entity> */ comment.
	EmitComments bool `yaml:"emit_comments" json:"emit_comments"`
	// EnableInterceptor attaches the hint interceptor.
	EnableInterceptor bool `yaml:"interceptor" json:"interceptor"`
	// ForceBatchVersionedData batches versioned statements and permits
	// versioned mutation entities.
	ForceBatchVersionedData bool `yaml:"force_batch_versioned_data" json:"force_batch_versioned_data"`
}

// Option configures a session factory build.
type Option func(*config) error

type config struct {
	name         string
	opts         Options
	dialect      string
	driver       dialect.Driver
	renderer     dialect.HintRenderer
	interceptors []intercept.Interceptor
	rules        []guard.Rule
	configure    []func(*strategy.Selector) error
	logger       *slog.Logger
	stats        []sql.StatsOption
	collectStats bool
	debug        bool
}

// ErrInvalidOption is returned when an option value is rejected.
var ErrInvalidOption = errors.New("persist: invalid factory option")

// OptionError reports a rejected option value.
type OptionError struct {
	Option  string
	Value   any
	Message string
}

// Error implements the error interface.
func (e *OptionError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("persist: factory option %q (value: %v): %s", e.Option, e.Value, e.Message)
	}
	return fmt.Sprintf("persist: factory option %q: %s", e.Option, e.Message)
}

// Is reports whether the target matches ErrInvalidOption.
func (e *OptionError) Is(target error) bool {
	return target == ErrInvalidOption
}

// NewOptionError creates a new OptionError.
func NewOptionError(option string, value any, message string) *OptionError {
	return &OptionError{Option: option, Value: value, Message: message}
}

// WithName names the factory variant. The name appears in logs only.
func WithName(name string) Option {
	return func(c *config) error {
		c.name = name
		return nil
	}
}

// WithOptions replaces all factory-level switches.
func WithOptions(o Options) Option {
	return func(c *config) error {
		c.opts = o
		return nil
	}
}

// WithComments enables statement comments.
func WithComments() Option {
	return func(c *config) error {
		c.opts.EmitComments = true
		return nil
	}
}

// WithHintInterceptor attaches the hint interceptor.
func WithHintInterceptor() Option {
	return func(c *config) error {
		c.opts.EnableInterceptor = true
		return nil
	}
}

// WithInterceptor attaches the hint interceptor followed by i. Every
// interceptor in the chain is checked for purity.
func WithInterceptor(i intercept.Interceptor) Option {
	return func(c *config) error {
		if i == nil {
			return NewOptionError("Interceptor", nil, "interceptor cannot be nil")
		}
		c.opts.EnableInterceptor = true
		c.interceptors = append(c.interceptors, i)
		return nil
	}
}

// WithForceBatchVersionedData forces batching of versioned data.
func WithForceBatchVersionedData() Option {
	return func(c *config) error {
		c.opts.ForceBatchVersionedData = true
		return nil
	}
}

// WithDialect sets the SQL dialect. Aliases such as "postgresql" are accepted.
func WithDialect(name string) Option {
	return func(c *config) error {
		d, err := dialect.ParseDialect(name)
		if err != nil {
			return NewOptionError("Dialect", name, err.Error())
		}
		c.dialect = d
		return nil
	}
}

// WithDriver sets the driver sessions run on. The dialect defaults to the
// dialect of the driver.
func WithDriver(drv dialect.Driver) Option {
	return func(c *config) error {
		if drv == nil {
			return NewOptionError("Driver", nil, "driver cannot be nil")
		}
		c.driver = drv
		if c.dialect == "" {
			c.dialect = drv.Dialect()
		}
		return nil
	}
}

// WithRenderer overrides the hint renderer of the dialect.
func WithRenderer(r dialect.HintRenderer) Option {
	return func(c *config) error {
		if r == nil {
			return NewOptionError("Renderer", nil, "renderer cannot be nil")
		}
		c.renderer = r
		return nil
	}
}

// WithRules replaces the guard rules. guard.DefaultRules are used otherwise.
func WithRules(rules ...guard.Rule) Option {
	return func(c *config) error {
		c.rules = rules
		return nil
	}
}

// Configure adds a step that changes write strategies on the factory's own
// snapshot of the registry, before it is validated.
func Configure(fn func(*strategy.Selector) error) Option {
	return func(c *config) error {
		if fn == nil {
			return NewOptionError("Configure", nil, "function cannot be nil")
		}
		c.configure = append(c.configure, fn)
		return nil
	}
}

// UseMutations binds the given entities to the mutation strategy on the
// factory's snapshot. All entities are bound when none are given.
func UseMutations(entities ...string) Option {
	return Configure(func(s *strategy.Selector) error {
		return s.UseMutations(entities...)
	})
}

// WithStats records statement and mutation statistics of the factory's
// sessions, read with SessionFactory.Stats. The driver must be a
// *sql.Driver.
//
//	f, err := factory.Build(reg,
//		factory.WithDriver(drv),
//		factory.WithStats(sql.WithSlowThreshold(200*time.Millisecond), sql.WithSlowLog(logger)),
//	)
func WithStats(opts ...sql.StatsOption) Option {
	return func(c *config) error {
		c.collectStats = true
		c.stats = append(c.stats, opts...)
		return nil
	}
}

// WithDebug logs every statement, mutation batch and transaction boundary
// of the factory's sessions at debug level with the factory logger. The
// driver must be a *sql.Driver.
func WithDebug() Option {
	return func(c *config) error {
		c.debug = true
		return nil
	}
}

// WithLogger sets the logger. slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) error {
		if l == nil {
			return NewOptionError("Logger", nil, "logger cannot be nil")
		}
		c.logger = l
		return nil
	}
}

// decorate wraps the driver with the statistics or debug decorator.
func (c *config) decorate() (dialect.Driver, *sql.WriteStats, error) {
	if !c.collectStats && !c.debug {
		return c.driver, nil, nil
	}
	if c.collectStats && c.debug {
		return nil, nil, NewOptionError("Debug", true, "debug logging cannot be combined with statistics")
	}
	base, ok := c.driver.(*sql.Driver)
	if !ok {
		return nil, nil, NewOptionError("Driver", fmt.Sprintf("%T", c.driver), "statistics and debug logging need a *sql.Driver")
	}
	if c.debug {
		return sql.NewDebugDriver(base, sql.DebugWithLogger(c.logger)), nil, nil
	}
	drv := sql.NewStatsDriver(base, c.stats...)
	return drv, drv.Stats(), nil
}

// apply applies options to the config.
// It returns the first error encountered.
func (c *config) apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}
