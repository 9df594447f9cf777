// Package config loads entity mappings and session factory variants from
// YAML files.
//
// A mapping file declares the dialect, the entities and any number of named
// variants. Every variant is built from its own snapshot of the registry,
// so one file can describe a plain, a hinted and a mutation factory side by
// side:
//
//	dialect: spanner
//	entities:
//	  - name: Singer
//	    identity: assigned
//	    key: [SingerId]
//	    properties:
//	      - {name: SingerId, type: string}
//	      - {name: FullName, type: string, generated: always}
//	variants:
//	  plain: {}
//	  batched:
//	    force_batch_versioned_data: true
//	    mutations: ["*"]
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/factory"
	"github.com/syssam/persist/registry"
	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/schema/field"
	"github.com/syssam/persist/schema/mixin"
	"github.com/syssam/persist/strategy"
)

// DefaultVariant names the only variant of a file that declares none.
const DefaultVariant = "default"

// AllEntities in a variant's mutation list selects every entity.
const AllEntities = "*"

// File is a parsed mapping file.
type File struct {
	// Dialect is the SQL dialect of every variant. Defaults to spanner.
	Dialect string `yaml:"dialect,omitempty"`

	// Entities lists the mapped entities.
	Entities []Entity `yaml:"entities"`

	// Variants maps variant names to their settings.
	Variants map[string]Variant `yaml:"variants,omitempty"`
}

// Entity maps one entity type.
type Entity struct {
	Name          string     `yaml:"name"`
	Table         string     `yaml:"table,omitempty"`
	Identity      string     `yaml:"identity,omitempty"`
	Key           []string   `yaml:"key"`
	Version       string     `yaml:"version,omitempty"`
	Strategy      string     `yaml:"strategy,omitempty"`
	DynamicUpdate bool       `yaml:"dynamic_update,omitempty"`
	Mixins        []string   `yaml:"mixins,omitempty"`
	Properties    []Property `yaml:"properties"`
}

// Property maps one entity property.
type Property struct {
	Name      string `yaml:"name"`
	Column    string `yaml:"column,omitempty"`
	Type      string `yaml:"type"`
	Optional  bool   `yaml:"optional,omitempty"`
	Immutable bool   `yaml:"immutable,omitempty"`
	// Generated marks a database-computed property and sets its read-back
	// timing: never, insert or always.
	Generated string `yaml:"generated,omitempty"`
}

// Variant holds the settings of one session factory.
type Variant struct {
	factory.Options `yaml:",inline"`

	// Strategies overrides the write strategy of single entities.
	Strategies map[string]string `yaml:"strategies,omitempty"`

	// Mutations switches entities to mutations and suppresses all of their
	// generated properties. "*" selects every entity.
	Mutations []string `yaml:"mutations,omitempty"`

	// Suppress lists generated properties never read back, per entity.
	Suppress map[string][]string `yaml:"suppress,omitempty"`

	// DynamicUpdate overrides the dynamic-update flag of single entities.
	DynamicUpdate map[string]bool `yaml:"dynamic_update,omitempty"`
}

// Load reads and parses a mapping file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read mapping file: %w", err)
	}
	return Parse(data)
}

// Parse parses a mapping file. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: parse YAML: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &f, nil
}

func (f *File) validate() error {
	if f.Dialect == "" {
		f.Dialect = dialect.Spanner
	}
	d, err := dialect.ParseDialect(f.Dialect)
	if err != nil {
		return err
	}
	f.Dialect = d
	if len(f.Entities) == 0 {
		return errors.New("entities list is required and must be non-empty")
	}
	for name := range f.Variants {
		if name == "" {
			return errors.New("variant names must be non-empty")
		}
	}
	return nil
}

// Registry builds a new registry holding the entities of the file.
func (f *File) Registry() (*registry.Registry, error) {
	reg := &registry.Registry{}
	for _, ent := range f.Entities {
		e, err := ent.build()
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := reg.Register(e); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// VariantNames returns the variant names, sorted.
func (f *File) VariantNames() []string {
	if len(f.Variants) == 0 {
		return []string{DefaultVariant}
	}
	names := make([]string, 0, len(f.Variants))
	for name := range f.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options returns the factory options of the named variant, the dialect
// included.
func (f *File) Options(name string) ([]factory.Option, error) {
	v, ok := f.Variants[name]
	if !ok && !(name == DefaultVariant && len(f.Variants) == 0) {
		return nil, fmt.Errorf("config: unknown variant %q", name)
	}
	return append([]factory.Option{factory.WithDialect(f.Dialect)}, v.options()...), nil
}

// Build builds the named variant. drv may be nil for factories that only
// validate or prepare statements.
func (f *File) Build(name string, drv dialect.Driver, opts ...factory.Option) (*factory.SessionFactory, error) {
	reg, err := f.Registry()
	if err != nil {
		return nil, err
	}
	vopts, err := f.Options(name)
	if err != nil {
		return nil, err
	}
	all := append([]factory.Option{factory.WithName(name)}, vopts...)
	if drv != nil {
		all = append(all, factory.WithDriver(drv))
	}
	return factory.Build(reg, append(all, opts...)...)
}

// BuildAll builds every variant concurrently from one registry.
func (f *File) BuildAll(ctx context.Context, drv dialect.Driver, opts ...factory.Option) (map[string]*factory.SessionFactory, error) {
	reg, err := f.Registry()
	if err != nil {
		return nil, err
	}
	common := []factory.Option{factory.WithDialect(f.Dialect)}
	if drv != nil {
		common = append(common, factory.WithDriver(drv))
	}
	common = append(common, opts...)
	variants := make(map[string][]factory.Option, len(f.Variants))
	for _, name := range f.VariantNames() {
		variants[name] = f.Variants[name].options()
	}
	return factory.BuildAll(ctx, reg, common, variants)
}

func (v Variant) options() []factory.Option {
	opts := []factory.Option{factory.WithOptions(v.Options)}
	for _, name := range sortedKeys(v.Strategies) {
		opts = append(opts, factory.Configure(func(s *strategy.Selector) error {
			ws, err := persist.ParseWriteStrategy(v.Strategies[name])
			if err != nil {
				return err
			}
			return s.SetStrategy(name, ws)
		}))
	}
	if len(v.Mutations) > 0 {
		entities := v.Mutations
		for _, m := range entities {
			if m == AllEntities {
				entities = nil
				break
			}
		}
		opts = append(opts, factory.UseMutations(entities...))
	}
	for _, name := range sortedKeys(v.Suppress) {
		opts = append(opts, factory.Configure(func(s *strategy.Selector) error {
			for _, p := range v.Suppress[name] {
				if err := s.SuppressGeneration(name, p); err != nil {
					return err
				}
			}
			return nil
		}))
	}
	for _, name := range sortedKeys(v.DynamicUpdate) {
		opts = append(opts, factory.Configure(func(s *strategy.Selector) error {
			return s.SetDynamicUpdate(name, v.DynamicUpdate[name])
		}))
	}
	return opts
}

func (ent Entity) build() (*schema.Entity, error) {
	id, err := schema.ParseIdentity(ent.Identity)
	if err != nil {
		return nil, err
	}
	ws, err := persist.ParseWriteStrategy(ent.Strategy)
	if err != nil {
		return nil, err
	}
	def := schema.New(ent.Name).
		Table(ent.Table).
		Identity(id, ent.Key...).
		Strategy(ws).
		DynamicUpdate(ent.DynamicUpdate)
	for _, p := range ent.Properties {
		b, err := p.builder()
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", ent.Name, err)
		}
		def.Fields(b)
	}
	for _, name := range ent.Mixins {
		m, err := mixinOf(name)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", ent.Name, err)
		}
		def.Mixin(m)
	}
	if ent.Version != "" {
		def.Version(ent.Version)
	}
	return def.Build()
}

func (p Property) builder() (*field.Builder, error) {
	t, err := field.ParseType(p.Type)
	if err != nil {
		return nil, err
	}
	b := field.New(p.Name, t)
	if p.Column != "" {
		b.Column(p.Column)
	}
	if p.Optional {
		b.Optional()
	}
	if p.Immutable {
		b.Immutable()
	}
	if p.Generated != "" {
		g, err := field.ParseGeneration(p.Generated)
		if err != nil {
			return nil, err
		}
		b.Generated()
		b.Descriptor().Generation = g
	}
	return b, nil
}

func mixinOf(name string) (schema.Mixin, error) {
	switch persist.Fold(name) {
	case "version":
		return mixin.Version{}, nil
	case "timestamp_version":
		return mixin.TimestampVersion{}, nil
	case "commit_timestamps":
		return mixin.CommitTimestamps{}, nil
	}
	return nil, fmt.Errorf("unknown mixin %q", name)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
