package schema

import (
	"fmt"
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/syssam/persist"
	"github.com/syssam/persist/schema/field"
)

// IdentityStrategy declares how the key of an entity is obtained.
type IdentityStrategy uint8

const (
	// IdentityAssigned: the application supplies the single key property.
	IdentityAssigned IdentityStrategy = iota
	// IdentityGenerated: a missing single string key is generated client-side
	// before the write, so it never needs to be read back.
	IdentityGenerated
	// IdentityComposite: the key spans two or more application-supplied properties.
	IdentityComposite
)

// String returns the identity strategy name.
func (s IdentityStrategy) String() string {
	switch s {
	case IdentityAssigned:
		return "assigned"
	case IdentityGenerated:
		return "generated"
	case IdentityComposite:
		return "composite"
	default:
		return fmt.Sprintf("IdentityStrategy(%d)", s)
	}
}

// ParseIdentity parses an identity strategy name. Matching is case-insensitive.
func ParseIdentity(s string) (IdentityStrategy, error) {
	switch persist.Fold(s) {
	case "assigned", "":
		return IdentityAssigned, nil
	case "generated":
		return IdentityGenerated, nil
	case "composite":
		return IdentityComposite, nil
	}
	return 0, fmt.Errorf("schema: unknown identity strategy %q", s)
}

// Property is a typed handle to a mapped property. Handles are resolved once
// through Entity.Property and stay valid for every clone of the entity.
type Property struct {
	entity string
	index  int
	name   string
}

// Entity returns the name of the entity owning the property.
func (p Property) Entity() string { return p.entity }

// Name returns the property name.
func (p Property) Name() string { return p.name }

// Valid reports whether p was obtained from an entity.
func (p Property) Valid() bool { return p.entity != "" }

// Entity describes one mapped entity type and its write configuration.
//
// Entities are mutable until frozen. A session factory freezes its own
// clones, so changing an entity never affects a factory already built.
// Configuration calls must be serialized by the caller.
type Entity struct {
	name          string
	table         string
	identity      IdentityStrategy
	key           []int
	version       int
	props         []*field.Descriptor
	index         map[string]int
	strategy      persist.WriteStrategy
	dynamicUpdate bool
	frozen        bool
}

// Name returns the entity name.
func (e *Entity) Name() string { return e.name }

// Table returns the table the entity maps to.
func (e *Entity) Table() string { return e.table }

// Identity returns the declared identity strategy.
func (e *Entity) Identity() IdentityStrategy { return e.identity }

// WriteStrategy returns the bound write strategy.
func (e *Entity) WriteStrategy() persist.WriteStrategy { return e.strategy }

// DynamicUpdate reports whether updates include only the supplied columns.
func (e *Entity) DynamicUpdate() bool { return e.dynamicUpdate }

// Frozen reports whether the entity belongs to a built session factory.
func (e *Entity) Frozen() bool { return e.frozen }

// Property resolves a property by name.
func (e *Entity) Property(name string) (Property, error) {
	i, ok := e.index[name]
	if !ok {
		return Property{}, persist.NewUnknownPropertyError(e.name, name)
	}
	return e.handle(i), nil
}

// Field returns the descriptor of a property. The returned value is a copy.
func (e *Entity) Field(p Property) (field.Descriptor, error) {
	i, err := e.resolve(p)
	if err != nil {
		return field.Descriptor{}, err
	}
	return *e.props[i], nil
}

// Properties returns handles for all properties, in declaration order.
func (e *Entity) Properties() []Property {
	ps := make([]Property, len(e.props))
	for i := range e.props {
		ps[i] = e.handle(i)
	}
	return ps
}

// Key returns the key properties, in key order.
func (e *Entity) Key() []Property {
	ps := make([]Property, len(e.key))
	for i, k := range e.key {
		ps[i] = e.handle(k)
	}
	return ps
}

// Version returns the optimistic-concurrency property, if any.
func (e *Entity) Version() (Property, bool) {
	if e.version < 0 {
		return Property{}, false
	}
	return e.handle(e.version), true
}

// IsKey reports whether p is part of the key.
func (e *Entity) IsKey(p Property) bool {
	for _, k := range e.key {
		if k == p.index && p.entity == e.name {
			return true
		}
	}
	return false
}

// Generated returns the properties computed by the database.
func (e *Entity) Generated() []Property {
	var ps []Property
	for i, d := range e.props {
		if d.Computed {
			ps = append(ps, e.handle(i))
		}
	}
	return ps
}

// SetWriteStrategy binds the entity to a write strategy.
func (e *Entity) SetWriteStrategy(s persist.WriteStrategy) error {
	if e.frozen {
		return persist.NewFrozenConfigurationError(e.name, "set write strategy")
	}
	e.strategy = s
	return nil
}

// SetDynamicUpdate sets whether updates include only the supplied columns.
func (e *Entity) SetDynamicUpdate(v bool) error {
	if e.frozen {
		return persist.NewFrozenConfigurationError(e.name, "set dynamic update")
	}
	e.dynamicUpdate = v
	return nil
}

// SetGeneration changes the read-back timing of a property.
func (e *Entity) SetGeneration(p Property, g field.Generation) error {
	if e.frozen {
		return persist.NewFrozenConfigurationError(e.name, "set generation")
	}
	i, err := e.resolve(p)
	if err != nil {
		return err
	}
	if g != field.GenerationNever && !e.props[i].Computed {
		return fmt.Errorf("schema: property %s.%s is not generated", e.name, p.name)
	}
	e.props[i].Generation = g
	return nil
}

// Freeze makes the entity read-only.
func (e *Entity) Freeze() { e.frozen = true }

// Clone returns an unfrozen deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := *e
	c.frozen = false
	c.key = append([]int(nil), e.key...)
	c.props = make([]*field.Descriptor, len(e.props))
	for i, d := range e.props {
		c.props[i] = d.Clone()
	}
	c.index = make(map[string]int, len(e.index))
	for k, v := range e.index {
		c.index[k] = v
	}
	return &c
}

func (e *Entity) handle(i int) Property {
	return Property{entity: e.name, index: i, name: e.props[i].Name}
}

func (e *Entity) resolve(p Property) (int, error) {
	if p.entity != e.name || p.index < 0 || p.index >= len(e.props) || e.props[p.index].Name != p.name {
		return 0, persist.NewUnknownPropertyError(e.name, p.name)
	}
	return p.index, nil
}

// Definition builds an Entity.
type Definition struct {
	name          string
	table         string
	identity      IdentityStrategy
	key           []string
	version       string
	fields        []*field.Descriptor
	strategy      persist.WriteStrategy
	dynamicUpdate bool
}

// New returns a definition of the named entity. The table name defaults
// to the plural of the entity name.
func New(name string) *Definition {
	return &Definition{name: name}
}

// Table sets the table name.
func (d *Definition) Table(name string) *Definition {
	d.table = name
	return d
}

// Identity declares the identity strategy and the key properties.
func (d *Definition) Identity(s IdentityStrategy, key ...string) *Definition {
	d.identity = s
	d.key = key
	return d
}

// Version declares the optimistic-concurrency property.
func (d *Definition) Version(name string) *Definition {
	d.version = name
	return d
}

// Fields appends property definitions.
func (d *Definition) Fields(fields ...*field.Builder) *Definition {
	for _, f := range fields {
		d.fields = append(d.fields, f.Descriptor().Clone())
	}
	return d
}

// Descriptors appends already built property descriptors.
func (d *Definition) Descriptors(descs ...*field.Descriptor) *Definition {
	for _, desc := range descs {
		d.fields = append(d.fields, desc.Clone())
	}
	return d
}

// Mixin is a reusable set of properties applied to a definition.
type Mixin interface {
	Mix(*Definition)
}

// Mixin applies the given mixins in order.
func (d *Definition) Mixin(mixins ...Mixin) *Definition {
	for _, m := range mixins {
		m.Mix(d)
	}
	return d
}

// Strategy sets the initial write strategy.
func (d *Definition) Strategy(s persist.WriteStrategy) *Definition {
	d.strategy = s
	return d
}

// DynamicUpdate sets the initial dynamic-update flag.
func (d *Definition) DynamicUpdate(v bool) *Definition {
	d.dynamicUpdate = v
	return d
}

// Build validates the definition and returns the entity.
func (d *Definition) Build() (*Entity, error) {
	if strings.TrimSpace(d.name) == "" {
		return nil, fmt.Errorf("schema: missing entity name")
	}
	e := &Entity{
		name:          d.name,
		table:         d.table,
		identity:      d.identity,
		version:       -1,
		index:         make(map[string]int, len(d.fields)),
		strategy:      d.strategy,
		dynamicUpdate: d.dynamicUpdate,
	}
	if e.table == "" {
		e.table = inflect.Pluralize(d.name)
	}
	for _, f := range d.fields {
		if err := f.Err(); err != nil {
			return nil, fmt.Errorf("schema: entity %s: %w", d.name, err)
		}
		if f.Column == "" {
			f.Column = f.Name
		}
		if _, ok := e.index[f.Name]; ok {
			return nil, fmt.Errorf("schema: entity %s: duplicate property %q", d.name, f.Name)
		}
		e.index[f.Name] = len(e.props)
		e.props = append(e.props, f)
	}
	for _, k := range d.key {
		i, ok := e.index[k]
		if !ok {
			return nil, persist.NewUnknownPropertyError(d.name, k)
		}
		e.key = append(e.key, i)
	}
	if d.version != "" {
		i, ok := e.index[d.version]
		if !ok {
			return nil, persist.NewUnknownPropertyError(d.name, d.version)
		}
		e.version = i
	}
	return e, nil
}

// MustBuild is like Build but panics on error.
func (d *Definition) MustBuild() *Entity {
	e, err := d.Build()
	if err != nil {
		panic(err)
	}
	return e
}
