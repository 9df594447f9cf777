package field

import (
	"fmt"
	"strings"

	"github.com/syssam/persist"
)

// Type is the column type of a property.
type Type uint8

// Property types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt64
	TypeFloat64
	TypeNumeric
	TypeString
	TypeBytes
	TypeDate
	TypeTime
	TypeJSON
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeInt64:   "int64",
	TypeFloat64: "float64",
	TypeNumeric: "numeric",
	TypeString:  "string",
	TypeBytes:   "bytes",
	TypeDate:    "date",
	TypeTime:    "time",
	TypeJSON:    "json",
}

// String returns the type name.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// ParseType parses a type name as written in mapping files.
func ParseType(s string) (Type, error) {
	name := persist.Fold(s)
	switch name {
	case "int", "int64", "integer":
		return TypeInt64, nil
	case "float", "float64":
		return TypeFloat64, nil
	case "timestamp":
		return TypeTime, nil
	}
	for i, n := range typeNames {
		if i != int(TypeInvalid) && n == name {
			return Type(i), nil
		}
	}
	return TypeInvalid, fmt.Errorf("field: unknown type %q", s)
}

// Generation tells the session when a value computed by the database is
// read back into the entity.
type Generation uint8

const (
	// GenerationNever: the value is never read back. For a computed property
	// the database still computes it; callers reload the row to see it.
	GenerationNever Generation = iota
	// GenerationInsert: read back after INSERT.
	GenerationInsert
	// GenerationAlways: read back after INSERT and UPDATE.
	GenerationAlways
)

// String returns the generation timing name.
func (g Generation) String() string {
	switch g {
	case GenerationNever:
		return "never"
	case GenerationInsert:
		return "insert"
	case GenerationAlways:
		return "always"
	default:
		return fmt.Sprintf("Generation(%d)", g)
	}
}

// ParseGeneration parses a generation timing name.
func ParseGeneration(s string) (Generation, error) {
	switch persist.Fold(s) {
	case "never", "":
		return GenerationNever, nil
	case "insert":
		return GenerationInsert, nil
	case "always":
		return GenerationAlways, nil
	}
	return GenerationNever, fmt.Errorf("field: unknown generation %q", s)
}

// Descriptor holds the mapping of one entity property.
type Descriptor struct {
	// Name is the property name used by callers.
	Name string
	// Column is the column the property maps to. Defaults to Name.
	Column string
	// Type is the column type.
	Type Type
	// Optional properties may be absent on insert.
	Optional bool
	// Immutable properties are never updated.
	Immutable bool
	// Computed marks a value computed by the database (generated column).
	// Computed properties are never written by the application.
	Computed bool
	// Generation is the read-back timing of a computed value.
	Generation Generation
}

// Suppressed reports whether a computed value is never read back.
func (d *Descriptor) Suppressed() bool {
	return d.Computed && d.Generation == GenerationNever
}

// ReadBackOnInsert reports whether the value is selected after an INSERT.
func (d *Descriptor) ReadBackOnInsert() bool {
	return d.Computed && d.Generation != GenerationNever
}

// ReadBackOnUpdate reports whether the value is selected after an UPDATE.
func (d *Descriptor) ReadBackOnUpdate() bool {
	return d.Computed && d.Generation == GenerationAlways
}

// Writable reports whether the application supplies the value on insert.
func (d *Descriptor) Writable() bool {
	return !d.Computed
}

// Updatable reports whether the value can be written by an UPDATE.
func (d *Descriptor) Updatable() bool {
	return !d.Computed && !d.Immutable
}

// Clone returns a copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	return &c
}

// Err validates the descriptor.
func (d *Descriptor) Err() error {
	switch {
	case strings.TrimSpace(d.Name) == "":
		return fmt.Errorf("field: missing property name")
	case d.Type == TypeInvalid:
		return fmt.Errorf("field: property %q has no type", d.Name)
	case d.Generation != GenerationNever && !d.Computed:
		return fmt.Errorf("field: property %q has generation %s but is not generated", d.Name, d.Generation)
	}
	return nil
}

// Builder is a fluent builder of a property descriptor.
type Builder struct {
	desc *Descriptor
}

func newBuilder(name string, t Type) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Column: name, Type: t}}
}

// Bool returns a new boolean property builder.
func Bool(name string) *Builder { return newBuilder(name, TypeBool) }

// Int64 returns a new int64 property builder.
func Int64(name string) *Builder { return newBuilder(name, TypeInt64) }

// Float64 returns a new float64 property builder.
func Float64(name string) *Builder { return newBuilder(name, TypeFloat64) }

// Numeric returns a new fixed-precision numeric property builder.
func Numeric(name string) *Builder { return newBuilder(name, TypeNumeric) }

// String returns a new string property builder.
func String(name string) *Builder { return newBuilder(name, TypeString) }

// Bytes returns a new bytes property builder.
func Bytes(name string) *Builder { return newBuilder(name, TypeBytes) }

// Date returns a new date property builder.
func Date(name string) *Builder { return newBuilder(name, TypeDate) }

// Time returns a new timestamp property builder.
func Time(name string) *Builder { return newBuilder(name, TypeTime) }

// JSON returns a new JSON property builder.
func JSON(name string) *Builder { return newBuilder(name, TypeJSON) }

// New returns a builder for a property of the given type.
func New(name string, t Type) *Builder { return newBuilder(name, t) }

// Column maps the property to a column with a different name.
func (b *Builder) Column(name string) *Builder {
	b.desc.Column = name
	return b
}

// Optional allows the property to be absent on insert.
func (b *Builder) Optional() *Builder {
	b.desc.Optional = true
	return b
}

// Immutable excludes the property from updates.
func (b *Builder) Immutable() *Builder {
	b.desc.Immutable = true
	return b
}

// Generated marks the property as computed by the database and read back
// after every insert and update.
func (b *Builder) Generated() *Builder {
	b.desc.Computed = true
	b.desc.Generation = GenerationAlways
	return b
}

// GeneratedOnInsert marks the property as computed by the database and read
// back after inserts only.
func (b *Builder) GeneratedOnInsert() *Builder {
	b.desc.Computed = true
	b.desc.Generation = GenerationInsert
	return b
}

// Descriptor returns the built descriptor.
func (b *Builder) Descriptor() *Descriptor {
	return b.desc
}
