package mixin

import (
	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/schema/field"
)

// Version adds an int64 version counter and declares it as the
// optimistic-concurrency property of the entity.
//
// Example:
//
//	schema.New("AlbumWithVersion").Mixin(mixin.Version{})
type Version struct {
	// Name of the property. Defaults to "Version".
	Name string
}

// Mix implements schema.Mixin.
func (v Version) Mix(d *schema.Definition) {
	name := v.Name
	if name == "" {
		name = "Version"
	}
	d.Fields(field.Int64(name)).Version(name)
}

// TimestampVersion adds a timestamp that serves as the optimistic-concurrency
// property. The session writes the current time on every insert and update.
type TimestampVersion struct {
	// Name of the property. Defaults to "LastModified".
	Name string
}

// Mix implements schema.Mixin.
func (v TimestampVersion) Mix(d *schema.Definition) {
	name := v.Name
	if name == "" {
		name = "LastModified"
	}
	d.Fields(field.Time(name)).Version(name)
}

// CommitTimestamps adds CreatedAt and LastUpdated columns filled by the
// database at commit time. Both are generated properties: CreatedAt is read
// back after inserts, LastUpdated after every write.
type CommitTimestamps struct{}

// Mix implements schema.Mixin.
func (CommitTimestamps) Mix(d *schema.Definition) {
	d.Fields(
		field.Time("CreatedAt").GeneratedOnInsert().Immutable(),
		field.Time("LastUpdated").Generated(),
	)
}

var (
	_ schema.Mixin = Version{}
	_ schema.Mixin = TimestampVersion{}
	_ schema.Mixin = CommitTimestamps{}
)
