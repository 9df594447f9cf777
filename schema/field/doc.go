// Package field provides fluent builders for describing entity properties.
//
// Property names are what callers use when they pass values to a session;
// column names default to the property name:
//
//	field.String("FirstName")                 // column FirstName
//	field.String("Name").Column("BandName")   // column BandName
//
// # Property Types
//
//	field.Bool("Active")
//	field.Int64("Version")
//	field.Float64("Rating")
//	field.Numeric("Price")
//	field.String("Title")
//	field.Bytes("Picture")
//	field.Date("BirthDate")
//	field.Time("CreatedAt")
//	field.JSON("Attributes")
//
// # Generated Properties
//
// A generated property is computed by the database, for example a stored
// generated column. It is never written by the application. Its
// [Generation] decides when the session selects the computed value back
// into the row it wrote:
//
//	field.String("FullName").Generated()          // read back after insert and update
//	field.Time("CreatedAt").GeneratedOnInsert()   // read back after insert
//
// Mutation writes are applied when the transaction flushes, so nothing can
// be read back after them. Entities written with mutations must therefore
// suppress read-back (GenerationNever); the database still computes the
// value and callers reload the row to observe it.
package field
