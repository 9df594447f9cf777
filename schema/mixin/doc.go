// Package mixin provides reusable property sets for entity definitions.
//
// A mixin adds properties (and declarations such as the version property)
// to a schema.Definition:
//
//	schema.New("SingerWithVersion").
//	    Identity(schema.IdentityAssigned, "SingerId").
//	    Mixin(mixin.Version{}, mixin.CommitTimestamps{}).
//	    Fields(field.String("SingerId"), field.String("LastName"))
//
// Creating Custom Mixins:
//
// Implement schema.Mixin:
//
//	type Tenant struct{}
//
//	func (Tenant) Mix(d *schema.Definition) {
//	    d.Fields(field.String("TenantId").Immutable())
//	}
package mixin
