// Package schema describes mapped entity types: their properties, identity,
// optimistic-concurrency version and write configuration.
//
// # Quick Start
//
//	singer := schema.New("Singer").
//	    Identity(schema.IdentityAssigned, "SingerId").
//	    Fields(
//	        field.String("SingerId"),
//	        field.String("FirstName").Optional(),
//	        field.String("LastName"),
//	        field.String("FullName").Generated(),
//	    ).
//	    MustBuild()
//
// The table name defaults to the plural of the entity name ("Singers").
//
// # Property Handles
//
// Properties are looked up by name once and then referred to through a typed
// [Property] handle:
//
//	fullName, err := singer.Property("FullName") // UnknownPropertyError if not mapped
//	desc, _ := singer.Field(fullName)
//
// # Write Configuration
//
// Every entity carries a write strategy (DML or mutations) and a
// dynamic-update flag. They are changed through the strategy package during
// configuration; once a session factory is built its copies are frozen and
// every setter returns a FrozenConfigurationError.
//
// # Mixins
//
// The [mixin] subpackage holds reusable property sets, such as a version
// counter, that can be applied to a definition.
package schema
