package persist

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors. Every typed error below reports true for
// errors.Is against its sentinel.
var (
	// ErrDuplicateRegistration is returned when an entity is registered twice.
	ErrDuplicateRegistration = errors.New("persist: duplicate registration")

	// ErrUnknownEntity is returned when an entity is not registered.
	ErrUnknownEntity = errors.New("persist: unknown entity")

	// ErrUnknownProperty is returned when a property is not mapped on an entity.
	ErrUnknownProperty = errors.New("persist: unknown property")

	// ErrInvalidConfiguration is returned when a configuration violates a
	// write-strategy invariant.
	ErrInvalidConfiguration = errors.New("persist: invalid configuration")

	// ErrFrozenConfiguration is returned when a frozen snapshot is modified.
	ErrFrozenConfiguration = errors.New("persist: configuration is frozen")

	// ErrHintRewrite is returned when a hint rewrite changes statement semantics.
	ErrHintRewrite = errors.New("persist: hint rewrite failed")

	// ErrStaleObject is returned when an optimistic version check fails.
	ErrStaleObject = errors.New("persist: stale object")
)

// DuplicateRegistrationError is returned by a registry when the entity
// type is already present.
type DuplicateRegistrationError struct {
	Entity string
}

// Error returns the error string.
func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("persist: entity %s is already registered", e.Entity)
}

// Is reports whether the target error matches DuplicateRegistrationError.
func (e *DuplicateRegistrationError) Is(err error) bool {
	return err == ErrDuplicateRegistration
}

// NewDuplicateRegistrationError returns a new DuplicateRegistrationError.
func NewDuplicateRegistrationError(entity string) *DuplicateRegistrationError {
	return &DuplicateRegistrationError{Entity: entity}
}

// IsDuplicateRegistration returns true if the error is a DuplicateRegistrationError.
func IsDuplicateRegistration(err error) bool {
	var e *DuplicateRegistrationError
	return errors.As(err, &e)
}

// UnknownEntityError is returned when an entity type is not registered.
type UnknownEntityError struct {
	Entity string
}

// Error returns the error string.
func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("persist: unknown entity %s", e.Entity)
}

// Is reports whether the target error matches UnknownEntityError.
func (e *UnknownEntityError) Is(err error) bool {
	return err == ErrUnknownEntity
}

// NewUnknownEntityError returns a new UnknownEntityError.
func NewUnknownEntityError(entity string) *UnknownEntityError {
	return &UnknownEntityError{Entity: entity}
}

// IsUnknownEntity returns true if the error is an UnknownEntityError.
func IsUnknownEntity(err error) bool {
	var e *UnknownEntityError
	return errors.As(err, &e)
}

// UnknownPropertyError is returned when a property is not mapped on an entity.
type UnknownPropertyError struct {
	Entity   string
	Property string
}

// Error returns the error string.
func (e *UnknownPropertyError) Error() string {
	return fmt.Sprintf("persist: entity %s has no property %q", e.Entity, e.Property)
}

// Is reports whether the target error matches UnknownPropertyError.
func (e *UnknownPropertyError) Is(err error) bool {
	return err == ErrUnknownProperty
}

// NewUnknownPropertyError returns a new UnknownPropertyError.
func NewUnknownPropertyError(entity, property string) *UnknownPropertyError {
	return &UnknownPropertyError{Entity: entity, Property: property}
}

// IsUnknownProperty returns true if the error is an UnknownPropertyError.
func IsUnknownProperty(err error) bool {
	var e *UnknownPropertyError
	return errors.As(err, &e)
}

// Reason is a machine-readable code naming the invariant a configuration violates.
type Reason string

const (
	// ReasonUnsuppressedGeneration: a mutation entity has a generated property
	// whose value would be read back after the write.
	ReasonUnsuppressedGeneration Reason = "UNSUPPRESSED_GENERATED_PROPERTY"

	// ReasonVersionedWithoutBatching: a mutation entity has a version property
	// but the factory does not force batching of versioned data.
	ReasonVersionedWithoutBatching Reason = "VERSIONED_MUTATION_WITHOUT_BATCHING"

	// ReasonDynamicUpdateRequired: a mutation entity writes full row images.
	ReasonDynamicUpdateRequired Reason = "MUTATION_WITHOUT_DYNAMIC_UPDATE"

	// ReasonInvalidIdentity: the identity strategy does not match the key properties.
	ReasonInvalidIdentity Reason = "INVALID_IDENTITY"

	// ReasonInvalidVersion: the version property cannot serve as a version.
	ReasonInvalidVersion Reason = "INVALID_VERSION_PROPERTY"
)

// InvalidConfigurationError names the entity, the property (when one is
// involved) and the invariant that a configuration violates.
type InvalidConfigurationError struct {
	Entity   string
	Property string
	Reason   Reason
	Message  string
}

// Error returns the error string.
func (e *InvalidConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("persist: invalid configuration of ")
	b.WriteString(e.Entity)
	if e.Property != "" {
		b.WriteString(".")
		b.WriteString(e.Property)
	}
	fmt.Fprintf(&b, " (%s)", e.Reason)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is reports whether the target error matches InvalidConfigurationError.
func (e *InvalidConfigurationError) Is(err error) bool {
	return err == ErrInvalidConfiguration
}

// NewInvalidConfigurationError returns a new InvalidConfigurationError.
func NewInvalidConfigurationError(entity, property string, reason Reason, message string) *InvalidConfigurationError {
	return &InvalidConfigurationError{Entity: entity, Property: property, Reason: reason, Message: message}
}

// IsInvalidConfiguration returns true if the error is, or aggregates, an
// InvalidConfigurationError.
func IsInvalidConfiguration(err error) bool {
	var e *InvalidConfigurationError
	return errors.As(err, &e)
}

// FrozenConfigurationError is returned when a frozen descriptor or registry
// is modified after a session factory was built from it.
type FrozenConfigurationError struct {
	Entity string // Empty when the registry itself was modified.
	Op     string
}

// Error returns the error string.
func (e *FrozenConfigurationError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("persist: cannot %s on frozen entity %s", e.Op, e.Entity)
	}
	return fmt.Sprintf("persist: cannot %s on frozen registry", e.Op)
}

// Is reports whether the target error matches FrozenConfigurationError.
func (e *FrozenConfigurationError) Is(err error) bool {
	return err == ErrFrozenConfiguration
}

// NewFrozenConfigurationError returns a new FrozenConfigurationError.
func NewFrozenConfigurationError(entity, op string) *FrozenConfigurationError {
	return &FrozenConfigurationError{Entity: entity, Op: op}
}

// IsFrozenConfiguration returns true if the error is a FrozenConfigurationError.
func IsFrozenConfiguration(err error) bool {
	var e *FrozenConfigurationError
	return errors.As(err, &e)
}

// HintRewriteError is returned when rendering or applying a query hint fails,
// or when a rewrite would change the statement's bind parameters or text.
// It aborts the statement and is never retried.
type HintRewriteError struct {
	SQL     string
	Message string
	Err     error
}

// Error returns the error string.
func (e *HintRewriteError) Error() string {
	msg := fmt.Sprintf("persist: hint rewrite of %q: %s", e.SQL, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether the target error matches HintRewriteError.
func (e *HintRewriteError) Is(err error) bool {
	return err == ErrHintRewrite
}

// Unwrap returns the underlying error.
func (e *HintRewriteError) Unwrap() error {
	return e.Err
}

// NewHintRewriteError returns a new HintRewriteError.
func NewHintRewriteError(sql, message string, err error) *HintRewriteError {
	return &HintRewriteError{SQL: sql, Message: message, Err: err}
}

// IsHintRewrite returns true if the error is a HintRewriteError.
func IsHintRewrite(err error) bool {
	var e *HintRewriteError
	return errors.As(err, &e)
}

// StaleObjectError is returned when a versioned row was changed or deleted
// by another transaction since it was read.
type StaleObjectError struct {
	Entity  string
	Key     []any
	Version any
}

// Error returns the error string.
func (e *StaleObjectError) Error() string {
	return fmt.Sprintf("persist: %s %v was updated or deleted by another transaction (version=%v)", e.Entity, e.Key, e.Version)
}

// Is reports whether the target error matches StaleObjectError.
func (e *StaleObjectError) Is(err error) bool {
	return err == ErrStaleObject
}

// NewStaleObjectError returns a new StaleObjectError.
func NewStaleObjectError(entity string, key []any, version any) *StaleObjectError {
	return &StaleObjectError{Entity: entity, Key: key, Version: version}
}

// IsStaleObject returns true if the error is a StaleObjectError.
func IsStaleObject(err error) bool {
	var e *StaleObjectError
	return errors.As(err, &e)
}

// MutationError wraps a write error with the entity and operation.
type MutationError struct {
	Entity string // Entity type being written
	Op     string // Operation (e.g., "insert", "update", "delete", "flush")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("persist: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// NewMutationError returns a new MutationError.
func NewMutationError(entity, op string, err error) *MutationError {
	return &MutationError{Entity: entity, Op: op, Err: err}
}

// IsMutationError returns true if the error is a MutationError.
func IsMutationError(err error) bool {
	var e *MutationError
	return errors.As(err, &e)
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "persist: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("persist: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors so errors.Is and errors.As see each of them.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil. A single error is returned as is.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}
