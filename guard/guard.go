// Package guard validates the write configuration of a registry before a
// session factory is built from it.
//
// Validation is a chain of rules run over every entity in name order. A
// rule appends violations, which fail the build, and warnings, which are
// only reported. Validation is deterministic and performs no I/O, so
// repeated calls over the same snapshot return the same result.
package guard

import (
	"fmt"
	"strings"

	"github.com/syssam/persist"
	"github.com/syssam/persist/registry"
	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/schema/field"
	"github.com/syssam/persist/strategy"
)

// Options holds the factory-level settings the rules depend on.
type Options struct {
	// ForceBatchVersionedData batches versioned writes with all other writes.
	// Mutations are only valid inside a batch, so versioned mutation entities
	// require it.
	ForceBatchVersionedData bool
}

// Warning is a configuration issue that does not fail a build.
type Warning struct {
	Entity   string
	Property string
	Message  string
}

func (w *Warning) String() string {
	if w.Property != "" {
		return fmt.Sprintf("%s.%s: %s", w.Entity, w.Property, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Entity, w.Message)
}

// Result holds the outcome of a validation.
type Result struct {
	Violations []*persist.InvalidConfigurationError
	Warnings   []*Warning
}

// HasViolations returns true if there are any violations.
func (r *Result) HasViolations() bool {
	return len(r.Violations) > 0
}

// HasWarnings returns true if there are any warnings.
func (r *Result) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// Violate records a violation.
func (r *Result) Violate(e *schema.Entity, property string, reason persist.Reason, format string, args ...any) {
	r.Violations = append(r.Violations, persist.NewInvalidConfigurationError(e.Name(), property, reason, fmt.Sprintf(format, args...)))
}

// Warn records a warning.
func (r *Result) Warn(e *schema.Entity, property, format string, args ...any) {
	r.Warnings = append(r.Warnings, &Warning{Entity: e.Name(), Property: property, Message: fmt.Sprintf(format, args...)})
}

// Err returns nil without violations, the violation itself when there is
// one, and a *persist.AggregateError otherwise.
func (r *Result) Err() error {
	errs := make([]error, len(r.Violations))
	for i, v := range r.Violations {
		errs[i] = v
	}
	return persist.NewAggregateError(errs...)
}

// String returns a human-readable summary of the result.
func (r *Result) String() string {
	var sb strings.Builder
	if len(r.Violations) > 0 {
		sb.WriteString("Violations:\n")
		for _, v := range r.Violations {
			sb.WriteString("  - ")
			sb.WriteString(v.Error())
			sb.WriteString("\n")
		}
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range r.Warnings {
			sb.WriteString("  - ")
			sb.WriteString(w.String())
			sb.WriteString("\n")
		}
	}
	if !r.HasViolations() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

// Rule checks one entity and records its findings in r.
type Rule interface {
	Check(e *schema.Entity, opts Options, r *Result)
}

// RuleFunc type is an adapter to allow the use of ordinary functions as rules.
type RuleFunc func(*schema.Entity, Options, *Result)

// Check calls f(e, opts, r).
func (f RuleFunc) Check(e *schema.Entity, opts Options, r *Result) {
	f(e, opts, r)
}

// Rules is a chain of rules run in order.
type Rules []Rule

// Check runs every rule of the chain.
func (rs Rules) Check(e *schema.Entity, opts Options, r *Result) {
	for _, rule := range rs {
		rule.Check(e, opts, r)
	}
}

// DefaultRules returns the rules run when none are given.
func DefaultRules() Rules {
	return Rules{
		IdentityRule(),
		VersionRule(),
		MutationGenerationRule(),
		MutationVersionRule(),
		MutationDynamicUpdateRule(),
		DMLSuppressionRule(),
	}
}

// Check validates every entity of the registry and returns all findings.
// With no rules the DefaultRules are used.
func Check(reg *registry.Registry, opts Options, rules ...Rule) *Result {
	chain := Rules(rules)
	if len(chain) == 0 {
		chain = DefaultRules()
	}
	r := &Result{}
	for _, e := range reg.Entities() {
		chain.Check(e, opts, r)
	}
	return r
}

// Validate is like Check but returns only the violations, as an error.
func Validate(reg *registry.Registry, opts Options, rules ...Rule) error {
	return Check(reg, opts, rules...).Err()
}

// MutationGenerationRule rejects mutation entities with a generated property
// whose value would be read back after the write. A mutation commits outside
// the statement model, so there is nothing to read the value from.
func MutationGenerationRule() Rule {
	return RuleFunc(func(e *schema.Entity, _ Options, r *Result) {
		if e.WriteStrategy() != persist.StrategyMutation {
			return
		}
		for _, p := range strategy.Unsuppressed(e) {
			r.Violate(e, p.Name(), persist.ReasonUnsuppressedGeneration,
				"generated value is read back after a mutation write; suppress its generation")
		}
	})
}

// MutationVersionRule rejects versioned mutation entities unless versioned
// data is batched.
func MutationVersionRule() Rule {
	return RuleFunc(func(e *schema.Entity, opts Options, r *Result) {
		if e.WriteStrategy() != persist.StrategyMutation || opts.ForceBatchVersionedData {
			return
		}
		if v, ok := e.Version(); ok {
			r.Violate(e, v.Name(), persist.ReasonVersionedWithoutBatching,
				"versioned mutation entity requires forced batching of versioned data")
		}
	})
}

// MutationDynamicUpdateRule rejects mutation entities that write full row
// images. Selecting the mutation strategy turns dynamic update on, so this
// only fires after an explicit override.
func MutationDynamicUpdateRule() Rule {
	return RuleFunc(func(e *schema.Entity, _ Options, r *Result) {
		if e.WriteStrategy() == persist.StrategyMutation && !e.DynamicUpdate() {
			r.Violate(e, "", persist.ReasonDynamicUpdateRequired, "mutation entity must use dynamic update")
		}
	})
}

// IdentityRule checks the key properties against the identity strategy.
func IdentityRule() Rule {
	return RuleFunc(func(e *schema.Entity, _ Options, r *Result) {
		key := e.Key()
		switch id := e.Identity(); {
		case len(key) == 0:
			r.Violate(e, "", persist.ReasonInvalidIdentity, "%s identity without key properties", id)
			return
		case id == schema.IdentityComposite && len(key) < 2:
			r.Violate(e, "", persist.ReasonInvalidIdentity, "composite identity needs at least two key properties, got %d", len(key))
		case id != schema.IdentityComposite && len(key) > 1:
			r.Violate(e, "", persist.ReasonInvalidIdentity, "%s identity with %d key properties; use composite", id, len(key))
		}
		for _, p := range key {
			d, _ := e.Field(p)
			switch {
			case d.Computed:
				r.Violate(e, p.Name(), persist.ReasonInvalidIdentity, "key property is generated")
			case e.Identity() == schema.IdentityGenerated && d.Type != field.TypeString:
				r.Violate(e, p.Name(), persist.ReasonInvalidIdentity, "generated identity requires a string key, got %s", d.Type)
			case d.Optional && e.Identity() != schema.IdentityGenerated:
				r.Warn(e, p.Name(), "key property is optional")
			}
		}
	})
}

// VersionRule checks the optimistic-concurrency property.
func VersionRule() Rule {
	return RuleFunc(func(e *schema.Entity, _ Options, r *Result) {
		v, ok := e.Version()
		if !ok {
			return
		}
		d, _ := e.Field(v)
		switch {
		case d.Type != field.TypeInt64 && d.Type != field.TypeTime:
			r.Violate(e, v.Name(), persist.ReasonInvalidVersion, "version must be int64 or time, got %s", d.Type)
		case d.Computed:
			r.Violate(e, v.Name(), persist.ReasonInvalidVersion, "version property is generated")
		case e.IsKey(v):
			r.Violate(e, v.Name(), persist.ReasonInvalidVersion, "version property is part of the key")
		}
	})
}

// DMLSuppressionRule warns about DML entities whose generated values are
// never read back: callers see stale values until they refresh.
func DMLSuppressionRule() Rule {
	return RuleFunc(func(e *schema.Entity, _ Options, r *Result) {
		if e.WriteStrategy() != persist.StrategyDML {
			return
		}
		for _, p := range e.Generated() {
			if d, _ := e.Field(p); d.Suppressed() {
				r.Warn(e, p.Name(), "generated value is not read back after DML writes")
			}
		}
	})
}
