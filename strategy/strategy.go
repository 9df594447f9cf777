// Package strategy binds entities of a registry to a write strategy.
//
// A Selector only records intent. It performs no validation across
// entities; the guard package checks the resulting configuration when a
// session factory is built.
package strategy

import (
	"github.com/syssam/persist"
	"github.com/syssam/persist/registry"
	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/schema/field"
)

// Selector changes the write configuration of the entities of a registry.
// Calls must be serialized by the caller.
type Selector struct {
	reg *registry.Registry
}

// New returns a selector over the given registry.
func New(reg *registry.Registry) *Selector {
	return &Selector{reg: reg}
}

// SetStrategy binds the entity to s. Switching to StrategyMutation also
// turns dynamic update on, since a mutation never carries a full row image.
func (s *Selector) SetStrategy(entity string, ws persist.WriteStrategy) error {
	e, err := s.reg.Get(entity)
	if err != nil {
		return err
	}
	if err := e.SetWriteStrategy(ws); err != nil {
		return err
	}
	if ws == persist.StrategyMutation {
		return e.SetDynamicUpdate(true)
	}
	return nil
}

// SetDynamicUpdate overrides the dynamic-update flag of the entity.
func (s *Selector) SetDynamicUpdate(entity string, v bool) error {
	e, err := s.reg.Get(entity)
	if err != nil {
		return err
	}
	return e.SetDynamicUpdate(v)
}

// SuppressGeneration marks a property as never read back. It fails with an
// UnknownPropertyError if the entity does not map the property.
func (s *Selector) SuppressGeneration(entity, property string) error {
	e, err := s.reg.Get(entity)
	if err != nil {
		return err
	}
	p, err := e.Property(property)
	if err != nil {
		return err
	}
	return e.SetGeneration(p, field.GenerationNever)
}

// SuppressAllGenerated suppresses read-back of every generated property of
// the entity.
func (s *Selector) SuppressAllGenerated(entity string) error {
	e, err := s.reg.Get(entity)
	if err != nil {
		return err
	}
	for _, p := range e.Generated() {
		if err := e.SetGeneration(p, field.GenerationNever); err != nil {
			return err
		}
	}
	return nil
}

// UseMutations switches the given entities to mutations and suppresses all
// of their generated properties. With no arguments every registered entity
// is switched.
func (s *Selector) UseMutations(entities ...string) error {
	if len(entities) == 0 {
		entities = s.reg.Names()
	}
	for _, name := range entities {
		if err := s.SetStrategy(name, persist.StrategyMutation); err != nil {
			return err
		}
		if err := s.SuppressAllGenerated(name); err != nil {
			return err
		}
	}
	return nil
}

// Mutations returns the names of the entities bound to mutations, sorted.
func (s *Selector) Mutations() []string {
	var names []string
	for _, e := range s.reg.Entities() {
		if e.WriteStrategy() == persist.StrategyMutation {
			names = append(names, e.Name())
		}
	}
	return names
}

// Unsuppressed returns the generated properties of e that are still read back.
func Unsuppressed(e *schema.Entity) []schema.Property {
	var ps []schema.Property
	for _, p := range e.Generated() {
		if d, err := e.Field(p); err == nil && !d.Suppressed() {
			ps = append(ps, p)
		}
	}
	return ps
}
