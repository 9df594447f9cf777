// Package registry holds the entity descriptors of a mapping.
//
// A Registry is populated once at startup and then read by any number of
// factory builds. Reads never block each other; writes take an exclusive
// lock. Each build works on a Snapshot, so later changes to the registry
// never reach a factory that was already built.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/syssam/persist"
	"github.com/syssam/persist/schema"
)

// Registry is a read-mostly store of entity descriptors, keyed by entity name.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*schema.Entity
	order    []string
	frozen   bool
}

// New returns a registry holding the given entities.
func New(entities ...*schema.Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]*schema.Entity, len(entities))}
	for _, e := range entities {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustNew is like New but panics on error.
func MustNew(entities ...*schema.Entity) *Registry {
	r, err := New(entities...)
	if err != nil {
		panic(err)
	}
	return r
}

// ErrNilEntity is returned when a nil descriptor is registered.
var ErrNilEntity = errors.New("persist: register nil entity")

// Register adds an entity descriptor. It fails with a
// DuplicateRegistrationError if an entity of the same name is present.
func (r *Registry) Register(e *schema.Entity) error {
	if e == nil {
		return ErrNilEntity
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return persist.NewFrozenConfigurationError("", "register "+e.Name())
	}
	if r.entities == nil {
		r.entities = make(map[string]*schema.Entity)
	}
	if _, ok := r.entities[e.Name()]; ok {
		return persist.NewDuplicateRegistrationError(e.Name())
	}
	r.entities[e.Name()] = e
	r.order = append(r.order, e.Name())
	return nil
}

// Get returns the descriptor of the named entity. It fails with an
// UnknownEntityError if the entity is not registered.
func (r *Registry) Get(name string) (*schema.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	if !ok {
		return nil, persist.NewUnknownEntityError(name)
	}
	return e, nil
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Names returns the registered entity names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Entities returns the registered descriptors sorted by name.
func (r *Registry) Entities() []*schema.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es := make([]*schema.Entity, 0, len(r.entities))
	for _, e := range r.entities {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool { return es[i].Name() < es[j].Name() })
	return es
}

// Snapshot returns an unfrozen deep copy of the registry. Changes to the
// copy or to its entities never reach r, and the other way around.
func (r *Registry) Snapshot() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &Registry{
		entities: make(map[string]*schema.Entity, len(r.entities)),
		order:    append([]string(nil), r.order...),
	}
	for name, e := range r.entities {
		s.entities[name] = e.Clone()
	}
	return s
}

// Freeze makes the registry and all of its entities read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	for _, e := range r.entities {
		e.Freeze()
	}
}

// Frozen reports whether the registry was frozen.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
