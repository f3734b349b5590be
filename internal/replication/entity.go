// Package replication owns the mapping from entity id to live entity on both
// sides of the connection: the authority's Directory assigns ids and emits
// spawns; a peer's Replica applies them.
package replication

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"netsync/internal/geom"
	"netsync/internal/input"
	"netsync/internal/wire"
)

// Entity is the contract every replicated object satisfies. The core never
// inspects entity fields directly; it only moves the bytes these methods
// produce and consume.
type Entity interface {
	// SerializeState writes the per-tick state.
	SerializeState(buf *wire.Buffer) error
	// DeserializeState replaces the per-tick state.
	DeserializeState(buf *wire.Buffer) error
	// PackSpawnState writes construction parameters sent once with the spawn.
	PackSpawnState(buf *wire.Buffer) error
	// ApplySpawnState consumes what PackSpawnState wrote.
	ApplySpawnState(buf *wire.Buffer) error
	// ApplyInput folds one intent sample into the entity.
	ApplyInput(sample input.Sample)
	// Simulate advances the entity by delta seconds.
	Simulate(delta float64)
}

// Spatial is implemented by entities with a position and orientation.
// Reconciliation and interpolation only operate on Spatial entities.
type Spatial interface {
	Transform() geom.Transform
	SetTransform(geom.Transform)
}

// Factory builds a zero-state entity of one type.
type Factory func() Entity

var (
	// ErrUnknownType is returned when a spawn names an unregistered type.
	ErrUnknownType = eris.New("replication: unknown entity type")
	// ErrDuplicateType is returned when a type tag is registered twice.
	ErrDuplicateType = eris.New("replication: duplicate entity type")
	// ErrInvalidEntity is returned for a spawn that names entity 0.
	ErrInvalidEntity = eris.New("replication: invalid entity id")
)

// Registry maps the type tag carried in spawn messages to a factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds factory under tag.
func (r *Registry) Register(tag string, factory Factory) error {
	if tag == "" || factory == nil {
		return eris.Wrapf(ErrUnknownType, "register %q", tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[tag]; exists {
		return eris.Wrapf(ErrDuplicateType, "register %q", tag)
	}
	r.factories[tag] = factory
	return nil
}

// MustRegister is Register for static setup; it panics on error.
func (r *Registry) MustRegister(tag string, factory Factory) {
	if err := r.Register(tag, factory); err != nil {
		panic(err)
	}
}

// New builds an entity of type tag.
func (r *Registry) New(tag string) (Entity, error) {
	r.mu.RLock()
	factory, ok := r.factories[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(ErrUnknownType, "type %q", tag)
	}
	return factory(), nil
}

// Types lists the registered tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// TransformOf decodes state into a scratch entity of type tag and returns its
// transform. It lets callers read positions out of historical snapshots
// without touching the live entity.
func (r *Registry) TransformOf(tag string, state []byte) (geom.Transform, error) {
	scratch, err := r.New(tag)
	if err != nil {
		return geom.Transform{}, err
	}
	spatial, ok := scratch.(Spatial)
	if !ok {
		return geom.Transform{}, eris.Errorf("replication: type %q has no transform", tag)
	}
	if err := scratch.DeserializeState(wire.FromBytes(state)); err != nil {
		return geom.Transform{}, err
	}
	return spatial.Transform(), nil
}
