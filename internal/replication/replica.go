package replication

import (
	"sort"

	"github.com/rotisserie/eris"

	"netsync/internal/net/proto"
	"netsync/internal/netid"
	"netsync/internal/wire"
)

// Replica is a peer's copy of the authority's directory. It is owned by the
// peer's simulation goroutine.
type Replica struct {
	registry *Registry
	records  map[netid.EntityID]*Record
	bus      *Bus
	loading  Loading
}

// NewReplica returns an empty replica that builds entities from registry.
func NewReplica(registry *Registry, bus *Bus) *Replica {
	return &Replica{registry: registry, records: make(map[netid.EntityID]*Record), bus: bus}
}

// ApplySpawn creates the announced entity. A spawn for an id already present
// is ignored and reported as not created.
func (r *Replica) ApplySpawn(msg proto.Spawn) (Record, bool, error) {
	if msg.Entity == netid.NoEntity {
		return Record{}, false, ErrInvalidEntity
	}
	if rec, exists := r.records[msg.Entity]; exists {
		return *rec, false, nil
	}
	entity, err := r.registry.New(msg.Type)
	if err != nil {
		return Record{}, false, err
	}
	if err := entity.ApplySpawnState(wire.FromBytes(msg.State)); err != nil {
		return Record{}, false, eris.Wrapf(err, "apply spawn state for %s", msg.Entity)
	}
	rec := &Record{ID: msg.Entity, Type: msg.Type, Owner: msg.Owner, Entity: entity}
	r.records[rec.ID] = rec
	r.loading.Observe(len(r.records))
	r.bus.Publish(Event{Kind: EventSpawned, Entity: rec.ID, Type: rec.Type, Owner: rec.Owner})
	return *rec, true, nil
}

// ApplyDespawn removes id.
func (r *Replica) ApplyDespawn(id netid.EntityID) (Record, bool) {
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	delete(r.records, id)
	r.loading.Observe(len(r.records))
	r.bus.Publish(Event{Kind: EventDespawned, Entity: id, Type: rec.Type, Owner: rec.Owner})
	return *rec, true
}

// Get returns the record for id.
func (r *Replica) Get(id netid.EntityID) (Record, bool) {
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Records returns every entry in ascending id order.
func (r *Replica) Records() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of known entities.
func (r *Replica) Len() int {
	return len(r.records)
}

// Expect starts catch-up for count entities.
func (r *Replica) Expect(count int) {
	r.loading.Expect(count)
	r.loading.Observe(len(r.records))
}

// Poll advances the loading state machine and publishes
// EventLoadingComplete on the transition to ready.
func (r *Replica) Poll(tick uint64) bool {
	if !r.loading.Poll() {
		return false
	}
	r.bus.Publish(Event{Kind: EventLoadingComplete, Tick: tick})
	return true
}

// Loading exposes the catch-up state.
func (r *Replica) Loading() Loading {
	return r.loading
}

// Reset drops every entity and restarts catch-up.
func (r *Replica) Reset() {
	r.records = make(map[netid.EntityID]*Record)
	r.loading = Loading{}
}
