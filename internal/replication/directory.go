package replication

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"netsync/internal/net/proto"
	"netsync/internal/netid"
	"netsync/internal/snapshot"
	"netsync/internal/wire"
)

// Record is one directory entry.
type Record struct {
	ID     netid.EntityID
	Type   string
	Owner  netid.PeerID
	Entity Entity
}

// Directory is the authority's registry of live entities. It is mutated on
// the simulation goroutine; reads from other goroutines are safe.
type Directory struct {
	mu      sync.RWMutex
	counter netid.EntityID
	records map[netid.EntityID]*Record
	bus     *Bus
}

// NewDirectory returns an empty directory publishing to bus, which may be nil.
func NewDirectory(bus *Bus) *Directory {
	return &Directory{records: make(map[netid.EntityID]*Record), bus: bus}
}

// Register assigns the next id to entity and records it.
func (d *Directory) Register(typ string, owner netid.PeerID, entity Entity) Record {
	d.mu.Lock()
	d.counter++
	rec := &Record{ID: d.counter, Type: typ, Owner: owner, Entity: entity}
	d.records[rec.ID] = rec
	d.mu.Unlock()
	d.bus.Publish(Event{Kind: EventSpawned, Entity: rec.ID, Type: typ, Owner: owner})
	return *rec
}

// Despawn removes id immediately.
func (d *Directory) Despawn(id netid.EntityID) (Record, bool) {
	d.mu.Lock()
	rec, ok := d.records[id]
	if ok {
		delete(d.records, id)
	}
	d.mu.Unlock()
	if !ok {
		return Record{}, false
	}
	d.bus.Publish(Event{Kind: EventDespawned, Entity: id, Type: rec.Type, Owner: rec.Owner})
	return *rec, true
}

// Get returns the record for id.
func (d *Directory) Get(id netid.EntityID) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Records returns every entry in ascending id order.
func (d *Directory) Records() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Record, 0, len(d.records))
	for _, rec := range d.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OwnedBy returns the entries controlled by peer.
func (d *Directory) OwnedBy(peer netid.PeerID) []Record {
	var owned []Record
	for _, rec := range d.Records() {
		if rec.Owner == peer {
			owned = append(owned, rec)
		}
	}
	return owned
}

// Len reports the number of live entities.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// LastID returns the most recently assigned id.
func (d *Directory) LastID() netid.EntityID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.counter
}

// Snapshot serializes every live entity.
func (d *Directory) Snapshot() (snapshot.WorldState, error) {
	return Capture(d.Records())
}

// SpawnMessage builds the spawn announcement for rec.
func SpawnMessage(rec Record) (proto.Spawn, error) {
	buf := wire.NewBuffer(32)
	if err := rec.Entity.PackSpawnState(buf); err != nil {
		return proto.Spawn{}, eris.Wrapf(err, "pack spawn state for %s", rec.ID)
	}
	return proto.Spawn{Entity: rec.ID, Type: rec.Type, Owner: rec.Owner, State: buf.Bytes()}, nil
}

// CatchUp builds what a late joiner receives: the entity count followed by
// one spawn per live entity in id order.
func (d *Directory) CatchUp() (proto.EntityCount, []proto.Spawn, error) {
	records := d.Records()
	spawns := make([]proto.Spawn, 0, len(records))
	for _, rec := range records {
		msg, err := SpawnMessage(rec)
		if err != nil {
			return proto.EntityCount{}, nil, err
		}
		spawns = append(spawns, msg)
	}
	return proto.EntityCount{Count: uint32(len(spawns))}, spawns, nil
}

// Capture serializes each record's entity into a world state.
func Capture(records []Record) (snapshot.WorldState, error) {
	state := make(snapshot.WorldState, len(records))
	buf := wire.NewBuffer(64)
	for _, rec := range records {
		buf.Reset()
		if err := rec.Entity.SerializeState(buf); err != nil {
			return nil, eris.Wrapf(err, "serialize %s", rec.ID)
		}
		state[rec.ID] = append([]byte(nil), buf.Bytes()...)
	}
	return state, nil
}
