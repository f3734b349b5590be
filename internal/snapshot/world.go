// Package snapshot holds world-state captures and the per-tick ring they are
// retained in.
package snapshot

import (
	"bytes"
	"math"
	"sort"

	"github.com/brunoga/deep/v2"
	"github.com/rotisserie/eris"

	"netsync/internal/netid"
	"netsync/internal/wire"
)

// MaxEntities bounds how many entities one encoded world state may carry.
const MaxEntities = math.MaxUint16

// WorldState maps each entity to the opaque bytes its own serializer
// produced for one tick. Entities absent at that tick have no entry.
type WorldState map[netid.EntityID][]byte

// IDs returns the entity ids in ascending order.
func (w WorldState) IDs() []netid.EntityID {
	ids := make([]netid.EntityID, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone returns a deep copy that shares no byte slices with w.
func (w WorldState) Clone() WorldState {
	if w == nil {
		return nil
	}
	return deep.MustCopy(w)
}

// Equal reports whether both states hold the same entities with identical bytes.
func (w WorldState) Equal(o WorldState) bool {
	if len(w) != len(o) {
		return false
	}
	for id, state := range w {
		other, ok := o[id]
		if !ok || !bytes.Equal(state, other) {
			return false
		}
	}
	return true
}

// Encode writes the state sorted by entity id: a u16 count, then per entity
// a u32 id and a u16-length-prefixed state blob.
func (w WorldState) Encode(buf *wire.Buffer) error {
	if len(w) > MaxEntities {
		return eris.Wrapf(wire.ErrOversized, "world state holds %d entities", len(w))
	}
	buf.WriteUint16(uint16(len(w)))
	for _, id := range w.IDs() {
		state := w[id]
		if len(state) > math.MaxUint16 {
			return eris.Wrapf(wire.ErrOversized, "state for %s is %d bytes", id, len(state))
		}
		buf.WriteUint32(uint32(id))
		buf.WriteUint16(uint16(len(state)))
		buf.WriteRaw(state)
	}
	return nil
}

// Decode reads a state written by Encode. The returned byte slices are
// copies, so buf may be reused.
func Decode(buf *wire.Buffer) (WorldState, error) {
	count, err := buf.ReadUint16()
	if err != nil {
		return nil, eris.Wrap(err, "world state count")
	}
	w := make(WorldState, count)
	for i := 0; i < int(count); i++ {
		id, err := buf.ReadUint32()
		if err != nil {
			return nil, eris.Wrapf(err, "world state entry %d id", i)
		}
		if _, dup := w[netid.EntityID(id)]; dup {
			return nil, eris.Wrapf(wire.ErrMalformed, "world state entry %d repeats entity %d", i, id)
		}
		size, err := buf.ReadUint16()
		if err != nil {
			return nil, eris.Wrapf(err, "world state entry %d length", i)
		}
		raw, err := buf.ReadRaw(int(size))
		if err != nil {
			return nil, eris.Wrapf(err, "world state entry %d body", i)
		}
		w[netid.EntityID(id)] = append([]byte(nil), raw...)
	}
	return w, nil
}
