package interp

import (
	"sort"

	"netsync/internal/geom"
	"netsync/internal/netid"
)

// Set tracks one Buffer per remote entity.
type Set struct {
	interval float64
	buffers  map[netid.EntityID]*Buffer
}

// NewSet returns an empty set whose buffers step every interval seconds.
func NewSet(interval float64) *Set {
	return &Set{interval: interval, buffers: make(map[netid.EntityID]*Buffer)}
}

// Push forwards a received state to id's buffer, creating it on first use.
func (s *Set) Push(id netid.EntityID, tick uint64, t geom.Transform) bool {
	buf, ok := s.buffers[id]
	if !ok {
		buf = NewBuffer(s.interval)
		s.buffers[id] = buf
	}
	return buf.Push(tick, t)
}

// Advance steps every buffer and hands each blended transform to apply in
// ascending id order.
func (s *Set) Advance(delta float64, apply func(netid.EntityID, geom.Transform)) {
	ids := make([]netid.EntityID, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if t, ok := s.buffers[id].Advance(delta); ok && apply != nil {
			apply(id, t)
		}
	}
}

// SetInterval updates the nominal interval of every buffer.
func (s *Set) SetInterval(interval float64) {
	if interval <= 0 {
		return
	}
	s.interval = interval
	for _, buf := range s.buffers {
		buf.SetInterval(interval)
	}
}

// Get returns id's buffer.
func (s *Set) Get(id netid.EntityID) (*Buffer, bool) {
	buf, ok := s.buffers[id]
	return buf, ok
}

// Remove forgets id.
func (s *Set) Remove(id netid.EntityID) {
	delete(s.buffers, id)
}

// Len reports how many entities are tracked.
func (s *Set) Len() int {
	return len(s.buffers)
}
