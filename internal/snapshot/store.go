package snapshot

import (
	"sync"

	"netsync/internal/netid"
)

const (
	storeRecordedMetricKey    = "snapshot_store_recorded_total"
	storeOverwrittenMetricKey = "snapshot_store_overwritten_total"
	storeMissMetricKey        = "snapshot_store_miss_total"
	storeEntitiesMetricKey    = "snapshot_store_entities"
)

type telemetryMetrics interface {
	Add(string, uint64)
	Store(string, uint64)
}

type slot struct {
	tick  uint64
	state WorldState
	valid bool
}

// RecordResult reports what a Record call displaced.
type RecordResult struct {
	Tick        uint64
	Entities    int
	Overwrote   bool
	EvictedTick uint64
}

// Store is a fixed-capacity ring of world states indexed by tick % capacity.
// Each slot remembers the tick it holds, so a lookup for a tick that has
// been overwritten reports unavailable instead of returning a newer state.
type Store struct {
	mu      sync.RWMutex
	slots   []slot
	newest  uint64
	hasAny  bool
	metrics telemetryMetrics
}

// NewStore allocates a ring retaining capacity ticks.
func NewStore(capacity int, metrics telemetryMetrics) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{slots: make([]slot, capacity), metrics: metrics}
}

// Capacity reports the ring size.
func (s *Store) Capacity() int {
	return len(s.slots)
}

// Record stores state for tick, replacing whatever occupied the slot. The
// store takes ownership of state; callers must not mutate it afterwards.
func (s *Store) Record(tick uint64, state WorldState) RecordResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := int(tick % uint64(len(s.slots)))
	prev := s.slots[idx]
	s.slots[idx] = slot{tick: tick, state: state, valid: true}
	if !s.hasAny || tick > s.newest {
		s.newest = tick
		s.hasAny = true
	}
	result := RecordResult{Tick: tick, Entities: len(state)}
	if prev.valid && prev.tick != tick {
		result.Overwrote = true
		result.EvictedTick = prev.tick
		s.add(storeOverwrittenMetricKey, 1)
	}
	s.add(storeRecordedMetricKey, 1)
	if s.metrics != nil {
		s.metrics.Store(storeEntitiesMetricKey, uint64(len(state)))
	}
	return result
}

// At returns a copy of the state recorded for tick.
func (s *Store) At(tick uint64) (WorldState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.lookupLocked(tick)
	if !ok {
		return nil, false
	}
	return sl.state.Clone(), true
}

// EntityAt returns a copy of one entity's bytes at tick. The second result
// is false when the tick is unavailable or the entity was absent.
func (s *Store) EntityAt(tick uint64, id netid.EntityID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.lookupLocked(tick)
	if !ok {
		return nil, false
	}
	state, ok := sl.state[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), state...), true
}

// Has reports whether tick is still retained.
func (s *Store) Has(tick uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.lookupLocked(tick)
	return ok
}

// Put overwrites a single entity's bytes in an already recorded tick. It is
// used when replay rewrites history for the predicted entity.
func (s *Store) Put(tick uint64, id netid.EntityID, state []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := int(tick % uint64(len(s.slots)))
	sl := s.slots[idx]
	if !sl.valid || sl.tick != tick {
		return false
	}
	if sl.state == nil {
		sl.state = make(WorldState, 1)
		s.slots[idx] = sl
	}
	sl.state[id] = append([]byte(nil), state...)
	return true
}

// Window reports how many ticks are retained and the oldest and newest of
// them.
func (s *Store) Window() (size int, oldest, newest uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasAny {
		return 0, 0, 0
	}
	oldest = s.newest
	for _, sl := range s.slots {
		if !sl.valid {
			continue
		}
		size++
		if sl.tick < oldest {
			oldest = sl.tick
		}
	}
	return size, oldest, s.newest
}

// Reset forgets every slot.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		s.slots[i] = slot{}
	}
	s.newest = 0
	s.hasAny = false
}

func (s *Store) lookupLocked(tick uint64) (slot, bool) {
	sl := s.slots[int(tick%uint64(len(s.slots)))]
	if !sl.valid || sl.tick != tick {
		if s.metrics != nil {
			s.metrics.Add(storeMissMetricKey, 1)
		}
		return slot{}, false
	}
	return sl, true
}

func (s *Store) add(key string, delta uint64) {
	if s.metrics != nil {
		s.metrics.Add(key, delta)
	}
}
