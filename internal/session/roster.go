package session

import (
	"sort"
	"sync"
	"time"

	"netsync/internal/netid"
)

// Member is one peer's roster entry.
type Member struct {
	Peer     netid.PeerID
	Name     string
	Status   Status
	Entity   netid.EntityID
	JoinedAt time.Time
}

// Roster is the authority's list of session members, bounded by capacity.
// The host does not count against capacity.
type Roster struct {
	mu       sync.RWMutex
	capacity int
	members  map[netid.PeerID]*Member
	now      func() time.Time
}

// NewRoster returns an empty roster admitting up to capacity remote peers.
// A non-positive capacity admits any number.
func NewRoster(capacity int) *Roster {
	return &Roster{capacity: capacity, members: make(map[netid.PeerID]*Member), now: time.Now}
}

// Add admits peer in the Lobby stage. A peer id or non-empty name that is
// already registered is a duplicate.
func (r *Roster) Add(peer netid.PeerID, name string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.members[peer]; exists {
		return ResultDuplicate
	}
	if name != "" {
		for _, m := range r.members {
			if m.Name == name {
				return ResultDuplicate
			}
		}
	}
	if !peer.IsHost() && r.capacity > 0 && r.remoteCountLocked() >= r.capacity {
		return ResultServerFull
	}
	r.members[peer] = &Member{Peer: peer, Name: name, Status: StatusLobby, JoinedAt: r.now()}
	return ResultSuccess
}

// Advance moves peer to next if that is a forward transition and returns
// the previous status.
func (r *Roster) Advance(peer netid.PeerID, next Status) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[peer]
	if !ok || !m.Status.CanAdvance(next) {
		if ok {
			return m.Status, false
		}
		return StatusLobby, false
	}
	prev := m.Status
	m.Status = next
	return prev, true
}

// SetEntity records the entity peer controls.
func (r *Roster) SetEntity(peer netid.PeerID, entity netid.EntityID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[peer]
	if !ok {
		return false
	}
	m.Entity = entity
	return true
}

// Get returns a copy of peer's entry.
func (r *Roster) Get(peer netid.PeerID) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[peer]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Status returns peer's status.
func (r *Roster) Status(peer netid.PeerID) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[peer]
	if !ok {
		return StatusLobby, false
	}
	return m.Status, true
}

// IsActive reports whether peer is in the Active stage.
func (r *Roster) IsActive(peer netid.PeerID) bool {
	status, ok := r.Status(peer)
	return ok && status == StatusActive
}

// Remove deletes peer and returns its final entry.
func (r *Roster) Remove(peer netid.PeerID) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[peer]
	if !ok {
		return Member{}, false
	}
	delete(r.members, peer)
	return *m, true
}

// Members returns every entry in ascending peer order.
func (r *Roster) Members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// WithStatus lists peers currently in status, in ascending order.
func (r *Roster) WithStatus(status Status) []netid.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []netid.PeerID
	for id, m := range r.members {
		if m.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len reports the number of members, host included.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Capacity reports the remote peer limit.
func (r *Roster) Capacity() int {
	return r.capacity
}

func (r *Roster) remoteCountLocked() int {
	n := 0
	for id := range r.members {
		if !id.IsHost() {
			n++
		}
	}
	return n
}
