package replication

import (
	"sync"
	"sync/atomic"

	"netsync/internal/netid"
	"netsync/internal/session"
)

// EventKind classifies Bus events.
type EventKind uint8

const (
	EventSpawned EventKind = iota + 1
	EventDespawned
	EventLoadingComplete
	EventPeerJoined
	EventPeerLeft
	EventStatusChanged
)

func (k EventKind) String() string {
	switch k {
	case EventSpawned:
		return "spawned"
	case EventDespawned:
		return "despawned"
	case EventLoadingComplete:
		return "loading_complete"
	case EventPeerJoined:
		return "peer_joined"
	case EventPeerLeft:
		return "peer_left"
	case EventStatusChanged:
		return "status_changed"
	default:
		return "unknown"
	}
}

// Event is a replication or membership notification for gameplay and UI
// collaborators.
type Event struct {
	Kind   EventKind
	Tick   uint64
	Entity netid.EntityID
	Type   string
	Owner  netid.PeerID
	Peer   netid.PeerID
	Status session.Status
	Reason string
}

// Bus delivers events to subscriber channels. Publishing never blocks: a
// subscriber whose buffer is full misses the event and the miss is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	dropped atomic.Uint64
}

// NewBus returns a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer. The returned
// cancel function unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish offers e to every subscriber.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were missed by full subscribers.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
