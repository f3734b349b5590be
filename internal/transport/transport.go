// Package transport defines the contract the replication core needs from the
// network: reliable and unreliable unicast, broadcast, peer lifecycle
// notifications and a round-trip estimate per peer.
package transport

import (
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"netsync/internal/netid"
)

// Delivery selects the channel a payload travels on.
type Delivery uint8

const (
	// Unreliable payloads may be lost, duplicated or reordered.
	Unreliable Delivery = iota
	// Reliable payloads arrive once and in order.
	Reliable
)

func (d Delivery) String() string {
	if d == Reliable {
		return "reliable"
	}
	return "unreliable"
}

// EventKind classifies transport events.
type EventKind uint8

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one notification from the transport. Peer names the remote side:
// on the host it is the connecting client, on a client it is HostPeer.
type Event struct {
	Kind     EventKind
	Peer     netid.PeerID
	Data     []byte
	Delivery Delivery
	Token    string
	Reason   string
}

// Transport is implemented by every network backend.
type Transport interface {
	Send(peer netid.PeerID, data []byte, delivery Delivery) error
	Broadcast(peers []netid.PeerID, data []byte, delivery Delivery) error
	Disconnect(peer netid.PeerID, reason string) error
	RTT(peer netid.PeerID) (time.Duration, bool)
	Events() <-chan Event
	Close() error
}

var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = eris.New("transport: closed")
	// ErrUnknownPeer is returned when sending to a peer that is not connected.
	ErrUnknownPeer = eris.New("transport: unknown peer")
)

// IDAllocator hands out remote peer ids starting at FirstRemotePeer.
type IDAllocator struct {
	last atomic.Int32
}

// Next returns a fresh peer id.
func (a *IDAllocator) Next() netid.PeerID {
	return netid.FirstRemotePeer + netid.PeerID(a.last.Add(1)-1)
}

// DefaultEventBuffer sizes backend event channels.
const DefaultEventBuffer = 1024

// Emit queues ev on events. Unreliable messages are dropped when the channel
// is full and Emit reports false; every other event waits for room until
// done is closed.
func Emit(events chan<- Event, done <-chan struct{}, ev Event) bool {
	if ev.Kind == EventMessage && ev.Delivery == Unreliable {
		select {
		case events <- ev:
			return true
		default:
			return false
		}
	}
	select {
	case events <- ev:
		return true
	case <-done:
		return false
	}
}
