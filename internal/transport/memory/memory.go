// Package memory is an in-process transport connecting a host endpoint to
// any number of client endpoints. Unreliable traffic can be dropped by a
// loss function to exercise the replication core under packet loss.
package memory

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"netsync/internal/netid"
	"netsync/internal/transport"
)

// LossFunc reports whether an unreliable payload from one peer to another
// should be dropped.
type LossFunc func(from, to netid.PeerID, data []byte) bool

// Options configures a Network.
type Options struct {
	Buffer int
	Loss   LossFunc
	RTT    time.Duration
}

// Network is the shared medium. Endpoints are created through Host and
// Connect.
type Network struct {
	mu      sync.Mutex
	opts    Options
	host    *Endpoint
	clients map[netid.PeerID]*Endpoint
	ids     transport.IDAllocator
}

// NewNetwork returns an empty network.
func NewNetwork(opts Options) *Network {
	if opts.Buffer <= 0 {
		opts.Buffer = transport.DefaultEventBuffer
	}
	n := &Network{opts: opts, clients: make(map[netid.PeerID]*Endpoint)}
	n.host = n.newEndpoint(netid.HostPeer)
	return n
}

// Host returns the authority's endpoint.
func (n *Network) Host() *Endpoint {
	return n.host
}

// Connect attaches a new client. The host sees EventConnected for the new
// peer id and the client sees EventConnected for HostPeer.
func (n *Network) Connect() (*Endpoint, error) {
	if n.host.closed.Load() {
		return nil, transport.ErrClosed
	}
	id := n.ids.Next()
	client := n.newEndpoint(id)
	n.mu.Lock()
	n.clients[id] = client
	n.mu.Unlock()

	token := uuid.New().String()
	client.deliver(transport.Event{Kind: transport.EventConnected, Peer: netid.HostPeer, Token: token})
	n.host.deliver(transport.Event{Kind: transport.EventConnected, Peer: id, Token: token})
	return client, nil
}

// Peers lists the connected client ids.
func (n *Network) Peers() []netid.PeerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]netid.PeerID, 0, len(n.clients))
	for id := range n.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (n *Network) newEndpoint(self netid.PeerID) *Endpoint {
	return &Endpoint{
		network: n,
		self:    self,
		events:  make(chan transport.Event, n.opts.Buffer),
		done:    make(chan struct{}),
	}
}

func (n *Network) client(id netid.PeerID) (*Endpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.clients[id]
	return ep, ok
}

func (n *Network) detach(id netid.PeerID) (*Endpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.clients[id]
	if ok {
		delete(n.clients, id)
	}
	return ep, ok
}

// Endpoint is one side's view of the network. It implements
// transport.Transport. The events channel is never closed.
type Endpoint struct {
	network *Network
	self    netid.PeerID
	events  chan transport.Event
	done    chan struct{}
	closed  atomic.Bool
	once    sync.Once
	dropped atomic.Uint64
	lost    atomic.Uint64
}

// Self returns the endpoint's own peer id.
func (e *Endpoint) Self() netid.PeerID {
	return e.self
}

// Dropped reports unreliable payloads lost to a full event buffer.
func (e *Endpoint) Dropped() uint64 {
	return e.dropped.Load()
}

// Lost reports unreliable payloads discarded by the loss function.
func (e *Endpoint) Lost() uint64 {
	return e.lost.Load()
}

func (e *Endpoint) Send(peer netid.PeerID, data []byte, delivery transport.Delivery) error {
	if e.closed.Load() {
		return transport.ErrClosed
	}
	target, err := e.resolve(peer)
	if err != nil {
		return err
	}
	if delivery == transport.Unreliable {
		if loss := e.network.opts.Loss; loss != nil && loss(e.self, peer, data) {
			e.lost.Add(1)
			return nil
		}
	}
	payload := append([]byte(nil), data...)
	target.deliver(transport.Event{Kind: transport.EventMessage, Peer: e.self, Data: payload, Delivery: delivery})
	return nil
}

func (e *Endpoint) Broadcast(peers []netid.PeerID, data []byte, delivery transport.Delivery) error {
	var firstErr error
	for _, peer := range peers {
		if err := e.Send(peer, data, delivery); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Disconnect severs the link to peer. Both sides observe
// EventDisconnected carrying reason.
func (e *Endpoint) Disconnect(peer netid.PeerID, reason string) error {
	if e.self.IsHost() {
		client, ok := e.network.detach(peer)
		if !ok {
			return transport.ErrUnknownPeer
		}
		client.deliver(transport.Event{Kind: transport.EventDisconnected, Peer: netid.HostPeer, Reason: reason})
		client.shutdown()
		e.deliver(transport.Event{Kind: transport.EventDisconnected, Peer: peer, Reason: reason})
		return nil
	}
	if peer != netid.HostPeer {
		return transport.ErrUnknownPeer
	}
	if _, ok := e.network.detach(e.self); !ok {
		return transport.ErrClosed
	}
	e.deliver(transport.Event{Kind: transport.EventDisconnected, Peer: netid.HostPeer, Reason: reason})
	e.network.host.deliver(transport.Event{Kind: transport.EventDisconnected, Peer: e.self, Reason: reason})
	e.shutdown()
	return nil
}

func (e *Endpoint) RTT(peer netid.PeerID) (time.Duration, bool) {
	if _, err := e.resolve(peer); err != nil {
		return 0, false
	}
	return e.network.opts.RTT, true
}

func (e *Endpoint) Events() <-chan transport.Event {
	return e.events
}

// Close disconnects every peer reachable from e.
func (e *Endpoint) Close() error {
	if e.closed.Load() {
		return nil
	}
	if e.self.IsHost() {
		for _, peer := range e.network.Peers() {
			_ = e.Disconnect(peer, "host closed")
		}
		e.shutdown()
		return nil
	}
	err := e.Disconnect(netid.HostPeer, "client closed")
	e.shutdown()
	if err == transport.ErrClosed {
		return nil
	}
	return err
}

func (e *Endpoint) resolve(peer netid.PeerID) (*Endpoint, error) {
	if e.self.IsHost() {
		client, ok := e.network.client(peer)
		if !ok {
			return nil, transport.ErrUnknownPeer
		}
		return client, nil
	}
	if peer != netid.HostPeer {
		return nil, transport.ErrUnknownPeer
	}
	if _, ok := e.network.client(e.self); !ok {
		return nil, transport.ErrClosed
	}
	return e.network.host, nil
}

func (e *Endpoint) deliver(ev transport.Event) {
	if e.closed.Load() {
		return
	}
	if !transport.Emit(e.events, e.done, ev) && ev.Kind == transport.EventMessage {
		e.dropped.Add(1)
	}
}

func (e *Endpoint) shutdown() {
	e.once.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

var _ transport.Transport = (*Endpoint)(nil)
