// Package server is the authoritative side of a session: it admits peers,
// applies their input at tick boundaries, simulates every entity and sends
// each active peer a heartbeat carrying the world state and its input
// acknowledgement.
package server

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"netsync/internal/input"
	"netsync/internal/net/proto"
	"netsync/internal/netid"
	"netsync/internal/replication"
	"netsync/internal/session"
	"netsync/internal/snapshot"
	"netsync/internal/telemetry"
	"netsync/internal/tick"
	"netsync/internal/transport"
	"netsync/logging"
	loggingreplication "netsync/logging/replication"
)

// Spawner builds the entity a newly registered peer controls.
type Spawner func(peer netid.PeerID, name string) (string, replication.Entity, error)

// Deps wires the authority to its collaborators.
type Deps struct {
	Transport transport.Transport
	Spawner   Spawner
	Bus       *replication.Bus
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
}

// ErrNoSpawner is returned by New when Deps.Spawner is nil.
var ErrNoSpawner = eris.New("server: spawner is required")

// Authority owns the session. Receive may be called from any goroutine;
// every other method runs on the simulation goroutine.
type Authority struct {
	cfg       Config
	transport transport.Transport
	spawner   Spawner
	bus       *replication.Bus
	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics

	directory *replication.Directory
	roster    *session.Roster
	queues    *input.Queues
	snapshots *snapshot.Store
	clock     *tick.Clock
	limiters  map[netid.PeerID]*rate.Limiter

	inboxMu sync.Mutex
	inbox   []inbound

	tick atomic.Uint64
}

// New constructs an authority.
func New(cfg Config, deps Deps) (*Authority, error) {
	if deps.Transport == nil {
		return nil, eris.New("server: transport is required")
	}
	if deps.Spawner == nil {
		return nil, ErrNoSpawner
	}
	cfg = cfg.normalized()
	logger := deps.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NewCounters(nil)
	}
	bus := deps.Bus
	if bus == nil {
		bus = replication.NewBus()
	}
	return &Authority{
		cfg:       cfg,
		transport: deps.Transport,
		spawner:   deps.Spawner,
		bus:       bus,
		logger:    logger,
		publisher: publisher,
		metrics:   metrics,
		directory: replication.NewDirectory(bus),
		roster:    session.NewRoster(cfg.MaxPeers),
		queues:    input.NewQueues(cfg.InputQueueLimit, cfg.OverflowPolicy, metrics),
		snapshots: snapshot.NewStore(cfg.BufferMaxTicks, metrics),
		clock:     tick.NewClock(cfg.TickRate),
		limiters:  make(map[netid.PeerID]*rate.Limiter),
	}, nil
}

// Pump feeds transport events into Receive until ctx is done.
func (a *Authority) Pump(ctx context.Context) {
	events := a.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			a.Receive(ev)
		}
	}
}

// Frame advances the tick clock by dt seconds. Queued control messages are
// handled first; when the clock fires, one tick runs.
func (a *Authority) Frame(dt float64) {
	a.drainInbox()
	if delta, fired := a.clock.Advance(dt); fired {
		a.Tick(delta)
	}
}

// Tick runs one simulation step of delta seconds.
func (a *Authority) Tick(delta float64) {
	ctx := context.Background()
	current := a.tick.Add(1)

	for _, member := range a.roster.Members() {
		if member.Entity == netid.NoEntity {
			continue
		}
		rec, ok := a.directory.Get(member.Entity)
		if !ok {
			continue
		}
		queue, ok := a.queues.Get(member.Peer)
		if !ok {
			continue
		}
		samples := queue.Drain()
		for _, sample := range samples {
			rec.Entity.ApplyInput(sample)
		}
		if n := len(samples); n > 0 {
			queue.Ack(samples[n-1].Seq)
		}
	}

	records := a.directory.Records()
	for _, rec := range records {
		rec.Entity.Simulate(delta)
	}

	state, err := replication.Capture(records)
	if err != nil {
		a.logger.Printf("tick %d: capture failed: %v", current, err)
		return
	}
	a.snapshots.Record(current, state)
	a.sendHeartbeats(ctx, current, state)

	a.metrics.Store(telemetry.KeyTick, current)
	a.metrics.Store(telemetry.KeyEntities, uint64(len(records)))
	a.metrics.Store(telemetry.KeyPeersActive, uint64(len(a.roster.WithStatus(session.StatusActive))))
}

func (a *Authority) sendHeartbeats(ctx context.Context, current uint64, state snapshot.WorldState) {
	for _, peer := range a.roster.WithStatus(session.StatusActive) {
		hb := proto.Heartbeat{Tick: current, HasState: true, State: state}
		if queue, ok := a.queues.Get(peer); ok {
			hb.Ack, hb.HasAck = queue.LastAcked()
		}
		if err := a.send(peer, hb); err != nil {
			a.logger.Printf("tick %d: heartbeat to %s failed: %v", current, peer, err)
			continue
		}
		a.metrics.Add(telemetry.KeyHeartbeatsSent, 1)
	}
}

// Spawn registers entity and announces it to every active peer. Entities
// owned by the host are not announced back to it.
func (a *Authority) Spawn(typ string, owner netid.PeerID, entity replication.Entity) (replication.Record, error) {
	rec := a.directory.Register(typ, owner, entity)
	msg, err := replication.SpawnMessage(rec)
	if err != nil {
		a.directory.Despawn(rec.ID)
		return replication.Record{}, err
	}
	loggingreplication.EntitySpawned(context.Background(), a.publisher, a.tick.Load(), logging.ReplicatedRef(rec.ID), loggingreplication.EntityPayload{
		Type:  typ,
		Owner: int32(owner),
	}, nil)
	a.broadcast(a.activeExcept(owner), msg)
	return rec, nil
}

// Despawn removes id and announces the removal to every active peer.
func (a *Authority) Despawn(id netid.EntityID) bool {
	rec, ok := a.directory.Despawn(id)
	if !ok {
		return false
	}
	loggingreplication.EntityDespawned(context.Background(), a.publisher, a.tick.Load(), logging.ReplicatedRef(id), loggingreplication.EntityPayload{
		Type:  rec.Type,
		Owner: int32(rec.Owner),
	}, nil)
	a.broadcast(a.roster.WithStatus(session.StatusActive), proto.Despawn{Entity: id})
	return true
}

// Kick sends reason to peer and removes it from the session. The removal
// happens on the next Frame.
func (a *Authority) Kick(peer netid.PeerID, reason string) {
	a.enqueue(inbound{kind: inboundKick, peer: peer, reason: reason})
}

// CurrentTick returns the number of ticks run so far.
func (a *Authority) CurrentTick() uint64 {
	return a.tick.Load()
}

// Directory exposes the entity directory.
func (a *Authority) Directory() *replication.Directory {
	return a.directory
}

// Roster exposes the session roster.
func (a *Authority) Roster() *session.Roster {
	return a.roster
}

// Queues exposes the per-peer input queues.
func (a *Authority) Queues() *input.Queues {
	return a.queues
}

// Snapshots exposes the authoritative snapshot ring.
func (a *Authority) Snapshots() *snapshot.Store {
	return a.snapshots
}

// Bus exposes the replication event bus.
func (a *Authority) Bus() *replication.Bus {
	return a.bus
}

// TickRate returns the nominal tick rate.
func (a *Authority) TickRate() int {
	return a.cfg.TickRate
}

func (a *Authority) send(peer netid.PeerID, msg proto.Message) error {
	data, err := proto.Encode(msg)
	if err != nil {
		return err
	}
	delivery := transport.Unreliable
	if msg.Kind().Reliable() {
		delivery = transport.Reliable
	}
	if err := a.transport.Send(peer, data, delivery); err != nil {
		return err
	}
	a.metrics.Add(telemetry.KeyBytesSent, uint64(len(data)))
	return nil
}

func (a *Authority) broadcast(peers []netid.PeerID, msg proto.Message) {
	if len(peers) == 0 {
		return
	}
	data, err := proto.Encode(msg)
	if err != nil {
		a.logger.Printf("encode %s failed: %v", msg.Kind(), err)
		return
	}
	delivery := transport.Unreliable
	if msg.Kind().Reliable() {
		delivery = transport.Reliable
	}
	if err := a.transport.Broadcast(peers, data, delivery); err != nil {
		a.logger.Printf("broadcast %s failed: %v", msg.Kind(), err)
	}
	a.metrics.Add(telemetry.KeyBytesSent, uint64(len(data)*len(peers)))
}

func (a *Authority) activeExcept(skip netid.PeerID) []netid.PeerID {
	active := a.roster.WithStatus(session.StatusActive)
	out := active[:0]
	for _, peer := range active {
		if peer != skip {
			out = append(out, peer)
		}
	}
	return out
}
