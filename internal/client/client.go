// Package client is the predicting side of a session. It samples local
// intent every tick, applies it to the controlled entity immediately,
// streams it to the authority and reconciles the prediction against the
// heartbeats that come back. Remote entities are interpolated between
// authoritative states.
package client

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hako/durafmt"
	"github.com/rotisserie/eris"

	"netsync/internal/geom"
	"netsync/internal/input"
	"netsync/internal/interp"
	"netsync/internal/net/proto"
	"netsync/internal/netid"
	"netsync/internal/reconcile"
	"netsync/internal/replication"
	"netsync/internal/session"
	"netsync/internal/snapshot"
	"netsync/internal/telemetry"
	"netsync/internal/tick"
	"netsync/internal/transport"
	"netsync/logging"
)

var (
	// ErrRegistrationTimeout is returned by AwaitRegistration when the
	// authority does not answer in time.
	ErrRegistrationTimeout = eris.New("client: registration timed out")
	// ErrRegistrationRejected is returned when the authority refused the peer.
	ErrRegistrationRejected = eris.New("client: registration rejected")
	// ErrDisconnected is returned when the link closed before registration.
	ErrDisconnected = eris.New("client: disconnected")
	// ErrNoRegistry is returned by New when Deps.Registry is nil.
	ErrNoRegistry = eris.New("client: entity registry is required")
)

// Sampler reports the local player's intent for a tick.
type Sampler interface {
	Sample(tick uint64) input.Sample
}

// SamplerFunc adapts a function into a Sampler.
type SamplerFunc func(tick uint64) input.Sample

// Sample implements Sampler.
func (f SamplerFunc) Sample(tick uint64) input.Sample {
	if f == nil {
		return input.Sample{}
	}
	return f(tick)
}

// Deps wires the client to its collaborators.
type Deps struct {
	Transport transport.Transport
	Registry  *replication.Registry
	Sampler   Sampler
	Bus       *replication.Bus
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
}

type control struct {
	msg          proto.Message
	disconnected bool
	reason       string
}

// Client owns one peer's view of the session. Receive may be called from
// any goroutine; Frame, Tick and the accessors run on the simulation
// goroutine.
type Client struct {
	cfg       Config
	transport transport.Transport
	registry  *replication.Registry
	sampler   Sampler
	bus       *replication.Bus
	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics

	replica   *replication.Replica
	clock     *tick.Clock
	rate      *tick.RateController
	outbox    *input.Outbox
	history   *input.History
	snapshots *snapshot.Store
	engine    *reconcile.Engine
	interp    *interp.Set
	requests  *spawnRequests

	inboxMu    sync.Mutex
	controls   []control
	heartbeats []proto.Heartbeat

	registered chan struct{}
	regOnce    sync.Once
	regResult  proto.RegistrationResult
	regErr     error

	tick atomic.Uint64

	self           netid.PeerID
	entity         netid.EntityID
	status         session.Status
	connected      bool
	kicked         string
	players        map[netid.PeerID]string
	processed      uint64
	hasProcessed   bool
	lastServerTick uint64
	lastAckTick    uint64
	lastOutcome    reconcile.Result
}

// New constructs a client.
func New(cfg Config, deps Deps) (*Client, error) {
	if deps.Transport == nil {
		return nil, eris.New("client: transport is required")
	}
	if deps.Registry == nil {
		return nil, ErrNoRegistry
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
	clock := tick.NewClock(cfg.TickRate)
	snapshots := snapshot.NewStore(cfg.BufferMaxTicks, metrics)
	history := input.NewHistory(cfg.BufferMaxTicks)
	return &Client{
		cfg:       cfg,
		transport: deps.Transport,
		registry:  deps.Registry,
		sampler:   deps.Sampler,
		bus:       bus,
		logger:    logger,
		publisher: publisher,
		metrics:   metrics,
		replica:   replication.NewReplica(deps.Registry, bus),
		clock:     clock,
		rate:      tick.NewRateController(cfg.Rate),
		outbox:    input.NewOutbox(),
		history:   history,
		snapshots: snapshots,
		engine: reconcile.NewEngine(reconcile.Config{Tolerance: cfg.Tolerance}, reconcile.Deps{
			Registry:  deps.Registry,
			Snapshots: snapshots,
			History:   history,
			Publisher: publisher,
			Metrics:   metrics,
		}),
		interp:     interp.NewSet(clock.Interval()),
		requests:   newSpawnRequests(cfg.SpawnRequestRate, cfg.SpawnRequestBurst, cfg.SpawnRetryTicks),
		registered: make(chan struct{}),
		status:     session.StatusLobby,
		connected:  true,
		players:    make(map[netid.PeerID]string),
	}, nil
}

// Pump feeds transport events into Receive until ctx is done.
func (c *Client) Pump(ctx context.Context) {
	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			c.Receive(ev)
		}
	}
}

// Join asks the authority to admit the local player under name. An empty
// name uses the configured one.
func (c *Client) Join(name string) error {
	if name == "" {
		name = c.cfg.Name
	}
	return c.send(proto.Ready{Name: name, Version: proto.Version})
}

// AwaitRegistration blocks until the authority answers Join, the link
// closes, ctx is done or timeout elapses. A non-positive timeout uses the
// configured registration timeout.
func (c *Client) AwaitRegistration(ctx context.Context, timeout time.Duration) (proto.RegistrationResult, error) {
	if timeout <= 0 {
		timeout = c.cfg.RegistrationTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.registered:
		return c.regResult, c.regErr
	case <-timer.C:
		return proto.RegistrationResult{}, eris.Wrapf(ErrRegistrationTimeout, "no answer from the authority after %s", durafmt.Parse(timeout).LimitFirstN(2).String())
	case <-ctx.Done():
		return proto.RegistrationResult{}, ctx.Err()
	}
}

func (c *Client) finishRegistration(result proto.RegistrationResult, err error) {
	c.regOnce.Do(func() {
		c.regResult = result
		c.regErr = err
		close(c.registered)
	})
}

// Frame handles queued control messages, blends remote entities and runs a
// tick when the clock fires.
func (c *Client) Frame(dt float64) {
	c.drainControls()
	c.interp.Advance(dt, c.applyInterpolated)
	if delta, fired := c.clock.Advance(dt); fired {
		c.Tick(delta)
	}
}

// Tick runs one local tick of delta seconds: predict, record, transmit,
// then process at most one heartbeat.
func (c *Client) Tick(delta float64) {
	ctx := context.Background()
	current := c.tick.Add(1)

	local, hasLocal := c.localRecord()
	active := hasLocal && c.status == session.StatusActive && c.connected
	if active {
		step := input.Record{Tick: current, Delta: delta}
		if c.sampler != nil {
			sample := c.sampler.Sample(current)
			sample.Delta = delta
			if captured, ok := c.outbox.Capture(sample, current); ok {
				local.Entity.ApplyInput(captured)
				step.Sample, step.HasSample = captured, true
			}
		}
		local.Entity.Simulate(delta)
		c.history.Store(step)
	}

	state, err := replication.Capture(c.replica.Records())
	if err != nil {
		c.logger.Printf("tick %d: capture failed: %v", current, err)
	} else {
		c.snapshots.Record(current, state)
	}

	if active {
		if samples := c.outbox.Flush(current); len(samples) > 0 {
			if err := c.send(proto.Input{Samples: samples}); err != nil {
				c.logger.Printf("tick %d: input send failed: %v", current, err)
			}
		}
	}

	c.processHeartbeat(ctx, current)
	c.pollLoading(ctx)
	c.metrics.Store(telemetry.KeyTick, c.tick.Load())
	c.metrics.Store(telemetry.KeyEntities, uint64(c.replica.Len()))
}

func (c *Client) localRecord() (replication.Record, bool) {
	if c.entity == netid.NoEntity {
		return replication.Record{}, false
	}
	return c.replica.Get(c.entity)
}

func (c *Client) applyInterpolated(id netid.EntityID, t geom.Transform) {
	if id == c.entity {
		return
	}
	rec, ok := c.replica.Get(id)
	if !ok {
		c.interp.Remove(id)
		return
	}
	if spatial, ok := rec.Entity.(replication.Spatial); ok {
		spatial.SetTransform(t)
	}
}

func (c *Client) send(msg proto.Message) error {
	data, err := proto.Encode(msg)
	if err != nil {
		return err
	}
	delivery := transport.Unreliable
	if msg.Kind().Reliable() {
		delivery = transport.Reliable
	}
	if err := c.transport.Send(netid.HostPeer, data, delivery); err != nil {
		return err
	}
	c.metrics.Add(telemetry.KeyBytesSent, uint64(len(data)))
	return nil
}

// CurrentTick returns the local tick counter.
func (c *Client) CurrentTick() uint64 {
	return c.tick.Load()
}

// Peer returns the id the authority assigned, or zero before registration.
func (c *Client) Peer() netid.PeerID {
	return c.self
}

// Entity returns the locally controlled entity id.
func (c *Client) Entity() netid.EntityID {
	return c.entity
}

// Status returns the local player's membership stage.
func (c *Client) Status() session.Status {
	return c.status
}

// Connected reports whether the link to the authority is open.
func (c *Client) Connected() bool {
	return c.connected
}

// Kicked returns the reason the authority gave when it removed the player.
func (c *Client) Kicked() (string, bool) {
	return c.kicked, c.kicked != ""
}

// Players returns the known session members other than the local player.
func (c *Client) Players() map[netid.PeerID]string {
	out := make(map[netid.PeerID]string, len(c.players))
	for peer, name := range c.players {
		out[peer] = name
	}
	return out
}

// Replica exposes the local entity replica.
func (c *Client) Replica() *replication.Replica {
	return c.replica
}

// Bus exposes the replication event bus.
func (c *Client) Bus() *replication.Bus {
	return c.bus
}

// Snapshots exposes the predicted snapshot ring.
func (c *Client) Snapshots() *snapshot.Store {
	return c.snapshots
}

// History exposes the replay history.
func (c *Client) History() *input.History {
	return c.history
}

// Interpolation exposes the remote entity buffers.
func (c *Client) Interpolation() *interp.Set {
	return c.interp
}

// Multiplier returns the tick interval correction currently applied.
func (c *Client) Multiplier() float64 {
	return c.clock.Multiplier()
}

// RateController exposes the tick-rate controller.
func (c *Client) RateController() *tick.RateController {
	return c.rate
}

// LastServerTick returns the tick of the newest processed heartbeat.
func (c *Client) LastServerTick() uint64 {
	return c.lastServerTick
}

// LastAckTick returns the local tick of the newest acknowledged sample.
func (c *Client) LastAckTick() uint64 {
	return c.lastAckTick
}

// LastReconcile returns the outcome of the most recent reconciliation.
func (c *Client) LastReconcile() reconcile.Result {
	return c.lastOutcome
}

// PendingHeartbeats reports heartbeats waiting to be processed.
func (c *Client) PendingHeartbeats() int {
	c.inboxMu.Lock()
	defer c.inboxMu.Unlock()
	return len(c.heartbeats)
}

// SpawnRequests summarises outstanding spawn requests.
func (c *Client) SpawnRequests() RequestSignal {
	return c.requests.Signal()
}
