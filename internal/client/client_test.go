package client

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rotisserie/eris"

	"netsync/internal/entities"
	"netsync/internal/geom"
	"netsync/internal/input"
	"netsync/internal/net/proto"
	"netsync/internal/netid"
	"netsync/internal/reconcile"
	"netsync/internal/replication"
	"netsync/internal/session"
	"netsync/internal/snapshot"
	"netsync/internal/telemetry"
	"netsync/internal/transport"
	"netsync/internal/transport/memory"
	"netsync/internal/wire"
	loggingnetwork "netsync/logging/network"
	loggingreplication "netsync/logging/replication"
	"netsync/logging/sinks"
)

const localEntity netid.EntityID = 2

type rig struct {
	t       *testing.T
	host    *memory.Endpoint
	link    *memory.Endpoint
	client  *Client
	sink    *sinks.MemorySink
	metrics *telemetry.Counters
	move    geom.Vec3
}

func newRig(t *testing.T) *rig {
	t.Helper()
	network := memory.NewNetwork(memory.Options{})
	link, err := network.Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	r := &rig{
		t:       t,
		host:    network.Host(),
		link:    link,
		sink:    sinks.NewMemorySink(),
		metrics: telemetry.NewCounters(nil),
	}
	c, err := New(DefaultConfig(), Deps{
		Transport: link,
		Registry:  entities.NewRegistry(),
		Sampler: SamplerFunc(func(uint64) input.Sample {
			return input.Sample{Move: r.move}
		}),
		Logger:    telemetry.LoggerFunc(t.Logf),
		Publisher: r.sink,
		Metrics:   r.metrics,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	r.client = c
	drain(r.host)
	r.deliver()
	return r
}

func drain(ep *memory.Endpoint) []transport.Event {
	var out []transport.Event
	for {
		select {
		case ev := <-ep.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (r *rig) deliver() {
	for _, ev := range drain(r.link) {
		r.client.Receive(ev)
	}
}

func (r *rig) send(msgs ...proto.Message) {
	r.t.Helper()
	for _, msg := range msgs {
		data, err := proto.Encode(msg)
		if err != nil {
			r.t.Fatalf("encode %s: %v", msg.Kind(), err)
		}
		delivery := transport.Unreliable
		if msg.Kind().Reliable() {
			delivery = transport.Reliable
		}
		if err := r.host.Send(r.link.Self(), data, delivery); err != nil {
			r.t.Fatalf("send %s: %v", msg.Kind(), err)
		}
	}
	r.deliver()
}

// hostMessages decodes what the client sent to the authority.
func (r *rig) hostMessages() []proto.Message {
	r.t.Helper()
	var out []proto.Message
	for _, ev := range drain(r.host) {
		if ev.Kind != transport.EventMessage {
			continue
		}
		msg, err := proto.Decode(ev.Data)
		if err != nil {
			r.t.Fatalf("decode: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func (r *rig) register(tick uint64, extra ...proto.Spawn) {
	r.t.Helper()
	avatar := entities.NewAvatar()
	avatar.Name = "me"
	msgs := []proto.Message{
		proto.RegistrationResult{Result: session.ResultSuccess, Peer: r.link.Self(), Entity: localEntity, Tick: tick},
		proto.EntityCount{Count: uint32(1 + len(extra))},
		spawnOf(r.t, localEntity, entities.TypeAvatar, r.link.Self(), avatar),
	}
	for _, spawn := range extra {
		msgs = append(msgs, spawn)
	}
	r.send(msgs...)
	r.client.Frame(0)
}

func (r *rig) localAvatar() *entities.Avatar {
	r.t.Helper()
	rec, ok := r.client.Replica().Get(localEntity)
	if !ok {
		r.t.Fatalf("local avatar missing")
	}
	return rec.Entity.(*entities.Avatar)
}

func spawnOf(t *testing.T, id netid.EntityID, typ string, owner netid.PeerID, entity replication.Entity) proto.Spawn {
	t.Helper()
	spawn, err := replication.SpawnMessage(replication.Record{ID: id, Type: typ, Owner: owner, Entity: entity})
	if err != nil {
		t.Fatalf("spawn message: %v", err)
	}
	return spawn
}

func stateOf(t *testing.T, entity replication.Entity) []byte {
	t.Helper()
	buf := wire.NewBuffer(32)
	if err := entity.SerializeState(buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

func avatarAt(x, vx float64) *entities.Avatar {
	avatar := entities.NewAvatar()
	avatar.Position = geom.Vec3{X: x}
	avatar.Velocity = geom.Vec3{X: vx}
	return avatar
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}

func TestRegistrationFastForwardsAndCompletesLoading(t *testing.T) {
	r := newRig(t)
	if err := r.client.Join("me"); err != nil {
		t.Fatalf("join: %v", err)
	}
	msgs := r.hostMessages()
	if len(msgs) != 1 {
		t.Fatalf("expected a single ready, got %d messages", len(msgs))
	}
	if ready, ok := msgs[0].(proto.Ready); !ok || ready.Name != "me" || ready.Version != proto.Version {
		t.Fatalf("unexpected ready %+v", msgs[0])
	}

	r.register(40)
	result, err := r.client.AwaitRegistration(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("await registration: %v", err)
	}
	if result.Entity != localEntity || result.Peer != r.link.Self() {
		t.Fatalf("unexpected result %+v", result)
	}
	if r.client.Status() != session.StatusActive {
		t.Fatalf("expected active, got %s", r.client.Status())
	}
	if r.client.CurrentTick() != 40 {
		t.Fatalf("expected fast-forward to 40, got %d", r.client.CurrentTick())
	}

	r.client.Tick(0.1)
	r.client.Tick(0.1)
	if phase := r.client.Replica().Loading().Phase(); phase != replication.PhaseReady {
		t.Fatalf("expected ready, got %s", phase)
	}
	if n := r.sink.Count(loggingreplication.EventLoadingComplete); n != 1 {
		t.Fatalf("expected loading to complete once, got %d", n)
	}

	var inputs []proto.Input
	for _, msg := range r.hostMessages() {
		if in, ok := msg.(proto.Input); ok {
			inputs = append(inputs, in)
		}
	}
	if len(inputs) != 2 {
		t.Fatalf("expected an input packet per tick, got %d", len(inputs))
	}
	if seq := inputs[0].Samples[0].Seq; seq != 41 {
		t.Fatalf("expected first sample stamped 41, got %d", seq)
	}
	if seq := inputs[1].Samples[0].Seq; seq != 42 {
		t.Fatalf("expected resend stamped 42, got %d", seq)
	}
}

func TestAwaitRegistrationFailures(t *testing.T) {
	tests := []struct {
		name   string
		answer func(r *rig)
		want   error
	}{
		{
			name:   "timeout",
			answer: func(*rig) {},
			want:   ErrRegistrationTimeout,
		},
		{
			name: "server full",
			answer: func(r *rig) {
				r.send(proto.RegistrationResult{Result: session.ResultServerFull, Peer: r.link.Self()})
			},
			want: ErrRegistrationRejected,
		},
		{
			name: "disconnected",
			answer: func(r *rig) {
				if err := r.host.Disconnect(r.link.Self(), "shutting down"); err != nil {
					r.t.Fatalf("disconnect: %v", err)
				}
				r.deliver()
			},
			want: ErrDisconnected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			if err := r.client.Join("me"); err != nil {
				t.Fatalf("join: %v", err)
			}
			tt.answer(r)
			_, err := r.client.AwaitRegistration(context.Background(), 20*time.Millisecond)
			if !eris.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPredictionAppliesInputImmediately(t *testing.T) {
	r := newRig(t)
	r.register(0)
	r.move = geom.Vec3{X: 1}

	r.client.Tick(0.1)
	if x := r.localAvatar().Position.X; !approx(x, 0.5) {
		t.Fatalf("expected predicted x 0.5, got %v", x)
	}
	step, ok := r.client.History().At(1)
	if !ok || !step.HasSample || step.Sample.Seq != 1 {
		t.Fatalf("expected tick 1 sample in history, got %+v (ok=%v)", step, ok)
	}
	if _, ok := r.client.Snapshots().EntityAt(1, localEntity); !ok {
		t.Fatalf("expected tick 1 prediction to be recorded")
	}

	r.client.Tick(0.1)
	if step, _ := r.client.History().At(2); step.HasSample {
		t.Fatalf("unchanged intent must not be captured again")
	}
}

func TestReconcileAgainstHeartbeats(t *testing.T) {
	r := newRig(t)
	r.register(0)
	r.move = geom.Vec3{X: 1}
	for i := 0; i < 10; i++ {
		r.client.Tick(0.1)
	}
	if x := r.localAvatar().Position.X; !approx(x, 5) {
		t.Fatalf("expected predicted x 5 after ten ticks, got %v", x)
	}

	r.send(proto.Heartbeat{
		Tick:     5,
		HasAck:   true,
		Ack:      5,
		HasState: true,
		State:    snapshot.WorldState{localEntity: stateOf(t, avatarAt(4.5, 5))},
	})
	r.client.Tick(0.1)

	res := r.client.LastReconcile()
	if res.Outcome != reconcile.OutcomeRewound || res.Replayed != 6 {
		t.Fatalf("expected a rewind replaying six ticks, got %+v", res)
	}
	if x := r.localAvatar().Position.X; !approx(x, 7.5) {
		t.Fatalf("expected corrected x 7.5, got %v", x)
	}
	if v := r.metrics.Value(telemetry.KeyRewinds); v != 1 {
		t.Fatalf("expected one rewind, got %d", v)
	}

	r.send(proto.Heartbeat{
		Tick:     6,
		HasAck:   true,
		Ack:      6,
		HasState: true,
		State:    snapshot.WorldState{localEntity: stateOf(t, avatarAt(5.1, 5))},
	})
	r.client.Tick(0.1)
	res = r.client.LastReconcile()
	if res.Outcome != reconcile.OutcomeAccepted {
		t.Fatalf("expected the rewritten prediction to be accepted, got %+v", res)
	}
	if x := r.localAvatar().Position.X; !approx(x, 8) {
		t.Fatalf("accepted prediction must stay untouched, got %v", x)
	}
	if m := r.client.Multiplier(); m != 1 {
		t.Fatalf("expected multiplier 1 for a lead of one tick, got %v", m)
	}
}

func TestHeartbeatsProcessedOnePerTick(t *testing.T) {
	r := newRig(t)
	r.register(10)
	r.send(
		proto.Heartbeat{Tick: 3},
		proto.Heartbeat{Tick: 4},
		proto.Heartbeat{Tick: 2},
		proto.Heartbeat{Tick: 5},
	)
	if n := r.client.PendingHeartbeats(); n != 4 {
		t.Fatalf("expected four queued heartbeats, got %d", n)
	}

	r.client.Tick(0.1)
	if r.client.LastServerTick() != 3 || r.client.PendingHeartbeats() != 3 {
		t.Fatalf("expected tick 3 processed alone, got last=%d pending=%d", r.client.LastServerTick(), r.client.PendingHeartbeats())
	}
	r.client.Tick(0.1)
	if r.client.LastServerTick() != 4 {
		t.Fatalf("expected tick 4, got %d", r.client.LastServerTick())
	}
	r.client.Tick(0.1)
	if r.client.LastServerTick() != 5 || r.client.PendingHeartbeats() != 0 {
		t.Fatalf("expected stale tick 2 skipped and tick 5 processed, got last=%d pending=%d", r.client.LastServerTick(), r.client.PendingHeartbeats())
	}
	if n := r.sink.Count(loggingnetwork.EventHeartbeatSkipped); n != 1 {
		t.Fatalf("expected one skipped heartbeat, got %d", n)
	}
	if v := r.metrics.Value(telemetry.KeyHeartbeatsApplied); v != 3 {
		t.Fatalf("expected three applied heartbeats, got %d", v)
	}
}

func TestHeartbeatAheadFastForwards(t *testing.T) {
	r := newRig(t)
	r.register(10)
	r.send(proto.Heartbeat{Tick: 50})
	r.client.Tick(0.1)
	if tick := r.client.CurrentTick(); tick != 50 {
		t.Fatalf("expected fast-forward to 50, got %d", tick)
	}
	r.client.Tick(0.1)
	if tick := r.client.CurrentTick(); tick != 51 {
		t.Fatalf("expected 51, got %d", tick)
	}
}

func TestRemoteInterpolationIgnoresDuplicateHeartbeats(t *testing.T) {
	const remote netid.EntityID = 3
	r := newRig(t)
	r.register(10, spawnOf(t, remote, entities.TypeAvatar, 9, entities.NewAvatar()))

	r.send(proto.Heartbeat{Tick: 5, HasState: true, State: snapshot.WorldState{remote: stateOf(t, avatarAt(1, 0))}})
	r.client.Tick(0.1)
	rec, ok := r.client.Replica().Get(remote)
	if !ok {
		t.Fatalf("remote avatar missing")
	}
	avatar := rec.Entity.(*entities.Avatar)
	if !approx(avatar.Position.X, 1) {
		t.Fatalf("expected first state applied directly, got %v", avatar.Position)
	}

	second := proto.Heartbeat{Tick: 6, HasState: true, State: snapshot.WorldState{remote: stateOf(t, avatarAt(2, 0))}}
	r.send(second, second)
	r.client.Tick(0.1)
	buf, ok := r.client.Interpolation().Get(remote)
	if !ok {
		t.Fatalf("expected an interpolation buffer")
	}
	target, _ := buf.Target()
	if buf.Len() != 1 || !approx(target.Position.X, 2) {
		t.Fatalf("expected one target at x=2, got len=%d target=%v", buf.Len(), target.Position)
	}
	if !approx(avatar.Position.X, 1) {
		t.Fatalf("displayed position must not jump to the target, got %v", avatar.Position)
	}

	r.client.Tick(0.1)
	target, _ = buf.Target()
	if buf.Len() != 1 || !approx(target.Position.X, 2) {
		t.Fatalf("duplicate heartbeat changed the target: len=%d target=%v", buf.Len(), target.Position)
	}

	r.client.Frame(r.client.clock.Interval() / 2)
	if !approx(avatar.Position.X, 1.5) {
		t.Fatalf("expected blended x 1.5, got %v", avatar.Position.X)
	}
}

func TestUnknownEntityRequestsSpawn(t *testing.T) {
	const missing netid.EntityID = 9
	r := newRig(t)
	r.register(10)
	r.client.Tick(0.1)
	r.hostMessages()

	r.send(proto.Heartbeat{Tick: 5, HasState: true, State: snapshot.WorldState{missing: {0x01}}})
	r.client.Tick(0.1)
	r.send(proto.Heartbeat{Tick: 6, HasState: true, State: snapshot.WorldState{missing: {0x01}}})
	r.client.Tick(0.1)

	requests := 0
	for _, msg := range r.hostMessages() {
		if req, ok := msg.(proto.SpawnRequest); ok {
			if req.Entity != missing {
				t.Fatalf("unexpected request for %s", req.Entity)
			}
			requests++
		}
	}
	if requests != 1 {
		t.Fatalf("expected one spawn request, got %d", requests)
	}
	if n := r.sink.Count(loggingreplication.EventUnknownEntity); n != 1 {
		t.Fatalf("expected one unknown entity event, got %d", n)
	}
	if signal := r.client.SpawnRequests(); signal.Pending != 1 {
		t.Fatalf("expected one pending request, got %+v", signal)
	}

	r.send(spawnOf(t, missing, entities.TypeBeacon, netid.HostPeer, entities.NewBeacon()))
	r.client.Frame(0)
	if signal := r.client.SpawnRequests(); signal.Pending != 0 {
		t.Fatalf("expected the spawn to resolve the request, got %+v", signal)
	}
	if _, ok := r.client.Replica().Get(missing); !ok {
		t.Fatalf("expected the requested entity to exist")
	}
}

func TestNoSpawnRequestsWhileLoading(t *testing.T) {
	r := newRig(t)
	r.send(
		proto.RegistrationResult{Result: session.ResultSuccess, Peer: r.link.Self(), Entity: localEntity},
		proto.EntityCount{Count: 5},
	)
	r.client.Frame(0)
	r.client.Tick(0.1)
	r.hostMessages()

	r.send(proto.Heartbeat{Tick: 0, HasState: true, State: snapshot.WorldState{7: {0x01}}})
	r.client.Tick(0.1)
	for _, msg := range r.hostMessages() {
		if _, ok := msg.(proto.SpawnRequest); ok {
			t.Fatalf("spawn requested during catch-up")
		}
	}
	if phase := r.client.Replica().Loading().Phase(); phase != replication.PhaseLoading {
		t.Fatalf("expected loading, got %s", phase)
	}
}

func TestKickEndsSession(t *testing.T) {
	r := newRig(t)
	r.register(0)
	events, cancel := r.client.Bus().Subscribe(8)
	defer cancel()

	r.send(proto.Kick{Reason: "afk"})
	if err := r.host.Disconnect(r.link.Self(), "kicked: afk"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	r.deliver()
	r.client.Frame(0)

	if reason, kicked := r.client.Kicked(); !kicked || reason != "afk" {
		t.Fatalf("expected kick reason afk, got %q", reason)
	}
	if r.client.Connected() {
		t.Fatalf("expected the link to be closed")
	}
	if r.client.Status() != session.StatusLeaving {
		t.Fatalf("expected leaving, got %s", r.client.Status())
	}
	select {
	case ev := <-events:
		if ev.Kind != replication.EventPeerLeft || ev.Reason != "kicked: afk" {
			t.Fatalf("unexpected bus event %+v", ev)
		}
	default:
		t.Fatalf("expected a peer left event")
	}

	tick := r.client.CurrentTick()
	r.client.Tick(0.1)
	if r.client.CurrentTick() != tick+1 {
		t.Fatalf("ticks keep running after a kick")
	}
}

func TestMembershipMessagesReachBus(t *testing.T) {
	r := newRig(t)
	r.register(0)
	events, cancel := r.client.Bus().Subscribe(8)
	defer cancel()

	r.send(
		proto.PlayerConnected{Peer: 5, Name: "bob"},
		proto.StatusChanged{Peer: 5, Status: session.StatusActive},
		proto.PlayerDisconnected{Peer: 5, Reason: "quit"},
	)
	r.client.Frame(0)

	want := []replication.EventKind{replication.EventPeerJoined, replication.EventStatusChanged, replication.EventPeerLeft}
	for i, kind := range want {
		select {
		case ev := <-events:
			if ev.Kind != kind || ev.Peer != 5 {
				t.Fatalf("event %d: expected %s for peer 5, got %+v", i, kind, ev)
			}
		default:
			t.Fatalf("event %d: expected %s", i, kind)
		}
	}
	if players := r.client.Players(); len(players) != 0 {
		t.Fatalf("expected bob to be gone, got %v", players)
	}
}

func TestMalformedPacketDropped(t *testing.T) {
	r := newRig(t)
	r.register(0)
	if err := r.host.Send(r.link.Self(), []byte{0xee}, transport.Reliable); err != nil {
		t.Fatalf("send: %v", err)
	}
	r.deliver()
	r.client.Frame(0)
	if v := r.metrics.Value(telemetry.KeyMalformedPackets); v != 1 {
		t.Fatalf("expected one malformed packet, got %d", v)
	}
	if r.client.Replica().Len() != 1 {
		t.Fatalf("malformed packet changed the replica")
	}
}
