package server

import (
	"testing"

	"netsync/internal/entities"
	"netsync/internal/geom"
	"netsync/internal/input"
	"netsync/internal/net/proto"
	"netsync/internal/netid"
	"netsync/internal/replication"
	"netsync/internal/session"
	"netsync/internal/telemetry"
	"netsync/internal/transport"
	"netsync/internal/transport/memory"
	loggingnetwork "netsync/logging/network"
	logginglifecycle "netsync/logging/lifecycle"
	loggingreplication "netsync/logging/replication"
	"netsync/logging/sinks"
)

type harness struct {
	t       *testing.T
	network *memory.Network
	auth    *Authority
	sink    *sinks.MemorySink
	metrics *telemetry.Counters
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	network := memory.NewNetwork(memory.Options{})
	sink := sinks.NewMemorySink()
	metrics := telemetry.NewCounters(nil)
	auth, err := New(cfg, Deps{
		Transport: network.Host(),
		Spawner: func(peer netid.PeerID, name string) (string, replication.Entity, error) {
			avatar := entities.NewAvatar()
			avatar.Name = name
			return entities.TypeAvatar, avatar, nil
		},
		Logger:    telemetry.LoggerFunc(t.Logf),
		Publisher: sink,
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}
	return &harness{t: t, network: network, auth: auth, sink: sink, metrics: metrics}
}

func (h *harness) pump() {
	for _, ev := range collect(h.network.Host()) {
		h.auth.Receive(ev)
	}
}

// frame handles pending control traffic without running a tick.
func (h *harness) frame() {
	h.pump()
	h.auth.Frame(0)
}

func (h *harness) tick() {
	h.pump()
	h.auth.Frame(h.auth.clock.Interval())
}

func (h *harness) connect() *memory.Endpoint {
	h.t.Helper()
	client, err := h.network.Connect()
	if err != nil {
		h.t.Fatalf("connect: %v", err)
	}
	collect(client)
	return client
}

func (h *harness) join(name string) (*memory.Endpoint, proto.RegistrationResult) {
	h.t.Helper()
	client := h.connect()
	sendTo(h.t, client, proto.Ready{Name: name, Version: proto.Version})
	h.frame()
	for _, msg := range messages(h.t, collect(client)) {
		if result, ok := msg.(proto.RegistrationResult); ok {
			return client, result
		}
	}
	h.t.Fatalf("%s: no registration result", name)
	return nil, proto.RegistrationResult{}
}

func collect(ep *memory.Endpoint) []transport.Event {
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

func messages(t *testing.T, events []transport.Event) []proto.Message {
	t.Helper()
	var out []proto.Message
	for _, ev := range events {
		if ev.Kind != transport.EventMessage {
			continue
		}
		msg, err := proto.Decode(ev.Data)
		if err != nil {
			t.Fatalf("decode %x: %v", ev.Data, err)
		}
		out = append(out, msg)
	}
	return out
}

func disconnectReason(events []transport.Event) (string, bool) {
	for _, ev := range events {
		if ev.Kind == transport.EventDisconnected {
			return ev.Reason, true
		}
	}
	return "", false
}

func sendTo(t *testing.T, client *memory.Endpoint, msg proto.Message) {
	t.Helper()
	data, err := proto.Encode(msg)
	if err != nil {
		t.Fatalf("encode %s: %v", msg.Kind(), err)
	}
	delivery := transport.Unreliable
	if msg.Kind().Reliable() {
		delivery = transport.Reliable
	}
	if err := client.Send(netid.HostPeer, data, delivery); err != nil {
		t.Fatalf("send %s: %v", msg.Kind(), err)
	}
}

func kinds(msgs []proto.Message) []proto.Kind {
	out := make([]proto.Kind, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.Kind()
	}
	return out
}

func TestRegistrationSendsCatchUpBurst(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	events, cancel := h.auth.Bus().Subscribe(16)
	defer cancel()

	beacon, err := h.auth.Spawn(entities.TypeBeacon, netid.HostPeer, entities.NewBeacon())
	if err != nil {
		t.Fatalf("spawn beacon: %v", err)
	}

	alice := h.connect()
	sendTo(t, alice, proto.Ready{Name: "alice", Version: proto.Version})
	h.frame()

	msgs := messages(t, collect(alice))
	want := []proto.Kind{
		proto.KindRegistrationResult,
		proto.KindEntityCount,
		proto.KindSpawn,
		proto.KindSpawn,
		proto.KindStatusChanged,
	}
	got := kinds(msgs)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	result := msgs[0].(proto.RegistrationResult)
	if result.Result != session.ResultSuccess || result.Peer != alice.Self() {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Entity == netid.NoEntity || result.Entity == beacon.ID {
		t.Fatalf("expected a fresh avatar id, got %s", result.Entity)
	}
	if count := msgs[1].(proto.EntityCount); count.Count != 2 {
		t.Fatalf("expected entity count 2, got %d", count.Count)
	}
	if first := msgs[2].(proto.Spawn); first.Entity != beacon.ID || first.Type != entities.TypeBeacon {
		t.Fatalf("expected beacon spawn first, got %+v", first)
	}
	if second := msgs[3].(proto.Spawn); second.Entity != result.Entity || second.Owner != alice.Self() {
		t.Fatalf("expected own avatar spawn, got %+v", second)
	}
	if status := msgs[4].(proto.StatusChanged); status.Peer != alice.Self() || status.Status != session.StatusActive {
		t.Fatalf("unexpected status change %+v", status)
	}

	if !h.auth.Roster().IsActive(alice.Self()) {
		t.Fatalf("expected alice to be active")
	}
	if _, ok := h.auth.Queues().Get(alice.Self()); !ok {
		t.Fatalf("expected an input queue for alice")
	}
	if n := h.sink.Count(logginglifecycle.EventPeerRegistered); n != 1 {
		t.Fatalf("expected one registration event, got %d", n)
	}

	joined := 0
	for {
		select {
		case ev := <-events:
			if ev.Kind == replication.EventPeerJoined && ev.Peer == alice.Self() {
				joined++
			}
			continue
		default:
		}
		break
	}
	if joined != 1 {
		t.Fatalf("expected one peer joined bus event, got %d", joined)
	}
}

func TestRegistrationAnnouncesNewMemberToOthers(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	alice, _ := h.join("alice")
	collect(alice)

	bob, result := h.join("bob")

	aliceMsgs := messages(t, collect(alice))
	want := []proto.Kind{proto.KindSpawn, proto.KindPlayerConnected, proto.KindStatusChanged}
	got := kinds(aliceMsgs)
	if len(got) != len(want) {
		t.Fatalf("alice expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("alice message %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if spawn := aliceMsgs[0].(proto.Spawn); spawn.Entity != result.Entity {
		t.Fatalf("expected bob's avatar spawn, got %+v", spawn)
	}
	if joined := aliceMsgs[1].(proto.PlayerConnected); joined.Peer != bob.Self() || joined.Name != "bob" {
		t.Fatalf("unexpected player connected %+v", joined)
	}

	// bob's own burst was consumed by join; the roster tells the rest.
	members := h.auth.Roster().Members()
	if len(members) != 2 {
		t.Fatalf("expected two members, got %d", len(members))
	}
}

func TestRegistrationRejections(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		second string
		want   session.Result
	}{
		{name: "server full", cfg: Config{MaxPeers: 1}, second: "carol", want: session.ResultServerFull},
		{name: "duplicate name", cfg: Config{MaxPeers: 4}, second: "alice", want: session.ResultDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.cfg)
			h.join("alice")

			client := h.connect()
			sendTo(t, client, proto.Ready{Name: tt.second, Version: proto.Version})
			h.frame()

			events := collect(client)
			msgs := messages(t, events)
			if len(msgs) != 1 {
				t.Fatalf("expected only the registration result, got %v", kinds(msgs))
			}
			result, ok := msgs[0].(proto.RegistrationResult)
			if !ok || result.Result != tt.want {
				t.Fatalf("expected %s, got %+v", tt.want, msgs[0])
			}
			reason, closed := disconnectReason(events)
			if !closed || reason != tt.want.String() {
				t.Fatalf("expected disconnect with %q, got %q (closed=%v)", tt.want, reason, closed)
			}
			if _, ok := h.auth.Roster().Get(client.Self()); ok {
				t.Fatalf("rejected peer must not be in the roster")
			}
			if !h.auth.Queues().Revoked(client.Self()) {
				t.Fatalf("rejected peer's queue should be revoked")
			}
			if n := h.sink.Count(logginglifecycle.EventRegistrationRejected); n != 1 {
				t.Fatalf("expected one rejection event, got %d", n)
			}

			// the host-side disconnect for the rejected peer is a no-op
			h.frame()
			if h.auth.Roster().Len() != 1 {
				t.Fatalf("expected alice to remain, roster has %d", h.auth.Roster().Len())
			}
		})
	}
}

func TestVersionMismatchIsKicked(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	client := h.connect()
	sendTo(t, client, proto.Ready{Name: "old", Version: proto.Version + 1})
	h.frame()

	events := collect(client)
	msgs := messages(t, events)
	if len(msgs) != 1 {
		t.Fatalf("expected a single kick, got %v", kinds(msgs))
	}
	if kick, ok := msgs[0].(proto.Kick); !ok || kick.Reason != ReasonVersionMismatch {
		t.Fatalf("expected version kick, got %+v", msgs[0])
	}
	if _, closed := disconnectReason(events); !closed {
		t.Fatalf("expected the link to be closed")
	}
	if h.auth.Roster().Len() != 0 {
		t.Fatalf("expected empty roster")
	}
}

func TestDisconnectDespawnsOnceAndRevokesQueue(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	alice, _ := h.join("alice")
	bob, bobResult := h.join("bob")
	collect(alice)

	if err := bob.Close(); err != nil {
		t.Fatalf("close bob: %v", err)
	}
	h.frame()

	msgs := messages(t, collect(alice))
	despawns := 0
	left := 0
	for _, msg := range msgs {
		switch m := msg.(type) {
		case proto.Despawn:
			if m.Entity != bobResult.Entity {
				t.Fatalf("unexpected despawn of %s", m.Entity)
			}
			despawns++
		case proto.PlayerDisconnected:
			if m.Peer != bob.Self() {
				t.Fatalf("unexpected player disconnected %+v", m)
			}
			left++
		}
	}
	if despawns != 1 || left != 1 {
		t.Fatalf("expected one despawn and one departure, got %d and %d", despawns, left)
	}
	if _, ok := h.auth.Directory().Get(bobResult.Entity); ok {
		t.Fatalf("bob's avatar should be gone")
	}
	if _, ok := h.auth.Queues().Get(bob.Self()); ok {
		t.Fatalf("bob's queue should be removed")
	}

	stray, err := proto.Encode(proto.Input{Samples: []input.Sample{{Seq: 9, Move: geom.Vec3{X: 1}}}})
	if err != nil {
		t.Fatalf("encode input: %v", err)
	}
	h.auth.Receive(transport.Event{Kind: transport.EventMessage, Peer: bob.Self(), Data: stray})
	if _, ok := h.auth.Queues().Get(bob.Self()); ok {
		t.Fatalf("stray input must not recreate the queue")
	}
	if n := h.sink.Count(loggingnetwork.EventStrayPacket); n != 1 {
		t.Fatalf("expected one stray packet event, got %d", n)
	}
	if v := h.metrics.Value(telemetry.KeyPacketsDropped); v != 1 {
		t.Fatalf("expected one dropped packet, got %d", v)
	}

	h.tick()
	for _, msg := range messages(t, collect(alice)) {
		switch m := msg.(type) {
		case proto.Despawn:
			t.Fatalf("despawn announced twice: %+v", m)
		case proto.Heartbeat:
			if _, ok := m.State[bobResult.Entity]; ok {
				t.Fatalf("heartbeat still carries bob's avatar")
			}
		}
	}
	if n := h.sink.Count(loggingreplication.EventEntityDespawned); n != 1 {
		t.Fatalf("expected one despawn event, got %d", n)
	}
}

func TestTickAppliesInputAndAcknowledges(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	alice, result := h.join("alice")
	bob, _ := h.join("bob")
	collect(alice)

	sendTo(t, alice, proto.Input{Samples: []input.Sample{
		{Seq: 1, Move: geom.Vec3{X: 1}},
		{Seq: 2, Move: geom.Vec3{X: 1}},
	}})
	h.tick()

	rec, ok := h.auth.Directory().Get(result.Entity)
	if !ok {
		t.Fatalf("alice's avatar missing")
	}
	avatar := rec.Entity.(*entities.Avatar)
	if avatar.Velocity.X != entities.DefaultAvatarSpeed {
		t.Fatalf("expected velocity %v, got %v", entities.DefaultAvatarSpeed, avatar.Velocity.X)
	}
	if avatar.Position.X <= 0 {
		t.Fatalf("expected the avatar to move, got %v", avatar.Position)
	}

	aliceMsgs := messages(t, collect(alice))
	if len(aliceMsgs) != 1 {
		t.Fatalf("expected one heartbeat for alice, got %v", kinds(aliceMsgs))
	}
	hb := aliceMsgs[0].(proto.Heartbeat)
	if hb.Tick != 1 || !hb.HasAck || hb.Ack != 2 {
		t.Fatalf("unexpected heartbeat %+v", hb)
	}
	if _, ok := hb.State[result.Entity]; !ok {
		t.Fatalf("heartbeat is missing alice's avatar")
	}

	bobMsgs := messages(t, collect(bob))
	if len(bobMsgs) != 1 {
		t.Fatalf("expected one heartbeat for bob, got %v", kinds(bobMsgs))
	}
	if bobHB := bobMsgs[0].(proto.Heartbeat); bobHB.HasAck {
		t.Fatalf("bob sent no input and must not be acknowledged: %+v", bobHB)
	}
	if v := h.metrics.Value(telemetry.KeyHeartbeatsSent); v != 2 {
		t.Fatalf("expected two heartbeats sent, got %d", v)
	}
	if !h.auth.Snapshots().Has(1) {
		t.Fatalf("expected tick 1 to be recorded")
	}

	// a resent sample is stale and silently ignored
	sendTo(t, alice, proto.Input{Samples: []input.Sample{{Seq: 2, Move: geom.Vec3{X: 1}}}})
	h.tick()
	hb = messages(t, collect(alice))[0].(proto.Heartbeat)
	if hb.Tick != 2 || hb.Ack != 2 {
		t.Fatalf("unexpected second heartbeat %+v", hb)
	}
	if n := h.sink.Count(loggingnetwork.EventInputRejected); n != 0 {
		t.Fatalf("stale samples must not be reported, got %d events", n)
	}
}

func TestSpawnRequests(t *testing.T) {
	h := newHarness(t, Config{SpawnRequestRate: 0.001, SpawnRequestBurst: 2})
	beacon, err := h.auth.Spawn(entities.TypeBeacon, netid.HostPeer, entities.NewBeacon())
	if err != nil {
		t.Fatalf("spawn beacon: %v", err)
	}
	alice, _ := h.join("alice")
	collect(alice)

	sendTo(t, alice, proto.SpawnRequest{Entity: beacon.ID})
	sendTo(t, alice, proto.SpawnRequest{Entity: 99})
	sendTo(t, alice, proto.SpawnRequest{Entity: beacon.ID})
	h.frame()

	msgs := messages(t, collect(alice))
	if len(msgs) != 2 {
		t.Fatalf("expected two answers, got %v", kinds(msgs))
	}
	if spawn, ok := msgs[0].(proto.Spawn); !ok || spawn.Entity != beacon.ID {
		t.Fatalf("expected beacon spawn, got %+v", msgs[0])
	}
	if despawn, ok := msgs[1].(proto.Despawn); !ok || despawn.Entity != 99 {
		t.Fatalf("expected despawn of unknown entity, got %+v", msgs[1])
	}
	if n := h.sink.Count(loggingreplication.EventSpawnRequestThrottled); n != 1 {
		t.Fatalf("expected one throttled request, got %d", n)
	}
	if v := h.metrics.Value(telemetry.KeySpawnRequests); v != 2 {
		t.Fatalf("expected two served requests, got %d", v)
	}
}

func TestKickRemovesPeer(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	alice, result := h.join("alice")
	collect(alice)

	h.auth.Kick(alice.Self(), "afk")
	h.frame()

	events := collect(alice)
	msgs := messages(t, events)
	if len(msgs) == 0 {
		t.Fatalf("expected a kick notice")
	}
	if kick, ok := msgs[0].(proto.Kick); !ok || kick.Reason != "afk" {
		t.Fatalf("expected kick notice, got %+v", msgs[0])
	}
	reason, closed := disconnectReason(events)
	if !closed || reason != "kicked: afk" {
		t.Fatalf("unexpected disconnect %q (closed=%v)", reason, closed)
	}
	if h.auth.Roster().Len() != 0 {
		t.Fatalf("expected empty roster")
	}
	if _, ok := h.auth.Directory().Get(result.Entity); ok {
		t.Fatalf("kicked peer's avatar should be despawned")
	}
	if n := h.sink.Count(logginglifecycle.EventPeerKicked); n != 1 {
		t.Fatalf("expected one kick event, got %d", n)
	}

	h.frame()
	if n := h.sink.Count(logginglifecycle.EventPeerDisconnected); n != 0 {
		t.Fatalf("kicked peer must not be reported twice, got %d", n)
	}
}

func TestMalformedPacketsAreDropped(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	alice, _ := h.join("alice")

	if err := alice.Send(netid.HostPeer, []byte{0xff, 0x01}, transport.Reliable); err != nil {
		t.Fatalf("send: %v", err)
	}
	sendTo(t, alice, proto.Heartbeat{Tick: 4})
	h.frame()

	if n := h.sink.Count(loggingnetwork.EventPacketMalformed); n != 2 {
		t.Fatalf("expected two malformed packets, got %d", n)
	}
	if v := h.metrics.Value(telemetry.KeyMalformedPackets); v != 2 {
		t.Fatalf("expected malformed counter 2, got %d", v)
	}
	if !h.auth.Roster().IsActive(alice.Self()) {
		t.Fatalf("malformed packets must not affect membership")
	}
}

func TestNewRequiresSpawner(t *testing.T) {
	network := memory.NewNetwork(memory.Options{})
	if _, err := New(DefaultConfig(), Deps{Transport: network.Host()}); err != ErrNoSpawner {
		t.Fatalf("expected ErrNoSpawner, got %v", err)
	}
}
