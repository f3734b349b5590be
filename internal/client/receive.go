package client

import (
	"context"

	"github.com/rotisserie/eris"

	"netsync/internal/net/proto"
	"netsync/internal/netid"
	"netsync/internal/replication"
	"netsync/internal/session"
	"netsync/internal/telemetry"
	"netsync/internal/transport"
	"netsync/logging"
	logginglifecycle "netsync/logging/lifecycle"
	loggingnetwork "netsync/logging/network"
	loggingreplication "netsync/logging/replication"
)

// Receive handles one transport event. Heartbeats go to the heartbeat
// queue; other messages are held for the simulation goroutine. A
// registration answer also releases AwaitRegistration.
func (c *Client) Receive(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		c.logger.Printf("connected to %s (token %s)", ev.Peer, ev.Token)
	case transport.EventDisconnected:
		reason := ev.Reason
		if reason == "" {
			reason = "connection closed"
		}
		c.finishRegistration(proto.RegistrationResult{}, eris.Wrapf(ErrDisconnected, "%s", reason))
		c.enqueue(control{disconnected: true, reason: reason})
	case transport.EventMessage:
		c.receiveMessage(ev.Data)
	}
}

func (c *Client) receiveMessage(data []byte) {
	ctx := context.Background()
	c.metrics.Add(telemetry.KeyBytesReceived, uint64(len(data)))
	msg, err := proto.Decode(data)
	if err != nil {
		c.malformed(ctx, data, err.Error())
		return
	}
	switch m := msg.(type) {
	case proto.Heartbeat:
		c.inboxMu.Lock()
		c.heartbeats = append(c.heartbeats, m)
		c.inboxMu.Unlock()
	case proto.RegistrationResult:
		if m.Result.OK() {
			c.finishRegistration(m, nil)
		} else {
			c.finishRegistration(m, eris.Wrapf(ErrRegistrationRejected, "%s", m.Result))
		}
		c.enqueue(control{msg: m})
	case proto.Input, proto.Ready, proto.SpawnRequest:
		c.malformed(ctx, data, "unexpected "+msg.Kind().String())
	default:
		c.enqueue(control{msg: msg})
	}
}

func (c *Client) malformed(ctx context.Context, data []byte, reason string) {
	kind, _ := proto.PeekKind(data)
	loggingnetwork.PacketMalformed(ctx, c.publisher, c.tick.Load(), logging.PeerRef(netid.HostPeer), loggingnetwork.MalformedPayload{
		Kind:   kind.String(),
		Bytes:  len(data),
		Reason: reason,
	}, nil)
	c.metrics.Add(telemetry.KeyMalformedPackets, 1)
}

func (c *Client) enqueue(ctl control) {
	c.inboxMu.Lock()
	c.controls = append(c.controls, ctl)
	c.inboxMu.Unlock()
}

func (c *Client) drainControls() {
	c.inboxMu.Lock()
	pending := c.controls
	c.controls = nil
	c.inboxMu.Unlock()

	ctx := context.Background()
	for _, ctl := range pending {
		if ctl.disconnected {
			c.handleDisconnected(ctx, ctl.reason)
			continue
		}
		switch m := ctl.msg.(type) {
		case proto.RegistrationResult:
			c.handleRegistration(ctx, m)
		case proto.Spawn:
			c.handleSpawn(ctx, m)
		case proto.Despawn:
			c.handleDespawn(ctx, m.Entity)
		case proto.EntityCount:
			c.replica.Expect(int(m.Count))
		case proto.PlayerConnected:
			c.players[m.Peer] = m.Name
			c.bus.Publish(replication.Event{Kind: replication.EventPeerJoined, Tick: c.tick.Load(), Peer: m.Peer})
		case proto.PlayerDisconnected:
			delete(c.players, m.Peer)
			c.bus.Publish(replication.Event{Kind: replication.EventPeerLeft, Tick: c.tick.Load(), Peer: m.Peer, Reason: m.Reason})
		case proto.StatusChanged:
			if m.Peer == c.self {
				c.advance(ctx, m.Status)
			}
			c.bus.Publish(replication.Event{Kind: replication.EventStatusChanged, Tick: c.tick.Load(), Peer: m.Peer, Status: m.Status})
		case proto.Kick:
			c.kicked = m.Reason
			logginglifecycle.PeerKicked(ctx, c.publisher, c.tick.Load(), logging.PeerRef(c.self), logginglifecycle.DisconnectedPayload{
				Reason: m.Reason,
				Entity: uint32(c.entity),
			}, nil)
			c.logger.Printf("kicked by the authority: %s", m.Reason)
		}
	}
}

func (c *Client) handleRegistration(ctx context.Context, m proto.RegistrationResult) {
	if !m.Result.OK() {
		logginglifecycle.RegistrationRejected(ctx, c.publisher, c.tick.Load(), logging.PeerRef(m.Peer), logginglifecycle.RejectedPayload{Result: m.Result.String()}, nil)
		c.logger.Printf("registration rejected: %s", m.Result)
		return
	}
	c.self = m.Peer
	c.entity = m.Entity
	if m.Tick > c.tick.Load() {
		c.tick.Store(m.Tick)
	}
	c.advance(ctx, session.StatusActive)
	logginglifecycle.PeerRegistered(ctx, c.publisher, c.tick.Load(), logging.PeerRef(m.Peer), logginglifecycle.RegisteredPayload{Entity: uint32(m.Entity)}, nil)
	c.logger.Printf("registered as %s controlling %s at tick %d", m.Peer, m.Entity, m.Tick)
}

func (c *Client) advance(ctx context.Context, next session.Status) {
	if !c.status.CanAdvance(next) {
		return
	}
	prev := c.status
	c.status = next
	logginglifecycle.StatusChanged(ctx, c.publisher, c.tick.Load(), logging.PeerRef(c.self), logginglifecycle.StatusPayload{
		From: prev.String(),
		To:   next.String(),
	}, nil)
}

func (c *Client) handleSpawn(ctx context.Context, m proto.Spawn) {
	rec, created, err := c.replica.ApplySpawn(m)
	if err != nil {
		loggingnetwork.PacketMalformed(ctx, c.publisher, c.tick.Load(), logging.PeerRef(netid.HostPeer), loggingnetwork.MalformedPayload{
			Kind:   m.Kind().String(),
			Reason: err.Error(),
		}, nil)
		c.metrics.Add(telemetry.KeyMalformedPackets, 1)
		return
	}
	c.requests.Resolve(m.Entity)
	if !created {
		return
	}
	loggingreplication.EntitySpawned(ctx, c.publisher, c.tick.Load(), logging.ReplicatedRef(rec.ID), loggingreplication.EntityPayload{
		Type:  rec.Type,
		Owner: int32(rec.Owner),
	}, nil)
}

func (c *Client) handleDespawn(ctx context.Context, id netid.EntityID) {
	c.requests.Resolve(id)
	c.interp.Remove(id)
	rec, ok := c.replica.ApplyDespawn(id)
	if !ok {
		return
	}
	if id == c.entity {
		c.entity = netid.NoEntity
	}
	loggingreplication.EntityDespawned(ctx, c.publisher, c.tick.Load(), logging.ReplicatedRef(id), loggingreplication.EntityPayload{
		Type:  rec.Type,
		Owner: int32(rec.Owner),
	}, nil)
}

func (c *Client) handleDisconnected(ctx context.Context, reason string) {
	if !c.connected {
		return
	}
	c.connected = false
	c.advance(ctx, session.StatusLeaving)
	c.outbox.Reset()
	logginglifecycle.PeerDisconnected(ctx, c.publisher, c.tick.Load(), logging.PeerRef(c.self), logginglifecycle.DisconnectedPayload{
		Reason: reason,
		Entity: uint32(c.entity),
	}, nil)
	c.bus.Publish(replication.Event{Kind: replication.EventPeerLeft, Tick: c.tick.Load(), Peer: c.self, Entity: c.entity, Reason: reason})
	c.logger.Printf("disconnected: %s", reason)
}
