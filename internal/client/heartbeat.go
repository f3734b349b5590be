package client

import (
	"context"

	"netsync/internal/input"
	"netsync/internal/net/proto"
	"netsync/internal/netid"
	"netsync/internal/replication"
	"netsync/internal/telemetry"
	"netsync/internal/wire"
	"netsync/logging"
	loggingnetwork "netsync/logging/network"
	loggingprediction "netsync/logging/prediction"
	loggingreplication "netsync/logging/replication"
)

// nextHeartbeat pops the oldest queued heartbeat that is newer than the last
// one processed. Older ones are discarded on the way.
func (c *Client) nextHeartbeat(ctx context.Context, current uint64) (proto.Heartbeat, bool) {
	for {
		c.inboxMu.Lock()
		if len(c.heartbeats) == 0 {
			c.inboxMu.Unlock()
			return proto.Heartbeat{}, false
		}
		hb := c.heartbeats[0]
		c.heartbeats[0] = proto.Heartbeat{}
		c.heartbeats = c.heartbeats[1:]
		c.inboxMu.Unlock()

		if c.hasProcessed && hb.Tick <= c.processed {
			loggingnetwork.HeartbeatSkipped(ctx, c.publisher, current, logging.PeerRef(netid.HostPeer), loggingnetwork.HeartbeatSkippedPayload{
				Tick:      hb.Tick,
				Processed: c.processed,
			}, nil)
			c.metrics.Add(telemetry.KeyHeartbeatsStale, 1)
			continue
		}
		return hb, true
	}
}

// processHeartbeat consumes at most one heartbeat. A heartbeat at or past
// the local tick fast-forwards the clock; otherwise the local entity is
// reconciled and every other entity takes the authoritative state.
func (c *Client) processHeartbeat(ctx context.Context, current uint64) {
	hb, ok := c.nextHeartbeat(ctx, current)
	if !ok {
		return
	}
	c.processed = hb.Tick
	c.hasProcessed = true
	c.lastServerTick = hb.Tick
	c.metrics.Add(telemetry.KeyHeartbeatsApplied, 1)

	if hb.HasAck {
		ackTick := input.UnwrapSeq(hb.Ack, current)
		c.lastAckTick = ackTick
		prev := c.rate.Multiplier()
		next := c.rate.Observe(ackTick, hb.Tick)
		c.clock.SetMultiplier(next)
		if next != prev {
			loggingprediction.TickRateAdjusted(ctx, c.publisher, current, loggingprediction.TickRatePayload{
				Previous: prev,
				Current:  next,
				Average:  c.rate.Average(),
			}, nil)
		}
	}

	if hb.Tick >= current {
		c.tick.Store(hb.Tick)
		return
	}
	if !hb.HasState {
		return
	}

	for _, id := range hb.State.IDs() {
		state := hb.State[id]
		rec, known := c.replica.Get(id)
		if !known {
			c.unknownEntity(ctx, id, current)
			continue
		}
		if id == c.entity {
			c.reconcileLocal(ctx, rec, hb.Tick, current, state)
			continue
		}
		c.applyRemote(ctx, rec, hb.Tick, current, state)
	}
}

func (c *Client) reconcileLocal(ctx context.Context, rec replication.Record, serverTick, current uint64, state []byte) {
	result, err := c.engine.Reconcile(ctx, rec, serverTick, current, state)
	if err != nil {
		c.invalidState(ctx, rec.ID, current, err)
		return
	}
	c.lastOutcome = result
}

// applyRemote decodes state into a scratch entity first so a malformed
// state never reaches the live one. Spatial entities keep showing their
// blended transform; the authoritative one becomes an interpolation target.
func (c *Client) applyRemote(ctx context.Context, rec replication.Record, serverTick, current uint64, state []byte) {
	scratch, err := c.registry.New(rec.Type)
	if err == nil {
		err = scratch.DeserializeState(wire.FromBytes(state))
	}
	if err != nil {
		c.invalidState(ctx, rec.ID, current, err)
		return
	}

	spatial, isSpatial := rec.Entity.(replication.Spatial)
	if !isSpatial {
		if err := rec.Entity.DeserializeState(wire.FromBytes(state)); err != nil {
			c.invalidState(ctx, rec.ID, current, err)
		}
		return
	}
	shown := spatial.Transform()
	_, tracked := c.interp.Get(rec.ID)
	if err := rec.Entity.DeserializeState(wire.FromBytes(state)); err != nil {
		c.invalidState(ctx, rec.ID, current, err)
		return
	}
	c.interp.Push(rec.ID, serverTick, spatial.Transform())
	if tracked {
		spatial.SetTransform(shown)
	}
}

// unknownEntity asks the authority for a spawn it never delivered. While
// the catch-up burst is still arriving nothing is requested.
func (c *Client) unknownEntity(ctx context.Context, id netid.EntityID, current uint64) {
	if c.replica.Loading().Phase() == replication.PhaseLoading {
		return
	}
	if !c.requests.Outstanding(id) {
		loggingreplication.UnknownEntity(ctx, c.publisher, current, logging.ReplicatedRef(id), nil)
	}
	if !c.requests.Note(id, current) {
		return
	}
	if err := c.send(proto.SpawnRequest{Entity: id}); err != nil {
		c.logger.Printf("spawn request for %s failed: %v", id, err)
		return
	}
	c.metrics.Add(telemetry.KeySpawnRequests, 1)
	loggingreplication.SpawnRequested(ctx, c.publisher, current, logging.ReplicatedRef(id), loggingreplication.SpawnRequestPayload{Entity: uint32(id)}, nil)
}

func (c *Client) invalidState(ctx context.Context, id netid.EntityID, current uint64, err error) {
	loggingnetwork.PacketMalformed(ctx, c.publisher, current, logging.ReplicatedRef(id), loggingnetwork.MalformedPayload{
		Kind:   proto.KindHeartbeat.String(),
		Reason: err.Error(),
	}, nil)
	c.metrics.Add(telemetry.KeyMalformedPackets, 1)
}

func (c *Client) pollLoading(ctx context.Context) {
	current := c.tick.Load()
	if !c.replica.Poll(current) {
		return
	}
	received, expected := c.replica.Loading().Progress()
	loggingreplication.LoadingComplete(ctx, c.publisher, current, logging.PeerRef(c.self), loggingreplication.LoadingPayload{
		Received: received,
		Expected: expected,
	}, nil)
	c.logger.Printf("loading complete: %d/%d entities", received, expected)
}
