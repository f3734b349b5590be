package server

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"netsync/internal/net/proto"
	"netsync/internal/netid"
	"netsync/internal/replication"
	"netsync/internal/session"
	"netsync/internal/telemetry"
	"netsync/logging"
	logginglifecycle "netsync/logging/lifecycle"
	loggingreplication "netsync/logging/replication"
)

// ReasonVersionMismatch is the kick reason for a peer speaking another
// protocol revision.
const ReasonVersionMismatch = "protocol version mismatch"

func (a *Authority) handleConnected(peer netid.PeerID, token string) {
	logginglifecycle.PeerConnected(context.Background(), a.publisher, a.tick.Load(), logging.PeerRef(peer), logginglifecycle.ConnectedPayload{Token: token}, nil)
}

// handleReady admits peer. A rejected peer receives the result code and is
// disconnected; an admitted peer gets its entity, the catch-up burst and
// becomes active.
func (a *Authority) handleReady(peer netid.PeerID, msg proto.Ready) {
	ctx := context.Background()
	current := a.tick.Load()
	if msg.Version != proto.Version {
		a.handleKick(peer, ReasonVersionMismatch)
		return
	}
	if _, known := a.roster.Get(peer); known {
		a.logger.Printf("ignoring repeated ready from %s", peer)
		return
	}

	result := a.roster.Add(peer, msg.Name)
	if !result.OK() {
		logginglifecycle.RegistrationRejected(ctx, a.publisher, current, logging.PeerRef(peer), logginglifecycle.RejectedPayload{Result: result.String()}, nil)
		if err := a.send(peer, proto.RegistrationResult{Result: result, Peer: peer}); err != nil {
			a.logger.Printf("registration result to %s failed: %v", peer, err)
		}
		a.queues.Remove(peer)
		if err := a.transport.Disconnect(peer, result.String()); err != nil {
			a.logger.Printf("disconnect %s failed: %v", peer, err)
		}
		return
	}

	a.advance(ctx, peer, session.StatusJoining)
	typ, entity, err := a.spawner(peer, msg.Name)
	if err != nil {
		a.logger.Printf("spawn for %s failed: %v", peer, err)
		a.roster.Remove(peer)
		a.queues.Remove(peer)
		_ = a.transport.Disconnect(peer, "spawn failed")
		return
	}
	rec, err := a.Spawn(typ, peer, entity)
	if err != nil {
		a.logger.Printf("spawn for %s failed: %v", peer, err)
		a.roster.Remove(peer)
		a.queues.Remove(peer)
		_ = a.transport.Disconnect(peer, "spawn failed")
		return
	}
	a.roster.SetEntity(peer, rec.ID)
	a.queues.Register(peer)
	a.limiters[peer] = rate.NewLimiter(rate.Limit(a.cfg.SpawnRequestRate), a.cfg.SpawnRequestBurst)
	a.broadcast(a.activeExcept(peer), proto.PlayerConnected{Peer: peer, Name: msg.Name})

	a.advance(ctx, peer, session.StatusActive)
	if err := a.send(peer, proto.RegistrationResult{Result: session.ResultSuccess, Peer: peer, Entity: rec.ID, Tick: current}); err != nil {
		a.logger.Printf("registration result to %s failed: %v", peer, err)
	}
	for _, member := range a.roster.Members() {
		if member.Peer == peer {
			continue
		}
		_ = a.send(peer, proto.PlayerConnected{Peer: member.Peer, Name: member.Name})
	}
	count, spawns, err := a.directory.CatchUp()
	if err != nil {
		a.logger.Printf("catch-up for %s failed: %v", peer, err)
	}
	_ = a.send(peer, count)
	for _, spawn := range spawns {
		if err := a.send(peer, spawn); err != nil {
			a.logger.Printf("catch-up spawn %s to %s failed: %v", spawn.Entity, peer, err)
			break
		}
	}
	a.broadcast(a.roster.WithStatus(session.StatusActive), proto.StatusChanged{Peer: peer, Status: session.StatusActive})

	logginglifecycle.PeerRegistered(ctx, a.publisher, current, logging.PeerRef(peer), logginglifecycle.RegisteredPayload{
		Entity:  uint32(rec.ID),
		Catchup: len(spawns),
	}, nil)
	a.bus.Publish(replication.Event{Kind: replication.EventPeerJoined, Tick: current, Peer: peer, Entity: rec.ID})
	a.logger.Printf("%s registered as %q controlling %s (%d entities sent)", peer, msg.Name, rec.ID, len(spawns))
}

func (a *Authority) advance(ctx context.Context, peer netid.PeerID, next session.Status) {
	prev, ok := a.roster.Advance(peer, next)
	if !ok {
		return
	}
	logginglifecycle.StatusChanged(ctx, a.publisher, a.tick.Load(), logging.PeerRef(peer), logginglifecycle.StatusPayload{
		From: prev.String(),
		To:   next.String(),
	}, nil)
	a.bus.Publish(replication.Event{Kind: replication.EventStatusChanged, Tick: a.tick.Load(), Peer: peer, Status: next})
}

// handleDisconnected removes every trace of peer: its roster entry, its
// input queue (revoked so stray packets are discarded) and its controlled
// entity, whose despawn is announced once to the remaining active peers.
func (a *Authority) handleDisconnected(peer netid.PeerID, reason string, kicked bool) {
	ctx := context.Background()
	a.queues.Remove(peer)
	delete(a.limiters, peer)

	if _, ok := a.roster.Get(peer); !ok {
		return
	}
	a.advance(ctx, peer, session.StatusLeaving)
	member, _ := a.roster.Remove(peer)
	if member.Entity != netid.NoEntity {
		a.Despawn(member.Entity)
	}
	a.broadcast(a.roster.WithStatus(session.StatusActive), proto.PlayerDisconnected{Peer: peer, Reason: reason})

	payload := logginglifecycle.DisconnectedPayload{Reason: reason, Entity: uint32(member.Entity)}
	if kicked {
		logginglifecycle.PeerKicked(ctx, a.publisher, a.tick.Load(), logging.PeerRef(peer), payload, nil)
	} else {
		logginglifecycle.PeerDisconnected(ctx, a.publisher, a.tick.Load(), logging.PeerRef(peer), payload, nil)
	}
	a.bus.Publish(replication.Event{Kind: replication.EventPeerLeft, Tick: a.tick.Load(), Peer: peer, Entity: member.Entity, Reason: reason})
	a.logger.Printf("%s left: %s", peer, reason)
}

func (a *Authority) handleKick(peer netid.PeerID, reason string) {
	if err := a.send(peer, proto.Kick{Reason: reason}); err != nil {
		a.logger.Printf("kick notice to %s failed: %v", peer, err)
	}
	a.handleDisconnected(peer, reason, true)
	_ = a.transport.Disconnect(peer, fmt.Sprintf("kicked: %s", reason))
}

// handleSpawnRequest answers a peer that saw an entity it never spawned:
// with the spawn when the entity exists, with a despawn when it is gone.
func (a *Authority) handleSpawnRequest(peer netid.PeerID, msg proto.SpawnRequest) {
	ctx := context.Background()
	current := a.tick.Load()
	limiter, ok := a.limiters[peer]
	if !ok {
		return
	}
	rec, known := a.directory.Get(msg.Entity)
	payload := loggingreplication.SpawnRequestPayload{Entity: uint32(msg.Entity), Known: known}
	if !limiter.Allow() {
		loggingreplication.SpawnRequestThrottled(ctx, a.publisher, current, logging.PeerRef(peer), payload, nil)
		return
	}
	a.metrics.Add(telemetry.KeySpawnRequests, 1)
	loggingreplication.SpawnRequested(ctx, a.publisher, current, logging.PeerRef(peer), payload, nil)

	if !known {
		_ = a.send(peer, proto.Despawn{Entity: msg.Entity})
		return
	}
	spawn, err := replication.SpawnMessage(rec)
	if err != nil {
		a.logger.Printf("spawn request for %s failed: %v", msg.Entity, err)
		return
	}
	_ = a.send(peer, spawn)
}
