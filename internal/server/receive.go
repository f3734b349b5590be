package server

import (
	"context"

	"netsync/internal/input"
	"netsync/internal/net/proto"
	"netsync/internal/netid"
	"netsync/internal/telemetry"
	"netsync/internal/transport"
	"netsync/logging"
	loggingnetwork "netsync/logging/network"
)

type inboundKind uint8

const (
	inboundConnected inboundKind = iota + 1
	inboundDisconnected
	inboundMessage
	inboundKick
)

type inbound struct {
	kind   inboundKind
	peer   netid.PeerID
	msg    proto.Message
	token  string
	reason string
}

// Receive handles one transport event. Input samples are decoded and queued
// for the peer immediately; everything else is decoded and held for the
// simulation goroutine. Malformed packets are dropped.
func (a *Authority) Receive(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		a.enqueue(inbound{kind: inboundConnected, peer: ev.Peer, token: ev.Token})
	case transport.EventDisconnected:
		a.enqueue(inbound{kind: inboundDisconnected, peer: ev.Peer, reason: ev.Reason})
	case transport.EventMessage:
		a.receiveMessage(ev.Peer, ev.Data)
	}
}

func (a *Authority) receiveMessage(peer netid.PeerID, data []byte) {
	ctx := context.Background()
	a.metrics.Add(telemetry.KeyBytesReceived, uint64(len(data)))
	if a.queues.Revoked(peer) {
		kind, _ := proto.PeekKind(data)
		loggingnetwork.StrayPacket(ctx, a.publisher, a.tick.Load(), logging.PeerRef(peer), loggingnetwork.StrayPayload{
			Kind:  kind.String(),
			Bytes: len(data),
		}, nil)
		a.metrics.Add(telemetry.KeyPacketsDropped, 1)
		return
	}

	msg, err := proto.Decode(data)
	if err != nil {
		a.malformed(ctx, peer, data, err.Error())
		return
	}

	switch m := msg.(type) {
	case proto.Input:
		accepted, reason := a.queues.Enqueue(peer, m.Samples)
		if reason != "" && accepted < len(m.Samples) && reason != input.RejectStale {
			loggingnetwork.InputRejected(ctx, a.publisher, a.tick.Load(), logging.PeerRef(peer), loggingnetwork.InputRejectedPayload{
				Reason:   reason,
				Accepted: accepted,
				Received: len(m.Samples),
			}, nil)
		}
	case proto.Ready, proto.SpawnRequest:
		a.enqueue(inbound{kind: inboundMessage, peer: peer, msg: msg})
	default:
		a.malformed(ctx, peer, data, "unexpected "+msg.Kind().String())
	}
}

func (a *Authority) malformed(ctx context.Context, peer netid.PeerID, data []byte, reason string) {
	kind, _ := proto.PeekKind(data)
	loggingnetwork.PacketMalformed(ctx, a.publisher, a.tick.Load(), logging.PeerRef(peer), loggingnetwork.MalformedPayload{
		Kind:   kind.String(),
		Bytes:  len(data),
		Reason: reason,
	}, nil)
	a.metrics.Add(telemetry.KeyMalformedPackets, 1)
}

func (a *Authority) enqueue(in inbound) {
	a.inboxMu.Lock()
	a.inbox = append(a.inbox, in)
	a.inboxMu.Unlock()
}

func (a *Authority) drainInbox() {
	a.inboxMu.Lock()
	pending := a.inbox
	a.inbox = nil
	a.inboxMu.Unlock()

	for _, in := range pending {
		switch in.kind {
		case inboundConnected:
			a.handleConnected(in.peer, in.token)
		case inboundDisconnected:
			a.handleDisconnected(in.peer, in.reason, false)
		case inboundKick:
			a.handleKick(in.peer, in.reason)
		case inboundMessage:
			switch m := in.msg.(type) {
			case proto.Ready:
				a.handleReady(in.peer, m)
			case proto.SpawnRequest:
				a.handleSpawnRequest(in.peer, m)
			}
		}
	}
}
