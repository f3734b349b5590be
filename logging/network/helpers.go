package network

import (
	"context"

	"netsync/logging"
)

const (
	// EventPacketMalformed is emitted when an inbound packet fails to decode.
	EventPacketMalformed logging.EventType = "network.packet_malformed"
	// EventStrayPacket is emitted when a packet arrives from a peer that has already been removed.
	EventStrayPacket logging.EventType = "network.stray_packet"
	// EventInputRejected is emitted when samples are refused by a peer's input queue.
	EventInputRejected logging.EventType = "network.input_rejected"
	// EventHeartbeatSkipped is emitted when the client discards a heartbeat older than one it already processed.
	EventHeartbeatSkipped logging.EventType = "network.heartbeat_skipped"
	// EventAckAdvanced is emitted when the authority acknowledges a newer input sample.
	EventAckAdvanced logging.EventType = "network.ack_advanced"
)

// MalformedPayload describes a dropped packet.
type MalformedPayload struct {
	Kind   string `json:"kind,omitempty"`
	Bytes  int    `json:"bytes"`
	Reason string `json:"reason"`
}

// StrayPayload describes a packet discarded because its sender is gone.
type StrayPayload struct {
	Kind  string `json:"kind,omitempty"`
	Bytes int    `json:"bytes"`
}

// InputRejectedPayload describes refused input samples.
type InputRejectedPayload struct {
	Reason   string `json:"reason"`
	Accepted int    `json:"accepted"`
	Received int    `json:"received"`
}

// HeartbeatSkippedPayload records the stale heartbeat tick and the newest tick already processed.
type HeartbeatSkippedPayload struct {
	Tick      uint64 `json:"tick"`
	Processed uint64 `json:"processed"`
}

// AckPayload captures acknowledgement progression details.
type AckPayload struct {
	Previous uint16 `json:"previous"`
	Ack      uint16 `json:"ack"`
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	event.Category = logging.CategoryNetwork
	pub.Publish(ctx, event)
}

// PacketMalformed publishes a warning for a packet that failed to decode.
func PacketMalformed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload MalformedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventPacketMalformed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Payload:  payload,
		Extra:    extra,
	})
}

// StrayPacket publishes a debug event for a packet from a removed peer.
func StrayPacket(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StrayPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventStrayPacket,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Payload:  payload,
		Extra:    extra,
	})
}

// InputRejected publishes a debug event when samples were refused.
func InputRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload InputRejectedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventInputRejected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Payload:  payload,
		Extra:    extra,
	})
}

// HeartbeatSkipped publishes a debug event for a superseded heartbeat.
func HeartbeatSkipped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload HeartbeatSkippedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventHeartbeatSkipped,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Payload:  payload,
		Extra:    extra,
	})
}

// AckAdvanced publishes a debug event when a peer's acknowledged input id moves forward.
func AckAdvanced(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AckPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventAckAdvanced,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Payload:  payload,
		Extra:    extra,
	})
}
