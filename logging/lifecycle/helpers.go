package lifecycle

import (
	"context"

	"netsync/logging"
)

const (
	// EventPeerConnected is emitted when the transport reports a new connection.
	EventPeerConnected logging.EventType = "lifecycle.peer_connected"
	// EventPeerRegistered is emitted when a peer is admitted to the session.
	EventPeerRegistered logging.EventType = "lifecycle.peer_registered"
	// EventRegistrationRejected is emitted when a peer cannot be admitted.
	EventRegistrationRejected logging.EventType = "lifecycle.registration_rejected"
	// EventStatusChanged is emitted when a peer's session status advances.
	EventStatusChanged logging.EventType = "lifecycle.status_changed"
	// EventPeerDisconnected is emitted when a peer leaves the session.
	EventPeerDisconnected logging.EventType = "lifecycle.peer_disconnected"
	// EventPeerKicked is emitted when the authority removes a peer.
	EventPeerKicked logging.EventType = "lifecycle.peer_kicked"
)

// ConnectedPayload carries transport details for a new connection.
type ConnectedPayload struct {
	Token string `json:"token,omitempty"`
}

// RegisteredPayload records the entity a peer controls.
type RegisteredPayload struct {
	Entity  uint32 `json:"entity"`
	Catchup int    `json:"catchup"`
}

// RejectedPayload names the registration result.
type RejectedPayload struct {
	Result string `json:"result"`
}

// StatusPayload records a status transition.
type StatusPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DisconnectedPayload captures the reason a peer left.
type DisconnectedPayload struct {
	Reason string `json:"reason"`
	Entity uint32 `json:"entity,omitempty"`
}

// PeerConnected publishes an info event for a new transport connection.
func PeerConnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ConnectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerConnected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// PeerRegistered publishes an info event when a peer joins the session.
func PeerRegistered(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload RegisteredPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerRegistered,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// RegistrationRejected publishes a warning when a peer is refused.
func RegistrationRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload RejectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRegistrationRejected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// StatusChanged publishes an info event for a status transition.
func StatusChanged(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StatusPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStatusChanged,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// PeerDisconnected publishes a peer disconnect event.
func PeerDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DisconnectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerDisconnected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// PeerKicked publishes a warning when the authority removes a peer.
func PeerKicked(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DisconnectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerKicked,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}
