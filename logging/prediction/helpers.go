package prediction

import (
	"context"

	"netsync/logging"
)

const (
	// EventRewind is emitted when the client rewinds its controlled entity to authoritative state.
	EventRewind logging.EventType = "prediction.rewind"
	// EventSnapshotUnavailable is emitted when reconciliation needs a tick that has aged out of the local ring.
	EventSnapshotUnavailable logging.EventType = "prediction.snapshot_unavailable"
	// EventTickRateAdjusted is emitted when the tick-rate multiplier changes.
	EventTickRateAdjusted logging.EventType = "prediction.tick_rate_adjusted"
)

// RewindPayload describes a correction.
type RewindPayload struct {
	ServerTick    uint64  `json:"serverTick"`
	CurrentTick   uint64  `json:"currentTick"`
	ErrorSquared  float64 `json:"errorSquared"`
	ReplayedTicks int     `json:"replayedTicks"`
}

// UnavailablePayload names the missing tick.
type UnavailablePayload struct {
	Tick     uint64 `json:"tick"`
	Capacity int    `json:"capacity"`
}

// TickRatePayload records the controller state at a multiplier change.
type TickRatePayload struct {
	Previous float64 `json:"previous"`
	Current  float64 `json:"current"`
	Average  float64 `json:"average"`
}

// Rewind publishes an info event for a rewind/replay.
func Rewind(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload RewindPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRewind,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPrediction,
		Payload:  payload,
		Extra:    extra,
	})
}

// SnapshotUnavailable publishes an error event when reconciliation is skipped.
func SnapshotUnavailable(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload UnavailablePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSnapshotUnavailable,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategoryPrediction,
		Payload:  payload,
		Extra:    extra,
	})
}

// TickRateAdjusted publishes a debug event when the multiplier changes.
func TickRateAdjusted(ctx context.Context, pub logging.Publisher, tick uint64, payload TickRatePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickRateAdjusted,
		Tick:     tick,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryPrediction,
		Payload:  payload,
		Extra:    extra,
	})
}
