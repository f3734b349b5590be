package simulation

import (
	"context"

	"netsync/logging"
)

const (
	// EventTickBudgetOverrun is emitted when a frame takes longer than the frame budget.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventFrameClamped is emitted when a frame's elapsed time is clamped to the catch-up ceiling.
	EventFrameClamped logging.EventType = "simulation.frame_clamped"
)

// TickBudgetOverrunPayload captures timing details for a budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// FrameClampedPayload records the raw and clamped frame delta.
type FrameClampedPayload struct {
	RawSeconds     float64 `json:"rawSeconds"`
	ClampedSeconds float64 `json:"clampedSeconds"`
}

// TickBudgetOverrun publishes a warning when a frame exceeds its budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}

// FrameClamped publishes a debug event when a stalled frame is clamped.
func FrameClamped(ctx context.Context, pub logging.Publisher, tick uint64, payload FrameClampedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventFrameClamped,
		Tick:     tick,
		Severity: logging.SeverityDebug,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}
