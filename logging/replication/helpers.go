package replication

import (
	"context"

	"netsync/logging"
)

const (
	// EventEntitySpawned is emitted when an entity is registered or a spawn message is applied.
	EventEntitySpawned logging.EventType = "replication.entity_spawned"
	// EventEntityDespawned is emitted when an entity leaves the directory.
	EventEntityDespawned logging.EventType = "replication.entity_despawned"
	// EventUnknownEntity is emitted when a heartbeat references an entity the replica has not spawned.
	EventUnknownEntity logging.EventType = "replication.unknown_entity"
	// EventSpawnRequested is emitted when a spawn is requested out of band.
	EventSpawnRequested logging.EventType = "replication.spawn_requested"
	// EventSpawnRequestThrottled is emitted when a spawn request exceeds the peer's rate limit.
	EventSpawnRequestThrottled logging.EventType = "replication.spawn_request_throttled"
	// EventLoadingComplete is emitted once a late joiner has received every announced entity.
	EventLoadingComplete logging.EventType = "replication.loading_complete"
)

// EntityPayload describes a spawned or despawned entity.
type EntityPayload struct {
	Type  string `json:"type,omitempty"`
	Owner int32  `json:"owner,omitempty"`
}

// SpawnRequestPayload describes an out-of-band spawn request.
type SpawnRequestPayload struct {
	Entity uint32 `json:"entity"`
	Known  bool   `json:"known"`
}

// LoadingPayload records the catch-up totals.
type LoadingPayload struct {
	Received int `json:"received"`
	Expected int `json:"expected"`
}

func publish(ctx context.Context, pub logging.Publisher, severity logging.Severity, eventType logging.EventType, tick uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryReplication,
		Payload:  payload,
		Extra:    extra,
	})
}

// EntitySpawned publishes an info event for a new entity.
func EntitySpawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityPayload, extra map[string]any) {
	publish(ctx, pub, logging.SeverityInfo, EventEntitySpawned, tick, actor, payload, extra)
}

// EntityDespawned publishes an info event for a removed entity.
func EntityDespawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityPayload, extra map[string]any) {
	publish(ctx, pub, logging.SeverityInfo, EventEntityDespawned, tick, actor, payload, extra)
}

// UnknownEntity publishes a debug event for a heartbeat entry without a local entity.
func UnknownEntity(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, extra map[string]any) {
	publish(ctx, pub, logging.SeverityDebug, EventUnknownEntity, tick, actor, nil, extra)
}

// SpawnRequested publishes a debug event for an out-of-band spawn request.
func SpawnRequested(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SpawnRequestPayload, extra map[string]any) {
	publish(ctx, pub, logging.SeverityDebug, EventSpawnRequested, tick, actor, payload, extra)
}

// SpawnRequestThrottled publishes a debug event for a rate-limited spawn request.
func SpawnRequestThrottled(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SpawnRequestPayload, extra map[string]any) {
	publish(ctx, pub, logging.SeverityDebug, EventSpawnRequestThrottled, tick, actor, payload, extra)
}

// LoadingComplete publishes an info event when catch-up finishes.
func LoadingComplete(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload LoadingPayload, extra map[string]any) {
	publish(ctx, pub, logging.SeverityInfo, EventLoadingComplete, tick, actor, payload, extra)
}
