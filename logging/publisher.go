package logging

import (
	"context"
	"strconv"
	"time"

	"netsync/internal/netid"
)

type EventType string

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

type EntityKind string

const (
	EntityKindUnknown EntityKind = "unknown"
	EntityKindHost    EntityKind = "host"
	EntityKindPeer    EntityKind = "peer"
	EntityKindEntity  EntityKind = "entity"
	EntityKindSession EntityKind = "session"
)

// Event is one structured domain event. Payload is a per-type struct owned by
// the helper package that emits it.
type Event struct {
	Type     EventType      `json:"type" msgpack:"type"`
	Tick     uint64         `json:"tick" msgpack:"tick"`
	Time     time.Time      `json:"time" msgpack:"time"`
	Actor    EntityRef      `json:"actor" msgpack:"actor"`
	Targets  []EntityRef    `json:"targets,omitempty" msgpack:"targets,omitempty"`
	Severity Severity       `json:"severity" msgpack:"severity"`
	Category string         `json:"category,omitempty" msgpack:"category,omitempty"`
	Payload  any            `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Extra    map[string]any `json:"extra,omitempty" msgpack:"extra,omitempty"`
	TraceID  string         `json:"traceId,omitempty" msgpack:"traceId,omitempty"`
}

type EntityRef struct {
	ID   string     `json:"id" msgpack:"id"`
	Kind EntityKind `json:"kind" msgpack:"kind"`
}

// PeerRef names a connected participant. The host gets its own kind so
// sinks can tell authority-side events apart.
func PeerRef(id netid.PeerID) EntityRef {
	if id.IsHost() {
		return EntityRef{ID: strconv.Itoa(int(id)), Kind: EntityKindHost}
	}
	return EntityRef{ID: strconv.Itoa(int(id)), Kind: EntityKindPeer}
}

// ReplicatedRef names a replicated entity.
func ReplicatedRef(id netid.EntityID) EntityRef {
	return EntityRef{ID: strconv.FormatUint(uint64(id), 10), Kind: EntityKindEntity}
}

const (
	CategoryNetwork     = "network"
	CategoryLifecycle   = "lifecycle"
	CategoryReplication = "replication"
	CategoryPrediction  = "prediction"
	CategorySimulation  = "simulation"
	CategorySystem      = "system"
)

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type PublisherFunc func(ctx context.Context, event Event)

func (f PublisherFunc) Publish(ctx context.Context, event Event) {
	if f == nil {
		return
	}
	f(ctx, event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

func NopPublisher() Publisher {
	return nopPublisher{}
}

type fieldPublisher struct {
	next   Publisher
	fields map[string]any
}

func (p *fieldPublisher) Publish(ctx context.Context, event Event) {
	if p.next == nil {
		return
	}
	p.next.Publish(ctx, mergeFields(event, p.fields))
}

// mergeFields copies static fields into event.Extra without overriding keys
// the emitter already set.
func mergeFields(event Event, fields map[string]any) Event {
	if len(fields) == 0 {
		return event
	}
	event = cloneForFields(event)
	if event.Extra == nil {
		event.Extra = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		if _, exists := event.Extra[k]; !exists {
			event.Extra[k] = v
		}
	}
	return event
}

func cloneForFields(event Event) Event {
	cloned := event
	if len(event.Targets) > 0 {
		cloned.Targets = append([]EntityRef(nil), event.Targets...)
	}
	if event.Extra != nil {
		copied := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			copied[k] = v
		}
		cloned.Extra = copied
	}
	return cloned
}

// CloneEvent returns a copy of event whose Targets and Extra can be mutated
// independently of the original.
func CloneEvent(event Event) Event {
	return cloneForFields(event)
}

// WithFields decorates p so every published event carries fields.
func WithFields(p Publisher, fields map[string]any) Publisher {
	if p == nil {
		return NopPublisher()
	}
	if len(fields) == 0 {
		return p
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &fieldPublisher{next: p, fields: copied}
}

func (e Event) WithExtra(key string, value any) Event {
	if e.Extra == nil {
		e.Extra = make(map[string]any, 1)
	}
	e.Extra[key] = value
	return e
}
