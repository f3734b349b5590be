// Package reconcile corrects a client's predicted entity against delayed
// authoritative state by rewinding to it and replaying buffered input.
package reconcile

import (
	"context"

	"github.com/rotisserie/eris"

	"netsync/internal/input"
	"netsync/internal/replication"
	"netsync/internal/snapshot"
	"netsync/internal/telemetry"
	"netsync/internal/wire"
	"netsync/logging"
	loggingprediction "netsync/logging/prediction"
)

// DefaultTolerance is the squared positional error accepted without a rewind.
const DefaultTolerance = 0.05

// Outcome classifies one reconciliation step.
type Outcome uint8

const (
	// OutcomeAccepted means the prediction was within tolerance.
	OutcomeAccepted Outcome = iota
	// OutcomeRewound means authoritative state was forced and input replayed.
	OutcomeRewound
	// OutcomeUnavailable means the local history for the tick had aged out.
	OutcomeUnavailable
	// OutcomeNotPredicted means the tick is retained but the entity was not
	// part of it, as for heartbeats that predate its local spawn.
	OutcomeNotPredicted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRewound:
		return "rewound"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeNotPredicted:
		return "not predicted"
	default:
		return "unknown"
	}
}

// Result reports what Reconcile did.
type Result struct {
	Outcome      Outcome
	ErrorSquared float64
	Replayed     int
}

// Config holds the engine's tuning.
type Config struct {
	Tolerance float64
}

// Deps wires the engine to the client's rings and reporting.
type Deps struct {
	Registry  *replication.Registry
	Snapshots *snapshot.Store
	History   *input.History
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
}

// Engine performs rewind and replay for the locally controlled entity. It
// is owned by the client's simulation goroutine.
type Engine struct {
	tolerance float64
	deps      Deps
	scratch   *wire.Buffer
}

// NewEngine constructs an engine. A non-positive tolerance selects
// DefaultTolerance.
func NewEngine(cfg Config, deps Deps) *Engine {
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	return &Engine{tolerance: tolerance, deps: deps, scratch: wire.NewBuffer(64)}
}

// Tolerance returns the squared error threshold in use.
func (e *Engine) Tolerance() float64 {
	return e.tolerance
}

// Reconcile compares serverState for serverTick against the prediction the
// client recorded for the same tick. When the squared positional error
// exceeds the tolerance, rec's entity is forced to serverState and every
// buffered tick after serverTick up to currentTick is replayed, rewriting
// the local history as it goes.
func (e *Engine) Reconcile(ctx context.Context, rec replication.Record, serverTick, currentTick uint64, serverState []byte) (Result, error) {
	if !e.deps.Snapshots.Has(serverTick) {
		loggingprediction.SnapshotUnavailable(ctx, e.deps.Publisher, currentTick, logging.ReplicatedRef(rec.ID), loggingprediction.UnavailablePayload{
			Tick:     serverTick,
			Capacity: e.deps.Snapshots.Capacity(),
		}, nil)
		return Result{Outcome: OutcomeUnavailable}, nil
	}
	predicted, ok := e.deps.Snapshots.EntityAt(serverTick, rec.ID)
	if !ok {
		return Result{Outcome: OutcomeNotPredicted}, nil
	}

	authoritative, err := e.deps.Registry.TransformOf(rec.Type, serverState)
	if err != nil {
		return Result{}, eris.Wrapf(err, "decode authoritative state for %s", rec.ID)
	}
	local, err := e.deps.Registry.TransformOf(rec.Type, predicted)
	if err != nil {
		return Result{}, eris.Wrapf(err, "decode predicted state for %s", rec.ID)
	}

	errSq := authoritative.Position.DistanceSquared(local.Position)
	if errSq <= e.tolerance {
		return Result{Outcome: OutcomeAccepted, ErrorSquared: errSq}, nil
	}

	if err := rec.Entity.DeserializeState(wire.FromBytes(serverState)); err != nil {
		return Result{}, eris.Wrapf(err, "rewind %s", rec.ID)
	}
	e.deps.Snapshots.Put(serverTick, rec.ID, serverState)

	replayed := 0
	for tick := serverTick + 1; tick <= currentTick; tick++ {
		step, ok := e.deps.History.At(tick)
		if !ok {
			break
		}
		if step.HasSample {
			rec.Entity.ApplyInput(step.Sample)
		}
		rec.Entity.Simulate(step.Delta)
		e.scratch.Reset()
		if err := rec.Entity.SerializeState(e.scratch); err != nil {
			return Result{}, eris.Wrapf(err, "replay %s at tick %d", rec.ID, tick)
		}
		e.deps.Snapshots.Put(tick, rec.ID, e.scratch.Bytes())
		replayed++
	}

	if e.deps.Metrics != nil {
		e.deps.Metrics.Add(telemetry.KeyRewinds, 1)
		e.deps.Metrics.Add(telemetry.KeyReplayedTicks, uint64(replayed))
	}
	loggingprediction.Rewind(ctx, e.deps.Publisher, currentTick, logging.ReplicatedRef(rec.ID), loggingprediction.RewindPayload{
		ServerTick:    serverTick,
		CurrentTick:   currentTick,
		ErrorSquared:  errSq,
		ReplayedTicks: replayed,
	}, nil)
	return Result{Outcome: OutcomeRewound, ErrorSquared: errSq, Replayed: replayed}, nil
}
