package tick

import (
	"context"
	"time"

	"netsync/internal/telemetry"
	"netsync/logging"
	"netsync/logging/simulation"
)

// DefaultFrameRate is the frame loop rate used when none is configured.
const DefaultFrameRate = 120

// Framer advances a simulation by one frame of dt seconds.
type Framer interface {
	Frame(dt float64)
}

// FrameFunc adapts a function into a Framer.
type FrameFunc func(dt float64)

// Frame implements Framer.
func (f FrameFunc) Frame(dt float64) {
	if f != nil {
		f(dt)
	}
}

// RunnerConfig tunes the frame loop.
type RunnerConfig struct {
	FrameRate        int
	MaxCatchupFrames int
}

// RunnerDeps carries the runner's collaborators. Zero values fall back to
// the wall clock, a real ticker, and no-op logging.
type RunnerDeps struct {
	Clock     logging.Clock
	Logger    telemetry.Logger
	Publisher logging.Publisher
	// Ticks overrides the frame ticker. The returned stop function is
	// called when Run exits.
	Ticks func(period time.Duration) (<-chan time.Time, func())
	// TickCount reports the simulation tick for emitted events.
	TickCount func() uint64
}

// FrameResult summarizes one frame for the AfterFrame hook.
type FrameResult struct {
	Now      time.Time
	Delta    float64
	Clamped  bool
	Duration time.Duration
	Budget   time.Duration
}

// Runner drives a Framer from a ticker until its context is cancelled,
// passing the measured wall time between frames.
type Runner struct {
	target     Framer
	config     RunnerConfig
	deps       RunnerDeps
	AfterFrame func(FrameResult)

	overrunStreak uint64
}

// NewRunner constructs a runner for target.
func NewRunner(target Framer, cfg RunnerConfig, deps RunnerDeps) *Runner {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if deps.Clock == nil {
		deps.Clock = logging.SystemClock{}
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.Ticks == nil {
		deps.Ticks = func(period time.Duration) (<-chan time.Time, func()) {
			ticker := time.NewTicker(period)
			return ticker.C, ticker.Stop
		}
	}
	return &Runner{target: target, config: cfg, deps: deps}
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.target == nil {
		return nil
	}
	budget := time.Second / time.Duration(r.config.FrameRate)
	ticks, stop := r.deps.Ticks(budget)
	defer stop()

	budgetSeconds := budget.Seconds()
	maxDt := budgetSeconds
	if r.config.MaxCatchupFrames > 1 {
		maxDt = budgetSeconds * float64(r.config.MaxCatchupFrames)
	}

	clock := r.deps.Clock
	last := clock.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			now := clock.Now()
			raw := now.Sub(last).Seconds()
			dt := raw
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
				clamped = true
			}
			last = now

			start := clock.Now()
			r.target.Frame(dt)
			result := FrameResult{
				Now:      now,
				Delta:    dt,
				Clamped:  clamped,
				Duration: clock.Now().Sub(start),
				Budget:   budget,
			}
			r.report(ctx, result, raw)
			if r.AfterFrame != nil {
				r.AfterFrame(result)
			}
		}
	}
}

func (r *Runner) report(ctx context.Context, result FrameResult, raw float64) {
	var tick uint64
	if r.deps.TickCount != nil {
		tick = r.deps.TickCount()
	}
	if result.Clamped {
		simulation.FrameClamped(ctx, r.deps.Publisher, tick, simulation.FrameClampedPayload{
			RawSeconds:     raw,
			ClampedSeconds: result.Delta,
		}, nil)
	}
	if result.Duration <= result.Budget {
		r.overrunStreak = 0
		return
	}
	r.overrunStreak++
	ratio := float64(result.Duration) / float64(result.Budget)
	simulation.TickBudgetOverrun(ctx, r.deps.Publisher, tick, simulation.TickBudgetOverrunPayload{
		DurationMillis: result.Duration.Milliseconds(),
		BudgetMillis:   result.Budget.Milliseconds(),
		Ratio:          ratio,
		Streak:         r.overrunStreak,
	}, nil)
	if r.deps.Logger != nil && r.overrunStreak&(r.overrunStreak-1) == 0 {
		r.deps.Logger.Printf("[tick] frame overran budget duration=%s budget=%s streak=%d", result.Duration, result.Budget, r.overrunStreak)
	}
}
