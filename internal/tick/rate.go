package tick

// RateConfig holds the tick-rate controller constants. The defaults were
// tuned empirically and are exposed so deployments can adjust them.
type RateConfig struct {
	// Smoothing is the weight kept from the previous average.
	Smoothing float64 `json:"smoothing"`
	// SpeedUpBelow is the average lead under which the client speeds up.
	SpeedUpBelow float64 `json:"speedUpBelow"`
	// SlowDownAt is the average lead at or above which the client slows down.
	SlowDownAt float64 `json:"slowDownAt"`
	// SpeedUp is the interval multiplier applied while behind.
	SpeedUp float64 `json:"speedUp"`
	// SlowDown is the interval multiplier applied while ahead.
	SlowDown float64 `json:"slowDown"`
}

// DefaultRateConfig returns the stock controller constants.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		Smoothing:    0.7,
		SpeedUpBelow: -2,
		SlowDownAt:   2,
		SpeedUp:      0.96875,
		SlowDown:     1.015625,
	}
}

func (c RateConfig) normalized() RateConfig {
	def := DefaultRateConfig()
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		c.Smoothing = def.Smoothing
	}
	if c.SpeedUp <= 0 || c.SpeedUp > 1 {
		c.SpeedUp = def.SpeedUp
	}
	if c.SlowDown < 1 {
		c.SlowDown = def.SlowDown
	}
	if c.SpeedUpBelow >= c.SlowDownAt {
		c.SpeedUpBelow, c.SlowDownAt = def.SpeedUpBelow, def.SlowDownAt
	}
	return c
}

// RateController smooths the client's input lead and maps it to a tick
// interval multiplier.
type RateController struct {
	cfg        RateConfig
	average    float64
	multiplier float64
	lastLead   int64
	samples    uint64
}

// NewRateController returns a controller with multiplier 1 and zero average.
func NewRateController(cfg RateConfig) *RateController {
	return &RateController{cfg: cfg.normalized(), multiplier: 1}
}

// Lead computes ackedInputTick - receivedServerTick + 1.
func Lead(ackedInputTick, receivedServerTick uint64) int64 {
	return int64(ackedInputTick) - int64(receivedServerTick) + 1
}

// Observe folds one heartbeat into the average and returns the multiplier
// to apply to the tick clock.
func (r *RateController) Observe(ackedInputTick, receivedServerTick uint64) float64 {
	lead := Lead(ackedInputTick, receivedServerTick)
	r.lastLead = lead
	r.samples++
	r.average = r.cfg.Smoothing*r.average + (1-r.cfg.Smoothing)*float64(lead)
	switch {
	case r.average < r.cfg.SpeedUpBelow:
		r.multiplier = r.cfg.SpeedUp
	case r.average >= r.cfg.SlowDownAt:
		r.multiplier = r.cfg.SlowDown
	default:
		r.multiplier = 1
	}
	return r.multiplier
}

// Average returns the smoothed lead.
func (r *RateController) Average() float64 {
	return r.average
}

// Multiplier returns the multiplier chosen by the last observation.
func (r *RateController) Multiplier() float64 {
	return r.multiplier
}

// LastLead returns the raw lead of the last observation.
func (r *RateController) LastLead() int64 {
	return r.lastLead
}

// Samples reports how many heartbeats have been observed.
func (r *RateController) Samples() uint64 {
	return r.samples
}

// Reset returns the controller to its initial state.
func (r *RateController) Reset() {
	r.average = 0
	r.multiplier = 1
	r.lastLead = 0
	r.samples = 0
}
