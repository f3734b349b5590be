package client

import (
	"time"

	"netsync/internal/reconcile"
	"netsync/internal/tick"
)

// Config tunes a predicting client.
type Config struct {
	Name                string
	TickRate            int
	BufferMaxTicks      int
	Tolerance           float64
	Rate                tick.RateConfig
	SpawnRequestRate    float64
	SpawnRequestBurst   int
	SpawnRetryTicks     uint64
	RegistrationTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		TickRate:            tick.DefaultRate,
		BufferMaxTicks:      64,
		Tolerance:           reconcile.DefaultTolerance,
		Rate:                tick.DefaultRateConfig(),
		SpawnRequestRate:    10,
		SpawnRequestBurst:   5,
		SpawnRetryTicks:     30,
		RegistrationTimeout: 10 * time.Second,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.TickRate <= 0 {
		c.TickRate = def.TickRate
	}
	if c.BufferMaxTicks <= 0 {
		c.BufferMaxTicks = def.BufferMaxTicks
	}
	if c.Tolerance <= 0 {
		c.Tolerance = def.Tolerance
	}
	if c.Rate == (tick.RateConfig{}) {
		c.Rate = def.Rate
	}
	if c.SpawnRequestRate <= 0 {
		c.SpawnRequestRate = def.SpawnRequestRate
	}
	if c.SpawnRequestBurst <= 0 {
		c.SpawnRequestBurst = def.SpawnRequestBurst
	}
	if c.SpawnRetryTicks == 0 {
		c.SpawnRetryTicks = def.SpawnRetryTicks
	}
	if c.RegistrationTimeout <= 0 {
		c.RegistrationTimeout = def.RegistrationTimeout
	}
	return c
}
