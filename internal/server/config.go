package server

import (
	"netsync/internal/input"
	"netsync/internal/tick"
)

// Config tunes the authority.
type Config struct {
	TickRate          int
	BufferMaxTicks    int
	MaxPeers          int
	InputQueueLimit   int
	OverflowPolicy    input.OverflowPolicy
	SpawnRequestRate  float64
	SpawnRequestBurst int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		TickRate:          tick.DefaultRate,
		BufferMaxTicks:    64,
		MaxPeers:          16,
		InputQueueLimit:   input.DefaultQueueLimit,
		OverflowPolicy:    input.DropOldest,
		SpawnRequestRate:  10,
		SpawnRequestBurst: 5,
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
	if c.InputQueueLimit <= 0 {
		c.InputQueueLimit = def.InputQueueLimit
	}
	if c.OverflowPolicy == "" {
		c.OverflowPolicy = def.OverflowPolicy
	}
	if c.SpawnRequestRate <= 0 {
		c.SpawnRequestRate = def.SpawnRequestRate
	}
	if c.SpawnRequestBurst <= 0 {
		c.SpawnRequestBurst = def.SpawnRequestBurst
	}
	return c
}
