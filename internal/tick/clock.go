// Package tick turns a variable-rate frame loop into fixed-rate network
// ticks and adapts the tick interval to keep a predicting client's inputs
// arriving at the authority just in time.
package tick

import "time"

// DefaultRate is the tick rate used when none is configured.
const DefaultRate = 60

// Clock accumulates frame time and fires at most one tick per frame once the
// accumulated time reaches the effective interval (nominal interval times
// the correction multiplier). It is driven from a single goroutine.
type Clock struct {
	interval   float64
	multiplier float64
	counter    float64
	ticks      uint64
}

// NewClock returns a clock firing rate times per second.
func NewClock(rate int) *Clock {
	if rate <= 0 {
		rate = DefaultRate
	}
	return &Clock{interval: 1 / float64(rate), multiplier: 1}
}

// Advance adds elapsed seconds to the counter. When the counter reaches the
// effective interval it reports a tick carrying the accumulated time and
// resets the counter to zero. The reported time is never below the nominal
// interval, so a sped-up clock fires more often without shrinking each
// step.
func (c *Clock) Advance(elapsed float64) (float64, bool) {
	if elapsed > 0 {
		c.counter += elapsed
	}
	if c.counter < c.EffectiveInterval() {
		return 0, false
	}
	delta := c.counter
	if delta < c.interval {
		delta = c.interval
	}
	c.counter = 0
	c.ticks++
	return delta, true
}

// Interval returns the nominal tick interval in seconds.
func (c *Clock) Interval() float64 {
	return c.interval
}

// IntervalDuration returns the nominal tick interval.
func (c *Clock) IntervalDuration() time.Duration {
	return time.Duration(c.interval * float64(time.Second))
}

// EffectiveInterval is the nominal interval scaled by the multiplier.
func (c *Clock) EffectiveInterval() float64 {
	return c.interval * c.multiplier
}

// SetMultiplier replaces the interval correction factor. Non-positive
// values reset it to 1.
func (c *Clock) SetMultiplier(m float64) {
	if m <= 0 {
		m = 1
	}
	c.multiplier = m
}

// Multiplier returns the current correction factor.
func (c *Clock) Multiplier() float64 {
	return c.multiplier
}

// Pending returns the time accumulated toward the next tick.
func (c *Clock) Pending() float64 {
	return c.counter
}

// Fired reports how many ticks the clock has produced.
func (c *Clock) Fired() uint64 {
	return c.ticks
}
