// Package interp smooths remote entities between discrete authoritative
// updates.
package interp

import (
	"netsync/internal/geom"
)

// Capacity is the maximum number of buffered target states.
const Capacity = 2

type entry struct {
	tick      uint64
	transform geom.Transform
}

// Buffer holds the from state and up to Capacity queued targets for one
// entity. Pushes are keyed by tick: a tick at or before the newest one
// already accepted is ignored, so duplicate heartbeats cannot advance it.
type Buffer struct {
	interval float64
	timer    float64
	from     geom.Transform
	hasFrom  bool
	queue    []entry
	newest   uint64
}

// NewBuffer returns a buffer stepping once per interval seconds.
func NewBuffer(interval float64) *Buffer {
	if interval <= 0 {
		interval = 1.0 / 60
	}
	return &Buffer{interval: interval, queue: make([]entry, 0, Capacity)}
}

// SetInterval changes the nominal tick interval.
func (b *Buffer) SetInterval(interval float64) {
	if interval > 0 {
		b.interval = interval
	}
}

// Push offers the state received for tick. It reports whether the state
// was accepted.
func (b *Buffer) Push(tick uint64, t geom.Transform) bool {
	if !b.hasFrom {
		b.from = t
		b.hasFrom = true
		b.newest = tick
		return true
	}
	if tick <= b.newest {
		return false
	}
	b.newest = tick
	if len(b.queue) == Capacity {
		copy(b.queue, b.queue[1:])
		b.queue = b.queue[:Capacity-1]
	}
	b.queue = append(b.queue, entry{tick: tick, transform: t})
	return true
}

// Advance accumulates delta and returns the blended transform for this
// frame. Once the timer passes one interval the from state steps to the
// next target, provided another target remains behind it.
func (b *Buffer) Advance(delta float64) (geom.Transform, bool) {
	if !b.hasFrom {
		return geom.Transform{}, false
	}
	b.timer += delta
	if b.timer >= b.interval {
		if len(b.queue) >= Capacity {
			b.from = b.queue[0].transform
			b.queue = append(b.queue[:0], b.queue[1:]...)
			b.timer = 0
		} else {
			b.timer = b.interval
		}
	}
	if len(b.queue) == 0 {
		return b.from, true
	}
	return geom.Blend(b.from, b.queue[0].transform, b.timer/b.interval), true
}

// Target returns the state currently being interpolated toward.
func (b *Buffer) Target() (geom.Transform, bool) {
	if len(b.queue) > 0 {
		return b.queue[0].transform, true
	}
	return b.from, b.hasFrom
}

// Len reports the number of queued targets.
func (b *Buffer) Len() int {
	return len(b.queue)
}

// Newest returns the most recent accepted tick.
func (b *Buffer) Newest() uint64 {
	return b.newest
}
