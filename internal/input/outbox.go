package input

// Outbox is the predicting client's outgoing sample buffer. It is owned by
// the simulation loop and is not safe for concurrent use.
type Outbox struct {
	pending []Sample
	current Sample
	hasCur  bool
}

// NewOutbox returns an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{pending: make([]Sample, 0, 4)}
}

// Capture records sample as the new current intent if it differs from the
// previous one. The returned sample carries the sequence id derived from
// tick. Unchanged intent is reported as not captured.
func (o *Outbox) Capture(sample Sample, tick uint64) (Sample, bool) {
	if o.hasCur && sample.Equal(o.current) {
		return Sample{}, false
	}
	sample.Seq = uint16(tick)
	o.current = sample
	o.hasCur = true
	if len(o.pending) >= MaxSamplesPerPacket {
		copy(o.pending, o.pending[1:])
		o.pending = o.pending[:len(o.pending)-1]
	}
	o.pending = append(o.pending, sample)
	return sample, true
}

// Current returns the most recently captured sample.
func (o *Outbox) Current() (Sample, bool) {
	return o.current, o.hasCur
}

// Pending reports how many captured samples await the next flush.
func (o *Outbox) Pending() int {
	return len(o.pending)
}

// Flush drains the buffer into the samples for this tick's packet. When
// nothing new was captured the current intent is resent, restamped with
// tick, so a lost packet is always superseded by the next one.
func (o *Outbox) Flush(tick uint64) []Sample {
	if len(o.pending) == 0 {
		if !o.hasCur {
			return nil
		}
		resend := o.current
		resend.Seq = uint16(tick)
		return []Sample{resend}
	}
	out := make([]Sample, len(o.pending))
	copy(out, o.pending)
	o.pending = o.pending[:0]
	return out
}

// Reset forgets all captured intent, e.g. after the session ends.
func (o *Outbox) Reset() {
	o.pending = o.pending[:0]
	o.current = Sample{}
	o.hasCur = false
}
