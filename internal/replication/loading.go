package replication

// Phase is the catch-up state of a joining peer.
type Phase uint8

const (
	// PhaseIdle means no entity count has been announced yet.
	PhaseIdle Phase = iota
	// PhaseLoading means spawns are still outstanding.
	PhaseLoading
	// PhaseReady means every announced entity has arrived.
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Loading is the Loading{received, expected} -> Ready state machine polled
// once per tick.
type Loading struct {
	phase    Phase
	received int
	expected int
}

// Expect records the announced entity count and enters PhaseLoading.
func (l *Loading) Expect(count int) {
	if l.phase == PhaseReady {
		return
	}
	if count < 0 {
		count = 0
	}
	l.expected = count
	l.phase = PhaseLoading
}

// Observe records how many distinct entities are currently known.
func (l *Loading) Observe(received int) {
	l.received = received
}

// Poll advances the machine and reports true on the one call that moves it
// to PhaseReady.
func (l *Loading) Poll() bool {
	if l.phase != PhaseLoading || l.received < l.expected {
		return false
	}
	l.phase = PhaseReady
	return true
}

// Phase returns the current phase.
func (l Loading) Phase() Phase {
	return l.phase
}

// Progress returns the received and expected counts.
func (l Loading) Progress() (received, expected int) {
	return l.received, l.expected
}
