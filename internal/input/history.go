package input

// Record is what the predicting client remembers about one local tick so the
// tick can be replayed after a rewind.
type Record struct {
	Tick      uint64
	Delta     float64
	Sample    Sample
	HasSample bool
}

type historySlot struct {
	record Record
	valid  bool
}

// History is a ring of Records indexed by tick % capacity. A slot is only
// returned when it still holds the requested tick.
type History struct {
	slots []historySlot
}

// NewHistory allocates a ring with the given capacity.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{slots: make([]historySlot, capacity)}
}

// Capacity reports the number of ticks retained.
func (h *History) Capacity() int {
	return len(h.slots)
}

// Store writes r into the slot for r.Tick, replacing whatever aged out.
func (h *History) Store(r Record) {
	idx := int(r.Tick % uint64(len(h.slots)))
	h.slots[idx] = historySlot{record: r, valid: true}
}

// At returns the record for tick if it has not been overwritten.
func (h *History) At(tick uint64) (Record, bool) {
	slot := h.slots[int(tick%uint64(len(h.slots)))]
	if !slot.valid || slot.record.Tick != tick {
		return Record{}, false
	}
	return slot.record, true
}
