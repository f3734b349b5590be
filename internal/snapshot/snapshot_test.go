package snapshot

import (
	"testing"

	"netsync/internal/netid"
	"netsync/internal/wire"
)

type recordingMetrics struct {
	adds   map[string]uint64
	stores map[string]uint64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{adds: make(map[string]uint64), stores: make(map[string]uint64)}
}

func (m *recordingMetrics) Add(key string, delta uint64) { m.adds[key] += delta }

func (m *recordingMetrics) Store(key string, value uint64) { m.stores[key] = value }

func TestWorldStateEncodeIsSortedAndRoundTrips(t *testing.T) {
	state := WorldState{
		7: []byte{0x07},
		2: []byte{0x02, 0x22},
		5: {},
	}
	buf := wire.NewBuffer(0)
	if err := state.Encode(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	data := buf.Bytes()
	// count, then id 2 first.
	if data[0] != 3 || data[1] != 0 || data[2] != 2 {
		t.Fatalf("expected count 3 followed by entity 2, got % x", data[:6])
	}
	decoded, err := Decode(wire.FromBytes(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(state) {
		t.Fatalf("round trip mismatch: got %v want %v", decoded, state)
	}
}

func TestDecodeTruncatedStateFails(t *testing.T) {
	buf := wire.NewBuffer(0)
	WorldState{1: []byte{1, 2, 3, 4}}.Encode(buf)
	data := buf.Bytes()
	if _, err := Decode(wire.FromBytes(data[:len(data)-1])); !wire.IsProtocolViolation(err) {
		t.Fatalf("expected protocol violation, got %v", err)
	}
}

func TestDecodeRejectsRepeatedEntity(t *testing.T) {
	buf := wire.NewBuffer(0)
	buf.WriteUint16(2)
	for _, body := range [][]byte{{0x01}, {0x02}} {
		buf.WriteUint32(9)
		buf.WriteUint16(uint16(len(body)))
		buf.WriteRaw(body)
	}
	state, err := Decode(wire.FromBytes(buf.Bytes()))
	if !wire.IsProtocolViolation(err) {
		t.Fatalf("expected protocol violation, got %v", err)
	}
	if state != nil {
		t.Fatalf("expected no partial state, got %v", state)
	}
}

func TestStoreReportsAgedOutTickUnavailable(t *testing.T) {
	const capacity = 8
	metrics := newRecordingMetrics()
	store := NewStore(capacity, metrics)
	for tick := uint64(1); tick <= 20; tick++ {
		store.Record(tick, WorldState{1: []byte{byte(tick)}})
	}
	if _, ok := store.At(20 - capacity); ok {
		t.Fatalf("expected tick %d to be unavailable", 20-capacity)
	}
	state, ok := store.At(20 - capacity + 1)
	if !ok {
		t.Fatalf("expected oldest retained tick to be available")
	}
	if got := state[1][0]; got != byte(20-capacity+1) {
		t.Fatalf("expected state for tick %d, got byte %d", 20-capacity+1, got)
	}
	if metrics.adds[storeMissMetricKey] != 1 {
		t.Fatalf("expected one miss recorded, got %d", metrics.adds[storeMissMetricKey])
	}
	size, oldest, newest := store.Window()
	if size != capacity || oldest != 13 || newest != 20 {
		t.Fatalf("unexpected window size=%d oldest=%d newest=%d", size, oldest, newest)
	}
}

func TestStoreRecordReportsEviction(t *testing.T) {
	store := NewStore(4, nil)
	store.Record(3, WorldState{})
	result := store.Record(7, WorldState{1: nil, 2: nil})
	if !result.Overwrote || result.EvictedTick != 3 || result.Entities != 2 {
		t.Fatalf("unexpected record result %+v", result)
	}
	again := store.Record(7, WorldState{})
	if again.Overwrote {
		t.Fatalf("rewriting the same tick must not count as eviction")
	}
}

func TestStoreReturnsIndependentCopies(t *testing.T) {
	store := NewStore(4, nil)
	store.Record(1, WorldState{9: []byte{1, 2}})
	first, _ := store.At(1)
	first[9][0] = 99
	delete(first, 9)
	second, ok := store.At(1)
	if !ok || second[9][0] != 1 {
		t.Fatalf("stored state was mutated through a returned copy: %v", second)
	}
	raw, ok := store.EntityAt(1, 9)
	if !ok || len(raw) != 2 {
		t.Fatalf("expected entity bytes, got %v ok=%v", raw, ok)
	}
	if _, ok := store.EntityAt(1, netid.EntityID(3)); ok {
		t.Fatalf("expected absent entity to be reported missing")
	}
}

func TestStorePutOnlyTouchesRetainedTicks(t *testing.T) {
	store := NewStore(2, nil)
	store.Record(4, WorldState{1: []byte{0}})
	if !store.Put(4, 1, []byte{5}) {
		t.Fatalf("expected put into retained tick to succeed")
	}
	if raw, _ := store.EntityAt(4, 1); raw[0] != 5 {
		t.Fatalf("expected overwritten state, got %v", raw)
	}
	if store.Put(2, 1, []byte{5}) {
		t.Fatalf("expected put into an unrecorded tick to fail")
	}
}
