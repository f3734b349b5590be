package input

import (
	"testing"

	"netsync/internal/netid"
)

func TestQueueAppliesInArrivalOrderAndDropsSuperseded(t *testing.T) {
	q := NewQueue(16, DropOldest, nil)
	// Sent 1..6; the network delivered them shuffled with a duplicate.
	arrivals := []uint16{1, 3, 2, 4, 4, 6, 5}
	for _, seq := range arrivals {
		q.Push(Sample{Seq: seq})
	}
	drained := q.Drain()
	want := []uint16{1, 3, 4, 6}
	if len(drained) != len(want) {
		t.Fatalf("expected %d samples, got %d: %+v", len(want), len(drained), drained)
	}
	for i, s := range drained {
		if s.Seq != want[i] {
			t.Fatalf("position %d: expected seq %d, got %d", i, want[i], s.Seq)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected drain to empty the queue")
	}
}

func TestQueueFIFOForIncreasingSequences(t *testing.T) {
	q := NewQueue(8, DropOldest, nil)
	for seq := uint16(65530); seq != 4; seq++ {
		if ok, reason := q.Push(Sample{Seq: seq}); !ok {
			t.Fatalf("push %d rejected: %s", seq, reason)
		}
		if q.Len() == 8 {
			drained := q.Drain()
			for i := 1; i < len(drained); i++ {
				if !SeqNewer(drained[i].Seq, drained[i-1].Seq) {
					t.Fatalf("drain out of order at %d: %d then %d", i, drained[i-1].Seq, drained[i].Seq)
				}
			}
		}
	}
}

func TestQueueOverflowPolicies(t *testing.T) {
	oldest := NewQueue(2, DropOldest, nil)
	for seq := uint16(1); seq <= 3; seq++ {
		if ok, _ := oldest.Push(Sample{Seq: seq}); !ok {
			t.Fatalf("drop_oldest must always accept the newest sample")
		}
	}
	drained := oldest.Drain()
	if len(drained) != 2 || drained[0].Seq != 2 || drained[1].Seq != 3 {
		t.Fatalf("expected [2 3], got %+v", drained)
	}
	if oldest.Overflowed() != 1 {
		t.Fatalf("expected one overflow, got %d", oldest.Overflowed())
	}

	newest := NewQueue(2, DropNewest, nil)
	newest.Push(Sample{Seq: 1})
	newest.Push(Sample{Seq: 2})
	if ok, reason := newest.Push(Sample{Seq: 3}); ok || reason != RejectOverflow {
		t.Fatalf("expected overflow rejection, got ok=%v reason=%q", ok, reason)
	}
	drained = newest.Drain()
	if len(drained) != 2 || drained[1].Seq != 2 {
		t.Fatalf("expected [1 2], got %+v", drained)
	}
}

func TestQueueAck(t *testing.T) {
	q := NewQueue(4, DropOldest, nil)
	if _, ok := q.LastAcked(); ok {
		t.Fatalf("expected no ack before any sample is applied")
	}
	q.Ack(42)
	if seq, ok := q.LastAcked(); !ok || seq != 42 {
		t.Fatalf("expected ack 42, got %d (ok=%v)", seq, ok)
	}
}

func TestQueuesImplicitRegistrationAndRevocation(t *testing.T) {
	qs := NewQueues(8, DropOldest, nil)
	peer := netid.PeerID(5)
	accepted, reason := qs.Enqueue(peer, []Sample{{Seq: 1}, {Seq: 2}})
	if accepted != 2 || reason != "" {
		t.Fatalf("expected implicit registration to accept both samples, got %d %q", accepted, reason)
	}
	if peers := qs.Peers(); len(peers) != 1 || peers[0] != peer {
		t.Fatalf("expected peer list [5], got %v", peers)
	}

	qs.Remove(peer)
	accepted, reason = qs.Enqueue(peer, []Sample{{Seq: 3}})
	if accepted != 0 || reason != RejectRevoked {
		t.Fatalf("expected stray packet to be discarded, got %d %q", accepted, reason)
	}
	if _, ok := qs.Get(peer); ok {
		t.Fatalf("expected revoked peer to have no queue")
	}
	if _, ok := qs.Register(peer); ok {
		t.Fatalf("expected revoked peer to stay revoked")
	}
}
