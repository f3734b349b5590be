package interp

import (
	"math"
	"testing"

	"netsync/internal/geom"
	"netsync/internal/netid"
)

func at(x float64) geom.Transform {
	return geom.Transform{Position: geom.Vec3{X: x}, Rotation: geom.IdentityQuat()}
}

func TestDuplicatePushIsIdempotent(t *testing.T) {
	once := NewBuffer(0.1)
	twice := NewBuffer(0.1)
	for tick, x := range []float64{0, 1, 2} {
		once.Push(uint64(tick+1), at(x))
		twice.Push(uint64(tick+1), at(x))
		if tick > 0 && twice.Push(uint64(tick+1), at(x)) {
			t.Fatalf("duplicate tick %d accepted", tick+1)
		}
	}

	onceTarget, _ := once.Target()
	twiceTarget, _ := twice.Target()
	if onceTarget != twiceTarget || once.Len() != twice.Len() {
		t.Fatalf("duplicate push changed the target: %+v vs %+v", onceTarget, twiceTarget)
	}
	if twice.Len() != Capacity {
		t.Fatalf("expected %d queued targets, got %d", Capacity, twice.Len())
	}
}

func TestQueueIsCapped(t *testing.T) {
	buf := NewBuffer(0.1)
	for tick := uint64(1); tick <= 6; tick++ {
		buf.Push(tick, at(float64(tick)))
	}
	if buf.Len() != Capacity {
		t.Fatalf("expected cap %d, got %d", Capacity, buf.Len())
	}
	target, _ := buf.Target()
	if target.Position.X != 5 {
		t.Fatalf("expected oldest retained target x=5, got %f", target.Position.X)
	}
	if buf.Push(3, at(3)) {
		t.Fatalf("stale tick accepted")
	}
}

func TestAdvanceBlendsAndSteps(t *testing.T) {
	buf := NewBuffer(0.1)
	if _, ok := buf.Advance(0.01); ok {
		t.Fatalf("empty buffer produced a transform")
	}
	buf.Push(1, at(0))
	buf.Push(2, at(10))
	buf.Push(3, at(20))

	got, _ := buf.Advance(0.05)
	if math.Abs(got.Position.X-5) > 1e-9 {
		t.Fatalf("expected halfway x=5, got %f", got.Position.X)
	}

	got, _ = buf.Advance(0.05)
	if got.Position.X != 10 {
		t.Fatalf("expected step to x=10 after one interval, got %f", got.Position.X)
	}
	if buf.Len() != 1 {
		t.Fatalf("expected one queued target after stepping, got %d", buf.Len())
	}

	got, _ = buf.Advance(0.25)
	if got.Position.X != 20 {
		t.Fatalf("expected hold at final target x=20, got %f", got.Position.X)
	}
	if buf.Len() != 1 {
		t.Fatalf("buffer must keep its last target, got %d", buf.Len())
	}
}

func TestSetAppliesInIDOrder(t *testing.T) {
	set := NewSet(0.1)
	for _, id := range []netid.EntityID{3, 1, 2} {
		set.Push(id, 1, at(float64(id)))
	}
	var order []netid.EntityID
	set.Advance(0.01, func(id netid.EntityID, tr geom.Transform) {
		if tr.Position.X != float64(id) {
			t.Fatalf("entity %d got x=%f", id, tr.Position.X)
		}
		order = append(order, id)
	})
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unexpected order %v", order)
	}
	set.Remove(2)
	if set.Len() != 2 {
		t.Fatalf("expected 2 tracked entities, got %d", set.Len())
	}
}
