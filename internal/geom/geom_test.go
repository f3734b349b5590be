package geom

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLerp(t *testing.T) {
	cases := []struct {
		name string
		t    float64
		want Vec3
	}{
		{name: "start", t: 0, want: Vec3{X: 0, Y: 0, Z: 0}},
		{name: "middle", t: 0.5, want: Vec3{X: 5, Y: -1, Z: 2}},
		{name: "end", t: 1, want: Vec3{X: 10, Y: -2, Z: 4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Lerp(Vec3{}, Vec3{X: 10, Y: -2, Z: 4}, tc.t)
			if !approx(got.X, tc.want.X) || !approx(got.Y, tc.want.Y) || !approx(got.Z, tc.want.Z) {
				t.Fatalf("Lerp(%v) = %+v, want %+v", tc.t, got, tc.want)
			}
		})
	}
}

func TestDistanceSquared(t *testing.T) {
	got := Vec3{X: 10}.DistanceSquared(Vec3{X: 10.2})
	if !approx(got, 0.04) {
		t.Fatalf("expected 0.04, got %f", got)
	}
}

func TestSlerpHalfway(t *testing.T) {
	from := YawQuat(0)
	to := YawQuat(math.Pi / 2)
	got := Slerp(from, to, 0.5)
	want := YawQuat(math.Pi / 4)
	if !approx(got.Y, want.Y) || !approx(got.W, want.W) {
		t.Fatalf("Slerp halfway = %+v, want %+v", got, want)
	}
}

func TestSlerpTakesShortestArc(t *testing.T) {
	from := YawQuat(0)
	negated := YawQuat(math.Pi / 2)
	negated = Quat{X: -negated.X, Y: -negated.Y, Z: -negated.Z, W: -negated.W}
	got := Slerp(from, negated, 0.5)
	want := YawQuat(math.Pi / 4)
	if !approx(math.Abs(got.Dot(want)), 1) {
		t.Fatalf("expected rotation equivalent to %+v, got %+v", want, got)
	}
}

func TestBlendClampsWeight(t *testing.T) {
	from := Transform{Position: Vec3{X: 1}, Rotation: IdentityQuat()}
	to := Transform{Position: Vec3{X: 3}, Rotation: YawQuat(1)}
	if got := Blend(from, to, -1); got != from {
		t.Fatalf("expected from for negative weight, got %+v", got)
	}
	if got := Blend(from, to, 2); got != to {
		t.Fatalf("expected to for weight above one, got %+v", got)
	}
}
