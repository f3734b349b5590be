package tick

import "testing"

func TestRateControllerThresholds(t *testing.T) {
	cases := []struct {
		name string
		lead int64
		want float64
	}{
		{name: "on time", lead: 1, want: 1},
		{name: "far behind", lead: -6, want: 0.96875},
		{name: "far ahead", lead: 6, want: 1.015625},
		{name: "slightly behind", lead: -2, want: 1},
		{name: "just past slow-down threshold", lead: 3, want: 1.015625},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rc := NewRateController(DefaultRateConfig())
			server := uint64(500)
			acked := uint64(int64(server) + tc.lead - 1)
			var got float64
			for i := 0; i < 100; i++ {
				got = rc.Observe(acked, server)
			}
			if got != tc.want {
				t.Fatalf("lead %d: expected multiplier %v, got %v (avg %v)", tc.lead, tc.want, got, rc.Average())
			}
		})
	}
}

func TestRateControllerSmoothing(t *testing.T) {
	rc := NewRateController(DefaultRateConfig())
	rc.Observe(10, 1) // lead 10
	if !approx(rc.Average(), 3) {
		t.Fatalf("expected first average 0.3*10 = 3, got %v", rc.Average())
	}
	if rc.Multiplier() != 1.015625 {
		t.Fatalf("expected slow-down multiplier, got %v", rc.Multiplier())
	}
	rc.Observe(1, 1) // lead 1
	if !approx(rc.Average(), 2.4) {
		t.Fatalf("expected 0.7*3 + 0.3*1 = 2.4, got %v", rc.Average())
	}
}

// A client ahead of the authority by exactly the one-way latency has its
// inputs applied on the tick they were produced for.
func TestRateControllerStableOnCleanLink(t *testing.T) {
	const (
		oneWay = 3 // ticks; 100ms round trip at 60Hz
		steps  = 2000
	)
	rc := NewRateController(DefaultRateConfig())

	type heartbeat struct {
		tick, ack uint64
		arrive    int
	}
	var inputs []struct {
		seq    uint64
		arrive int
	}
	var heartbeats []heartbeat
	var acked uint64

	for step := 0; step < steps; step++ {
		serverTick := uint64(1000 + step)
		clientTick := serverTick + oneWay

		inputs = append(inputs, struct {
			seq    uint64
			arrive int
		}{seq: clientTick, arrive: step + oneWay})
		for len(inputs) > 0 && inputs[0].arrive <= step {
			acked = inputs[0].seq
			inputs = inputs[1:]
		}
		if acked != 0 {
			heartbeats = append(heartbeats, heartbeat{tick: serverTick, ack: acked, arrive: step + oneWay})
		}
		if len(heartbeats) > 0 && heartbeats[0].arrive <= step {
			hb := heartbeats[0]
			heartbeats = heartbeats[1:]
			if m := rc.Observe(hb.ack, hb.tick); m != 1 {
				t.Fatalf("step %d: multiplier %v, expected 1 (avg %v)", step, m, rc.Average())
			}
			if avg := rc.Average(); avg < -2 || avg > 2 {
				t.Fatalf("step %d: average lead %v outside [-2, 2]", step, avg)
			}
		}
	}
	if rc.Samples() == 0 {
		t.Fatalf("expected heartbeats to be observed")
	}
}

func TestRateConfigNormalization(t *testing.T) {
	rc := NewRateController(RateConfig{Smoothing: 2, SpeedUp: 3, SlowDown: 0.5, SpeedUpBelow: 5, SlowDownAt: 1})
	if rc.cfg != DefaultRateConfig() {
		t.Fatalf("expected nonsensical constants to fall back to defaults, got %+v", rc.cfg)
	}
}
