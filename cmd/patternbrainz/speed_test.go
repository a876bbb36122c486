package main

import (
	"math"
	"testing"
	"time"
)

func newTestResolver() *SpeedResolver {
	return NewSpeedResolver(DefaultSpeedLimits(), DefaultChaosConfig(), testRNG(5))
}

func TestResolve_ManualOnly(t *testing.T) {
	r := newTestResolver()
	res := r.Resolve(0.75, 1.0, time.Now())
	if res.Speed != 0.75 {
		t.Errorf("speed = %v, want 0.75", res.Speed)
	}
}

func TestResolve_JoystickMultiplierAndClamp(t *testing.T) {
	r := newTestResolver()
	if got := r.Resolve(1.0, 1.2, time.Now()).Speed; got != 1.2 {
		t.Errorf("1.0 x 1.2 = %v", got)
	}
	if got := r.Resolve(1.4, 1.5, time.Now()).Speed; got != 1.5 {
		t.Errorf("expected clamp to max, got %v", got)
	}
	if got := r.Resolve(0.1, 0.1, time.Now()).Speed; got != 0.1 {
		t.Errorf("expected clamp to min, got %v", got)
	}
	if got := r.Resolve(0.8, math.NaN(), time.Now()).Speed; got != 0.8 {
		t.Errorf("NaN multiplier should be neutral, got %v", got)
	}
}

func TestResolve_BuildupOverridesManual(t *testing.T) {
	r := newTestResolver()
	t0 := time.Unix(1000, 0)
	cfg := BuildupConfig{Duration: 60 * time.Second, Cycles: 1, StartSpeed: 0.1, EndSpeed: 1.5}
	if err := r.StartBuildup(cfg, t0); err != nil {
		t.Fatalf("StartBuildup: %v", err)
	}

	if got := r.Resolve(0.75, 1.0, t0).Speed; got != 0.1 {
		t.Errorf("elapsed=0 speed = %v, want 0.1", got)
	}
	if got := r.Resolve(0.75, 1.0, t0.Add(30*time.Second)).Speed; got != 0.45 {
		t.Errorf("elapsed=30s speed = %v, want 0.45", got)
	}

	res := r.Resolve(0.75, 1.0, t0.Add(60*time.Second))
	if !res.BuildupComplete || res.Speed != 1.5 {
		t.Fatalf("completion: %+v", res)
	}
	if r.BuildupActive() {
		t.Errorf("build-up still active after completion")
	}

	// Back to manual afterwards, with no second completion.
	res = r.Resolve(0.75, 1.0, t0.Add(61*time.Second))
	if res.BuildupComplete || res.Speed != 0.75 {
		t.Errorf("after completion: %+v", res)
	}
}

func TestResolve_ChaosOverridesBuildup(t *testing.T) {
	r := newTestResolver()
	t0 := time.Unix(1000, 0)
	_ = r.StartBuildup(BuildupConfig{Duration: 60 * time.Second, Cycles: 1, StartSpeed: 0.1, EndSpeed: 1.5}, t0)
	r.EnableChaos(0.9, "tease", t0)

	if got := r.Resolve(0.75, 1.0, t0.Add(time.Second)).Speed; got != 0.9 {
		t.Errorf("chaos speed = %v, want 0.9", got)
	}
}

func TestResolve_AlwaysWithinLimits(t *testing.T) {
	r := newTestResolver()
	r.SetCategories([]string{"a", "b", "c"})
	t0 := time.Unix(1000, 0)
	_ = r.StartBuildup(BuildupConfig{Duration: 120 * time.Second, Cycles: 3, StartSpeed: 0.1, EndSpeed: 1.5}, t0)
	r.EnableChaos(1.0, "a", t0)

	limits := r.Limits()
	bases := []float64{-1, 0, 0.1, 0.75, 1.5, 9}
	mults := []float64{0, 0.1, 1, 1.5, 40}
	now := t0
	for i := 0; i < 2000; i++ {
		now = now.Add(97 * time.Millisecond)
		res := r.Resolve(bases[i%len(bases)], mults[i%len(mults)], now)
		if res.Speed < limits.Min || res.Speed > limits.Max {
			t.Fatalf("speed %v outside [%v, %v]", res.Speed, limits.Min, limits.Max)
		}
	}
}

func TestResolve_MilestonesSurfaceOnce(t *testing.T) {
	r := newTestResolver()
	t0 := time.Unix(1000, 0)
	_ = r.StartBuildup(BuildupConfig{Duration: 40 * time.Second, Cycles: 1, StartSpeed: 0.5, EndSpeed: 1.0}, t0)

	counts := map[int]int{}
	for ms := 0; ms < 40000; ms += 100 {
		res := r.Resolve(1, 1, t0.Add(time.Duration(ms)*time.Millisecond))
		for _, m := range res.Milestones {
			counts[m]++
		}
	}
	for _, m := range []int{25, 50, 75} {
		if counts[m] != 1 {
			t.Errorf("milestone %d fired %d times", m, counts[m])
		}
	}
}
