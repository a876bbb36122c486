package main

import (
	"errors"
	"testing"
	"time"
)

func TestBuildup_QuadraticEaseMidpoint(t *testing.T) {
	var b BuildupState
	t0 := time.Unix(1000, 0)
	cfg := BuildupConfig{Duration: 60 * time.Second, Cycles: 1, StartSpeed: 0.1, EndSpeed: 1.5}
	if err := b.Start(cfg, DefaultSpeedLimits(), t0); err != nil {
		t.Fatalf("Start: %v", err)
	}

	step, err := b.Advance(t0.Add(30 * time.Second))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !approxEqual(step.Progress, 0.5) {
		t.Errorf("progress = %v, want 0.5", step.Progress)
	}
	if !approxEqual(step.Speed, 0.45) {
		t.Errorf("speed = %v, want 0.45", step.Speed)
	}
}

func TestBuildup_StartAndEndSpeeds(t *testing.T) {
	var b BuildupState
	t0 := time.Unix(1000, 0)
	cfg := BuildupConfig{Duration: 60 * time.Second, Cycles: 1, StartSpeed: 0.2, EndSpeed: 1.4}
	if err := b.Start(cfg, DefaultSpeedLimits(), t0); err != nil {
		t.Fatalf("Start: %v", err)
	}

	step, _ := b.Advance(t0)
	if !approxEqual(step.Speed, 0.2) || step.Completed {
		t.Fatalf("at elapsed=0: speed=%v completed=%v", step.Speed, step.Completed)
	}

	step, _ = b.Advance(t0.Add(61 * time.Second))
	if !step.Completed {
		t.Fatalf("expected completion at end of final cycle")
	}
	if step.Speed != 1.4 {
		t.Errorf("final speed = %v, want 1.4", step.Speed)
	}
	if b.Active() {
		t.Errorf("build-up still active after completion")
	}

	// Completion fires once per session.
	if _, err := b.Advance(t0.Add(62 * time.Second)); !errors.Is(err, errBuildupInactive) {
		t.Errorf("expected inactive error after completion, got %v", err)
	}
}

func TestBuildup_MilestonesFireOncePerCycle(t *testing.T) {
	var b BuildupState
	t0 := time.Unix(1000, 0)
	// Two cycles of 30s each.
	cfg := BuildupConfig{Duration: 60 * time.Second, Cycles: 2, StartSpeed: 0.5, EndSpeed: 1.0}
	if err := b.Start(cfg, DefaultSpeedLimits(), t0); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var fired []int
	for s := 0; s <= 59; s++ {
		step, err := b.Advance(t0.Add(time.Duration(s) * time.Second))
		if err != nil {
			t.Fatalf("Advance at %ds: %v", s, err)
		}
		fired = append(fired, step.Milestones...)
	}
	want := []int{25, 50, 75, 25, 50, 75}
	if len(fired) != len(want) {
		t.Fatalf("milestones = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("milestones = %v, want %v", fired, want)
		}
	}
}

func TestBuildup_CycleRestartsRamp(t *testing.T) {
	var b BuildupState
	t0 := time.Unix(1000, 0)
	cfg := BuildupConfig{Duration: 60 * time.Second, Cycles: 2, StartSpeed: 0.5, EndSpeed: 1.0}
	_ = b.Start(cfg, DefaultSpeedLimits(), t0)

	step, _ := b.Advance(t0.Add(30 * time.Second))
	if step.Cycle != 1 || !approxEqual(step.Speed, 0.5) {
		t.Errorf("second cycle start: cycle=%d speed=%v", step.Cycle, step.Speed)
	}
}

func TestBuildup_StartIsIdempotent(t *testing.T) {
	var b BuildupState
	t0 := time.Unix(1000, 0)
	cfg := BuildupConfig{Duration: 60 * time.Second, Cycles: 1, StartSpeed: 0.1, EndSpeed: 1.5}
	_ = b.Start(cfg, DefaultSpeedLimits(), t0)
	id := b.SessionID()

	_ = b.Start(cfg, DefaultSpeedLimits(), t0.Add(10*time.Second))
	if b.SessionID() != id {
		t.Errorf("second Start replaced the active session")
	}
}

func TestBuildupConfig_Validate(t *testing.T) {
	l := DefaultSpeedLimits()
	bad := []BuildupConfig{
		{Duration: 0, Cycles: 1, StartSpeed: 0.1, EndSpeed: 1.5},
		{Duration: 10 * time.Second, Cycles: 1, StartSpeed: 0.1, EndSpeed: 1.5},
		{Duration: 60 * time.Second, Cycles: 0, StartSpeed: 0.1, EndSpeed: 1.5},
		{Duration: 60 * time.Second, Cycles: 51, StartSpeed: 0.1, EndSpeed: 1.5},
		{Duration: 60 * time.Second, Cycles: 1, StartSpeed: 0.05, EndSpeed: 1.5},
		{Duration: 60 * time.Second, Cycles: 1, StartSpeed: 0.1, EndSpeed: 2.0},
	}
	for _, c := range bad {
		if err := c.Validate(l); err == nil {
			t.Errorf("expected %+v to be rejected", c)
		}
	}

	var b BuildupState
	if err := b.Start(bad[0], l, time.Now()); err == nil || b.Active() {
		t.Errorf("invalid config must not start a session")
	}
}
