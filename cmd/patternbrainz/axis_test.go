package main

import (
	"math"
	"testing"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMapAxis_FullRangeEndpoints(t *testing.T) {
	cfg := AxisConfig{Index: 0, Mode: AxisFullRange, Deadzone: 0.02}

	cases := []struct {
		raw  float64
		want float64
	}{
		{-1, 0},
		{0, 0.5},
		{1, 1},
		{0.01, 0.5}, // inside deadzone
		{-0.5, 0.25},
	}
	for _, c := range cases {
		if got := MapAxis(c.raw, cfg); !approxEqual(got, c.want) {
			t.Errorf("MapAxis(%v) = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestMapAxis_TriggerMatchesFullRange(t *testing.T) {
	full := AxisConfig{Mode: AxisFullRange, Deadzone: 0.02}
	trig := AxisConfig{Mode: AxisTrigger, Deadzone: 0.02}
	for _, raw := range []float64{-1, -0.4, 0, 0.3, 1} {
		if MapAxis(raw, full) != MapAxis(raw, trig) {
			t.Errorf("trigger and full_range differ at raw=%v", raw)
		}
	}
}

func TestMapAxis_HalfModes(t *testing.T) {
	pos := AxisConfig{Mode: AxisHalfPositive}
	if got := MapAxis(0.25, pos); !approxEqual(got, 0.75) {
		t.Errorf("half_positive(0.25) = %v, want 0.75", got)
	}
	if got := MapAxis(-0.6, pos); got != 1 {
		t.Errorf("half_positive(-0.6) = %v, want 1", got)
	}

	neg := AxisConfig{Mode: AxisHalfNegative}
	if got := MapAxis(-0.6, neg); !approxEqual(got, 0.6) {
		t.Errorf("half_negative(-0.6) = %v, want 0.6", got)
	}
	if got := MapAxis(0.6, neg); got != 0 {
		t.Errorf("half_negative(0.6) = %v, want 0", got)
	}
}

func TestMapAxis_Invert(t *testing.T) {
	cfg := AxisConfig{Mode: AxisFullRange, Invert: true}
	if got := MapAxis(1, cfg); got != 0 {
		t.Errorf("inverted MapAxis(1) = %v, want 0", got)
	}
}

func TestMapAxis_OutOfRangeRawIsBounded(t *testing.T) {
	cfg := AxisConfig{Mode: AxisFullRange}
	if got := MapAxis(3, cfg); got != 1 {
		t.Errorf("MapAxis(3) = %v, want 1", got)
	}
	if got := MapAxis(math.NaN(), cfg); got != 0.5 {
		t.Errorf("MapAxis(NaN) = %v, want 0.5", got)
	}
}

func TestAxisToSpeed_RoundTrip(t *testing.T) {
	limits := DefaultSpeedLimits()
	cfg := AxisConfig{Index: 1, Mode: AxisFullRange, Deadzone: 0.02}

	if got := AxisToSpeed(MapAxis(-1, cfg), limits); !approxEqual(got, limits.Min) {
		t.Errorf("raw -1 -> %v, want %v", got, limits.Min)
	}
	if got := AxisToSpeed(MapAxis(0, cfg), limits); !approxEqual(got, limits.Neutral) {
		t.Errorf("raw 0 -> %v, want %v", got, limits.Neutral)
	}
	if got := AxisToSpeed(MapAxis(1, cfg), limits); !approxEqual(got, limits.Max) {
		t.Errorf("raw +1 -> %v, want %v", got, limits.Max)
	}
}

func TestAxisToSpeed_SegmentsAreIndependent(t *testing.T) {
	limits := SpeedLimits{Min: 0.3, Max: 2.0, Neutral: 1.0}
	// Lower half spans 0.3..1.0, upper half spans 1.0..2.0.
	if got := AxisToSpeed(0.25, limits); !approxEqual(got, 0.65) {
		t.Errorf("AxisToSpeed(0.25) = %v, want 0.65", got)
	}
	if got := AxisToSpeed(0.75, limits); !approxEqual(got, 1.5) {
		t.Errorf("AxisToSpeed(0.75) = %v, want 1.5", got)
	}
}

func TestSpeedLimits_Validate(t *testing.T) {
	if err := DefaultSpeedLimits().Validate(); err != nil {
		t.Fatalf("default limits rejected: %v", err)
	}
	bad := []SpeedLimits{
		{Min: 1.5, Max: 0.1, Neutral: 1.0},
		{Min: 0, Max: 1.5, Neutral: 1.0},
		{Min: 0.1, Max: 1.5, Neutral: 2.0},
	}
	for _, l := range bad {
		if err := l.Validate(); err == nil {
			t.Errorf("expected %+v to be rejected", l)
		}
	}
}
