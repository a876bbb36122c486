package main

import (
	"errors"
	"fmt"
	"math"
)

// AxisMode selects the transfer function applied to a raw analog axis value.
type AxisMode string

const (
	AxisFullRange    AxisMode = "full_range"
	AxisHalfPositive AxisMode = "half_positive"
	AxisHalfNegative AxisMode = "half_negative"

	// AxisTrigger currently shares the full_range formula.
	AxisTrigger AxisMode = "trigger"
)

// AxisConfig describes one logical analog control (speed axis, manual-position axis).
// An Index below zero means the control is not bound to any axis.
type AxisConfig struct {
	Index    int      `yaml:"index"`
	Invert   bool     `yaml:"invert"`
	Mode     AxisMode `yaml:"mode"`
	Deadzone float64  `yaml:"deadzone"`
}

// Bound reports whether the control is mapped to a physical axis.
func (c AxisConfig) Bound() bool { return c.Index >= 0 }

// Validate checks the mode and deadzone.
func (c AxisConfig) Validate() error {
	switch c.Mode {
	case AxisFullRange, AxisHalfPositive, AxisHalfNegative, AxisTrigger:
	default:
		return fmt.Errorf("axis mode must be one of %q, %q, %q, %q", AxisFullRange, AxisHalfPositive, AxisHalfNegative, AxisTrigger)
	}
	if c.Deadzone < 0 || c.Deadzone >= 1 || math.IsNaN(c.Deadzone) {
		return errors.New("axis deadzone must be in [0, 1)")
	}
	return nil
}

// MapAxis converts a raw axis reading in -1..1 into a 0..1 control value.
func MapAxis(raw float64, cfg AxisConfig) float64 {
	if math.IsNaN(raw) {
		raw = 0
	}
	if cfg.Invert {
		raw = -raw
	}
	if math.Abs(raw) < cfg.Deadzone {
		raw = 0
	}

	var mapped float64
	switch cfg.Mode {
	case AxisHalfPositive:
		if raw >= 0 {
			mapped = 1 - raw
		} else {
			mapped = 1
		}
	case AxisHalfNegative:
		if raw <= 0 {
			mapped = math.Abs(raw)
		} else {
			mapped = 0
		}
	default: // full_range, trigger
		mapped = (raw + 1) / 2
	}
	return clampFloat(mapped, 0, 1)
}

// SpeedLimits bounds every speed the engine produces.
type SpeedLimits struct {
	Min     float64
	Max     float64
	Neutral float64
}

// DefaultSpeedLimits returns the canonical speed range.
func DefaultSpeedLimits() SpeedLimits {
	return SpeedLimits{Min: defaultMinSpeed, Max: defaultMaxSpeed, Neutral: defaultNeutralSpeed}
}

// Validate rejects inverted or degenerate ranges.
func (l SpeedLimits) Validate() error {
	if math.IsNaN(l.Min) || math.IsNaN(l.Max) || math.IsNaN(l.Neutral) {
		return errors.New("speed limits must be numbers")
	}
	if l.Min <= 0 {
		return errors.New("speed.min must be > 0")
	}
	if l.Max < l.Min {
		return errors.New("speed.max must be >= speed.min")
	}
	if l.Neutral < l.Min || l.Neutral > l.Max {
		return errors.New("speed.neutral must be between speed.min and speed.max")
	}
	return nil
}

// Contains reports whether v lies within [Min, Max].
func (l SpeedLimits) Contains(v float64) bool {
	return !math.IsNaN(v) && v >= l.Min && v <= l.Max
}

// Clamp bounds v to [Min, Max]. NaN maps to Neutral.
func (l SpeedLimits) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return l.Neutral
	}
	return clampFloat(v, l.Min, l.Max)
}

// AxisToSpeed maps a 0..1 control value onto [Min, Max] with 0.5 landing on Neutral.
// The two halves are scaled independently so the neutral point stays fixed.
func AxisToSpeed(mapped float64, l SpeedLimits) float64 {
	mapped = clampFloat(mapped, 0, 1)
	var speed float64
	if mapped <= 0.5 {
		speed = l.Min + mapped*2*(l.Neutral-l.Min)
	} else {
		speed = l.Neutral + (mapped-0.5)*2*(l.Max-l.Neutral)
	}
	return l.Clamp(speed)
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// roundTo rounds v to the given number of decimals.
func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
