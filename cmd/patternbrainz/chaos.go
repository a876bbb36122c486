package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// SpeedRange is a closed interval of speeds.
type SpeedRange struct {
	Lo float64
	Hi float64
}

func (r SpeedRange) sample(rng *rand.Rand) float64 {
	return r.Lo + rng.Float64()*(r.Hi-r.Lo)
}

// Interval is a closed range of durations sampled uniformly.
type Interval struct {
	Min time.Duration
	Max time.Duration
}

func (iv Interval) sample(rng *rand.Rand) time.Duration {
	if iv.Max <= iv.Min {
		return iv.Min
	}
	return iv.Min + time.Duration(rng.Int64N(int64(iv.Max-iv.Min)+1))
}

// ChaosConfig tunes the autonomous mode.
type ChaosConfig struct {
	ExtremeChance float64
	ExtremeLow    SpeedRange
	ExtremeHigh   SpeedRange
	Central       SpeedRange

	SpeedEvery    Interval
	CategoryEvery Interval
	SkipEvery     Interval

	FirstSpeedAfter    time.Duration
	FirstCategoryAfter time.Duration
	FirstSkipAfter     time.Duration

	Step    float64 // fraction of the remaining delta applied per query
	Epsilon float64 // snap distance
}

// DefaultChaosConfig returns the stock chaos tuning.
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		ExtremeChance: defaultChaosExtremeChance,
		ExtremeLow:    SpeedRange{Lo: 0.1, Hi: 0.3},
		ExtremeHigh:   SpeedRange{Lo: 1.2, Hi: 1.5},
		Central:       SpeedRange{Lo: 0.4, Hi: 1.1},

		SpeedEvery:    Interval{Min: 2 * time.Second, Max: 6 * time.Second},
		CategoryEvery: Interval{Min: 12 * time.Second, Max: 25 * time.Second},
		SkipEvery:     Interval{Min: 4 * time.Second, Max: 8 * time.Second},

		FirstSpeedAfter:    3 * time.Second,
		FirstCategoryAfter: 15 * time.Second,
		FirstSkipAfter:     5 * time.Second,

		Step:    defaultChaosStep,
		Epsilon: defaultChaosEpsilon,
	}
}

// Validate checks that every sub-range sits inside the speed limits.
func (c ChaosConfig) Validate(l SpeedLimits) error {
	if c.ExtremeChance < 0 || c.ExtremeChance > 1 || math.IsNaN(c.ExtremeChance) {
		return errors.New("chaos.extreme_chance must be between 0 and 1")
	}
	for name, r := range map[string]SpeedRange{
		"extreme_low":  c.ExtremeLow,
		"extreme_high": c.ExtremeHigh,
		"central":      c.Central,
	} {
		if r.Lo > r.Hi || !l.Contains(r.Lo) || !l.Contains(r.Hi) {
			return fmt.Errorf("chaos.%s must be an ordered range inside [%.2f, %.2f]", name, l.Min, l.Max)
		}
	}
	for name, iv := range map[string]Interval{
		"speed":    c.SpeedEvery,
		"category": c.CategoryEvery,
		"skip":     c.SkipEvery,
	} {
		if iv.Min <= 0 || iv.Max < iv.Min {
			return fmt.Errorf("chaos.%s interval must satisfy 0 < min <= max", name)
		}
	}
	if c.Step <= 0 || c.Step > 1 {
		return errors.New("chaos.step must be in (0, 1]")
	}
	if c.Epsilon < 0 {
		return errors.New("chaos.epsilon must be >= 0")
	}
	return nil
}

// ChaosStep is what one query of the chaos state produced.
type ChaosStep struct {
	Speed    float64
	Skip     bool   // pattern continuity should be broken
	Category string // non-empty when a category change is due
}

// ChaosState is advanced only when queried: its timers are compared against the
// time of each query, so events fall due no earlier than the next query after
// their deadline. The dispatch loop queries on every iteration (at least every
// max command duration), which bounds the lateness.
type ChaosState struct {
	active bool

	current float64
	target  float64

	nextSpeedAt    time.Time
	nextSkipAt     time.Time
	nextCategoryAt time.Time

	category string
}

// Enable starts chaos at base speed. Enabling while active is a no-op.
func (c *ChaosState) Enable(cfg ChaosConfig, base float64, category string, now time.Time) {
	if c.active {
		return
	}
	*c = ChaosState{
		active:         true,
		current:        base,
		target:         base,
		nextSpeedAt:    now.Add(cfg.FirstSpeedAfter),
		nextSkipAt:     now.Add(cfg.FirstSkipAfter),
		nextCategoryAt: now.Add(cfg.FirstCategoryAfter),
		category:       category,
	}
}

func (c *ChaosState) Disable() { c.active = false }

func (c *ChaosState) Active() bool { return c.active }

func (c *ChaosState) Target() float64 { return c.target }

// SetCategory records the category actually in effect.
func (c *ChaosState) SetCategory(name string) { c.category = name }

// Advance runs every due timer and nudges the current speed toward its target.
// Timers only move when Advance is called: a caller that stops querying delays
// pending chaos events rather than firing them late in a burst of catch-up.
func (c *ChaosState) Advance(cfg ChaosConfig, now time.Time, rng *rand.Rand, categories []string) ChaosStep {
	var step ChaosStep

	if !now.Before(c.nextSpeedAt) {
		switch {
		case rng.Float64() < cfg.ExtremeChance:
			if rng.Float64() < 0.5 {
				c.target = cfg.ExtremeLow.sample(rng)
			} else {
				c.target = cfg.ExtremeHigh.sample(rng)
			}
		default:
			c.target = cfg.Central.sample(rng)
		}
		c.nextSpeedAt = now.Add(cfg.SpeedEvery.sample(rng))
	}

	if !now.Before(c.nextCategoryAt) {
		alternates := make([]string, 0, len(categories))
		for _, name := range categories {
			if name != c.category {
				alternates = append(alternates, name)
			}
		}
		if len(alternates) > 0 {
			c.category = alternates[rng.IntN(len(alternates))]
			step.Category = c.category
		}
		c.nextCategoryAt = now.Add(cfg.CategoryEvery.sample(rng))
	}

	if !now.Before(c.nextSkipAt) {
		step.Skip = true
		c.nextSkipAt = now.Add(cfg.SkipEvery.sample(rng))
	}

	delta := c.target - c.current
	if math.Abs(delta) <= cfg.Epsilon {
		c.current = c.target
	} else {
		c.current += delta * cfg.Step
	}
	step.Speed = c.current
	return step
}
