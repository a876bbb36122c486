package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// ErrPatternsExhausted means the horizon cannot be refilled because no pattern
// is available. Playback cannot continue.
var ErrPatternsExhausted = errors.New("patterns exhausted")

// MotionCommand is one scheduled position in the horizon.
type MotionCommand struct {
	DueAt        time.Time
	Position     int           // 0..100
	BaseDuration time.Duration // duration decided at integration time
	PatternID    string
	Speed        float64 // speed in effect at integration time
}

// DispatchKind tells where a dispatched position came from.
type DispatchKind int

const (
	DispatchPattern DispatchKind = iota
	DispatchManual
	DispatchFallback
	DispatchHoming
)

func (k DispatchKind) String() string {
	switch k {
	case DispatchPattern:
		return "pattern"
	case DispatchManual:
		return "manual_override"
	case DispatchFallback:
		return "fallback"
	case DispatchHoming:
		return "homing"
	default:
		return fmt.Sprintf("DispatchKind(%d)", int(k))
	}
}

// Dispatch is a position/duration pair ready for the transport.
type Dispatch struct {
	Position  float64 // 0..100
	Duration  time.Duration
	Kind      DispatchKind
	PatternID string
}

// ManualOverride is the operator-held position that bypasses the horizon.
type ManualOverride struct {
	Active   bool
	Position float64 // 0..1
}

// SchedulerConfig controls horizon size and command timing.
type SchedulerConfig struct {
	BaseDuration        time.Duration
	MinDuration         time.Duration
	MaxDuration         time.Duration
	HorizonTarget       time.Duration
	RefillRatio         float64
	MaxPatternsPerBuild int
	HistorySize         int
	ManualDuration      time.Duration
}

// DefaultSchedulerConfig returns the stock stream timing.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BaseDuration:        defaultBaseDurationMS * time.Millisecond,
		MinDuration:         defaultMinDurationMS * time.Millisecond,
		MaxDuration:         defaultMaxDurationMS * time.Millisecond,
		HorizonTarget:       defaultHorizonTargetMS * time.Millisecond,
		RefillRatio:         defaultRefillRatio,
		MaxPatternsPerBuild: defaultMaxPatternsPerBuild,
		HistorySize:         defaultHistorySize,
		ManualDuration:      defaultManualDurationMS * time.Millisecond,
	}
}

// Validate rejects timing that could not produce a usable stream.
func (c SchedulerConfig) Validate() error {
	if c.MinDuration <= 0 || c.MaxDuration < c.MinDuration {
		return errors.New("stream duration clamp must satisfy 0 < min <= max")
	}
	if c.BaseDuration < c.MinDuration || c.BaseDuration > c.MaxDuration {
		return errors.New("stream.base_duration_ms must lie within the duration clamp")
	}
	if c.HorizonTarget <= 0 {
		return errors.New("stream.horizon_target_ms must be > 0")
	}
	if c.RefillRatio <= 0 || c.RefillRatio > 1 || math.IsNaN(c.RefillRatio) {
		return errors.New("stream.refill_ratio must be in (0, 1]")
	}
	if c.MaxPatternsPerBuild < 1 {
		return errors.New("stream.max_patterns_per_build must be >= 1")
	}
	if c.HistorySize < 0 {
		return errors.New("stream.history_size must be >= 0")
	}
	if c.ManualDuration <= 0 {
		return errors.New("dispatch.manual_duration_ms must be > 0")
	}
	return nil
}

// Scheduler keeps a horizon of future commands built by joining patterns end to end.
// It is not safe for concurrent use; the daemon goroutine owns it.
type Scheduler struct {
	cfg    SchedulerConfig
	source PatternSource
	rng    *rand.Rand

	horizon []MotionCommand
	history []string
}

// NewScheduler creates a scheduler drawing patterns from source.
func NewScheduler(cfg SchedulerConfig, source PatternSource, rng *rand.Rand) *Scheduler {
	return &Scheduler{cfg: cfg, source: source, rng: rng}
}

// Len returns the number of queued commands.
func (s *Scheduler) Len() int { return len(s.horizon) }

// History returns the most recently integrated pattern IDs, oldest first.
func (s *Scheduler) History() []string { return append([]string(nil), s.history...) }

// Clear drops every queued command.
func (s *Scheduler) Clear() { s.horizon = s.horizon[:0] }

// ResetHistory forgets recently selected patterns (used after a category change).
func (s *Scheduler) ResetHistory() { s.history = s.history[:0] }

// Remaining is the scheduled time left after now, measured to the last future command.
func (s *Scheduler) Remaining(now time.Time) time.Duration {
	if len(s.horizon) == 0 {
		return 0
	}
	last := s.horizon[len(s.horizon)-1].DueAt
	if !last.After(now) {
		return 0
	}
	return last.Sub(now)
}

// sampleDuration is the per-sample duration for a pattern integrated at speed.
func (s *Scheduler) sampleDuration(speed float64) time.Duration {
	if speed <= 0 || math.IsNaN(speed) {
		speed = 1
	}
	return s.clampDuration(float64(s.cfg.BaseDuration) / speed)
}

func (s *Scheduler) clampDuration(d float64) time.Duration {
	ms := time.Duration(d) / time.Millisecond * time.Millisecond
	if ms < s.cfg.MinDuration {
		return s.cfg.MinDuration
	}
	if ms > s.cfg.MaxDuration {
		return s.cfg.MaxDuration
	}
	return ms
}

// Integrate appends every sample of p to the horizon. The first sample starts at
// the current tail's due time (or now when empty); each following sample is one
// sample duration later.
func (s *Scheduler) Integrate(p *Pattern, speed float64, now time.Time) {
	if p == nil || len(p.Samples) == 0 {
		return
	}

	start := now
	if n := len(s.horizon); n > 0 {
		start = s.horizon[n-1].DueAt
	}
	d := s.sampleDuration(speed)

	at := start
	for _, smp := range p.Samples {
		s.horizon = append(s.horizon, MotionCommand{
			DueAt:        at,
			Position:     smp.Pos,
			BaseDuration: d,
			PatternID:    p.ID,
			Speed:        speed,
		})
		at = at.Add(d)
	}
	s.remember(p.ID)
}

func (s *Scheduler) remember(id string) {
	if s.cfg.HistorySize <= 0 {
		return
	}
	s.history = append(s.history, id)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

// build appends up to MaxPatternsPerBuild patterns while the horizon is short of
// target. It returns the number of patterns added.
func (s *Scheduler) build(speed float64, now time.Time) int {
	added := 0
	for added < s.cfg.MaxPatternsPerBuild && s.Remaining(now) < s.cfg.HorizonTarget {
		p, ok := s.source.SelectNext(s.history, s.rng)
		if !ok {
			break
		}
		s.Integrate(p, speed, now)
		added++
	}
	return added
}

// EnsureHorizon fills the horizon up to the target. Builds repeat until the target is
// met or the source runs dry, so the target holds after every call while patterns
// remain. It returns ErrPatternsExhausted when nothing is queued and nothing can be.
func (s *Scheduler) EnsureHorizon(speed float64, now time.Time) error {
	for {
		before := s.Remaining(now)
		if before >= s.cfg.HorizonTarget {
			break
		}
		if s.build(speed, now) == 0 || s.Remaining(now) <= before {
			break
		}
	}
	if len(s.horizon) == 0 {
		return ErrPatternsExhausted
	}
	return nil
}

// NextCommand returns the next position to send. Manual override bypasses the
// horizon entirely. Otherwise the horizon is refilled when it falls below the
// refill ratio, stale commands are discarded and the front command is re-scaled
// to speed. When nothing can be scheduled a fixed fallback is returned together
// with ErrPatternsExhausted.
func (s *Scheduler) NextCommand(speed float64, now time.Time, manual ManualOverride) (Dispatch, error) {
	if manual.Active {
		return Dispatch{
			Position: math.Round(clampFloat(manual.Position, 0, 1) * 100),
			Duration: s.cfg.ManualDuration,
			Kind:     DispatchManual,
		}, nil
	}

	threshold := time.Duration(float64(s.cfg.HorizonTarget) * s.cfg.RefillRatio)
	if s.Remaining(now) < threshold {
		s.build(speed, now)
	}

	s.dropStale(now)
	if len(s.horizon) == 0 {
		if err := s.EnsureHorizon(speed, now); err != nil {
			return s.fallback(), err
		}
		s.dropStale(now)
		if len(s.horizon) == 0 {
			return s.fallback(), nil
		}
	}

	cmd := s.horizon[0]
	s.horizon = s.horizon[1:]

	d := cmd.BaseDuration
	if cmd.Speed > 0 && speed > 0 {
		ratio := speed / cmd.Speed
		d = s.clampDuration(float64(cmd.BaseDuration) / ratio)
	}
	return Dispatch{
		Position:  float64(cmd.Position),
		Duration:  d,
		Kind:      DispatchPattern,
		PatternID: cmd.PatternID,
	}, nil
}

func (s *Scheduler) dropStale(now time.Time) {
	i := 0
	for i < len(s.horizon) && s.horizon[i].DueAt.Before(now) {
		i++
	}
	if i > 0 {
		s.horizon = append(s.horizon[:0], s.horizon[i:]...)
	}
}

func (s *Scheduler) fallback() Dispatch {
	return Dispatch{
		Position: fallbackPosition,
		Duration: fallbackDurationMS * time.Millisecond,
		Kind:     DispatchFallback,
	}
}

// Skip breaks pattern continuity: the horizon is cleared and rebuilt from now.
func (s *Scheduler) Skip(speed float64, now time.Time) error {
	s.Clear()
	return s.EnsureHorizon(speed, now)
}

// InjectClimax replaces the horizon with a single pattern at the given speed,
// bypassing random selection.
func (s *Scheduler) InjectClimax(p *Pattern, speed float64, now time.Time) {
	s.Clear()
	s.Integrate(p, speed, now)
}
