package main

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// buildupMilestones are the per-cycle progress marks (percent) that fire a cue.
var buildupMilestones = [...]int{25, 50, 75}

// BuildupConfig describes one timed, cyclical speed ramp.
type BuildupConfig struct {
	Duration   time.Duration
	Cycles     int
	StartSpeed float64
	EndSpeed   float64
}

// Validate rejects ramps the operator cannot meaningfully run.
func (c BuildupConfig) Validate(l SpeedLimits) error {
	secs := c.Duration.Seconds()
	if secs < minBuildupDurationSec || secs > maxBuildupDurationSec {
		return fmt.Errorf("buildup duration must be between %ds and %ds", minBuildupDurationSec, maxBuildupDurationSec)
	}
	if c.Cycles < minBuildupCycles || c.Cycles > maxBuildupCycles {
		return fmt.Errorf("buildup cycles must be between %d and %d", minBuildupCycles, maxBuildupCycles)
	}
	if !l.Contains(c.StartSpeed) {
		return fmt.Errorf("buildup start speed must be between %.2f and %.2f", l.Min, l.Max)
	}
	if !l.Contains(c.EndSpeed) {
		return fmt.Errorf("buildup end speed must be between %.2f and %.2f", l.Min, l.Max)
	}
	return nil
}

// BuildupStep is the outcome of advancing a build-up to a point in time.
type BuildupStep struct {
	Speed      float64
	Cycle      int
	Progress   float64
	Milestones []int // milestones crossed by this advance
	Completed  bool  // true exactly once per session
}

// BuildupState tracks an active ramp. The zero value is inactive.
type BuildupState struct {
	active    bool
	cfg       BuildupConfig
	startedAt time.Time
	sessionID uuid.UUID

	cycle int
	fired [len(buildupMilestones)]bool
}

var errBuildupInactive = errors.New("buildup not active")

// Start begins a new session. Starting while active is a no-op.
func (b *BuildupState) Start(cfg BuildupConfig, l SpeedLimits, now time.Time) error {
	if err := cfg.Validate(l); err != nil {
		return err
	}
	if b.active {
		return nil
	}
	*b = BuildupState{
		active:    true,
		cfg:       cfg,
		startedAt: now,
		sessionID: uuid.New(),
	}
	return nil
}

// Stop ends the session. Stopping an inactive build-up is a no-op.
func (b *BuildupState) Stop() {
	b.active = false
}

func (b *BuildupState) Active() bool { return b.active }

func (b *BuildupState) SessionID() uuid.UUID { return b.sessionID }

// Advance evaluates the ramp at now. On the final cycle reaching full progress it
// reports completion and deactivates itself.
func (b *BuildupState) Advance(now time.Time) (BuildupStep, error) {
	if !b.active {
		return BuildupStep{}, errBuildupInactive
	}

	elapsed := now.Sub(b.startedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	cycleDur := b.cfg.Duration.Seconds() / float64(b.cfg.Cycles)

	idx := int(math.Floor(elapsed / cycleDur))
	if idx > b.cfg.Cycles-1 {
		idx = b.cfg.Cycles - 1
	}
	progress := clampFloat((elapsed-float64(idx)*cycleDur)/cycleDur, 0, 1)

	if idx != b.cycle || progress < milestoneResetProgress {
		b.cycle = idx
		b.fired = [len(buildupMilestones)]bool{}
	}

	step := BuildupStep{Cycle: idx, Progress: progress}
	for i, m := range buildupMilestones {
		if !b.fired[i] && progress >= float64(m)/100 {
			b.fired[i] = true
			step.Milestones = append(step.Milestones, m)
		}
	}

	eased := progress * progress
	step.Speed = b.cfg.StartSpeed + eased*(b.cfg.EndSpeed-b.cfg.StartSpeed)

	if idx == b.cfg.Cycles-1 && progress >= 1 {
		step.Speed = b.cfg.EndSpeed
		step.Completed = true
		b.active = false
	}
	return step, nil
}
