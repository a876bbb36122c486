package main

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// speedPrecision is the number of decimals kept on every resolved speed.
const speedPrecision = 2

// SpeedResolution is the authoritative speed plus the side effects the query produced.
type SpeedResolution struct {
	Speed float64

	Milestones      []int
	BuildupSession  uuid.UUID
	BuildupComplete bool

	Skip     bool
	Category string
}

// SpeedResolver combines the manual base, build-up, chaos and joystick multiplier
// into one speed. It is owned by the daemon goroutine.
type SpeedResolver struct {
	limits   SpeedLimits
	chaosCfg ChaosConfig
	rng      *rand.Rand

	buildup BuildupState
	chaos   ChaosState

	categories []string
}

// NewSpeedResolver creates a resolver with build-up and chaos inactive.
func NewSpeedResolver(limits SpeedLimits, chaosCfg ChaosConfig, rng *rand.Rand) *SpeedResolver {
	return &SpeedResolver{limits: limits, chaosCfg: chaosCfg, rng: rng}
}

func (r *SpeedResolver) Limits() SpeedLimits { return r.limits }

// SetCategories replaces the list chaos may switch between.
func (r *SpeedResolver) SetCategories(cats []string) {
	r.categories = append(r.categories[:0], cats...)
}

// StartBuildup begins a ramp. Invalid configs are rejected; an active ramp is kept.
func (r *SpeedResolver) StartBuildup(cfg BuildupConfig, now time.Time) error {
	return r.buildup.Start(cfg, r.limits, now)
}

func (r *SpeedResolver) StopBuildup() { r.buildup.Stop() }

func (r *SpeedResolver) BuildupActive() bool { return r.buildup.Active() }

func (r *SpeedResolver) BuildupSession() uuid.UUID { return r.buildup.SessionID() }

// EnableChaos starts chaos from the current manual base.
func (r *SpeedResolver) EnableChaos(base float64, category string, now time.Time) {
	r.chaos.Enable(r.chaosCfg, base, category, now)
}

func (r *SpeedResolver) DisableChaos() { r.chaos.Disable() }

func (r *SpeedResolver) ChaosActive() bool { return r.chaos.Active() }

// NoteCategory tells chaos which category is in effect after a reload.
func (r *SpeedResolver) NoteCategory(name string) { r.chaos.SetCategory(name) }

// Resolve computes the current speed. Build-up and chaos state advance as a side
// effect, so this is called once per dispatch iteration rather than speculatively.
func (r *SpeedResolver) Resolve(manualBase, joystickMult float64, now time.Time) SpeedResolution {
	var res SpeedResolution
	effective := manualBase

	if r.buildup.Active() {
		res.BuildupSession = r.buildup.SessionID()
		if step, err := r.buildup.Advance(now); err == nil {
			effective = step.Speed
			res.Milestones = step.Milestones
			res.BuildupComplete = step.Completed
		}
	}

	if r.chaos.Active() {
		step := r.chaos.Advance(r.chaosCfg, now, r.rng, r.categories)
		effective = step.Speed
		res.Skip = step.Skip
		res.Category = step.Category
	}

	if joystickMult <= 0 || joystickMult != joystickMult {
		joystickMult = r.limits.Neutral
	}
	speed := roundTo(effective*joystickMult, speedPrecision)
	res.Speed = r.limits.Clamp(speed)
	return res
}
