package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Engine - the daemon-owned scheduling context
// ============================================================================
//
// Engine bundles the Speed Resolver, the Stream Scheduler and the playback
// flags. It performs no I/O: Handle and Dispatch return Commands that the
// daemon loop executes through runEffect. Only the daemon goroutine may call
// its methods; the joystick poller talks to it through Controls (atomics) and
// events.
//
// ============================================================================

// PatternLibrary is the read side of the Pattern Store the engine depends on.
type PatternLibrary interface {
	PatternSource
	ClimaxPattern(rng *rand.Rand) (*Pattern, bool)
	Current() *PatternSet
}

// EngineConfig is the engine's view of the daemon configuration.
type EngineConfig struct {
	Limits          SpeedLimits
	Scheduler       SchedulerConfig
	Chaos           ChaosConfig
	BuildupDefaults BuildupConfig

	ManualSpeed    float64
	ManualInterval time.Duration

	RequireDevice bool
	RangeMin      int
	RangeMax      int
}

// DefaultEngineConfig returns the stock engine settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Limits:    DefaultSpeedLimits(),
		Scheduler: DefaultSchedulerConfig(),
		Chaos:     DefaultChaosConfig(),
		BuildupDefaults: BuildupConfig{
			Duration:   defaultBuildupDurationSec * time.Second,
			Cycles:     defaultBuildupCycles,
			StartSpeed: defaultMinSpeed,
			EndSpeed:   defaultMaxSpeed,
		},
		ManualSpeed:    defaultManualSpeed,
		ManualInterval: defaultManualIntervalMS * time.Millisecond,
		RangeMin:       0,
		RangeMax:       100,
	}
}

// StepResult is what one Handle or Dispatch call asks the daemon loop to do.
type StepResult struct {
	Commands []Command

	// Wake asks the loop to dispatch immediately instead of waiting for the timer.
	Wake bool

	// Wait is the nominal time until the next dispatch; zero when idle.
	Wait time.Duration
}

// Engine is the single-owner scheduling state.
type Engine struct {
	cfg       EngineConfig
	validator EventValidator
	library   PatternLibrary
	controls  *Controls
	rng       *rand.Rand
	logger    *slog.Logger

	resolver  *SpeedResolver
	scheduler *Scheduler

	running     bool
	manualSpeed float64
	lastSpeed   float64
	category    string
	loadSeq     uint64 // sequence of the most recent category request

	connected   bool
	deviceFound bool
	rangeMin    int
	rangeMax    int

	homingStep int // 0 when not homing, else next step 1..homingSteps

	lastPosition  float64
	lastPatternID string
	lastErr       string
}

// NewEngine wires a resolver and scheduler around library.
func NewEngine(cfg EngineConfig, library PatternLibrary, controls *Controls, rng *rand.Rand, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:          cfg,
		validator:    EventValidator{Limits: cfg.Limits, BuildupDefaults: cfg.BuildupDefaults},
		library:      library,
		controls:     controls,
		rng:          rng,
		logger:       logger,
		resolver:     NewSpeedResolver(cfg.Limits, cfg.Chaos, rng),
		scheduler:    NewScheduler(cfg.Scheduler, library, rng),
		manualSpeed:  cfg.ManualSpeed,
		lastSpeed:    cfg.ManualSpeed,
		rangeMin:     cfg.RangeMin,
		rangeMax:     cfg.RangeMax,
		lastPosition: fallbackPosition,
	}
	if set := library.Current(); set != nil {
		e.category = set.Category
	}
	return e
}

// SetCategories replaces the categories chaos may switch between.
func (e *Engine) SetCategories(cats []string) { e.resolver.SetCategories(cats) }

// Active reports whether the daemon loop should keep dispatching.
func (e *Engine) Active() bool { return e.running || e.homingStep > 0 }

// ============================================================================
// Operations (also reachable through Handle)
// ============================================================================

// SetManualSpeed sets the operator's base speed; out-of-range values are rejected.
func (e *Engine) SetManualSpeed(v float64) error {
	if err := e.validator.Validate(SetSpeed{Speed: v}); err != nil {
		return err
	}
	e.manualSpeed = v
	return nil
}

// StartBuildup starts a ramp; zero fields take the configured defaults.
func (e *Engine) StartBuildup(req BuildupStart, now time.Time) error {
	return e.resolver.StartBuildup(e.validator.BuildupConfig(req), now)
}

// StartManual engages manual override at pos (0..1).
func (e *Engine) StartManual(pos float64) error {
	if err := validatePosition(pos); err != nil {
		return err
	}
	e.controls.SetManualPosition(pos)
	e.controls.SetManualActive(true)
	return nil
}

// loadCategory issues a new category request, superseding any in flight.
func (e *Engine) loadCategory(category string) CmdLoadCategory {
	e.loadSeq++
	return CmdLoadCategory{Category: category, Seq: e.loadSeq}
}

// SetRange limits device travel to [lo, hi] percent.
func (e *Engine) SetRange(lo, hi int) error {
	if err := e.validator.Validate(SetRange{Min: lo, Max: hi}); err != nil {
		return err
	}
	e.rangeMin, e.rangeMax = lo, hi
	return nil
}

var (
	ErrNotConnected = errors.New("transport not connected")
	ErrNoDevice     = errors.New("no device found")
)

// Start begins playback. Starting while running is a no-op.
func (e *Engine) Start() error {
	if e.running {
		return nil
	}
	if e.library.Current().Len() == 0 {
		return ErrNoPatterns
	}
	if e.cfg.RequireDevice {
		if !e.connected {
			return ErrNotConnected
		}
		if !e.deviceFound {
			return ErrNoDevice
		}
	}
	e.homingStep = 0
	e.running = true
	e.scheduler.Clear()
	e.lastErr = ""
	return nil
}

// ============================================================================
// Event handling
// ============================================================================

// Handle applies one event at time now.
func (e *Engine) Handle(ev Event, now time.Time) StepResult {
	var r StepResult
	cue := func(trigger string) {
		r.Commands = append(r.Commands, CmdPlayCue{Trigger: trigger})
	}
	reject := func(what string, err error) {
		e.lastErr = fmt.Sprintf("%s: %v", what, err)
		e.logger.Warn("event rejected", "event", what, "error", err)
	}

	switch ev := ev.(type) {
	case Play:
		if e.running {
			break
		}
		if err := e.Start(); err != nil {
			reject("play", err)
			break
		}
		e.logger.Info("playback started", "category", e.category)
		cue("start_playback")
		r.Wake = true

	case Stop:
		if !e.running {
			break
		}
		e.stopPlayback()
		e.logger.Info("playback stopped")
		cue("stop_playback")
		r.Commands = append(r.Commands, CmdStopDevice{})

	case TogglePlay:
		if e.running {
			return e.Handle(Stop{}, now)
		}
		return e.Handle(Play{}, now)

	case EmergencyStop:
		e.stopPlayback()
		e.controls.SetManualActive(false)
		e.resolver.StopBuildup()
		e.homingStep = 1
		e.logger.Warn("emergency stop, returning home")
		cue("emergency_stop")
		r.Wake = true

	case SetSpeed:
		if err := e.SetManualSpeed(ev.Speed); err != nil {
			reject("set_speed", err)
		}

	case BuildupStart:
		if e.resolver.BuildupActive() {
			break
		}
		if err := e.StartBuildup(ev, now); err != nil {
			reject("buildup_start", err)
			break
		}
		e.logger.Info("buildup started", "session", e.resolver.BuildupSession().String())
		r.Commands = append(r.Commands, CmdPlayCue{Trigger: "buildup_start", Session: e.resolver.BuildupSession().String()})

	case BuildupStop:
		if !e.resolver.BuildupActive() {
			break
		}
		e.resolver.StopBuildup()
		e.logger.Info("buildup stopped", "session", e.resolver.BuildupSession().String())
		cue("buildup_stop")

	case ChaosEnable:
		if e.resolver.ChaosActive() {
			break
		}
		e.resolver.EnableChaos(e.manualSpeed, e.category, now)
		e.logger.Info("chaos enabled")
		cue("chaos_on")

	case ChaosDisable:
		if !e.resolver.ChaosActive() {
			break
		}
		e.resolver.DisableChaos()
		e.logger.Info("chaos disabled")
		cue("chaos_off")

	case ManualStart:
		was := e.controls.ManualOverride().Active
		if err := e.StartManual(ev.Position); err != nil {
			reject("manual_start", err)
			break
		}
		if !was {
			cue("manual_start")
		}
		r.Wake = true

	case ManualUpdate:
		if err := validatePosition(ev.Position); err != nil {
			reject("manual_update", err)
			break
		}
		if e.controls.ManualOverride().Active {
			e.controls.SetManualPosition(ev.Position)
		}

	case ManualEnd:
		if !e.controls.ManualOverride().Active {
			break
		}
		e.controls.SetManualActive(false)
		cue("manual_end")
		r.Wake = true

	case SkipPattern:
		if !e.running {
			break
		}
		if err := e.scheduler.Skip(e.lastSpeed, now); err != nil {
			e.logger.Warn("skip failed", "error", err)
		}
		cue("skip")
		r.Wake = true

	case SetCategory:
		if err := e.validator.Validate(ev); err != nil {
			reject("set_category", err)
			break
		}
		r.Commands = append(r.Commands, e.loadCategory(ev.Category))

	case SetRange:
		if err := e.SetRange(ev.Min, ev.Max); err != nil {
			reject("set_range", err)
		}

	case CategoryLoaded:
		if ev.Seq != e.loadSeq {
			e.logger.Debug("stale category load ignored", "category", ev.Category, "seq", ev.Seq)
			break
		}
		if ev.Err != nil {
			reject("load_category", ev.Err)
			break
		}
		e.category = ev.Category
		e.resolver.NoteCategory(ev.Category)
		e.scheduler.ResetHistory()
		e.logger.Info("category active", "category", ev.Category, "patterns", ev.Count)
		if e.running {
			if err := e.scheduler.Skip(e.lastSpeed, now); err != nil {
				e.logger.Warn("rebuild after category change failed", "error", err)
			}
		}

	case TransportStatusObserved:
		if ev.Connected != e.connected || ev.DeviceFound != e.deviceFound {
			e.logger.Info("transport status", "connected", ev.Connected, "device_found", ev.DeviceFound)
		}
		e.connected, e.deviceFound = ev.Connected, ev.DeviceFound

	case RequestStateSnapshot:
		r.Commands = append(r.Commands, CmdPublishStateSnapshot{Reply: ev.Reply, Snapshot: e.Snapshot(now)})
		return r

	default:
		e.logger.Warn("unhandled event", "type", fmt.Sprintf("%T", ev))
		return r
	}

	r.Commands = append(r.Commands, CmdPublishStatus{Status: e.Snapshot(now)})
	return r
}

func (e *Engine) stopPlayback() {
	e.running = false
	e.scheduler.Clear()
}

// ============================================================================
// Dispatch
// ============================================================================

// Dispatch produces the next device command. It returns a zero Wait when the
// loop should go idle.
func (e *Engine) Dispatch(now time.Time) StepResult {
	var r StepResult

	if e.homingStep > 0 {
		step := e.homingStep
		p := float64(step) / homingSteps
		eased := 1 - math.Pow(1-p, 3)
		pos := homingTargetPosition + (1-eased)*(homingStartPosition-homingTargetPosition)
		r.Commands = append(r.Commands, e.send(Dispatch{Position: pos, Duration: homingStepDuration, Kind: DispatchHoming}))

		if step >= homingSteps {
			e.homingStep = 0
			e.logger.Info("returned home")
			r.Commands = append(r.Commands, CmdStopDevice{})
		} else {
			e.homingStep++
			r.Wait = homingStepDuration
		}
		r.Commands = append(r.Commands, CmdPublishStatus{Status: e.Snapshot(now)})
		return r
	}

	if !e.running {
		return r
	}

	manual := e.controls.ManualOverride()
	if manual.Active {
		d, _ := e.scheduler.NextCommand(e.lastSpeed, now, manual)
		r.Commands = append(r.Commands, e.send(d))
		r.Commands = append(r.Commands, CmdPublishStatus{Status: e.Snapshot(now)})
		r.Wait = e.cfg.ManualInterval
		return r
	}

	res := e.resolver.Resolve(e.manualSpeed, e.controls.JoystickMultiplier(), now)
	e.lastSpeed = res.Speed
	e.controls.setCurrentSpeed(res.Speed)
	r.Commands = append(r.Commands, e.applyResolution(res, now)...)

	d, err := e.scheduler.NextCommand(res.Speed, now, ManualOverride{})
	r.Commands = append(r.Commands, e.send(d))
	if errors.Is(err, ErrPatternsExhausted) {
		e.stopPlayback()
		e.lastErr = err.Error()
		e.logger.Error("playback stopped", "error", err, "category", e.category)
		r.Commands = append(r.Commands, CmdPlayCue{Trigger: "patterns_exhausted"})
		r.Commands = append(r.Commands, CmdPublishStatus{Status: e.Snapshot(now)})
		return r
	}

	r.Commands = append(r.Commands, CmdPublishStatus{Status: e.Snapshot(now)})
	r.Wait = d.Duration
	return r
}

// applyResolution turns the side effects of a speed query into commands.
func (e *Engine) applyResolution(res SpeedResolution, now time.Time) []Command {
	var cmds []Command
	session := ""
	if res.BuildupSession != uuid.Nil {
		session = res.BuildupSession.String()
	}

	if res.Skip {
		if err := e.scheduler.Skip(res.Speed, now); err != nil {
			e.logger.Warn("chaos skip failed", "error", err)
		}
	}
	if res.Category != "" {
		e.logger.Info("chaos category change", "category", res.Category)
		cmds = append(cmds, e.loadCategory(res.Category))
	}

	for _, m := range res.Milestones {
		cmds = append(cmds, CmdPlayCue{Trigger: fmt.Sprintf("buildup_%d", m), Session: session})
	}

	if res.BuildupComplete {
		e.logger.Info("buildup complete", "session", session)
		cmds = append(cmds, CmdPlayCue{Trigger: "buildup_complete", Session: session})
		if p, ok := e.library.ClimaxPattern(e.rng); ok {
			e.scheduler.InjectClimax(p, e.cfg.Limits.Max, now)
			e.logger.Info("climax injected", "pattern", p.ID, "samples", len(p.Samples))
		} else {
			e.logger.Warn("no climax pattern available")
		}
	}
	return cmds
}

// send converts a dispatch into a transport command, applying the device range.
func (e *Engine) send(d Dispatch) Command {
	e.lastPosition = d.Position
	e.lastPatternID = d.PatternID
	span := float64(e.rangeMax - e.rangeMin)
	pos := (float64(e.rangeMin) + clampFloat(d.Position, 0, 100)/100*span) / 100
	return CmdSendPosition{Position: pos, Duration: d.Duration, Kind: d.Kind}
}

// Snapshot captures the externally visible state.
func (e *Engine) Snapshot(now time.Time) StateSnapshot {
	manual := e.controls.ManualOverride()
	mode := ModeIdle
	switch {
	case e.homingStep > 0:
		mode = ModeHoming
	case e.running && manual.Active:
		mode = ModeManual
	case e.running:
		mode = ModePattern
	}

	position := e.lastPosition
	if manual.Active {
		position = math.Round(manual.Position * 100)
	}

	snap := StateSnapshot{
		Position:           position,
		ManualActive:       manual.Active,
		Running:            e.running,
		Mode:               mode,
		BuildupActive:      e.resolver.BuildupActive(),
		ChaosActive:        e.resolver.ChaosActive(),
		CurrentSpeed:       e.lastSpeed,
		ManualSpeed:        e.manualSpeed,
		JoystickMultiplier: e.controls.JoystickMultiplier(),
		Category:           e.category,
		PatternID:          e.lastPatternID,
		Connected:          e.connected,
		DeviceFound:        e.deviceFound,
		RangeMin:           e.rangeMin,
		RangeMax:           e.rangeMax,
		LastError:          e.lastErr,
		Timestamp:          unixSeconds(now),
	}
	if snap.BuildupActive {
		snap.BuildupSession = e.resolver.BuildupSession().String()
	}
	return snap
}
