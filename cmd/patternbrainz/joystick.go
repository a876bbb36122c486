package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"
)

// ============================================================================
// Joystick poller
// ============================================================================
//
// A reader goroutine decodes js_events from the device; the poller owns the
// raw axis/button state and samples it at PollHz:
//   - speed axis  -> joystick multiplier (Controls atomic)
//   - manual axis -> held manual position (Controls atomic)
//   - button edges -> daemon events (non-blocking)
//
// ============================================================================

// JoystickButtons maps actions to button numbers; -1 leaves an action unbound.
type JoystickButtons struct {
	TogglePlay    int `yaml:"toggle_play"`
	ManualHold    int `yaml:"manual_hold"`
	Skip          int `yaml:"skip"`
	EmergencyStop int `yaml:"emergency_stop"`
}

// JoystickConfig configures the joystick poller.
type JoystickConfig struct {
	Enabled         bool            `yaml:"enabled"`
	Device          string          `yaml:"device"`
	PollHz          int             `yaml:"poll_hz"`
	SpeedActivation float64         `yaml:"speed_activation"`
	SpeedAxis       AxisConfig      `yaml:"speed_axis"`
	ManualAxis      AxisConfig      `yaml:"manual_axis"`
	Buttons         JoystickButtons `yaml:"buttons"`
}

// DefaultJoystickConfig binds the left stick Y axis to speed, the right stick Y
// axis to manual position and the face buttons to actions.
func DefaultJoystickConfig() JoystickConfig {
	return JoystickConfig{
		Enabled:         false,
		Device:          defaultJoystickDevice,
		PollHz:          defaultJoystickPollHz,
		SpeedActivation: defaultSpeedActivation,
		SpeedAxis:       AxisConfig{Index: 1, Invert: true, Mode: AxisFullRange, Deadzone: defaultAxisDeadzone},
		ManualAxis:      AxisConfig{Index: 4, Invert: true, Mode: AxisFullRange, Deadzone: defaultAxisDeadzone},
		Buttons:         JoystickButtons{TogglePlay: 0, ManualHold: 5, Skip: 3, EmergencyStop: 1},
	}
}

// Validate checks the poll rate, activation threshold and both axes.
func (c JoystickConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Device == "" {
		return errors.New("joystick.device must be set when the joystick is enabled")
	}
	if c.PollHz < 1 || c.PollHz > 1000 {
		return errors.New("joystick.poll_hz must be between 1 and 1000")
	}
	if c.SpeedActivation < 0 || c.SpeedActivation >= 1 || math.IsNaN(c.SpeedActivation) {
		return errors.New("joystick.speed_activation must be in [0, 1)")
	}
	if err := c.SpeedAxis.Validate(); err != nil {
		return fmt.Errorf("joystick.speed_axis: %w", err)
	}
	if err := c.ManualAxis.Validate(); err != nil {
		return fmt.Errorf("joystick.manual_axis: %w", err)
	}
	return nil
}

// Joystick holds the raw device state. Only the poller goroutine touches it.
type Joystick struct {
	cfg      JoystickConfig
	limits   SpeedLimits
	controls *Controls
	events   chan<- Event
	logger   *slog.Logger

	axes    map[uint8]int16
	buttons map[uint8]bool
	prev    map[uint8]bool
}

func NewJoystick(cfg JoystickConfig, limits SpeedLimits, controls *Controls, events chan<- Event, logger *slog.Logger) *Joystick {
	return &Joystick{
		cfg:      cfg,
		limits:   limits,
		controls: controls,
		events:   events,
		logger:   logger,
		axes:     make(map[uint8]int16),
		buttons:  make(map[uint8]bool),
		prev:     make(map[uint8]bool),
	}
}

// apply records one device event. Synthetic init events set the starting
// state without producing button edges.
func (j *Joystick) apply(ev jsEvent) {
	init := ev.Type&JS_EVENT_INIT != 0
	switch ev.Type &^ JS_EVENT_INIT {
	case JS_EVENT_AXIS:
		j.axes[ev.Number] = ev.Value
	case JS_EVENT_BUTTON:
		pressed := ev.Value != 0
		j.buttons[ev.Number] = pressed
		if init {
			j.prev[ev.Number] = pressed
		}
	}
}

// axis returns the raw reading of idx in -1..1.
func (j *Joystick) axis(idx int) float64 {
	if idx < 0 || idx > math.MaxUint8 {
		return 0
	}
	return clampFloat(float64(j.axes[uint8(idx)])/joystickAxisMax, -1, 1)
}

// multiplier is the speed multiplier for the current speed-axis reading.
func (j *Joystick) multiplier() float64 {
	if !j.cfg.SpeedAxis.Bound() {
		return j.limits.Neutral
	}
	raw := j.axis(j.cfg.SpeedAxis.Index)
	if math.Abs(raw) <= j.cfg.SpeedActivation {
		return j.limits.Neutral
	}
	return AxisToSpeed(MapAxis(raw, j.cfg.SpeedAxis), j.limits)
}

// edge reports press (+1), release (-1) or no change (0) since the last tick.
func (j *Joystick) edge(button int) int {
	if button < 0 || button > math.MaxUint8 {
		return 0
	}
	b := uint8(button)
	now, was := j.buttons[b], j.prev[b]
	j.prev[b] = now
	switch {
	case now && !was:
		return 1
	case !now && was:
		return -1
	}
	return 0
}

// tick publishes the sampled state.
func (j *Joystick) tick() {
	j.controls.SetJoystickMultiplier(j.multiplier())

	manualPos := -1.0
	if j.cfg.ManualAxis.Bound() {
		manualPos = MapAxis(j.axis(j.cfg.ManualAxis.Index), j.cfg.ManualAxis)
		if j.controls.ManualOverride().Active {
			j.controls.SetManualPosition(manualPos)
		}
	}

	if j.edge(j.cfg.Buttons.TogglePlay) > 0 {
		j.send(TogglePlay{})
	}
	switch j.edge(j.cfg.Buttons.ManualHold) {
	case 1:
		if manualPos < 0 {
			manualPos = j.controls.ManualOverride().Position
		}
		j.send(ManualStart{Position: manualPos})
	case -1:
		j.send(ManualEnd{})
	}
	if j.edge(j.cfg.Buttons.Skip) > 0 {
		j.send(SkipPattern{})
	}
	if j.edge(j.cfg.Buttons.EmergencyStop) > 0 {
		j.send(EmergencyStop{})
	}
}

func (j *Joystick) send(ev Event) {
	select {
	case j.events <- ev:
	default:
		j.logger.Warn("event queue full, dropping joystick event", "event", fmt.Sprintf("%T", ev))
	}
}

// Run samples src at PollHz until ctx is canceled or the reader fails.
func (j *Joystick) Run(ctx context.Context, src <-chan jsEvent, readErr <-chan error) error {
	hz := j.cfg.PollHz
	if hz <= 0 {
		hz = defaultJoystickPollHz
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return fmt.Errorf("joystick read: %w", err)
		case ev := <-src:
			j.apply(ev)
		case <-ticker.C:
			j.tick()
		}
	}
}

// runJoystick opens the configured device and runs the poller. On exit the
// multiplier returns to neutral so a lost joystick cannot pin the speed.
func runJoystick(ctx context.Context, j *Joystick) error {
	f, err := os.Open(j.cfg.Device)
	if err != nil {
		return fmt.Errorf("open joystick %s: %w", j.cfg.Device, err)
	}
	defer f.Close()
	defer j.controls.SetJoystickMultiplier(j.limits.Neutral)

	j.logger.Info("joystick opened", "device", j.cfg.Device, "poll_hz", j.cfg.PollHz)

	src := make(chan jsEvent, 256)
	readErr := make(chan error, 1)
	startJoystickReader(f, src, readErr)

	return j.Run(ctx, src, readErr)
}
