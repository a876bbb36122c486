package main

import "time"

// Speed defaults (one canonical set; all of these are overridable from config)
const (
	defaultMinSpeed     = 0.1
	defaultMaxSpeed     = 1.5
	defaultNeutralSpeed = 1.0
	defaultManualSpeed  = 0.75 // Initial operator slider value
)

// Stream scheduling defaults
const (
	defaultBaseDurationMS      = 200  // Nominal per-sample duration before speed scaling (ms)
	defaultMinDurationMS       = 80   // Lower clamp for any scheduled command (ms)
	defaultMaxDurationMS       = 400  // Upper clamp for any scheduled command (ms)
	defaultHorizonTargetMS     = 8000 // Scheduled future output to keep queued (ms)
	defaultRefillRatio         = 0.7  // Refill once remaining horizon drops below this share of target
	defaultMaxPatternsPerBuild = 8
	defaultHistorySize         = 5 // Recently selected pattern IDs excluded from selection

	// Patterns with fewer samples than this cannot express motion.
	minPatternSamples = 3

	// Selection falls back to the full pool when fewer candidates remain.
	minCandidatePool = 3

	// Returned when the horizon cannot be rebuilt at all.
	fallbackPosition   = 50
	fallbackDurationMS = 150
)

// Dispatch loop timing
const (
	defaultDispatchFloorMS    = 3  // Minimum sleep between pattern commands (ms)
	defaultManualIntervalMS   = 8  // Manual override cadence (~125 Hz)
	defaultManualDurationMS   = 50 // Duration attached to manual override commands (ms)
	errorBackoff              = 5 * time.Millisecond
	homingSteps               = 8
	homingStepDuration        = 250 * time.Millisecond
	homingStartPosition       = 50.0
	homingTargetPosition      = 0.0
	milestoneResetProgress    = 0.1 // Cycle progress below which milestone flags are cleared
	defaultClimaxCategory     = "climax"
	defaultBuildupDurationSec = 300
	defaultBuildupCycles      = 1
)

// Build-up limits accepted from operators
const (
	minBuildupDurationSec = 30
	maxBuildupDurationSec = 3600
	minBuildupCycles      = 1
	maxBuildupCycles      = 50
)

// Chaos defaults
const (
	defaultChaosExtremeChance = 0.3
	defaultChaosStep          = 0.05 // Fraction of the remaining delta applied per query
	defaultChaosEpsilon       = 0.01
)

// Joystick defaults
const (
	defaultJoystickDevice  = "/dev/input/js0"
	defaultJoystickPollHz  = 200
	defaultAxisDeadzone    = 0.02
	defaultSpeedActivation = 0.2 // |raw| at or below this leaves the multiplier neutral
	joystickAxisMax        = 32767.0
)

// Linux joystick API event types (from <linux/joystick.h>)
const (
	JS_EVENT_BUTTON = 0x01
	JS_EVENT_AXIS   = 0x02
	JS_EVENT_INIT   = 0x80
)

// Transport defaults
const (
	defaultTransportURL       = "http://127.0.0.1:8080"
	defaultTransportTimeoutMS = 2000
	defaultStatusPollMS       = 2000
)

// Status sink defaults
const (
	defaultStatusPath       = "/tmp/patternbrainz-status.json"
	defaultStatusIntervalMS = 50
	minStatusIntervalMS     = 50 // External pollers expect at most one write per 50 ms
)
