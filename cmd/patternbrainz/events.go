package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ============================================================================
// Events
// ============================================================================
// Events are everything the daemon loop reacts to: operator intent (IPC,
// joystick buttons) and observations from collaborators (pattern loads,
// transport status). Only the daemon goroutine applies them.
// ============================================================================

// Event is a marker interface for all daemon inputs.
type Event interface {
	eventMarker()
}

// Playback control
type Play struct{}
type Stop struct{}
type TogglePlay struct{}
type EmergencyStop struct{}
type SkipPattern struct{}

func (Play) eventMarker()          {}
func (Stop) eventMarker()          {}
func (TogglePlay) eventMarker()    {}
func (EmergencyStop) eventMarker() {}
func (SkipPattern) eventMarker()   {}

// SetSpeed sets the operator's manual base speed.
type SetSpeed struct {
	Speed float64 `json:"speed"`
}

func (SetSpeed) eventMarker() {}

// BuildupStart begins a build-up ramp. Absent (nil) fields take the configured
// defaults; explicit values, zero included, are validated as given.
type BuildupStart struct {
	DurationSec *float64 `json:"duration_s,omitempty"`
	Cycles      *int     `json:"cycles,omitempty"`
	StartSpeed  *float64 `json:"start_speed,omitempty"`
	EndSpeed    *float64 `json:"end_speed,omitempty"`
}

func (BuildupStart) eventMarker() {}

type BuildupStop struct{}
type ChaosEnable struct{}
type ChaosDisable struct{}

func (BuildupStop) eventMarker()  {}
func (ChaosEnable) eventMarker()  {}
func (ChaosDisable) eventMarker() {}

// ManualStart engages manual override at a position (0..1).
type ManualStart struct {
	Position float64 `json:"position"`
}

// ManualUpdate moves the held position while manual override is active.
type ManualUpdate struct {
	Position float64 `json:"position"`
}

type ManualEnd struct{}

func (ManualStart) eventMarker()  {}
func (ManualUpdate) eventMarker() {}
func (ManualEnd) eventMarker()    {}

// SetCategory requests a reload of the active pattern set.
type SetCategory struct {
	Category string `json:"category"`
}

func (SetCategory) eventMarker() {}

// SetRange limits device travel to [Min, Max] percent.
type SetRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (SetRange) eventMarker() {}

// ============================================================================
// Internal events (never accepted over IPC)
// ============================================================================

// CategoryLoaded reports the outcome of an asynchronous category load.
type CategoryLoaded struct {
	Category string
	Seq      uint64
	Count    int
	Err      error
}

func (CategoryLoaded) eventMarker() {}

// TransportStatusObserved reports a transport connection change.
type TransportStatusObserved struct {
	Connected   bool
	DeviceFound bool
}

func (TransportStatusObserved) eventMarker() {}

// RequestStateSnapshot asks the daemon for a snapshot on Reply.
type RequestStateSnapshot struct {
	Reply chan StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// Validation
// ============================================================================

// EventValidator rejects operator events carrying invalid settings before they
// reach the daemon loop. It holds only configuration, so any goroutine may use it.
type EventValidator struct {
	Limits          SpeedLimits
	BuildupDefaults BuildupConfig
}

// Validate returns an error for invalid settings; events without payload always pass.
func (v EventValidator) Validate(ev Event) error {
	switch e := ev.(type) {
	case SetSpeed:
		if !v.Limits.Contains(e.Speed) {
			return fmt.Errorf("speed must be between %.2f and %.2f", v.Limits.Min, v.Limits.Max)
		}
	case BuildupStart:
		return v.BuildupConfig(e).Validate(v.Limits)
	case ManualStart:
		return validatePosition(e.Position)
	case ManualUpdate:
		return validatePosition(e.Position)
	case SetCategory:
		if e.Category == "" || strings.ContainsAny(e.Category, `/\`) || e.Category == "." || e.Category == ".." {
			return fmt.Errorf("invalid category name %q", e.Category)
		}
	case SetRange:
		if e.Min < 0 || e.Max > 100 || e.Min >= e.Max {
			return errors.New("range must satisfy 0 <= min < max <= 100")
		}
	}
	return nil
}

// BuildupConfig merges a start request with the configured defaults.
func (v EventValidator) BuildupConfig(e BuildupStart) BuildupConfig {
	cfg := v.BuildupDefaults
	if e.DurationSec != nil {
		cfg.Duration = time.Duration(*e.DurationSec * float64(time.Second))
	}
	if e.Cycles != nil {
		cfg.Cycles = *e.Cycles
	}
	if e.StartSpeed != nil {
		cfg.StartSpeed = *e.StartSpeed
	}
	if e.EndSpeed != nil {
		cfg.EndSpeed = *e.EndSpeed
	}
	return cfg
}

func validatePosition(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return errors.New("position must be between 0 and 1")
	}
	return nil
}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling.
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func decodeData[T Event](name string, raw json.RawMessage) (Event, error) {
	var ev T
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: missing data", name)
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return ev, nil
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "play":
		return Play{}, nil
	case "stop":
		return Stop{}, nil
	case "toggle_play":
		return TogglePlay{}, nil
	case "emergency_stop":
		return EmergencyStop{}, nil
	case "skip_pattern":
		return SkipPattern{}, nil
	case "set_speed":
		return decodeData[SetSpeed](env.Type, env.Data)
	case "buildup_start":
		if len(env.Data) == 0 {
			return BuildupStart{}, nil
		}
		return decodeData[BuildupStart](env.Type, env.Data)
	case "buildup_stop":
		return BuildupStop{}, nil
	case "chaos_enable":
		return ChaosEnable{}, nil
	case "chaos_disable":
		return ChaosDisable{}, nil
	case "manual_start":
		return decodeData[ManualStart](env.Type, env.Data)
	case "manual_update":
		return decodeData[ManualUpdate](env.Type, env.Data)
	case "manual_end":
		return ManualEnd{}, nil
	case "set_category":
		return decodeData[SetCategory](env.Type, env.Data)
	case "set_range":
		return decodeData[SetRange](env.Type, env.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator.
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope
	var payload any

	switch e := e.(type) {
	case Play:
		env.Type = "play"
	case Stop:
		env.Type = "stop"
	case TogglePlay:
		env.Type = "toggle_play"
	case EmergencyStop:
		env.Type = "emergency_stop"
	case SkipPattern:
		env.Type = "skip_pattern"
	case SetSpeed:
		env.Type, payload = "set_speed", e
	case BuildupStart:
		env.Type, payload = "buildup_start", e
	case BuildupStop:
		env.Type = "buildup_stop"
	case ChaosEnable:
		env.Type = "chaos_enable"
	case ChaosDisable:
		env.Type = "chaos_disable"
	case ManualStart:
		env.Type, payload = "manual_start", e
	case ManualUpdate:
		env.Type, payload = "manual_update", e
	case ManualEnd:
		env.Type = "manual_end"
	case SetCategory:
		env.Type, payload = "set_category", e
	case SetRange:
		env.Type, payload = "set_range", e
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", env.Type, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}
