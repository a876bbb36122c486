package main

import "time"

// Playback modes reported to observers.
const (
	ModeIdle    = "idle"
	ModePattern = "pattern"
	ModeManual  = "manual"
	ModeHoming  = "homing"
)

// StateSnapshot is the externally visible state of the daemon: the WebSocket
// "status"/"state_init" payload. The status file carries a subset.
type StateSnapshot struct {
	Position     float64 `json:"position"` // 0..100, last dispatched
	ManualActive bool    `json:"manual_active"`
	Running      bool    `json:"running"`
	Mode         string  `json:"mode"`

	BuildupActive  bool   `json:"buildup_active"`
	BuildupSession string `json:"buildup_session,omitempty"`
	ChaosActive    bool   `json:"chaos_active"`

	CurrentSpeed       float64 `json:"current_speed"`
	ManualSpeed        float64 `json:"manual_speed"`
	JoystickMultiplier float64 `json:"joystick_speed_multiplier"`

	Category  string `json:"category,omitempty"`
	PatternID string `json:"pattern_id,omitempty"`

	Connected   bool `json:"connected"`
	DeviceFound bool `json:"device_found"`
	RangeMin    int  `json:"range_min"`
	RangeMax    int  `json:"range_max"`

	LastError string  `json:"last_error,omitempty"`
	Timestamp float64 `json:"timestamp"` // unix seconds
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
