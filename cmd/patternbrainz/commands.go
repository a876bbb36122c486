package main

import (
	"fmt"
	"time"
)

// ============================================================================
// Commands (engine-emitted side effects)
// ============================================================================
//
// The engine decides; runEffect performs I/O. Commands are values so that
// tests can assert on exactly what a step would have done.

// Command is a marker interface for side effects emitted by the engine.
type Command interface {
	commandMarker()
	String() string
}

// CmdSendPosition moves the device to Position (0..1, range remap applied) over Duration.
type CmdSendPosition struct {
	Position float64
	Duration time.Duration
	Kind     DispatchKind
}

func (CmdSendPosition) commandMarker() {}
func (c CmdSendPosition) String() string {
	return fmt.Sprintf("CmdSendPosition(%.2f, %s, %s)", c.Position, c.Duration, c.Kind)
}

// CmdStopDevice halts the device.
type CmdStopDevice struct{}

func (CmdStopDevice) commandMarker() {}
func (CmdStopDevice) String() string { return "CmdStopDevice" }

// CmdPlayCue fires a best-effort notification.
type CmdPlayCue struct {
	Trigger string
	Session string // build-up session, if any
}

func (CmdPlayCue) commandMarker() {}
func (c CmdPlayCue) String() string {
	return fmt.Sprintf("CmdPlayCue(%s)", c.Trigger)
}

// CmdLoadCategory loads a pattern category in the background. Seq orders
// overlapping requests; only the latest one is installed.
type CmdLoadCategory struct {
	Category string
	Seq      uint64
}

func (CmdLoadCategory) commandMarker() {}
func (c CmdLoadCategory) String() string {
	return fmt.Sprintf("CmdLoadCategory(%s)", c.Category)
}

// CmdPublishStatus hands the latest status to observers (WebSocket, status file).
type CmdPublishStatus struct {
	Status StateSnapshot
}

func (CmdPublishStatus) commandMarker() {}
func (CmdPublishStatus) String() string { return "CmdPublishStatus" }

// CmdPublishStateSnapshot delivers a snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot" }
