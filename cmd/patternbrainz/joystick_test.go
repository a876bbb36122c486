package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"
)

func newTestJoystick(cfg JoystickConfig) (*Joystick, chan Event) {
	events := make(chan Event, 8)
	j := NewJoystick(cfg, DefaultSpeedLimits(), NewControls(defaultNeutralSpeed), events, discardLogger())
	return j, events
}

func axisEvent(n uint8, v int16) jsEvent { return jsEvent{Type: JS_EVENT_AXIS, Number: n, Value: v} }
func buttonEvent(n uint8, v int16) jsEvent {
	return jsEvent{Type: JS_EVENT_BUTTON, Number: n, Value: v}
}

func drainEvents(ch chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestJoystick_SpeedMultiplier(t *testing.T) {
	cfg := DefaultJoystickConfig()
	j, _ := newTestJoystick(cfg)

	tests := []struct {
		name string
		raw  int16
		want float64
	}{
		{"centered", 0, defaultNeutralSpeed},
		{"inside activation band", 6000, defaultNeutralSpeed},
		{"pushed fully up", -32767, defaultMaxSpeed},
		{"pulled fully down", 32767, defaultMinSpeed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j.apply(axisEvent(uint8(cfg.SpeedAxis.Index), tt.raw))
			j.tick()
			if got := j.controls.JoystickMultiplier(); !approxEqual(got, tt.want) {
				t.Errorf("multiplier = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJoystick_UnboundSpeedAxisIsNeutral(t *testing.T) {
	cfg := DefaultJoystickConfig()
	cfg.SpeedAxis.Index = -1
	j, _ := newTestJoystick(cfg)

	j.apply(axisEvent(1, -32767))
	j.tick()
	if got := j.controls.JoystickMultiplier(); got != defaultNeutralSpeed {
		t.Errorf("multiplier = %v, want neutral", got)
	}
}

func TestJoystick_ButtonEdges(t *testing.T) {
	cfg := DefaultJoystickConfig()
	j, events := newTestJoystick(cfg)

	// Initial state reported as pressed must not fire.
	j.apply(jsEvent{Type: JS_EVENT_BUTTON | JS_EVENT_INIT, Number: uint8(cfg.Buttons.TogglePlay), Value: 1})
	j.tick()
	if got := drainEvents(events); len(got) != 0 {
		t.Fatalf("init state fired %v", got)
	}

	j.apply(buttonEvent(uint8(cfg.Buttons.TogglePlay), 0))
	j.tick()
	j.apply(buttonEvent(uint8(cfg.Buttons.TogglePlay), 1))
	j.apply(buttonEvent(uint8(cfg.Buttons.Skip), 1))
	j.apply(buttonEvent(uint8(cfg.Buttons.EmergencyStop), 1))
	j.tick()
	j.tick() // held: no repeat

	got := drainEvents(events)
	want := []Event{TogglePlay{}, SkipPattern{}, EmergencyStop{}}
	if len(got) != len(want) {
		t.Fatalf("events = %#v, want %#v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %#v, want %#v", i, got[i], want[i])
		}
	}
}

func TestJoystick_ManualHold(t *testing.T) {
	cfg := DefaultJoystickConfig()
	j, events := newTestJoystick(cfg)
	hold := uint8(cfg.Buttons.ManualHold)
	axis := uint8(cfg.ManualAxis.Index)

	j.apply(axisEvent(axis, -32767)) // inverted: fully up is position 1
	j.apply(buttonEvent(hold, 1))
	j.tick()

	got := drainEvents(events)
	if len(got) != 1 {
		t.Fatalf("events = %#v, want one ManualStart", got)
	}
	start, ok := got[0].(ManualStart)
	if !ok || !approxEqual(start.Position, 1) {
		t.Fatalf("event = %#v, want ManualStart{1}", got[0])
	}

	// While the daemon holds manual override the axis drives the position directly.
	j.controls.SetManualActive(true)
	j.apply(axisEvent(axis, 0))
	j.tick()
	if pos := j.controls.ManualOverride().Position; !approxEqual(pos, 0.5) {
		t.Errorf("held position = %v, want 0.5", pos)
	}

	j.apply(buttonEvent(hold, 0))
	j.tick()
	got = drainEvents(events)
	if len(got) != 1 || got[0] != (ManualEnd{}) {
		t.Errorf("events = %#v, want ManualEnd", got)
	}
}

func TestJoystick_RunStopsOnReadError(t *testing.T) {
	j, _ := newTestJoystick(DefaultJoystickConfig())
	readErr := make(chan error, 1)
	readErr <- io.ErrUnexpectedEOF

	err := j.Run(context.Background(), make(chan jsEvent), readErr)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Run() = %v, want wrapped read error", err)
	}
}

func TestReadJoystickEvents_DecodesWireFormat(t *testing.T) {
	var buf bytes.Buffer
	for _, ev := range []jsEvent{
		{Time: 1000, Value: -32767, Type: JS_EVENT_AXIS, Number: 1},
		{Time: 1004, Value: 1, Type: JS_EVENT_BUTTON | JS_EVENT_INIT, Number: 5},
	} {
		if err := binary.Write(&buf, binary.LittleEndian, ev); err != nil {
			t.Fatal(err)
		}
	}
	if buf.Len() != 2*jsEventSize {
		t.Fatalf("encoded %d bytes, want %d", buf.Len(), 2*jsEventSize)
	}

	events := make(chan jsEvent, 4)
	readErr := make(chan error, 1)
	go readJoystickEvents(&buf, events, readErr)

	want := []jsEvent{
		{Time: 1000, Value: -32767, Type: JS_EVENT_AXIS, Number: 1},
		{Time: 1004, Value: 1, Type: JS_EVENT_BUTTON | JS_EVENT_INIT, Number: 5},
	}
	for i, w := range want {
		select {
		case got := <-events:
			if got != w {
				t.Errorf("event %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not decoded", i)
		}
	}
	select {
	case err := <-readErr:
		if !errors.Is(err, io.EOF) {
			t.Errorf("read error = %v, want EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reader did not report EOF")
	}
}
