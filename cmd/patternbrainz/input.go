package main

import (
	"encoding/binary"
	"io"
)

// jsEvent is the Linux joystick API event.
// struct js_event { __u32 time; __s16 value; __u8 type; __u8 number; };
type jsEvent struct {
	Time   uint32
	Value  int16
	Type   uint8
	Number uint8
}

const jsEventSize = 8

// decodeJSEvents decodes every complete js_event in buf.
func decodeJSEvents(buf []byte, out []jsEvent) []jsEvent {
	for len(buf) >= jsEventSize {
		out = append(out, jsEvent{
			Time:   binary.LittleEndian.Uint32(buf[0:4]),
			Value:  int16(binary.LittleEndian.Uint16(buf[4:6])),
			Type:   buf[6],
			Number: buf[7],
		})
		buf = buf[jsEventSize:]
	}
	return out
}

// readJoystickEvents reads js_events from r with blocking reads and sends them
// to events. It is the portable reader and runs in a dedicated goroutine.
func readJoystickEvents(r io.Reader, events chan<- jsEvent, readErr chan<- error) {
	buf := make([]byte, jsEventSize)
	var batch []jsEvent
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			readErr <- err
			return
		}
		batch = decodeJSEvents(buf, batch[:0])
		for _, ev := range batch {
			events <- ev
		}
	}
}
