//go:build !linux

package main

import "os"

// startJoystickReader falls back to blocking reads where epoll is unavailable.
func startJoystickReader(f *os.File, events chan<- jsEvent, readErr chan<- error) {
	go readJoystickEvents(f, events, readErr)
}
