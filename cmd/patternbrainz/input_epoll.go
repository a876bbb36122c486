//go:build linux

package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// startJoystickReader reads js_events from the device with epoll so that a
// single wake-up drains every queued event at once.
func startJoystickReader(f *os.File, events chan<- jsEvent, readErr chan<- error) {
	go readJoystickEventsEpoll(f, events, readErr)
}

func readJoystickEventsEpoll(f *os.File, events chan<- jsEvent, readErr chan<- error) {
	fd := int(f.Fd())

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		readErr <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	defer unix.Close(epfd)

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}); err != nil {
		readErr <- fmt.Errorf("epoll_ctl_add %s: %w", f.Name(), err)
		return
	}

	ready := make([]unix.EpollEvent, 1)
	buf := make([]byte, 64*jsEventSize)
	var batch []jsEvent

	for {
		n, err := unix.EpollWait(epfd, ready, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			readErr <- fmt.Errorf("epoll_wait: %w", err)
			return
		}
		if n == 0 {
			continue
		}
		if ready[0].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			readErr <- fmt.Errorf("joystick error/hangup: %s", f.Name())
			return
		}

		// The kernel only hands out whole js_events.
		m, err := unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			readErr <- fmt.Errorf("read %s: %w", f.Name(), err)
			return
		}
		if m == 0 {
			readErr <- fmt.Errorf("read %s: device closed", f.Name())
			return
		}

		batch = decodeJSEvents(buf[:m], batch[:0])
		for _, ev := range batch {
			events <- ev
		}
	}
}
