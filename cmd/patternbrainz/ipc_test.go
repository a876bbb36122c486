package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func startTestIPC(t *testing.T, events chan Event) string {
	t.Helper()

	// Unix socket paths are length-limited; t.TempDir can be too deep.
	dir, err := os.MkdirTemp("", "pbipc")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s.sock")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	validator := EventValidator{Limits: DefaultSpeedLimits(), BuildupDefaults: DefaultEngineConfig().BuildupDefaults}
	go func() { done <- runIPCServer(ctx, sock, events, validator, discardLogger()) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("runIPCServer returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("runIPCServer did not exit")
		}
	})

	waitUntil(t, 2*time.Second, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, "socket was not created")
	return sock
}

func TestIPC_ValidEventIsQueued(t *testing.T) {
	events := make(chan Event, 4)
	sock := startTestIPC(t, events)

	if err := SendIPCEvent(sock, SetSpeed{Speed: 0.8}); err != nil {
		t.Fatalf("SendIPCEvent: %v", err)
	}
	select {
	case ev := <-events:
		got, ok := ev.(SetSpeed)
		if !ok || got.Speed != 0.8 {
			t.Fatalf("queued %#v, want SetSpeed{0.8}", ev)
		}
	default:
		t.Fatalf("no event queued")
	}
}

func TestIPC_InvalidSettingIsRejectedBeforeQueueing(t *testing.T) {
	events := make(chan Event, 4)
	sock := startTestIPC(t, events)

	err := SendIPCEvent(sock, SetSpeed{Speed: 3})
	if err == nil || !strings.Contains(err.Error(), "speed must be between") {
		t.Fatalf("err = %v, want speed range error", err)
	}
	err = SendIPCEvent(sock, SetRange{Min: 80, Max: 20})
	if err == nil {
		t.Fatalf("inverted range accepted")
	}
	if len(events) != 0 {
		t.Fatalf("%d events queued, want 0", len(events))
	}
}

func TestIPC_QueueFull(t *testing.T) {
	events := make(chan Event) // nobody reads
	sock := startTestIPC(t, events)

	err := SendIPCEvent(sock, Play{})
	if err == nil || !strings.Contains(err.Error(), "event queue full") {
		t.Fatalf("err = %v, want event queue full", err)
	}
}

func TestIPC_MultipleLinesOnOneConnection(t *testing.T) {
	events := make(chan Event, 4)
	sock := startTestIPC(t, events)

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	lines := []string{
		`{"type":"play"}`,
		`{"type":"bogus"}`,
		`{"type":"CategoryLoaded","data":{"Category":"x"}}`,
		`{"type":"set_category","data":{"category":"../etc"}}`,
		`{"type":"manual_start","data":{"position":0.25}}`,
	}
	want := []string{"ok", "error", "error", "error", "ok"}

	r := bufio.NewReader(conn)
	for i, line := range lines {
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		raw, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read response %d: %v", i, err)
		}
		var resp IPCResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			t.Fatalf("decode response %d: %v", i, err)
		}
		if resp.Status != want[i] {
			t.Fatalf("line %q: status %q (%s), want %q", line, resp.Status, resp.Error, want[i])
		}
	}

	if len(events) != 2 {
		t.Fatalf("%d events queued, want 2", len(events))
	}
	if _, ok := (<-events).(Play); !ok {
		t.Fatalf("first event is not Play")
	}
	if ms, ok := (<-events).(ManualStart); !ok || ms.Position != 0.25 {
		t.Fatalf("second event = %#v, want ManualStart{0.25}", ms)
	}
}

func TestIPC_ExplicitZeroBuildupIsRejected(t *testing.T) {
	events := make(chan Event, 4)
	sock := startTestIPC(t, events)

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	lines := []string{
		`{"type":"buildup_start","data":{"duration_s":0}}`,
		`{"type":"buildup_start","data":{"cycles":0}}`,
		`{"type":"buildup_start","data":{"start_speed":0}}`,
		`{"type":"buildup_start"}`,
		`{"type":"buildup_start","data":{"cycles":3}}`,
	}
	want := []string{"error", "error", "error", "ok", "ok"}

	r := bufio.NewReader(conn)
	for i, line := range lines {
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		raw, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read response %d: %v", i, err)
		}
		var resp IPCResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			t.Fatalf("decode response %d: %v", i, err)
		}
		if resp.Status != want[i] {
			t.Fatalf("line %q: status %q (%s), want %q", line, resp.Status, resp.Error, want[i])
		}
	}
	if len(events) != 2 {
		t.Fatalf("%d events queued, want 2", len(events))
	}
}
