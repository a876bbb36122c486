package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Line-delimited JSON over a unix socket:
//   - client sends {"type": "set_speed", "data": {"speed": 0.8}}
//   - server answers {"status": "ok"} or {"status": "error", "error": "msg"}
//
// Payloads are validated here, before they are queued, so invalid settings are
// reported to the caller instead of being dropped inside the daemon loop.
// ============================================================================

// IPCResponse is sent back for every request line.
type IPCResponse struct {
	Status string `json:"status"`          // "ok" or "error"
	Error  string `json:"error,omitempty"` // set when Status == "error"
}

const ipcEnqueueTimeout = 100 * time.Millisecond

// ipcServer accepts connections until its context is canceled.
type ipcServer struct {
	events    chan<- Event
	validator EventValidator
	logger    *slog.Logger
}

// runIPCServer listens on socketPath and feeds validated events into events.
// It returns nil on shutdown.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, validator EventValidator, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("ipc listening", "socket", socketPath)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	srv := &ipcServer{events: events, validator: validator, logger: logger}
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("ipc listener closed")
				return nil
			}
			logger.Error("ipc accept error", "error", err)
			continue
		}
		go srv.handle(ctx, conn)
	}
}

func (s *ipcServer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Unblock the scanner on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.logger.Debug("ipc received", "line", line)

		resp := IPCResponse{Status: "ok"}
		if err := s.accept(ctx, []byte(line)); err != nil {
			resp = IPCResponse{Status: "error", Error: err.Error()}
		}
		if err := enc.Encode(resp); err != nil {
			s.logger.Debug("ipc write response failed", "error", err)
			return
		}
	}
}

// accept parses, validates and enqueues one request line.
func (s *ipcServer) accept(ctx context.Context, line []byte) error {
	ev, err := UnmarshalEvent(line)
	if err != nil {
		return fmt.Errorf("parse event: %w", err)
	}
	if err := s.validator.Validate(ev); err != nil {
		return err
	}

	t := time.NewTimer(ipcEnqueueTimeout)
	defer t.Stop()
	select {
	case s.events <- ev:
		return nil
	case <-t.C:
		return errors.New("event queue full")
	case <-ctx.Done():
		return errors.New("daemon shutting down")
	}
}

// ============================================================================
// IPC Client
// ============================================================================

// SendIPCEvent sends one event to the daemon and waits for its answer.
func SendIPCEvent(socketPath string, ev Event) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	data, err := MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("ipc error: %s", resp.Error)
	}
	return nil
}
