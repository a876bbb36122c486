package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// statusFile is the on-disk status document read by overlays and scripts.
type statusFile struct {
	Position           float64 `json:"position"`
	ManualActive       bool    `json:"manual_active"`
	Running            bool    `json:"running"`
	Mode               string  `json:"mode"`
	BuildupActive      bool    `json:"buildup_active"`
	CurrentSpeed       float64 `json:"current_speed"`
	JoystickMultiplier float64 `json:"joystick_speed_multiplier"`
	Timestamp          float64 `json:"timestamp"`
}

func newStatusFile(s StateSnapshot) statusFile {
	return statusFile{
		Position:           s.Position,
		ManualActive:       s.ManualActive,
		Running:            s.Running,
		Mode:               s.Mode,
		BuildupActive:      s.BuildupActive,
		CurrentSpeed:       s.CurrentSpeed,
		JoystickMultiplier: s.JoystickMultiplier,
		Timestamp:          s.Timestamp,
	}
}

// StatusWriter mirrors the latest status into a file. Write only records the
// snapshot; Run persists it at most once per interval, replacing the file
// atomically so readers never see a partial document.
type StatusWriter struct {
	path     string
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending *StateSnapshot
	ready   chan struct{}
}

func NewStatusWriter(path string, interval time.Duration, logger *slog.Logger) *StatusWriter {
	return &StatusWriter{
		path:     path,
		interval: interval,
		logger:   logger,
		ready:    make(chan struct{}, 1),
	}
}

// Write records snap as the next status to persist.
func (w *StatusWriter) Write(snap StateSnapshot) {
	w.mu.Lock()
	w.pending = &snap
	w.mu.Unlock()

	select {
	case w.ready <- struct{}{}:
	default:
	}
}

func (w *StatusWriter) take() (StateSnapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return StateSnapshot{}, false
	}
	snap := *w.pending
	w.pending = nil
	return snap, true
}

// Run writes pending snapshots until ctx is canceled, flushing the last one on exit.
func (w *StatusWriter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case <-w.ready:
		}

		w.flush()

		select {
		case <-ctx.Done():
			w.flush()
			return
		case <-time.After(w.interval):
		}
	}
}

func (w *StatusWriter) flush() {
	snap, ok := w.take()
	if !ok {
		return
	}
	data, err := json.Marshal(newStatusFile(snap))
	if err != nil {
		w.logger.Warn("status marshal failed", "error", err)
		return
	}
	if err := writeFileAtomic(w.path, data); err != nil {
		w.logger.Warn("status write failed", "path", w.path, "error", err)
	}
}

// writeFileAtomic writes data to a temp file next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	return os.Rename(tmpName, path)
}
