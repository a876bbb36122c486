package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// ============================================================================
// Device transport
// ============================================================================
//
// The dispatch loop hands positions to a Transport and moves on. Each
// transport keeps a single-slot outbox: a newer command replaces one that has
// not been sent yet, so a slow device server sees the latest position instead
// of a growing backlog. A sender goroutine started by Run drains the outbox.
//
// Connection changes are reported through the onStatus callback.
//
// ============================================================================

// Transport delivers device commands to the device server.
type Transport interface {
	DeviceSink

	// Run connects, polls status and drains the outbox until ctx is canceled.
	Run(ctx context.Context) error

	ConnectionStatus() (connected, deviceFound bool)
	Close() error
}

// TransportConfig selects and tunes a transport.
type TransportConfig struct {
	Kind          string `yaml:"kind"` // "http" or "ws"
	URL           string `yaml:"url"`
	TimeoutMS     int    `yaml:"timeout_ms"`
	StatusPollMS  int    `yaml:"status_poll_ms"`
	RequireDevice bool   `yaml:"require_device"`
}

// Validate checks the transport kind and URL scheme.
func (c TransportConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("transport.url: %w", err)
	}
	switch c.Kind {
	case "http":
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("transport.url must be http(s) for kind http, got %q", c.URL)
		}
	case "ws":
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("transport.url must be ws(s) for kind ws, got %q", c.URL)
		}
	default:
		return fmt.Errorf("transport.kind must be http or ws, got %q", c.Kind)
	}
	if c.TimeoutMS <= 0 {
		return errors.New("transport.timeout_ms must be > 0")
	}
	if c.StatusPollMS <= 0 {
		return errors.New("transport.status_poll_ms must be > 0")
	}
	return nil
}

// NewTransport builds the transport named by cfg.Kind.
func NewTransport(cfg TransportConfig, onStatus func(connected, deviceFound bool), logger *slog.Logger) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case "ws":
		return NewWSTransport(cfg, onStatus, logger), nil
	default:
		return NewHTTPTransport(cfg, onStatus, logger), nil
	}
}

// ============================================================================
// Wire format
// ============================================================================

// deviceCommand is one queued device request.
type deviceCommand struct {
	stop       bool
	position   float64 // 0..1, two decimals
	durationMS int64
}

type moveRequest struct {
	Command  string  `json:"command"`
	Position float64 `json:"position"`
	Duration int64   `json:"duration"`
}

type stopRequest struct {
	Command string `json:"command"`
}

// deviceStatus is the body of /connect, /status and WS status frames.
type deviceStatus struct {
	DeviceConnected bool `json:"device_connected"`
}

func newMoveCommand(pos float64, d time.Duration) deviceCommand {
	return deviceCommand{
		position:   roundTo(clampFloat(pos, 0, 1), 2),
		durationMS: d.Milliseconds(),
	}
}

func (c deviceCommand) payload() any {
	if c.stop {
		return stopRequest{Command: "stop"}
	}
	return moveRequest{Command: "move", Position: c.position, Duration: c.durationMS}
}

// ============================================================================
// Outbox and link status
// ============================================================================

// outbox holds at most one pending move (latest wins) and one pending stop.
// A stop never evicts a move: both are delivered in the order they were queued.
type outbox struct {
	mu          sync.Mutex
	move        *deviceCommand
	stop        bool
	stopPending bool // stop queued after the pending move
	ready       chan struct{}
}

func newOutbox() *outbox {
	return &outbox{ready: make(chan struct{}, 1)}
}

func (o *outbox) put(c deviceCommand) {
	o.mu.Lock()
	if c.stop {
		o.stop = true
		o.stopPending = o.move != nil
	} else {
		o.move = &c
		// A stop queued before this move goes out first.
		o.stopPending = false
	}
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// next pops the command due first. Callers hold o.mu.
func (o *outbox) next() (deviceCommand, bool) {
	switch {
	case o.stop && !o.stopPending:
		o.stop = false
		return deviceCommand{stop: true}, true
	case o.move != nil:
		c := *o.move
		o.move = nil
		o.stopPending = false
		return c, true
	}
	return deviceCommand{}, false
}

// take blocks until a command is queued or ctx is done.
func (o *outbox) take(ctx context.Context) (deviceCommand, bool) {
	for {
		o.mu.Lock()
		c, ok := o.next()
		o.mu.Unlock()
		if ok {
			return c, true
		}

		select {
		case <-ctx.Done():
			return deviceCommand{}, false
		case <-o.ready:
		}
	}
}

func (o *outbox) reset() {
	o.mu.Lock()
	o.move = nil
	o.stop, o.stopPending = false, false
	o.mu.Unlock()
}

// linkStatus tracks connection state and reports changes.
type linkStatus struct {
	mu          sync.Mutex
	connected   bool
	deviceFound bool
	onChange    func(connected, deviceFound bool)
}

func (s *linkStatus) set(connected, deviceFound bool) {
	if !connected {
		deviceFound = false
	}
	s.mu.Lock()
	changed := s.connected != connected || s.deviceFound != deviceFound
	s.connected, s.deviceFound = connected, deviceFound
	s.mu.Unlock()

	if changed && s.onChange != nil {
		s.onChange(connected, deviceFound)
	}
}

func (s *linkStatus) get() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected, s.deviceFound
}

// ============================================================================
// HTTP transport
// ============================================================================

// HTTPTransport talks to a device server over plain HTTP requests.
type HTTPTransport struct {
	baseURL   string
	client    *http.Client
	pollEvery time.Duration
	logger    *slog.Logger

	out    *outbox
	status linkStatus
}

// NewHTTPTransport creates an HTTP transport. Call Run to connect.
func NewHTTPTransport(cfg TransportConfig, onStatus func(connected, deviceFound bool), logger *slog.Logger) *HTTPTransport {
	return &HTTPTransport{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
		pollEvery: time.Duration(cfg.StatusPollMS) * time.Millisecond,
		logger:    logger,
		out:       newOutbox(),
		status:    linkStatus{onChange: onStatus},
	}
}

func (t *HTTPTransport) SendPosition(pos float64, d time.Duration) { t.out.put(newMoveCommand(pos, d)) }

func (t *HTTPTransport) Stop() { t.out.put(deviceCommand{stop: true}) }

func (t *HTTPTransport) ConnectionStatus() (bool, bool) { return t.status.get() }

// Close tells the server we are leaving and releases idle connections.
func (t *HTTPTransport) Close() error {
	if connected, _ := t.status.get(); connected {
		ctx, cancel := context.WithTimeout(context.Background(), t.client.Timeout)
		defer cancel()
		if _, err := t.post(ctx, "/disconnect", nil); err != nil {
			t.logger.Debug("disconnect failed", "error", err)
		}
	}
	t.status.set(false, false)
	t.client.CloseIdleConnections()
	return nil
}

// Run keeps the link up and sends queued commands until ctx is canceled.
func (t *HTTPTransport) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.pollLoop(gctx) })
	g.Go(func() error { return t.sendLoop(gctx) })
	return g.Wait()
}

func (t *HTTPTransport) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(t.pollEvery)
	defer ticker.Stop()

	for {
		if connected, _ := t.status.get(); connected {
			t.checkStatus(ctx)
		} else {
			t.connect(ctx)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (t *HTTPTransport) connect(ctx context.Context) {
	st, err := t.post(ctx, "/connect", nil)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Warn("device server connect failed; retrying", "url", t.baseURL, "error", err)
		}
		return
	}
	t.logger.Info("connected to device server", "url", t.baseURL, "device_connected", st.DeviceConnected)
	t.status.set(true, st.DeviceConnected)
}

func (t *HTTPTransport) checkStatus(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/status", nil)
	if err != nil {
		t.logger.Error("status request", "error", err)
		return
	}
	st, err := t.do(req)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Warn("device server status check failed", "error", err)
			t.status.set(false, false)
		}
		return
	}
	t.status.set(true, st.DeviceConnected)
}

func (t *HTTPTransport) sendLoop(ctx context.Context) error {
	for {
		cmd, ok := t.out.take(ctx)
		if !ok {
			return nil
		}
		if connected, _ := t.status.get(); !connected {
			t.logger.Debug("dropping device command: not connected")
			continue
		}
		body, err := json.Marshal(cmd.payload())
		if err != nil {
			t.logger.Error("marshal device command", "error", err)
			continue
		}
		if _, err := t.post(ctx, "/command", body); err != nil && ctx.Err() == nil {
			t.logger.Warn("device command failed", "error", err)
			// Back off briefly, then carry on with whatever is queued by then.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errorBackoff):
			}
		}
	}
}

func (t *HTTPTransport) post(ctx context.Context, path string, body []byte) (deviceStatus, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, rd)
	if err != nil {
		return deviceStatus{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return t.do(req)
}

// do runs req and decodes an optional device status body.
func (t *HTTPTransport) do(req *http.Request) (deviceStatus, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return deviceStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return deviceStatus{}, fmt.Errorf("%s %s: HTTP %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	var st deviceStatus
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return deviceStatus{}, err
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &st); err != nil {
			return deviceStatus{}, fmt.Errorf("decode %s response: %w", req.URL.Path, err)
		}
	}
	return st, nil
}

// ============================================================================
// WebSocket transport
// ============================================================================

const (
	wsTransportRetryDelay = 500 * time.Millisecond
	wsTransportWriteWait  = 2 * time.Second
)

// WSTransport keeps a persistent WebSocket to the device server. Commands are
// sent as JSON text frames; the server pushes {"device_connected":bool} frames.
type WSTransport struct {
	url     string
	timeout time.Duration
	logger  *slog.Logger

	out    *outbox
	status linkStatus

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSTransport creates a WebSocket transport. Call Run to connect.
func NewWSTransport(cfg TransportConfig, onStatus func(connected, deviceFound bool), logger *slog.Logger) *WSTransport {
	return &WSTransport{
		url:     cfg.URL,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:  logger,
		out:     newOutbox(),
		status:  linkStatus{onChange: onStatus},
	}
}

func (t *WSTransport) SendPosition(pos float64, d time.Duration) { t.out.put(newMoveCommand(pos, d)) }

func (t *WSTransport) Stop() { t.out.put(deviceCommand{stop: true}) }

func (t *WSTransport) ConnectionStatus() (bool, bool) { return t.status.get() }

// Close drops the current connection.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	return nil
}

// Run connects with retry and serves each connection until it breaks.
func (t *WSTransport) Run(ctx context.Context) error {
	attempt := 0
	for {
		conn, err := t.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			t.logger.Warn("device server connection failed; retrying...", "url", t.url, "error", err, "attempt", attempt)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wsTransportRetryDelay):
			}
			continue
		}

		attempt = 0
		t.logger.Info("connected to device server", "url", t.url)
		t.out.reset()
		t.status.set(true, false)

		err = t.serve(ctx, conn)
		t.status.set(false, false)
		t.Close()

		if ctx.Err() != nil {
			return nil
		}
		t.logger.Warn("device server connection lost; reconnecting...", "error", err)
	}
}

func (t *WSTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: t.timeout}
	conn, _, err := d.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return conn, nil
}

// serve runs one reader and one writer on conn until either fails.
func (t *WSTransport) serve(ctx context.Context, conn *websocket.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			var st deviceStatus
			if err := json.Unmarshal(msg, &st); err != nil {
				t.logger.Debug("ignoring device server frame", "error", err)
				continue
			}
			t.status.set(true, st.DeviceConnected)
		}
	})

	g.Go(func() error {
		for {
			cmd, ok := t.out.take(gctx)
			if !ok {
				return gctx.Err()
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsTransportWriteWait))
			if err := conn.WriteJSON(cmd.payload()); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	})

	// Unblock the reader once either side stops.
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})

	return g.Wait()
}
