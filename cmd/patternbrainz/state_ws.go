package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// Observers (patternmon, dashboards) connect to /ws/state and receive JSON
// text frames with the envelope {type, ts, data}:
//   - "state_init" once on connect, with a StateSnapshot fetched through the
//     daemon loop
//   - "status" whenever the daemon publishes, coalesced to one frame per
//     wsStatusCoalesceWindow (latest wins)
//   - "cue" for every notification, sent immediately
//
// Each client has its own write pump so one slow client never blocks the
// others; a client whose queue fills up is disconnected.
//
// ============================================================================

// Broadcast is a state update for observers.
type Broadcast interface {
	broadcastMarker()
}

// BroadcastStatus carries a published status snapshot.
type BroadcastStatus struct {
	Status StateSnapshot
}

// BroadcastCue carries a fired notification.
type BroadcastCue struct {
	Trigger string
	Session string
	At      time.Time
}

func (BroadcastStatus) broadcastMarker() {}
func (BroadcastCue) broadcastMarker()    {}

// wsCueData is the JSON `data` payload for "cue".
type wsCueData struct {
	Trigger string `json:"trigger"`
	Session string `json:"session,omitempty"`
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func marshalEnvelope(typ string, ts time.Time, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	ts = ts.UTC()
	return json.Marshal(envelope{Type: typ, Ts: &ts, Data: raw})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Already-serialized frames waiting for fan-out.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size (default 32).
	SendBuf int

	// BroadcastBuf is the hub inbound queue size (default 128).
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes registrations and fan-out until ctx is canceled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// fanOut queues msg on every client and evicts the ones that are full.
func (h *Hub) fanOut(msg []byte) {
	var slow []*Client

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.removeClient(c, "slow_client")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseChan(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	// Closing send stops the write pump.
	safeCloseChan(c.send)
	h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // already closed
	}()
	close(ch)
}

// BroadcastBytes enqueues a serialized frame. It never blocks; when the hub
// queue is full the frame is dropped.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send queue.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsStatusCoalesceWindow bounds how often "status" frames go out.
const wsStatusCoalesceWindow = 50 * time.Millisecond

func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes queued frames and keepalive pings until send is closed or
// a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound frames to service control messages and detect
// disconnects, then unregisters the client.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

type Server struct {
	logger *slog.Logger
	hub    *Hub

	// Used to fetch the state_init snapshot through the daemon loop.
	events chan<- Event
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the state server. Register it on a mux, then run
// Hub().Run and RunBroadcaster.
func NewServer(logger *slog.Logger, events chan<- Event, cfg ServerConfig) *Server {
	return &Server{
		logger: logger,
		hub:    NewHub(logger, cfg.Hub),
		events: events,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register installs the WS handler at path and a health check at /healthz.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
	mux.HandleFunc("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"ws_clients": s.hub.ClientCount(),
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// requestSnapshot asks the daemon for its state, bounded by ctx (1s when ctx has no deadline).
func (s *Server) requestSnapshot(ctx context.Context) (StateSnapshot, error) {
	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Second)
		defer cancel()
	}

	reply := make(chan StateSnapshot, 1)
	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case s.events <- RequestStateSnapshot{Reply: reply}:
	}

	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case snap := <-reply:
		return snap, nil
	}
}

// handleStateWS upgrades, registers the client and sends state_init.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)
	s.hub.register <- client

	// The pumps outlive the handler; the hub and socket errors end them.
	go client.writePump()
	go client.readPump()

	if s.events == nil {
		return
	}

	snap, err := s.requestSnapshot(r.Context())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}

	msg, err := marshalEnvelope("state_init", time.Now(), snap)
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}
	select {
	case client.send <- msg:
	default:
		s.hub.unregister <- client
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// BroadcastQueue is the channel-backed StatusSink and cue feed for RunBroadcaster.
type BroadcastQueue struct {
	ch     chan Broadcast
	logger *slog.Logger
}

// NewBroadcastQueue creates a queue with the given buffer.
func NewBroadcastQueue(size int, logger *slog.Logger) *BroadcastQueue {
	if size <= 0 {
		size = 256
	}
	return &BroadcastQueue{ch: make(chan Broadcast, size), logger: logger}
}

// C returns the receive side for RunBroadcaster.
func (q *BroadcastQueue) C() <-chan Broadcast { return q.ch }

// Publish enqueues b without blocking; it reports whether b was queued.
func (q *BroadcastQueue) Publish(b Broadcast) bool {
	select {
	case q.ch <- b:
		return true
	default:
		q.logger.Debug("broadcast queue full, dropping update")
		return false
	}
}

// PublishStatus implements StatusSink.
func (q *BroadcastQueue) PublishStatus(snap StateSnapshot) {
	q.Publish(BroadcastStatus{Status: snap})
}

// StatusFileSink receives the coalesced status stream.
type StatusFileSink interface {
	Write(snap StateSnapshot)
}

// RunBroadcaster serializes broadcasts for the hub. Status updates are
// rate-limited: the latest pending one is flushed at most once per window,
// even while updates keep arriving. Cues flush any pending status first and
// go out immediately. Every flushed status is also handed to sink when set.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan Broadcast, sink StatusFileSink, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	var pending *StateSnapshot
	var ticker *time.Ticker
	var tick <-chan time.Time

	flush := func() {
		if pending == nil {
			return
		}
		snap := *pending
		pending = nil

		if sink != nil {
			sink.Write(snap)
		}
		msg, err := marshalEnvelope("status", time.Now(), snap)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", "status")
			return
		}
		hub.BroadcastBytes(msg)
	}
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			stopTicker()
			return

		case <-tick:
			if pending == nil {
				stopTicker()
				continue
			}
			flush()

		case b, ok := <-src:
			if !ok {
				flush()
				stopTicker()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			switch ev := b.(type) {
			case BroadcastStatus:
				snap := ev.Status
				pending = &snap
				if ticker == nil {
					ticker = time.NewTicker(wsStatusCoalesceWindow)
					tick = ticker.C
				}

			case BroadcastCue:
				flush()
				at := ev.At
				if at.IsZero() {
					at = time.Now()
				}
				msg, err := marshalEnvelope("cue", at, wsCueData{Trigger: ev.Trigger, Session: ev.Session})
				if err != nil {
					logger.Warn("ws broadcaster marshal failed", "error", err, "type", "cue")
					continue
				}
				hub.BroadcastBytes(msg)
			}
		}
	}
}
