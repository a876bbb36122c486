package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedRetryDelay = time.Second
	feedPongWait   = 60 * time.Second
)

// Snapshot mirrors the daemon's status payload. Fields the monitor does not
// show are left out.
type Snapshot struct {
	Position           float64 `json:"position"`
	ManualActive       bool    `json:"manual_active"`
	Running            bool    `json:"running"`
	Mode               string  `json:"mode"`
	BuildupActive      bool    `json:"buildup_active"`
	BuildupSession     string  `json:"buildup_session"`
	ChaosActive        bool    `json:"chaos_active"`
	CurrentSpeed       float64 `json:"current_speed"`
	ManualSpeed        float64 `json:"manual_speed"`
	JoystickMultiplier float64 `json:"joystick_speed_multiplier"`
	Category           string  `json:"category"`
	PatternID          string  `json:"pattern_id"`
	Connected          bool    `json:"connected"`
	DeviceFound        bool    `json:"device_found"`
	RangeMin           int     `json:"range_min"`
	RangeMax           int     `json:"range_max"`
	LastError          string  `json:"last_error"`
}

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// Messages delivered to the model.
type (
	statusMsg Snapshot
	cueMsg    struct {
		Trigger string
		Session string
		At      time.Time
	}
	linkMsg struct {
		Up  bool
		Err error
	}
)

// decodeFrame turns one WebSocket text frame into a model message.
func decodeFrame(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case "status", "state_init":
		var s Snapshot
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return statusMsg(s), nil
	case "cue":
		var c struct {
			Trigger string `json:"trigger"`
			Session string `json:"session"`
		}
		if err := json.Unmarshal(env.Data, &c); err != nil {
			return nil, fmt.Errorf("decode cue: %w", err)
		}
		at := time.Now()
		if env.Ts != nil {
			at = env.Ts.Local()
		}
		return cueMsg{Trigger: c.Trigger, Session: c.Session, At: at}, nil
	default:
		return nil, nil
	}
}

// feed keeps a connection to the daemon and forwards decoded frames on msgs,
// reconnecting until closed.
type feed struct {
	url  string
	msgs chan any
	done chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
	once sync.Once
}

func newFeed(u string) *feed {
	return &feed{url: u, msgs: make(chan any, 64), done: make(chan struct{})}
}

func (f *feed) emit(m any) bool {
	select {
	case f.msgs <- m:
		return true
	case <-f.done:
		return false
	}
}

func (f *feed) run() {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	for {
		conn, _, err := d.Dial(f.url, nil)
		if err != nil {
			if !f.emit(linkMsg{Err: err}) {
				return
			}
			select {
			case <-f.done:
				return
			case <-time.After(feedRetryDelay):
			}
			continue
		}

		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		if !f.emit(linkMsg{Up: true}) {
			conn.Close()
			return
		}

		err = f.read(conn)
		conn.Close()
		if !f.emit(linkMsg{Err: err}) {
			return
		}
	}
}

func (f *feed) read(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	for {
		typ, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		if typ != websocket.TextMessage {
			continue
		}
		m, err := decodeFrame(raw)
		if err != nil || m == nil {
			continue
		}
		if !f.emit(m) {
			return nil
		}
	}
}

func (f *feed) close() {
	f.once.Do(func() {
		close(f.done)
		f.mu.Lock()
		if f.conn != nil {
			_ = f.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			f.conn.Close()
		}
		f.mu.Unlock()
	})
}
