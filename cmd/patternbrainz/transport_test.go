package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestOutbox_LatestWins(t *testing.T) {
	o := newOutbox()
	o.put(newMoveCommand(0.1, 100*time.Millisecond))
	o.put(newMoveCommand(0.2, 100*time.Millisecond))
	o.put(newMoveCommand(0.3, 120*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	cmd, ok := o.take(ctx)
	if !ok || cmd.position != 0.3 || cmd.durationMS != 120 {
		t.Fatalf("take = %+v, %v; want latest move", cmd, ok)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if _, ok := o.take(short); ok {
		t.Error("outbox should be empty after take")
	}
}

func drainOutbox(t *testing.T, o *outbox) []deviceCommand {
	t.Helper()
	var got []deviceCommand
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		cmd, ok := o.take(ctx)
		cancel()
		if !ok {
			return got
		}
		got = append(got, cmd)
	}
}

func TestOutbox_StopKeepsPendingMove(t *testing.T) {
	o := newOutbox()
	o.put(newMoveCommand(0, 250*time.Millisecond))
	o.put(deviceCommand{stop: true})

	got := drainOutbox(t, o)
	if len(got) != 2 || got[0].stop || got[0].position != 0 || got[0].durationMS != 250 || !got[1].stop {
		t.Fatalf("delivered %+v, want final move then stop", got)
	}
}

func TestOutbox_StopBeforeNewerMove(t *testing.T) {
	o := newOutbox()
	o.put(newMoveCommand(0.2, 100*time.Millisecond))
	o.put(deviceCommand{stop: true})
	o.put(newMoveCommand(0.7, 100*time.Millisecond))

	got := drainOutbox(t, o)
	if len(got) != 2 || !got[0].stop || got[1].stop || got[1].position != 0.7 {
		t.Fatalf("delivered %+v, want stop then latest move", got)
	}

	o.put(deviceCommand{stop: true})
	o.put(deviceCommand{stop: true})
	if got := drainOutbox(t, o); len(got) != 1 || !got[0].stop {
		t.Fatalf("delivered %+v, want a single stop", got)
	}
}

func TestMoveCommand_RoundsAndClamps(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.456, 0.46},
		{-0.2, 0},
		{1.7, 1},
	}
	for _, tt := range tests {
		if got := newMoveCommand(tt.in, time.Second).position; got != tt.want {
			t.Errorf("newMoveCommand(%v).position = %v, want %v", tt.in, got, tt.want)
		}
	}

	body, err := json.Marshal(newMoveCommand(0, 250*time.Millisecond).payload())
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"command":"move","position":0,"duration":250}` {
		t.Errorf("move body = %s", body)
	}
	body, _ = json.Marshal(deviceCommand{stop: true}.payload())
	if string(body) != `{"command":"stop"}` {
		t.Errorf("stop body = %s", body)
	}
}

func TestTransportConfig_Validate(t *testing.T) {
	good := TransportConfig{Kind: "http", URL: "http://127.0.0.1:8080", TimeoutMS: 100, StatusPollMS: 100}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := good
	bad.Kind = "ws"
	if err := bad.Validate(); err == nil {
		t.Error("ws kind with http URL should fail")
	}
	bad = good
	bad.Kind = "serial"
	if err := bad.Validate(); err == nil {
		t.Error("unknown kind should fail")
	}
}

// fakeDeviceServer mimics the device server HTTP API.
type fakeDeviceServer struct {
	mu       sync.Mutex
	device   bool
	connects int
	failNext int // /command requests to fail before accepting
	bodies   []string
}

func (f *fakeDeviceServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /connect", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.connects++
		dev := f.device
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(deviceStatus{DeviceConnected: dev})
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		dev := f.device
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(deviceStatus{DeviceConnected: dev})
	})
	mux.HandleFunc("POST /command", func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		if f.failNext > 0 {
			f.failNext--
			f.mu.Unlock()
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		f.bodies = append(f.bodies, string(raw))
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	mux.HandleFunc("POST /disconnect", func(w http.ResponseWriter, r *http.Request) {})
	return mux
}

func (f *fakeDeviceServer) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies...)
}

// statusLog records transport status callbacks.
type statusLog struct {
	mu      sync.Mutex
	changes [][2]bool
}

func (s *statusLog) record(connected, deviceFound bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, [2]bool{connected, deviceFound})
}

func (s *statusLog) last() ([2]bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.changes) == 0 {
		return [2]bool{}, false
	}
	return s.changes[len(s.changes)-1], true
}

func TestHTTPTransport_ConnectSendAndStatus(t *testing.T) {
	dev := &fakeDeviceServer{device: true}
	srv := httptest.NewServer(dev.handler())
	defer srv.Close()

	var status statusLog
	tr := NewHTTPTransport(TransportConfig{
		Kind: "http", URL: srv.URL, TimeoutMS: 500, StatusPollMS: 20,
	}, status.record, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	waitUntil(t, 2*time.Second, func() bool {
		c, d := tr.ConnectionStatus()
		return c && d
	}, "transport never connected")

	tr.SendPosition(0.456, 180*time.Millisecond)
	waitUntil(t, 2*time.Second, func() bool { return len(dev.received()) >= 1 }, "move not delivered")
	tr.Stop()
	waitUntil(t, 2*time.Second, func() bool { return len(dev.received()) >= 2 }, "stop not delivered")

	got := dev.received()
	if got[0] != `{"command":"move","position":0.46,"duration":180}` {
		t.Errorf("move body = %s", got[0])
	}
	if got[1] != `{"command":"stop"}` {
		t.Errorf("stop body = %s", got[1])
	}

	// Device disappears: the next poll reports it.
	dev.mu.Lock()
	dev.device = false
	dev.mu.Unlock()
	waitUntil(t, 2*time.Second, func() bool {
		last, ok := status.last()
		return ok && last == [2]bool{true, false}
	}, "device loss not reported")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_ = tr.Close()
}

func TestHTTPTransport_ContinuesAfterCommandFailure(t *testing.T) {
	dev := &fakeDeviceServer{device: true, failNext: 1}
	srv := httptest.NewServer(dev.handler())
	defer srv.Close()

	tr := NewHTTPTransport(TransportConfig{
		Kind: "http", URL: srv.URL, TimeoutMS: 500, StatusPollMS: 20,
	}, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	waitUntil(t, 2*time.Second, func() bool {
		c, _ := tr.ConnectionStatus()
		return c
	}, "transport never connected")

	tr.SendPosition(0.1, 100*time.Millisecond)
	waitUntil(t, 2*time.Second, func() bool {
		dev.mu.Lock()
		defer dev.mu.Unlock()
		return dev.failNext == 0
	}, "first command never attempted")

	tr.SendPosition(0.9, 100*time.Millisecond)
	waitUntil(t, 2*time.Second, func() bool { return len(dev.received()) >= 1 }, "command after failure not delivered")
	if got := dev.received()[0]; got != `{"command":"move","position":0.9,"duration":100}` {
		t.Fatalf("delivered %s", got)
	}
}

func TestHTTPTransport_DropsCommandsWhileDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(TransportConfig{
		Kind: "http", URL: srv.URL, TimeoutMS: 200, StatusPollMS: 20,
	}, nil, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go tr.Run(ctx)

	tr.SendPosition(0.5, 100*time.Millisecond)
	<-ctx.Done()
	if c, _ := tr.ConnectionStatus(); c {
		t.Error("transport should not report a connection")
	}
}

func TestWSTransport_SendsFramesAndTracksDevice(t *testing.T) {
	frames := make(chan string, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(deviceStatus{DeviceConnected: true})
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- string(msg)
		}
	}))
	defer srv.Close()

	var status statusLog
	tr := NewWSTransport(TransportConfig{
		Kind: "ws", URL: "ws" + strings.TrimPrefix(srv.URL, "http"), TimeoutMS: 500, StatusPollMS: 100,
	}, status.record, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	waitUntil(t, 2*time.Second, func() bool {
		c, d := tr.ConnectionStatus()
		return c && d
	}, "ws transport never saw the device")

	tr.SendPosition(1, 90*time.Millisecond)
	select {
	case got := <-frames:
		if strings.TrimSpace(got) != `{"command":"move","position":1,"duration":90}` {
			t.Errorf("frame = %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
}
