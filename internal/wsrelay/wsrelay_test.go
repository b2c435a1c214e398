package wsrelay

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-audio/recorder/internal/events"
)

func TestFanOutDeliversLevelEventToClient(t *testing.T) {
	bus := events.NewBus()
	s := New(bus)

	sub, id := bus.Subscribe()
	defer bus.Unsubscribe(id)
	go s.fanOut(sub)

	ts := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server a moment to register the client before publishing.
	time.Sleep(20 * time.Millisecond)
	bus.PublishLevel(events.LevelChanged{Source: events.SourceMic, RMS: 0.5, Peak: 0.8})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Level == nil || msg.Level.Source != events.SourceMic || msg.Level.RMS != 0.5 {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestFanOutDeliversStatusEventWithStateString(t *testing.T) {
	bus := events.NewBus()
	s := New(bus)

	sub, id := bus.Subscribe()
	defer bus.Unsubscribe(id)
	go s.fanOut(sub)

	ts := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	bus.PublishStatus(events.Status{
		Kind:        events.StatusStopped,
		Message:     "done",
		OutputPaths: []string{"a-system.wav", "a-mic.wav", "a-mix.wav"},
		State:       events.StateIdle,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status == nil || msg.Status.Kind != "stopped" || msg.Status.State != "idle" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if len(msg.Status.OutputPaths) != 3 {
		t.Fatalf("expected 3 output paths, got %d", len(msg.Status.OutputPaths))
	}
}

func TestServeShutsDownOnContextCancel(t *testing.T) {
	bus := events.NewBus()
	s := New(bus)

	addr := freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, addr) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancel")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}
