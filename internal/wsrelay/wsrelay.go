// Package wsrelay exposes the recorder's event bus (spec.md §4.8) to
// local browser clients over WebSocket — a companion transport to
// internal/ipc for a web-based meter/status dashboard. Grounded on the
// teacher's internal/websocket client, inverted into a server: the
// teacher dials outward to a fleet controller on a reconnect loop; this
// package accepts inbound connections and has nothing to reconnect to.
package wsrelay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-audio/recorder/internal/events"
	"github.com/breeze-audio/recorder/internal/logging"
)

var log = logging.L("wsrelay")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The relay only ever serves a local dashboard on the same machine;
	// the control-plane trust boundary is internal/ipc, not this origin
	// check, so any origin is accepted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the wire shape pushed to every connected client: exactly
// one of the three event fields is non-nil, mirroring events.Event.
type Message struct {
	Level    *events.LevelChanged     `json:"level,omitempty"`
	Status   *statusPayload           `json:"status,omitempty"`
	Encoding *events.EncodingProgress `json:"encoding,omitempty"`
}

type statusPayload struct {
	Kind        string   `json:"kind"`
	Message     string   `json:"message"`
	OutputPaths []string `json:"outputPaths,omitempty"`
	State       string   `json:"state"`
}

// Server broadcasts every event published on a Bus to all connected
// WebSocket clients.
type Server struct {
	bus *events.Bus

	httpSrv *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New constructs a Server relaying bus events.
func New(bus *events.Bus) *Server {
	return &Server{
		bus:     bus,
		clients: make(map[*client]struct{}),
	}
}

// Serve starts an HTTP server on addr (e.g. "127.0.0.1:7890") exposing
// GET /events as the WebSocket upgrade endpoint. Blocks until ctx is
// done or the listener fails.
func (s *Server) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleUpgrade)

	s.mu.Lock()
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	s.mu.Unlock()

	sub, id := s.bus.Subscribe()
	defer s.bus.Unsubscribe(id)
	go s.fanOut(sub)

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close shuts down the HTTP server and disconnects every client.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.httpSrv
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade failed", "error", err)
		return
	}
	c := newClient(conn)

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go func() {
		c.writePump()
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()
	go c.readPump()
}

// fanOut reads every published event and queues it on each connected
// client, dropping it for clients whose send buffer is full.
func (s *Server) fanOut(sub <-chan events.Event) {
	for ev := range sub {
		msg := toMessage(ev)
		s.mu.Lock()
		clients := make([]*client, 0, len(s.clients))
		for c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.Unlock()
		for _, c := range clients {
			c.enqueue(msg)
		}
	}
}

func toMessage(ev events.Event) Message {
	var m Message
	m.Level = ev.Level
	if ev.Status != nil {
		m.Status = &statusPayload{
			Kind:        ev.Status.Kind.String(),
			Message:     ev.Status.Message,
			OutputPaths: ev.Status.OutputPaths,
			State:       ev.Status.State.String(),
		}
	}
	m.Encoding = ev.Encoding
	return m
}

// client wraps one upgraded WebSocket connection with a buffered send
// channel and the teacher's ping/pong keepalive pattern.
type client struct {
	conn      *websocket.Conn
	send      chan Message
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	conn.SetReadLimit(maxMessageSize)
	return &client{conn: conn, send: make(chan Message, sendBuffer)}
}

func (c *client) enqueue(m Message) {
	select {
	case c.send <- m:
	default:
		log.Warn("dropping event, client send buffer full")
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// readPump only exists to detect disconnects and service pongs; the
// relay never accepts input from the dashboard.
func (c *client) readPump() {
	defer c.close()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				log.Warn("marshal event failed", "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
