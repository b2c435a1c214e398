package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/breeze-audio/recorder/internal/events"
	"github.com/breeze-audio/recorder/internal/session"
)

// Server accepts control-plane connections and dispatches commands to a
// session.Controller, pushing every events.Bus event back to each
// connected client as a TypeEvent envelope.
type Server struct {
	ctrl *session.Controller
	bus  *events.Bus

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer constructs a Server around an already-built Controller.
func NewServer(ctrl *session.Controller, bus *events.Bus) *Server {
	return &Server{ctrl: ctrl, bus: bus}
}

// Serve opens endpoint (a named pipe path on Windows, a Unix socket path
// elsewhere) and accepts connections until ctx is done or Close is
// called. Returns once the listener is closed.
func (s *Server) Serve(ctx context.Context, endpoint string) error {
	listener, err := listen(endpoint)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			log.Warn("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, NewConn(conn))
		}()
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(ctx context.Context, c *Conn) {
	defer c.Close()

	sub, id := s.bus.Subscribe()
	defer s.bus.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub {
			if err := c.SendTyped("", TypeEvent, toEventPayload(ev)); err != nil {
				return
			}
		}
	}()

	for {
		env, err := c.Recv()
		if err != nil {
			break
		}
		resp, payload, err := s.dispatch(ctx, env)
		if err != nil {
			c.SendError(env.ID, resp, err.Error())
			continue
		}
		c.SendTyped(env.ID, resp, payload)
	}

	<-done
}

func (s *Server) dispatch(ctx context.Context, env *Envelope) (string, any, error) {
	switch env.Type {
	case TypeMonitor:
		var req MonitorRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return TypeMonitor, nil, fmt.Errorf("ipc: decode monitor request: %w", err)
		}
		if err := s.ctrl.Monitor(req.LoopbackDeviceID, req.MicDeviceID); err != nil {
			return TypeMonitor, nil, err
		}
		return TypeOK, nil, nil

	case TypeStopMonitor:
		if err := s.ctrl.StopMonitor(); err != nil {
			return TypeStopMonitor, nil, err
		}
		return TypeOK, nil, nil

	case TypeStart:
		var req StartRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return TypeStart, nil, fmt.Errorf("ipc: decode start request: %w", err)
		}
		if err := s.ctrl.Start(req.LoopbackDeviceID, req.MicDeviceID, req.OutputBasePath, req.MP3BitrateKbps); err != nil {
			return TypeStart, nil, err
		}
		return TypeOK, nil, nil

	case TypeStop:
		out, err := s.ctrl.Stop(ctx)
		if err != nil {
			return TypeStop, nil, err
		}
		return TypeOK, StopResponse{
			SystemPath:     out.System,
			MicPath:        out.Mic,
			MixPath:        out.Mix,
			MP3Path:        out.MP3,
			SessionLogPath: out.SessionLog,
		}, nil

	case TypeDispose:
		if err := s.ctrl.Dispose(); err != nil {
			return TypeDispose, nil, err
		}
		return TypeOK, nil, nil

	case TypeSetMicGain:
		var req GainRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return TypeSetMicGain, nil, fmt.Errorf("ipc: decode gain request: %w", err)
		}
		s.ctrl.SetMicGain(req.Gain)
		return TypeOK, nil, nil

	case TypeSetLoopGain:
		var req GainRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return TypeSetLoopGain, nil, fmt.Errorf("ipc: decode gain request: %w", err)
		}
		s.ctrl.SetLoopbackGain(req.Gain)
		return TypeOK, nil, nil

	case TypeGetStatus:
		return TypeOK, StatusResponse{State: s.ctrl.State().String()}, nil

	default:
		return env.Type, nil, fmt.Errorf("ipc: unknown command %q", env.Type)
	}
}

func toEventPayload(ev events.Event) EventPayload {
	var p EventPayload
	if ev.Level != nil {
		p.Level = &LevelChangedPayload{
			Source:  ev.Level.Source.String(),
			RMS:     ev.Level.RMS,
			Peak:    ev.Level.Peak,
			Clipped: ev.Level.Clipped,
		}
	}
	if ev.Status != nil {
		p.Status = &StatusPayload{
			Kind:        ev.Status.Kind.String(),
			Message:     ev.Status.Message,
			OutputPaths: ev.Status.OutputPaths,
		}
	}
	if ev.Encoding != nil {
		p.Encoding = &EncodingProgressPayload{
			BytesDone:  ev.Encoding.BytesDone,
			BytesTotal: ev.Encoding.BytesTotal,
			Percent:    ev.Encoding.Percent,
			Done:       ev.Encoding.Done,
			Error:      ev.Encoding.Error,
		}
	}
	return p
}
