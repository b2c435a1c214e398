// Package ipc implements the recorder's control-plane transport (spec.md
// §6 Controller API): a GUI collaborator connects over a named pipe
// (Windows) or Unix domain socket (elsewhere) and drives monitor/start/
// stop/dispose/gain commands, receiving the event surface (spec.md
// §4.8) back as asynchronous envelopes pushed on the same connection.
//
// Grounded on the teacher's internal/ipc/message.go and protocol.go for
// the length-prefixed JSON Envelope framing. The teacher's HMAC/sequence
// validation and auth handshake protect a root-daemon-to-unprivileged-
// helper boundary across OS users; the recorder's control socket instead
// connects a GUI to an engine process run by the same user (the
// transport itself — a named pipe or a socket file restricted to mode
// 0600 — is the trust boundary), so that machinery is dropped. The command and
// event catalogue is new: this is a capture session controller, not
// remote desktop control.
package ipc

import "encoding/json"

// MaxMessageSize bounds one JSON envelope. Every payload on this channel
// is a small fixed struct, so this is a sanity cap against a misbehaving
// peer, not a tuned limit.
const MaxMessageSize = 1 << 20 // 1MiB

// Envelope is the wire-format wrapper for every IPC message.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Command and response type constants, one per Session Controller
// operation (spec.md §6).
const (
	TypeMonitor     = "monitor"
	TypeStopMonitor = "stop_monitor"
	TypeStart       = "start"
	TypeStop        = "stop"
	TypeDispose     = "dispose"
	TypeSetMicGain  = "set_mic_gain"
	TypeSetLoopGain = "set_loopback_gain"
	TypeGetStatus   = "get_status"

	// TypeOK frames a successful command response; TypeEvent frames a
	// pushed events.Event notification.
	TypeOK    = "ok"
	TypeEvent = "event"
)

// MonitorRequest is the payload for TypeMonitor.
type MonitorRequest struct {
	LoopbackDeviceID string `json:"loopbackDeviceId"`
	MicDeviceID      string `json:"micDeviceId"`
}

// StartRequest is the payload for TypeStart.
type StartRequest struct {
	LoopbackDeviceID string `json:"loopbackDeviceId"`
	MicDeviceID      string `json:"micDeviceId"`
	OutputBasePath   string `json:"outputBasePath"`
	MP3BitrateKbps   int    `json:"mp3BitrateKbps"`
}

// StopResponse is the payload returned from a successful TypeStop.
type StopResponse struct {
	SystemPath     string `json:"systemPath"`
	MicPath        string `json:"micPath"`
	MixPath        string `json:"mixPath"`
	MP3Path        string `json:"mp3Path,omitempty"`
	SessionLogPath string `json:"sessionLogPath"`
}

// GainRequest is the payload for TypeSetMicGain/TypeSetLoopGain.
type GainRequest struct {
	Gain float32 `json:"gain"`
}

// StatusResponse is the payload for TypeGetStatus.
type StatusResponse struct {
	State string `json:"state"`
}

// EventPayload wraps one pushed events.Event for TypeEvent envelopes.
// Exactly one field is non-nil, mirroring events.Event.
type EventPayload struct {
	Level    *LevelChangedPayload     `json:"level,omitempty"`
	Status   *StatusPayload           `json:"status,omitempty"`
	Encoding *EncodingProgressPayload `json:"encoding,omitempty"`
}

// LevelChangedPayload mirrors events.LevelChanged over the wire.
type LevelChangedPayload struct {
	Source  string  `json:"source"`
	RMS     float64 `json:"rms"`
	Peak    float32 `json:"peak"`
	Clipped bool    `json:"clipped"`
}

// StatusPayload mirrors events.Status over the wire.
type StatusPayload struct {
	Kind        string   `json:"kind"`
	Message     string   `json:"message"`
	OutputPaths []string `json:"outputPaths,omitempty"`
}

// EncodingProgressPayload mirrors events.EncodingProgress over the wire.
type EncodingProgressPayload struct {
	BytesDone  int64  `json:"bytesDone"`
	BytesTotal int64  `json:"bytesTotal"`
	Percent    int    `json:"percent"`
	Done       bool   `json:"done"`
	Error      string `json:"error,omitempty"`
}
