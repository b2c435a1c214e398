// Package capture implements the Loopback Handler and Mic Handler
// (spec.md §4 components E and F): the two device-driven callbacks that
// read system and microphone audio and feed the Disk Writer and mixer.
//
// Grounded on agalue-sherpa-voice-assistant's audio.Capturer for the
// cross-platform malgo wiring (context init, device config, callback
// shape, pooled byte-to-float32 conversion) and on the teacher's
// audio_windows.go for the device-invalidated lifecycle and retry
// idiom — generalized from a single Windows WASAPI loopback capturer
// into two portable malgo-backed handlers that share a ring buffer.
package capture

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/breeze-audio/recorder/internal/logging"
	"github.com/breeze-audio/recorder/internal/sessionlog"
)

var log = logging.L("capture")

const (
	// silenceThreshold is how long the loopback device callback may go
	// without firing before the Mic Handler treats it as dropped out and
	// takes over producing System/Mix blocks itself (spec.md §4.6 step 4:
	// "now - last_loopback_tick > 200ms"). This is liveness of the
	// *callback*, not amplitude of the audio — a loopback device that is
	// alive but playing silence still ticks normally and needs no
	// fallback at all.
	silenceThreshold = 200 * time.Millisecond

	// levelEmitInterval throttles LevelChanged events per handler.
	levelEmitInterval = 50 * time.Millisecond

	// mixWeight is the fixed per-source weight when both system and mic
	// are contributing (spec.md fixes 0.5/0.5, no runtime knob).
	mixWeight = 0.5

	// diagnosticBlockInterval controls how often the Loopback Handler
	// logs a backlog diagnostic line (spec.md §4.5 step 7).
	diagnosticBlockInterval = 50

	deviceOpenRetries = 3
	deviceOpenBackoff = 250 * time.Millisecond
)

// Format is the sample rate and channel layout shared by every output
// target in a session (spec.md §3 "Audio Format"). System and Mic
// output are always 16-bit TPDF-dithered (spec.md §6); only the Mix
// target's bit depth is configurable, so it is threaded separately as
// mixBitDepth rather than carried on Format.
type Format struct {
	SampleRate int
	Channels   int
}

// livenessEpoch anchors Liveness readings to the monotonic clock.
var livenessEpoch = time.Now()

// Liveness is a lock-free "last seen" monotonic timestamp, touched by
// the Loopback Handler on every device callback and read by the Mic
// Handler to detect a stalled/dropped-out loopback device (spec.md
// §4.6 step 4). Stored as monotonic nanoseconds since livenessEpoch via
// atomic.Int64 so it can be touched from the loopback callback and read
// from the mic callback without a lock.
type Liveness struct {
	nanos atomic.Int64
}

// NewLiveness constructs a Liveness initialized to the current time.
func NewLiveness() *Liveness {
	l := &Liveness{}
	l.Touch()
	return l
}

// Touch records the current time as the last-seen tick.
func (l *Liveness) Touch() { l.nanos.Store(int64(time.Since(livenessEpoch))) }

// Since returns how long it has been since the last Touch.
func (l *Liveness) Since() time.Duration {
	return time.Since(livenessEpoch) - time.Duration(l.nanos.Load())
}

// Gain is a lock-free gain control: readable from an audio callback and
// writable from any goroutine, since spec.md §4.2 requires gain to be
// adjustable mid-session.
type Gain struct {
	bits atomic.Uint32
}

// NewGain constructs a Gain initialized to v.
func NewGain(v float32) *Gain {
	g := &Gain{}
	g.Store(v)
	return g
}

// Store atomically sets the gain.
func (g *Gain) Store(v float32) { g.bits.Store(math.Float32bits(v)) }

// Load atomically reads the gain.
func (g *Gain) Load() float32 { return math.Float32frombits(g.bits.Load()) }

// OpenContext initializes one malgo audio context shared by both the
// loopback and mic handlers of a session.
func OpenContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug("malgo backend", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("capture: init audio context: %w", err)
	}
	return ctx, nil
}

// resolveDeviceID looks up a configured device by exact name match,
// falling back to the platform default (nil) when
// deviceID is empty or no match is found. This mirrors how a user-facing
// device picker would resolve a saved preference back to a live malgo
// device across process restarts, when the underlying ID may have
// changed but the name usually hasn't.
func resolveDeviceID(ctx *malgo.AllocatedContext, deviceType malgo.DeviceType, deviceID string) *malgo.DeviceID {
	if deviceID == "" {
		return nil
	}
	infos, err := ctx.Devices(deviceType)
	if err != nil {
		log.Warn("device enumeration failed, using default device", "error", err)
		return nil
	}
	for i := range infos {
		if infos[i].Name() == deviceID {
			return infos[i].ID.Pointer()
		}
	}
	log.Warn("configured device not found, using default device", "deviceID", deviceID)
	return nil
}

// openDeviceWithRetry opens a malgo device, retrying up to
// deviceOpenRetries times with a fixed suspending backoff between
// attempts. Grounded on the teacher's internal/httputil.Do retry loop,
// simplified to a fixed (non-exponential) delay since device-open
// failures are usually transient driver contention rather than load
// that benefits from backoff growth.
func openDeviceWithRetry(ctx *malgo.AllocatedContext, cfg malgo.DeviceConfig, callbacks malgo.DeviceCallbacks) (*malgo.Device, error) {
	var lastErr error
	for attempt := 0; attempt <= deviceOpenRetries; attempt++ {
		if attempt > 0 {
			log.Warn("retrying device open", "attempt", attempt, "error", lastErr)
			time.Sleep(deviceOpenBackoff)
		}
		device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
		if err == nil {
			return device, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("capture: open device after %d attempts: %w", deviceOpenRetries+1, lastErr)
}

// slogLine writes one line to the session log if it exists; a nil
// logger (no session log configured) is a no-op via sessionlog.Logger's
// nil-receiver handling.
func slogLine(l *sessionlog.Logger, scope, message string) {
	l.Log(sessionlog.Info, scope, message)
}

// bytesToFloat32 converts a little-endian float32 byte buffer into dst,
// growing it if necessary, and returns the (possibly reallocated) slice
// sized to the sample count.
func bytesToFloat32(dst []float32, data []byte) []float32 {
	n := len(data) / 4
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		dst[i] = math.Float32frombits(bits)
	}
	return dst
}
