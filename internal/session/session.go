// Package session implements the Session Controller (spec.md §4.7): the
// single component that owns device lifecycle (monitor/start/stop/
// dispose), the shared ring buffer and gain controls, and dispatches
// post-session MP3 encoding and archival.
//
// Grounded on the teacher's internal/remote/desktop/session.go and
// session_control.go: sync.Once-guarded Stop/dispose, an atomic.Bool
// disposed flag, a single mutex serializing lifecycle transitions (the
// teacher's RWMutex-guarded isActive/fps fields), and a watchdog-bounded
// wait for teardown in Dispose.
package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/breeze-audio/recorder/internal/archive"
	"github.com/breeze-audio/recorder/internal/archive/providers"
	"github.com/breeze-audio/recorder/internal/bufpool"
	"github.com/breeze-audio/recorder/internal/capture"
	"github.com/breeze-audio/recorder/internal/config"
	"github.com/breeze-audio/recorder/internal/diskwriter"
	"github.com/breeze-audio/recorder/internal/encode"
	"github.com/breeze-audio/recorder/internal/events"
	"github.com/breeze-audio/recorder/internal/logging"
	"github.com/breeze-audio/recorder/internal/ring"
	"github.com/breeze-audio/recorder/internal/sessionlog"
	"github.com/breeze-audio/recorder/internal/wav"
)

var log = logging.L("session")

const (
	// writerDrainWatchdog bounds how long stop() waits for the disk
	// writer to flush queued jobs before giving up (spec.md §4.7 stop()).
	writerDrainWatchdog = 30 * time.Second

	// disposeWatchdog bounds dispose()'s wait for in-flight work
	// (spec.md §4.7 dispose()).
	disposeWatchdog = 1 * time.Second

	minMP3Kbps = 64
	maxMP3Kbps = 320
)

// ErrDisposed is returned by every method once Dispose has completed
// (spec.md §4.7: "post-dispose() all operations fail fast").
var ErrDisposed = fmt.Errorf("session: disposed")

// Outputs is the fixed set of output paths a Start/Stop cycle produces.
type Outputs struct {
	System     string
	Mic        string
	Mix        string
	MP3        string // empty if MP3 encoding wasn't requested
	SessionLog string
}

func (o Outputs) paths() []string {
	out := []string{o.System, o.Mic, o.Mix, o.SessionLog}
	if o.MP3 != "" {
		out = append(out, o.MP3)
	}
	return out
}

// Controller is the Session Controller. Zero value is not usable;
// construct with New. All exported methods are safe for concurrent use;
// transitions are serialized through mu since they happen at most a few
// times per session and never on an audio-callback hot path.
type Controller struct {
	cfg *config.Config
	bus *events.Bus

	mu    sync.Mutex
	state events.SessionState

	malgoCtx *malgo.AllocatedContext
	ringBuf  *ring.Buffer
	bufs     *bufpool.Pool
	liveness *capture.Liveness
	micGain  *capture.Gain
	loopGain *capture.Gain

	loopback *capture.LoopbackHandler
	mic      *capture.MicHandler
	writer   *diskwriter.Writer

	sysFile *wav.Writer
	micFile *wav.Writer
	mixFile *wav.Writer
	slog    *sessionlog.Logger

	current Outputs

	archiver *archive.Archiver

	faultSub       int
	faultSubActive bool

	disposed    atomic.Bool
	disposeOnce sync.Once
}

// New constructs a Controller for one recording lifecycle.
func New(cfg *config.Config, bus *events.Bus) *Controller {
	c := &Controller{
		cfg:      cfg,
		bus:      bus,
		micGain:  capture.NewGain(float32(cfg.MicGain)),
		loopGain: capture.NewGain(float32(cfg.LoopbackGain)),
	}
	if p, err := providers.New(context.Background(), cfg.ArchiveProvider, providers.Options{
		Bucket:    cfg.ArchiveBucket,
		Region:    cfg.ArchiveRegion,
		LocalPath: cfg.ArchiveLocalPath,
	}); err != nil {
		log.Warn("archive provider unavailable", "provider", cfg.ArchiveProvider, "error", err)
	} else if p != nil {
		c.archiver = archive.New(p, cfg.ArchiveRetention)
	}
	return c
}

// State reports the current lifecycle state.
func (c *Controller) State() events.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsRecording reports whether a session is actively writing output files.
func (c *Controller) IsRecording() bool {
	return c.State() == events.StateRecording
}

// SetMicGain atomically updates the mic gain mid-session (spec.md §4.2).
func (c *Controller) SetMicGain(v float32) { c.micGain.Store(v) }

// SetLoopbackGain atomically updates the loopback gain mid-session.
func (c *Controller) SetLoopbackGain(v float32) { c.loopGain.Store(v) }

// Monitor opens the loopback and mic devices and begins metering
// (LevelChanged events) without writing any output files.
func (c *Controller) Monitor(loopbackID, micID string) error {
	if c.disposed.Load() {
		return ErrDisposed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != events.StateIdle {
		return nil // already monitoring or recording
	}
	if err := c.open(loopbackID, micID, io.Discard, io.Discard, io.Discard, nil); err != nil {
		return err
	}
	c.state = events.StateMonitoring
	c.bus.PublishStatus(events.Status{Kind: events.StatusInfo, Message: "monitoring", State: c.state})
	return nil
}

// StopMonitor tears down monitoring-only capture, returning to idle.
// A no-op while recording: recording implies monitoring (spec.md §5).
func (c *Controller) StopMonitor() error {
	if c.disposed.Load() {
		return ErrDisposed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != events.StateMonitoring {
		return nil
	}
	c.teardownCapture()
	c.state = events.StateIdle
	c.bus.PublishStatus(events.Status{Kind: events.StatusInfo, Message: "monitor stopped", State: c.state})
	return nil
}

// Start begins recording to outputBasePath, producing
// "<base>-system.wav", "<base>-mic.wav", "<base>-mix.wav",
// "<base>.txt", and (if mp3BitrateKbps > 0) "<base>.mp3". If any of
// those paths already exist, a " (N)" suffix is appended to the base
// until a free set is found (spec.md §6).
func (c *Controller) Start(loopbackID, micID, outputBasePath string, mp3BitrateKbps int) error {
	if c.disposed.Load() {
		return ErrDisposed
	}
	if mp3BitrateKbps != 0 && (mp3BitrateKbps < minMP3Kbps || mp3BitrateKbps > maxMP3Kbps) {
		return fmt.Errorf("session: mp3 bitrate %d out of range [%d,%d]", mp3BitrateKbps, minMP3Kbps, maxMP3Kbps)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == events.StateRecording {
		return fmt.Errorf("session: already recording")
	}

	base := uniqueBase(outputBasePath)
	out := Outputs{
		System:     base + "-system.wav",
		Mic:        base + "-mic.wav",
		Mix:        base + "-mix.wav",
		SessionLog: base + ".txt",
	}
	if mp3BitrateKbps != 0 {
		out.MP3 = base + ".mp3"
	}

	// Recording always supersedes a monitor-only pipeline: tear it down
	// and reopen wired to real output files (spec.md §5: recording
	// implies monitoring, so the replacement pipeline does both).
	c.teardownCapture()

	sysFile, err := wav.Create(out.System, c.cfg.SampleRate, c.cfg.Channels, 16)
	if err != nil {
		return fmt.Errorf("session: open system output: %w", err)
	}
	micFile, err := wav.Create(out.Mic, c.cfg.SampleRate, c.cfg.Channels, 16)
	if err != nil {
		sysFile.Close()
		return fmt.Errorf("session: open mic output: %w", err)
	}
	mixBitDepth := c.cfg.BitDepth
	if mixBitDepth != 16 && mixBitDepth != 32 {
		mixBitDepth = 16
	}
	mixFile, err := wav.Create(out.Mix, c.cfg.SampleRate, c.cfg.Channels, mixBitDepth)
	if err != nil {
		sysFile.Close()
		micFile.Close()
		return fmt.Errorf("session: open mix output: %w", err)
	}

	slogger, err := sessionlog.Open(out.SessionLog, c.cfg.SessionLogMaxSizeMB)
	if err != nil {
		sysFile.Close()
		micFile.Close()
		mixFile.Close()
		return fmt.Errorf("session: open session log: %w", err)
	}

	if err := c.open(loopbackID, micID, sysFile, micFile, mixFile, slogger); err != nil {
		sysFile.Close()
		micFile.Close()
		mixFile.Close()
		slogger.Close()
		return err
	}

	c.sysFile, c.micFile, c.mixFile, c.slog = sysFile, micFile, mixFile, slogger
	c.current = out
	c.state = events.StateRecording
	c.bus.PublishStatus(events.Status{Kind: events.StatusInfo, Message: "recording started", State: c.state})
	slogLine(c.slog, "session", "recording started: "+base)
	return nil
}

// Stop ends the recording: capture stops, the disk writer drains (with
// a 30s watchdog), output files are closed, and — if an MP3 bitrate was
// requested and the mix file is non-empty — MP3 encoding runs. Cancelling
// ctx lets a caller abandon the drain wait or the encode early.
func (c *Controller) Stop(ctx context.Context) (Outputs, error) {
	if c.disposed.Load() {
		return Outputs{}, ErrDisposed
	}
	c.mu.Lock()
	if c.state != events.StateRecording {
		c.mu.Unlock()
		return Outputs{}, fmt.Errorf("session: not recording")
	}
	c.mu.Unlock()
	return c.stopLocked(ctx)
}

// stopLocked runs the actual stop sequence: caller has already verified
// the state is Recording (or is the fault watcher reacting to a fault
// mid-recording, which implies the same). The final Stopped status
// reflects writer.Faulted() rather than unconditionally reporting
// success (spec.md §4.3/§4.7).
func (c *Controller) stopLocked(ctx context.Context) (Outputs, error) {
	c.mu.Lock()
	if c.state != events.StateRecording {
		c.mu.Unlock()
		return Outputs{}, fmt.Errorf("session: not recording")
	}
	c.state = events.StateStopping
	out := c.current
	writer := c.writer
	sysFile, micFile, mixFile, slogger := c.sysFile, c.micFile, c.mixFile, c.slog
	loopback, mic := c.loopback, c.mic
	c.loopback, c.mic = nil, nil
	if c.faultSubActive {
		c.bus.Unsubscribe(c.faultSub)
		c.faultSubActive = false
	}
	c.mu.Unlock()

	// Stop the device handlers outside the lock since Stop() can block
	// briefly on device teardown; open() always rebuilds the ring/pool
	// from scratch on the next monitor()/Start(), so nothing here needs
	// to be preserved.
	if loopback != nil {
		loopback.Stop()
	}
	if mic != nil {
		mic.Stop()
	}

	drainCtx, cancel := context.WithTimeout(ctx, writerDrainWatchdog)
	defer cancel()
	if err := drainWithin(drainCtx, writer); err != nil {
		log.Warn("writer drain watchdog elapsed", "error", err)
	}
	faulted := writer.Faulted()

	sysFile.Close()
	micFile.Close()
	mixDataLen := mixFile.DataBytes()
	mixFile.Close()

	if faulted {
		slogLine(slogger, "session", "recording stopped: disk writer faulted")
	} else {
		slogLine(slogger, "session", "recording stopped")
	}

	if !faulted && out.MP3 != "" && mixDataLen > 0 {
		c.bus.PublishStatus(events.Status{Kind: events.StatusEncoding, Message: "encoding mp3"})
		if err := encode.ToMP3(ctx, out.Mix, out.MP3, c.cfg.SampleRate, c.cfg.Channels, mixBitDepthOf(c.cfg), c.bus); err != nil {
			log.Warn("mp3 encode failed", "error", err)
			slogLine(slogger, "session", "mp3 encode failed: "+err.Error())
		}
	} else {
		out.MP3 = ""
	}

	slogger.Close()

	if c.archiver != nil && !faulted {
		go c.archiveSession(out)
	}

	c.mu.Lock()
	c.sysFile, c.micFile, c.mixFile, c.slog = nil, nil, nil, nil
	c.writer = nil
	c.state = events.StateIdle
	c.mu.Unlock()

	if faulted {
		c.bus.PublishStatus(events.Status{Kind: events.StatusError, Message: "recording stopped: disk writer faulted", OutputPaths: out.paths(), State: events.StateIdle})
		return out, fmt.Errorf("session: stopped due to disk writer fault")
	}
	c.bus.PublishStatus(events.Status{Kind: events.StatusStopped, Message: "stopped", OutputPaths: out.paths(), State: events.StateIdle})
	return out, nil
}

// watchForFault subscribes to the bus and, if the disk writer reports a
// fatal write failure while a recording is active, forces the session
// out of Recording the same way an explicit Stop() would (spec.md §4.3:
// a writer fault must end the recording and emit an Error status, not
// just keep accepting calls until someone notices). Runs for the
// lifetime of one open() pipeline; torn down by teardownCaptureHandlersOnly.
func (c *Controller) watchForFault(ch <-chan events.Event) {
	var once sync.Once
	for ev := range ch {
		if ev.Status == nil || ev.Status.Kind != events.StatusError {
			continue
		}
		once.Do(func() {
			c.mu.Lock()
			recording := c.state == events.StateRecording
			c.mu.Unlock()
			if !recording {
				return
			}
			if _, err := c.stopLocked(context.Background()); err != nil {
				log.Error("auto-stop on writer fault failed", "error", err)
			}
		})
	}
}

func (c *Controller) archiveSession(out Outputs) {
	sessionID := strings.TrimSuffix(filepath.Base(out.System), "-system.wav")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := c.archiver.Archive(ctx, sessionID, out.paths()); err != nil {
		log.Warn("session archive failed", "session", sessionID, "error", err)
	}
}

// Dispose releases every resource the Controller holds. Idempotent and
// bounded to disposeWatchdog; after it returns, every other method
// fails fast with ErrDisposed.
func (c *Controller) Dispose() error {
	c.disposeOnce.Do(func() {
		c.disposed.Store(true)

		done := make(chan struct{})
		go func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.teardownCapture()
			if c.writer != nil {
				_ = c.writer.Drain()
			}
			if c.sysFile != nil {
				c.sysFile.Close()
			}
			if c.micFile != nil {
				c.micFile.Close()
			}
			if c.mixFile != nil {
				c.mixFile.Close()
			}
			if c.slog != nil {
				c.slog.Close()
			}
			if c.malgoCtx != nil {
				c.malgoCtx.Free()
				c.malgoCtx = nil
			}
			c.state = events.StateIdle
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(disposeWatchdog):
			log.Warn("dispose watchdog elapsed, proceeding")
		}
	})
	return nil
}

// open builds the ring/pool/writer/handlers and starts capture. Caller
// holds c.mu.
func (c *Controller) open(loopbackID, micID string, sysW, micW, mixW io.Writer, slogger *sessionlog.Logger) error {
	if c.malgoCtx == nil {
		ctx, err := capture.OpenContext()
		if err != nil {
			return err
		}
		c.malgoCtx = ctx
	}

	c.ringBuf = ring.New()
	c.bufs = bufpool.New()
	c.liveness = capture.NewLiveness()
	c.writer = diskwriter.New(sysW, micW, mixW, c.bufs, clamp(c.cfg.WriterQueueCapacity, 2000, 10000), c.bus)

	format := capture.Format{SampleRate: c.cfg.SampleRate, Channels: c.cfg.Channels}
	mixBitDepth := mixBitDepthOf(c.cfg)

	loopback, err := capture.NewLoopbackHandler(c.malgoCtx, loopbackID, format, mixBitDepth, c.loopGain, c.liveness, c.ringBuf, c.writer, c.bufs, c.bus, slogger)
	if err != nil {
		return err
	}
	mic, err := capture.NewMicHandler(c.malgoCtx, micID, format, mixBitDepth, c.micGain, c.liveness, c.ringBuf, c.writer, c.bufs, c.bus, slogger)
	if err != nil {
		loopback.Stop()
		return err
	}

	if err := loopback.Start(); err != nil {
		loopback.Stop()
		mic.Stop()
		return err
	}
	if err := mic.Start(); err != nil {
		loopback.Stop()
		mic.Stop()
		return err
	}

	c.loopback = loopback
	c.mic = mic

	ch, id := c.bus.Subscribe()
	c.faultSub, c.faultSubActive = id, true
	go c.watchForFault(ch)

	return nil
}

// teardownCapture stops the device handlers and drops the pipeline
// state. Caller holds c.mu.
func (c *Controller) teardownCapture() {
	c.teardownCaptureHandlersOnly()
	c.ringBuf = nil
	c.bufs = nil
	c.liveness = nil
}

func (c *Controller) teardownCaptureHandlersOnly() {
	if c.loopback != nil {
		c.loopback.Stop()
		c.loopback = nil
	}
	if c.mic != nil {
		c.mic.Stop()
		c.mic = nil
	}
	if c.faultSubActive {
		c.bus.Unsubscribe(c.faultSub)
		c.faultSubActive = false
	}
}

func mixBitDepthOf(cfg *config.Config) int {
	if cfg.BitDepth == 32 {
		return 32
	}
	return 16
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// uniqueBase appends " (N)" to base until no output file for that base
// already exists (spec.md §6).
func uniqueBase(base string) string {
	candidate := base
	for n := 1; ; n++ {
		if !anyExists(candidate) {
			return candidate
		}
		candidate = fmt.Sprintf("%s (%d)", base, n)
	}
}

func anyExists(base string) bool {
	for _, suffix := range []string{"-system.wav", "-mic.wav", "-mix.wav", ".mp3", ".txt"} {
		if _, err := os.Stat(base + suffix); err == nil {
			return true
		}
	}
	return false
}

// drainWithin runs writer.Drain in a goroutine and returns early with an
// error if ctx is done first; the drain itself continues in the
// background (the writer's own queue is bounded, so this cannot leak
// unboundedly).
func drainWithin(ctx context.Context, w *diskwriter.Writer) error {
	done := make(chan error, 1)
	go func() { done <- w.Drain() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func slogLine(l *sessionlog.Logger, scope, message string) {
	l.Log(sessionlog.Info, scope, message)
}
