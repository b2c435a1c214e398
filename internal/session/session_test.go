package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/breeze-audio/recorder/internal/bufpool"
	"github.com/breeze-audio/recorder/internal/config"
	"github.com/breeze-audio/recorder/internal/diskwriter"
	"github.com/breeze-audio/recorder/internal/events"
	"github.com/breeze-audio/recorder/internal/wav"
)

type alwaysFailWriter struct{}

func (alwaysFailWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func testController(t *testing.T) *Controller {
	t.Helper()
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	return New(cfg, events.NewBus())
}

func TestNewControllerStartsIdle(t *testing.T) {
	c := testController(t)
	if c.State() != events.StateIdle {
		t.Fatalf("expected idle, got %v", c.State())
	}
	if c.IsRecording() {
		t.Fatal("expected not recording")
	}
}

func TestStartRejectsOutOfRangeBitrate(t *testing.T) {
	c := testController(t)
	base := filepath.Join(t.TempDir(), "session")

	if err := c.Start("", "", base, 32); err == nil {
		t.Fatal("expected error for bitrate below 64")
	}
	if err := c.Start("", "", base, 400); err == nil {
		t.Fatal("expected error for bitrate above 320")
	}
	if c.State() != events.StateIdle {
		t.Fatalf("expected idle after rejected start, got %v", c.State())
	}
}

func TestStopWithoutRecordingFails(t *testing.T) {
	c := testController(t)
	if _, err := c.Stop(context.Background()); err == nil {
		t.Fatal("expected error stopping a non-recording session")
	}
}

func TestDisposeIsIdempotentAndFailsFastAfter(t *testing.T) {
	c := testController(t)

	if err := c.Dispose(); err != nil {
		t.Fatalf("first dispose: %v", err)
	}
	if err := c.Dispose(); err != nil {
		t.Fatalf("second dispose should be a no-op: %v", err)
	}

	if err := c.Monitor("", ""); err != ErrDisposed {
		t.Fatalf("expected ErrDisposed from Monitor, got %v", err)
	}
	if err := c.StopMonitor(); err != ErrDisposed {
		t.Fatalf("expected ErrDisposed from StopMonitor, got %v", err)
	}
	if err := c.Start("", "", "x", 0); err != ErrDisposed {
		t.Fatalf("expected ErrDisposed from Start, got %v", err)
	}
	if _, err := c.Stop(context.Background()); err != ErrDisposed {
		t.Fatalf("expected ErrDisposed from Stop, got %v", err)
	}
}

func TestSetGainsDoNotPanicWithoutActiveSession(t *testing.T) {
	c := testController(t)
	c.SetMicGain(0.75)
	c.SetLoopbackGain(1.5)
	if got := c.micGain.Load(); got != 0.75 {
		t.Fatalf("expected mic gain 0.75, got %v", got)
	}
	if got := c.loopGain.Load(); got != 1.5 {
		t.Fatalf("expected loopback gain 1.5, got %v", got)
	}
}

func TestUniqueBaseSuffixesOnCollision(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "take")

	if got := uniqueBase(base); got != base {
		t.Fatalf("expected %q for a fresh base, got %q", base, got)
	}

	if err := os.WriteFile(base+"-system.wav", []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := uniqueBase(base); got != base+" (1)" {
		t.Fatalf("expected %q, got %q", base+" (1)", got)
	}

	if err := os.WriteFile(base+" (1)-mix.wav", []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := uniqueBase(base); got != base+" (2)" {
		t.Fatalf("expected %q, got %q", base+" (2)", got)
	}
}

func TestOutputsPathsIncludesMP3OnlyWhenSet(t *testing.T) {
	o := Outputs{System: "a", Mic: "b", Mix: "c", SessionLog: "d"}
	if len(o.paths()) != 4 {
		t.Fatalf("expected 4 paths without mp3, got %d", len(o.paths()))
	}
	o.MP3 = "e"
	if len(o.paths()) != 5 {
		t.Fatalf("expected 5 paths with mp3, got %d", len(o.paths()))
	}
}

func TestMixBitDepthOfFallsBackTo16(t *testing.T) {
	cfg := config.Default()
	cfg.BitDepth = 24 // not a supported depth
	if got := mixBitDepthOf(cfg); got != 16 {
		t.Fatalf("expected fallback to 16, got %d", got)
	}
	cfg.BitDepth = 32
	if got := mixBitDepthOf(cfg); got != 32 {
		t.Fatalf("expected 32, got %d", got)
	}
}

func TestStopLockedReportsFaultAndGoesIdle(t *testing.T) {
	c := testController(t)
	dir := t.TempDir()

	sysFile, err := wav.Create(filepath.Join(dir, "s.wav"), 48000, 2, 16)
	if err != nil {
		t.Fatalf("wav.Create system: %v", err)
	}
	micFile, err := wav.Create(filepath.Join(dir, "m.wav"), 48000, 2, 16)
	if err != nil {
		t.Fatalf("wav.Create mic: %v", err)
	}
	mixFile, err := wav.Create(filepath.Join(dir, "x.wav"), 48000, 2, 16)
	if err != nil {
		t.Fatalf("wav.Create mix: %v", err)
	}

	bufs := bufpool.New()
	writer := diskwriter.New(alwaysFailWriter{}, alwaysFailWriter{}, alwaysFailWriter{}, bufs, 2000, c.bus)
	writer.Enqueue(diskwriter.Job{Target: diskwriter.System, Bytes: bufs.Rent(4), Length: 4})
	if err := writer.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !writer.Faulted() {
		t.Fatal("expected writer to be faulted before stopLocked runs")
	}

	c.mu.Lock()
	c.state = events.StateRecording
	c.writer = writer
	c.sysFile, c.micFile, c.mixFile = sysFile, micFile, mixFile
	c.current = Outputs{
		System:     filepath.Join(dir, "s.wav"),
		Mic:        filepath.Join(dir, "m.wav"),
		Mix:        filepath.Join(dir, "x.wav"),
		SessionLog: filepath.Join(dir, "session.txt"),
	}
	c.mu.Unlock()

	if _, err := c.stopLocked(context.Background()); err == nil {
		t.Fatal("expected stopLocked to report an error when the writer faulted")
	}
	if c.State() != events.StateIdle {
		t.Fatalf("expected idle after a faulted stop, got %v", c.State())
	}
}

func TestClampBounds(t *testing.T) {
	if got := clamp(1, 2000, 10000); got != 2000 {
		t.Fatalf("expected clamp to lower bound, got %d", got)
	}
	if got := clamp(50000, 2000, 10000); got != 10000 {
		t.Fatalf("expected clamp to upper bound, got %d", got)
	}
	if got := clamp(5000, 2000, 10000); got != 5000 {
		t.Fatalf("expected passthrough, got %d", got)
	}
}
