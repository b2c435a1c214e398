package encode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/breeze-audio/recorder/internal/events"
	"github.com/breeze-audio/recorder/internal/wav"
)

func writeTestWAV(t *testing.T, path string, bitDepth int, frames int) {
	t.Helper()
	w, err := wav.Create(path, 48000, 1, bitDepth)
	if err != nil {
		t.Fatalf("wav.Create: %v", err)
	}
	bytesPerSample := bitDepth / 8
	buf := make([]byte, frames*bytesPerSample)
	if _, err := w.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestToMP3ProducesNonEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	wavPath := filepath.Join(dir, "mix.wav")
	mp3Path := filepath.Join(dir, "mix.mp3")
	writeTestWAV(t, wavPath, 16, 4096)

	bus := events.NewBus()
	ch, id := bus.Subscribe()
	defer bus.Unsubscribe(id)

	if err := ToMP3(context.Background(), wavPath, mp3Path, 48000, 1, 16, bus); err != nil {
		t.Fatalf("ToMP3: %v", err)
	}

	info, err := os.Stat(mp3Path)
	if err != nil {
		t.Fatalf("stat mp3: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("expected non-empty mp3 output")
	}

	sawDone := false
	for {
		select {
		case ev := <-ch:
			if ev.Encoding != nil && ev.Encoding.Done {
				sawDone = true
			}
		default:
			if !sawDone {
				t.Fatal("expected a final Done EncodingProgress event")
			}
			return
		}
	}
}

func TestToMP3HandlesEmptyMixFile(t *testing.T) {
	dir := t.TempDir()
	wavPath := filepath.Join(dir, "mix.wav")
	mp3Path := filepath.Join(dir, "mix.mp3")
	writeTestWAV(t, wavPath, 16, 0)

	bus := events.NewBus()
	if err := ToMP3(context.Background(), wavPath, mp3Path, 48000, 1, 16, bus); err != nil {
		t.Fatalf("ToMP3 on empty mix: %v", err)
	}
}

func TestToMP3RespectsCancellation(t *testing.T) {
	dir := t.TempDir()
	wavPath := filepath.Join(dir, "mix.wav")
	mp3Path := filepath.Join(dir, "mix.mp3")
	writeTestWAV(t, wavPath, 16, 10_000_000) // large enough to span many chunks

	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ToMP3(ctx, wavPath, mp3Path, 48000, 1, 16, bus)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestPCMToInt16RejectsUnsupportedDepth(t *testing.T) {
	if _, err := pcmToInt16([]byte{0, 0}, 8); err == nil {
		t.Fatal("expected error for unsupported bit depth")
	}
}

func TestPCMToInt16ConvertsThirtyTwoBit(t *testing.T) {
	// 0x7FFF0000 as a little-endian int32 should downconvert to 0x7FFF.
	b := []byte{0x00, 0x00, 0xFF, 0x7F}
	out, err := pcmToInt16(b, 32)
	if err != nil {
		t.Fatalf("pcmToInt16: %v", err)
	}
	if len(out) != 1 || out[0] != 0x7FFF {
		t.Fatalf("expected [0x7FFF], got %v", out)
	}
}
