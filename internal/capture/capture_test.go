package capture

import (
	"testing"

	"github.com/breeze-audio/recorder/internal/bufpool"
	"github.com/breeze-audio/recorder/internal/diskwriter"
	"github.com/breeze-audio/recorder/internal/dsp"
	"github.com/breeze-audio/recorder/internal/events"
	"github.com/breeze-audio/recorder/internal/ring"
)

func newTestLoopbackHandler(t *testing.T) (*LoopbackHandler, *diskwriter.Writer, *discardWriter, *discardWriter, *discardWriter) {
	t.Helper()
	sys, mic, mix := &discardWriter{}, &discardWriter{}, &discardWriter{}
	bufs := bufpool.New()
	w := diskwriter.New(sys, mic, mix, bufs, 2000, nil)
	h := &LoopbackHandler{
		format:      Format{SampleRate: 48000, Channels: 2},
		mixBitDepth: 16,
		ring:        ring.New(),
		writer:      w,
		bufs:        bufs,
		bus:         events.NewBus(),
		gain:        NewGain(1.0),
		liveness:    NewLiveness(),
		sysDither:   dsp.NewDitherRNG(),
		mixDither:   dsp.NewDitherRNG(),
	}
	return h, w, sys, mic, mix
}

type discardWriter struct {
	n int
	b []byte
}

func (d *discardWriter) Write(p []byte) (int, error) {
	d.n += len(p)
	d.b = append(d.b, p...)
	return len(p), nil
}

// firstSample16 decodes the first little-endian 16-bit sample written.
func (d *discardWriter) firstSample16() int16 {
	return int16(uint16(d.b[0]) | uint16(d.b[1])<<8)
}

func TestGainStoreLoadRoundTrip(t *testing.T) {
	g := NewGain(0.5)
	if got := g.Load(); got != 0.5 {
		t.Fatalf("expected 0.5, got %v", got)
	}
	g.Store(1.25)
	if got := g.Load(); got != 1.25 {
		t.Fatalf("expected 1.25, got %v", got)
	}
}

func TestLivenessSinceReflectsTouch(t *testing.T) {
	l := NewLiveness()
	if l.Since() > silenceThreshold {
		t.Fatalf("freshly touched liveness should be well under threshold, got %v", l.Since())
	}
}

func TestMixAndWriteAveragesSystemAndMic(t *testing.T) {
	h, w, _, _, mix := newTestLoopbackHandler(t)

	sys := []float32{0.4, 0.4}
	h.ring.Push([]float32{0.2, 0.2})

	h.mixAndWrite(sys)
	if err := w.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if mix.n == 0 {
		t.Fatal("expected bytes written to mix target")
	}
	// 0.5*(0.4+0.2) = 0.3 -> 0.3*32767 ≈ 9830, within ±1 LSB of TPDF dither.
	if got := mix.firstSample16(); got < 9829 || got > 9831 {
		t.Fatalf("expected averaged mix sample near 9830, got %d", got)
	}
}

func TestMixAndWriteZeroFillsOnRingUnderrun(t *testing.T) {
	h, w, _, _, mix := newTestLoopbackHandler(t)

	sys := make([]float32, 8) // no mic samples pushed at all
	h.mixAndWrite(sys)
	if err := w.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if mix.n != len(sys)*2 {
		t.Fatalf("expected %d bytes (16-bit PCM), got %d", len(sys)*2, mix.n)
	}
	if h.underrunCnt == 0 {
		t.Fatal("expected underrun to be recorded")
	}
}

func TestMixAndWriteUsesThirtyTwoBitWhenConfigured(t *testing.T) {
	h, w, _, _, mix := newTestLoopbackHandler(t)
	h.mixBitDepth = 32

	sys := []float32{0.1, 0.1, 0.1, 0.1}
	h.mixAndWrite(sys)
	if err := w.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if mix.n != len(sys)*4 {
		t.Fatalf("expected %d bytes (32-bit PCM), got %d", len(sys)*4, mix.n)
	}
}

func TestSoftClipAppliedToMixedSamples(t *testing.T) {
	h, w, _, _, mix := newTestLoopbackHandler(t)
	sys := []float32{10, 10} // far beyond unity, must be clipped before quantization
	h.mixAndWrite(sys)
	if err := w.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if mix.n == 0 {
		t.Fatal("expected mix bytes written")
	}
	// soft_clip(0.5*10) = tanh(5) ≈ 0.99991 -> ≈32764 after quantizing; a
	// plain clamp to 1.0 would land on 32766..32767 instead.
	if got := mix.firstSample16(); got < 32763 || got > 32765 {
		t.Fatalf("expected tanh-limited mix sample near 32764, got %d", got)
	}
}

func TestWriteSystemIsAlwaysSixteenBit(t *testing.T) {
	h, w, sys, _, _ := newTestLoopbackHandler(t)
	h.mixBitDepth = 32 // must not affect the System target

	samples := []float32{0.1, 0.2, 0.3, 0.4}
	h.writeSystem(samples)
	if err := w.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if sys.n != len(samples)*2 {
		t.Fatalf("expected %d bytes (16-bit PCM), got %d", len(samples)*2, sys.n)
	}
}
