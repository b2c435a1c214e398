package dsp

import (
	"math"
	"testing"
)

func TestResampleUnityRatioIsIdentity(t *testing.T) {
	src := []float32{0.1, 0.2, 0.3, 0.4}
	fmtBoth := Format{SampleRate: 48000, Channels: 2}
	dst := make([]float32, len(src))
	n := Resample(dst, src, fmtBoth, fmtBoth)
	if n != len(src) {
		t.Fatalf("expected %d samples, got %d", len(src), n)
	}
	for i := range src {
		if math.Abs(float64(dst[i]-src[i])) > 1e-6 {
			t.Fatalf("sample %d: want %v got %v", i, src[i], dst[i])
		}
	}
}

func TestRemapMonoToStereoToMonoIsIdentity(t *testing.T) {
	mono := []float32{0.1, -0.2, 0.3, -0.4}
	monoFmt := Format{SampleRate: 48000, Channels: 1}
	stereoFmt := Format{SampleRate: 48000, Channels: 2}

	stereo := make([]float32, len(mono)*2)
	Resample(stereo, mono, monoFmt, stereoFmt)

	back := make([]float32, len(mono))
	Resample(back, stereo, stereoFmt, monoFmt)

	for i := range mono {
		if math.Abs(float64(back[i]-mono[i])) > 1e-6 {
			t.Fatalf("sample %d: want %v got %v", i, mono[i], back[i])
		}
	}
}

func TestSoftClipBounds(t *testing.T) {
	cases := []float32{0, 0.5, -0.5, 1.0, -1.0, 1.5, -1.5, 10, -10}
	for _, c := range cases {
		out := SoftClip(c)
		if out > 1.0 || out < -1.0 {
			t.Fatalf("softclip(%v) = %v out of bounds", c, out)
		}
	}
}

func TestSoftClipPassthroughWithinUnity(t *testing.T) {
	if got := SoftClip(0.5); got != 0.5 {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func TestQuantize16FullScaleNoWraparound(t *testing.T) {
	rng := NewDitherRNG()
	dst := make([]byte, 2)
	QuantizeDither16(dst, []float32{1.0}, rng)
	got := int16(uint16(dst[0]) | uint16(dst[1])<<8)
	if got < 32700 { // allow dither to shave at most a few LSBs
		t.Fatalf("expected near +32767, got %d", got)
	}
	if got < 0 {
		t.Fatalf("wrapped around to negative: %d", got)
	}
}

func TestQuantize32FullScaleNoWraparound(t *testing.T) {
	dst := make([]byte, 4)
	Quantize32(dst, []float32{1.0})
	got := int32(uint32(dst[0]) | uint32(dst[1])<<8 | uint32(dst[2])<<16 | uint32(dst[3])<<24)
	if got <= 0 {
		t.Fatalf("expected large positive value, got %d", got)
	}
	if got != math.MaxInt32 {
		t.Fatalf("expected exactly MaxInt32 for +1.0, got %d", got)
	}
}

func TestDitherQuantizeDCMeanNearTarget(t *testing.T) {
	rng := NewDitherRNG()
	const n = 20000
	src := make([]float32, n)
	for i := range src {
		src[i] = 0.5
	}
	dst := make([]byte, n*2)
	QuantizeDither16(dst, src, rng)

	var sum int64
	for i := 0; i < n; i++ {
		s := int16(uint16(dst[i*2]) | uint16(dst[i*2+1])<<8)
		sum += int64(s)
	}
	mean := float64(sum) / float64(n)
	target := 0.5 * 32767.0
	if math.Abs(mean-target) > 1.0 {
		t.Fatalf("mean %v too far from target %v", mean, target)
	}
}

func TestMeterAccumulateAndReset(t *testing.T) {
	var m Meter
	m.Accumulate([]float32{0.5, -0.5, 1.5})
	level, ok := m.Snapshot()
	if !ok {
		t.Fatal("expected a snapshot")
	}
	if !level.Clipped {
		t.Fatal("expected clip flag set for 1.5")
	}
	if level.Peak != 1.5 {
		t.Fatalf("expected peak 1.5, got %v", level.Peak)
	}
	m.Reset()
	if _, ok := m.Snapshot(); ok {
		t.Fatal("expected no snapshot after reset")
	}
}
