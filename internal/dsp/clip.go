package dsp

import "math"

// SoftClip applies hyperbolic-tangent limiting to samples whose magnitude
// exceeds unity, per spec.md §4.2. Samples within [-1, 1] pass through
// unchanged.
func SoftClip(x float32) float32 {
	if x > 1 || x < -1 {
		y := float32(math.Tanh(float64(x)))
		if y > 1 {
			return 1
		}
		if y < -1 {
			return -1
		}
		return y
	}
	return x
}

// SoftClipBlock applies SoftClip in place to every sample in buf.
func SoftClipBlock(buf []float32) {
	for i, v := range buf {
		buf[i] = SoftClip(v)
	}
}
