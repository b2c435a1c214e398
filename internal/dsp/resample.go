// Package dsp implements the fixed DSP kernels used on the capture path:
// linear resample + channel remap, soft-clip, TPDF dither-quantize to
// 16-bit, plain quantize to 32-bit, and level metering. All kernels are
// zero-allocation given caller-supplied scratch, per spec.md §4.2.
package dsp

// Format is a (sample_rate, channel_count) pair.
type Format struct {
	SampleRate int
	Channels   int
}

// Resample converts src (interleaved, format src format) into dst
// (interleaved, format dst format) using linear interpolation on the
// source-channel layout, then channel remap. dst must have room for
// OutFrames(len(src)/srcFmt.Channels, srcFmt, dstFmt) * dstFmt.Channels
// samples; it returns the number of interleaved samples written.
//
// This is deliberately simple: audiophile-grade resampling (polyphase /
// windowed-sinc) is a declared non-goal (spec.md §1) — speech/meeting
// fidelity only needs linear interpolation, and the mic ring buffer
// absorbs any residual clock drift rather than a PLL.
func Resample(dst []float32, src []float32, srcFmt, dstFmt Format) int {
	if srcFmt.Channels <= 0 || dstFmt.Channels <= 0 {
		return 0
	}
	srcFrames := len(src) / srcFmt.Channels
	if srcFrames == 0 {
		return 0
	}

	ratio := float64(srcFmt.SampleRate) / float64(dstFmt.SampleRate)
	if ratio <= 0 {
		ratio = 1
	}
	dstFrames := int(float64(srcFrames) / ratio)
	if srcFmt.SampleRate == dstFmt.SampleRate {
		dstFrames = srcFrames
	}

	lastFrame := srcFrames - 1
	written := 0
	for f := 0; f < dstFrames; f++ {
		srcPos := float64(f) * ratio
		i0 := int(srcPos)
		if i0 > lastFrame {
			i0 = lastFrame
		}
		i1 := i0 + 1
		if i1 > lastFrame {
			i1 = lastFrame
		}
		t := float32(srcPos - float64(i0))

		for ch := 0; ch < dstFmt.Channels; ch++ {
			v := remapChannel(src, srcFmt.Channels, i0, i1, t, ch, dstFmt.Channels)
			if written >= len(dst) {
				return written
			}
			dst[written] = v
			written++
		}
	}
	return written
}

// remapChannel produces the interpolated sample for output channel ch,
// applying the mono<->stereo remap rules from spec.md §4.2: mono->stereo
// duplicates, stereo->mono averages, matching layouts copy, and anything
// else clamps to the last available source channel.
func remapChannel(src []float32, srcCh, i0, i1 int, t float32, dstCh, dstChCount int) float32 {
	interp := func(ch int) float32 {
		x0 := src[i0*srcCh+ch]
		x1 := src[i1*srcCh+ch]
		return (1-t)*x0 + t*x1
	}

	switch {
	case srcCh == dstChCount:
		return interp(dstCh)
	case srcCh == 1 && dstChCount == 2:
		return interp(0)
	case srcCh == 2 && dstChCount == 1:
		return 0.5 * (interp(0) + interp(1))
	default:
		ch := dstCh
		if ch >= srcCh {
			ch = srcCh - 1
		}
		return interp(ch)
	}
}

// OutFrames returns how many destination frames Resample will produce for
// the given source frame count and format pair, so callers can size dst.
func OutFrames(srcFrames int, srcFmt, dstFmt Format) int {
	if srcFmt.SampleRate == dstFmt.SampleRate {
		return srcFrames
	}
	ratio := float64(srcFmt.SampleRate) / float64(dstFmt.SampleRate)
	if ratio <= 0 {
		return srcFrames
	}
	return int(float64(srcFrames) / ratio)
}
