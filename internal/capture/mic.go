package capture

import (
	"fmt"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/breeze-audio/recorder/internal/bufpool"
	"github.com/breeze-audio/recorder/internal/diskwriter"
	"github.com/breeze-audio/recorder/internal/dsp"
	"github.com/breeze-audio/recorder/internal/events"
	"github.com/breeze-audio/recorder/internal/ring"
	"github.com/breeze-audio/recorder/internal/sessionlog"
)

// MicHandler captures microphone audio, resamples it to the session's
// target format, applies gain, and pushes the result into the shared
// ring buffer for the Loopback Handler to consume. It also watches the
// shared Liveness marker the Loopback Handler touches on every device
// callback: if the loopback device has gone more than silenceThreshold
// without ticking (spec.md §4.6 step 4 — a stalled/dropped-out device,
// not merely quiet audio), the Mic Handler takes over producing the
// System and Mix blocks itself so the three output files stay aligned.
type MicHandler struct {
	device *malgo.Device
	format Format
	ring   *ring.Buffer
	writer *diskwriter.Writer
	bufs   *bufpool.Pool
	bus    *events.Bus
	slog   *sessionlog.Logger

	gain      *Gain
	liveness  *Liveness
	dither    *dsp.DitherRNG // Mic target
	mixDither *dsp.DitherRNG // Mix target, fallback path only

	mixBitDepth int // 16 or 32, fallback Mix writes only

	deviceRate int
	rawBuf     []float32 // scratch for the raw bytes-to-float32 conversion
	scratch    []float32 // resample destination, reused every callback
	fallback   []float32 // scratch for the mic-only fallback mix, fallback path only
	meter      dsp.Meter
	lastEmit   time.Time
}

// NewMicHandler opens the mic capture device and prepares it to start.
func NewMicHandler(ctx *malgo.AllocatedContext, deviceID string, format Format, mixBitDepth int, gain *Gain, liveness *Liveness, rb *ring.Buffer, writer *diskwriter.Writer, bufs *bufpool.Pool, bus *events.Bus, slogger *sessionlog.Logger) (*MicHandler, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.Capture.DeviceID = resolveDeviceID(ctx, malgo.Capture, deviceID)
	deviceConfig.PeriodSizeInMilliseconds = 20

	h := &MicHandler{
		format:      format,
		mixBitDepth: mixBitDepth,
		ring:        rb,
		writer:      writer,
		bufs:        bufs,
		bus:         bus,
		slog:        slogger,
		gain:        gain,
		liveness:    liveness,
		dither:      dsp.NewDitherRNG(),
		mixDither:   dsp.NewDitherRNG(),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			h.onData(input)
		},
	}

	device, err := openDeviceWithRetry(ctx, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("mic handler: %w", err)
	}
	h.device = device
	h.deviceRate = int(device.SampleRate())
	return h, nil
}

// Start begins capture.
func (h *MicHandler) Start() error {
	slogLine(h.slog, "mic", "capture starting")
	if err := h.device.Start(); err != nil {
		return fmt.Errorf("mic handler: start: %w", err)
	}
	return nil
}

// Stop halts capture and releases the device. Idempotent.
func (h *MicHandler) Stop() {
	if h.device == nil {
		return
	}
	h.device.Stop()
	h.device.Uninit()
	h.device = nil
	slogLine(h.slog, "mic", "capture stopped")
}

func (h *MicHandler) onData(input []byte) {
	h.rawBuf = bytesToFloat32(h.rawBuf, input)
	raw := h.rawBuf

	srcFmt := dsp.Format{SampleRate: h.deviceRate, Channels: h.format.Channels}
	dstFmt := dsp.Format{SampleRate: h.format.SampleRate, Channels: h.format.Channels}
	out := h.resample(raw, srcFmt, dstFmt)

	g := h.gain.Load()
	for i, v := range out {
		out[i] = v * g
	}

	h.meter.Accumulate(out)
	if level, ok := h.meter.Snapshot(); ok && time.Since(h.lastEmit) >= levelEmitInterval {
		h.bus.PublishLevel(events.LevelChanged{Source: events.SourceMic, RMS: level.RMS, Peak: level.Peak, Clipped: level.Clipped})
		h.meter.Reset()
		h.lastEmit = time.Now()
	}

	if h.liveness.Since() > silenceThreshold {
		// Loopback device has stopped ticking: drop any stale backlog
		// (it would otherwise replay out of alignment once loopback
		// resumes) and take over producing System/Mix ourselves.
		h.ring.Clear()
		h.writeMicOnlyFallback(out)
	} else {
		h.ring.Push(out)
	}

	h.enqueueMic(out)
}

func (h *MicHandler) resample(raw []float32, srcFmt, dstFmt dsp.Format) []float32 {
	if srcFmt.SampleRate == dstFmt.SampleRate {
		return raw
	}
	n := dsp.OutFrames(len(raw)/srcFmt.Channels, srcFmt, dstFmt) * dstFmt.Channels
	if cap(h.scratch) < n {
		h.scratch = make([]float32, n)
	}
	h.scratch = h.scratch[:n]
	written := dsp.Resample(h.scratch, raw, srcFmt, dstFmt)
	return h.scratch[:written]
}

// enqueueMic writes samples to the Mic target, always 16-bit dithered
// (spec.md §4.6 step 6, §6 external interface table).
func (h *MicHandler) enqueueMic(samples []float32) {
	n := len(samples) * 2
	buf := h.bufs.Rent(n)
	dsp.QuantizeDither16(buf, samples, h.dither)
	h.writer.Enqueue(diskwriter.Job{Target: diskwriter.Mic, Bytes: buf, Length: n})
}

// writeMicOnlyFallback writes a zero-valued System block and a
// mic-only Mix block of equal length so the three output files stay
// aligned while the loopback device is not ticking (spec.md §4.6
// step 7).
func (h *MicHandler) writeMicOnlyFallback(mic []float32) {
	zeroBuf := h.bufs.Rent(len(mic) * 2)
	for i := range zeroBuf {
		zeroBuf[i] = 0
	}
	h.writer.Enqueue(diskwriter.Job{Target: diskwriter.System, Bytes: zeroBuf, Length: len(mic) * 2})

	bytesPerSample := h.mixBitDepth / 8
	mixBuf := h.bufs.Rent(len(mic) * bytesPerSample)
	if cap(h.fallback) < len(mic) {
		h.fallback = make([]float32, len(mic))
	}
	mixed := h.fallback[:len(mic)]
	for i, v := range mic {
		mixed[i] = dsp.SoftClip(mixWeight * v)
	}
	n := len(mixed) * bytesPerSample
	if h.mixBitDepth == 32 {
		dsp.Quantize32(mixBuf, mixed)
	} else {
		dsp.QuantizeDither16(mixBuf, mixed, h.mixDither)
	}
	h.writer.Enqueue(diskwriter.Job{Target: diskwriter.Mix, Bytes: mixBuf, Length: n})
}
