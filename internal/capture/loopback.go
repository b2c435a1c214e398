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

// LoopbackHandler captures system (render) audio via malgo's loopback
// device type and drives the mixer: every callback it touches the
// shared Liveness marker, writes the System WAV block, pops the
// matching number of samples the Mic Handler has pushed into the
// shared ring buffer, mixes the two, and writes the Mix WAV block. It
// is the session's timing source — the mic stream is read relative to
// the loopback callback's pace, not the other way around.
//
// It runs this same sequence unconditionally, even when the system is
// playing silence: the capture source is configured to fill gaps with
// zeros, so a quiet system still produces normal (zero-valued) blocks
// and needs no special casing here. Loopback *device dropout* — the
// callback not firing at all — is instead detected and handled by the
// Mic Handler via the shared Liveness marker (spec.md §4.6).
type LoopbackHandler struct {
	device *malgo.Device
	format Format
	ring   *ring.Buffer
	writer *diskwriter.Writer
	bufs   *bufpool.Pool
	bus    *events.Bus
	slog   *sessionlog.Logger

	gain      *Gain
	liveness  *Liveness
	sysDither *dsp.DitherRNG
	mixDither *dsp.DitherRNG

	mixBitDepth int // 16 or 32

	deviceRate int
	rawBuf     []float32 // scratch for the raw bytes-to-float32 conversion
	scratch    []float32 // resample destination for system samples
	micBuf     []float32 // scratch for samples popped from the ring
	mixBuf     []float32 // scratch for the mixed result

	meter    dsp.Meter
	lastEmit time.Time

	blockCount  uint64
	underrunCnt uint64
}

// NewLoopbackHandler opens the loopback capture device.
func NewLoopbackHandler(ctx *malgo.AllocatedContext, deviceID string, format Format, mixBitDepth int, gain *Gain, liveness *Liveness, rb *ring.Buffer, writer *diskwriter.Writer, bufs *bufpool.Pool, bus *events.Bus, slogger *sessionlog.Logger) (*LoopbackHandler, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Loopback)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.Capture.DeviceID = resolveDeviceID(ctx, malgo.Playback, deviceID)
	deviceConfig.PeriodSizeInMilliseconds = 20

	h := &LoopbackHandler{
		format:      format,
		mixBitDepth: mixBitDepth,
		ring:        rb,
		writer:      writer,
		bufs:        bufs,
		bus:         bus,
		slog:        slogger,
		gain:        gain,
		liveness:    liveness,
		sysDither:   dsp.NewDitherRNG(),
		mixDither:   dsp.NewDitherRNG(),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			h.onData(input)
		},
	}

	device, err := openDeviceWithRetry(ctx, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("loopback handler: %w", err)
	}
	h.device = device
	h.deviceRate = int(device.SampleRate())
	return h, nil
}

// Start begins capture.
func (h *LoopbackHandler) Start() error {
	slogLine(h.slog, "loopback", "capture starting")
	if err := h.device.Start(); err != nil {
		return fmt.Errorf("loopback handler: start: %w", err)
	}
	return nil
}

// Stop halts capture and releases the device. Idempotent.
func (h *LoopbackHandler) Stop() {
	if h.device == nil {
		return
	}
	h.device.Stop()
	h.device.Uninit()
	h.device = nil
	slogLine(h.slog, "loopback", "capture stopped")
}

func (h *LoopbackHandler) onData(input []byte) {
	h.liveness.Touch()

	h.rawBuf = bytesToFloat32(h.rawBuf, input)
	raw := h.rawBuf

	srcFmt := dsp.Format{SampleRate: h.deviceRate, Channels: h.format.Channels}
	dstFmt := dsp.Format{SampleRate: h.format.SampleRate, Channels: h.format.Channels}
	sys := h.resampleSystem(raw, srcFmt, dstFmt)

	g := h.gain.Load()
	for i, v := range sys {
		sys[i] = v * g
	}

	h.meter.Accumulate(sys)
	if level, ok := h.meter.Snapshot(); ok && time.Since(h.lastEmit) >= levelEmitInterval {
		h.bus.PublishLevel(events.LevelChanged{Source: events.SourceSystem, RMS: level.RMS, Peak: level.Peak, Clipped: level.Clipped})
		h.meter.Reset()
		h.lastEmit = time.Now()
	}

	h.writeSystem(sys)
	h.mixAndWrite(sys)

	h.blockCount++
	if h.blockCount%diagnosticBlockInterval == 0 {
		log.Debug("loopback diagnostic", "backlog", h.ring.Backlog(), "underruns", h.underrunCnt)
	}
}

func (h *LoopbackHandler) resampleSystem(raw []float32, srcFmt, dstFmt dsp.Format) []float32 {
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

// writeSystem writes the System target, always 16-bit dithered
// (spec.md §4.5 step 4, §6 external interface table).
func (h *LoopbackHandler) writeSystem(sys []float32) {
	n := len(sys) * 2
	buf := h.bufs.Rent(n)
	dsp.QuantizeDither16(buf, sys, h.sysDither)
	h.writer.Enqueue(diskwriter.Job{Target: diskwriter.System, Bytes: buf, Length: n})
}

func (h *LoopbackHandler) mixAndWrite(sys []float32) {
	if cap(h.micBuf) < len(sys) {
		h.micBuf = make([]float32, len(sys))
	}
	h.micBuf = h.micBuf[:len(sys)]
	got := h.ring.Pop(h.micBuf)
	if got < len(h.micBuf) {
		h.underrunCnt++
	}
	for i := got; i < len(h.micBuf); i++ {
		h.micBuf[i] = 0 // underrun: zero-fill (spec.md §4.5 step 5)
	}

	if cap(h.mixBuf) < len(sys) {
		h.mixBuf = make([]float32, len(sys))
	}
	h.mixBuf = h.mixBuf[:len(sys)]
	for i := range h.mixBuf {
		h.mixBuf[i] = dsp.SoftClip(mixWeight * (sys[i] + h.micBuf[i]))
	}

	bytesPerSample := h.mixBitDepth / 8
	n := len(h.mixBuf) * bytesPerSample
	buf := h.bufs.Rent(n)
	if h.mixBitDepth == 32 {
		dsp.Quantize32(buf, h.mixBuf)
	} else {
		dsp.QuantizeDither16(buf, h.mixBuf, h.mixDither)
	}
	h.writer.Enqueue(diskwriter.Job{Target: diskwriter.Mix, Bytes: buf, Length: n})
}
