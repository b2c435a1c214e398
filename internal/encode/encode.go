// Package encode implements the post-session MP3 encoder collaborator
// (spec.md §4 "Encoding"): it reads the finished Mix WAV file and
// produces an MP3 alongside it when mp3_bitrate_kbps is non-zero.
//
// Grounded on other_examples' alkime-memos FileRecorder.flushMP3File
// for the shine-mp3 API shape (NewEncoder(sampleRate, channels),
// Write(io.Writer, []int16)), and on the teacher's
// internal/filetransfer chunked read-with-progress loop for the
// streaming, cancellation-aware read pattern.
package encode

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	mp3 "github.com/braheezy/shine-mp3/pkg/mp3"

	"github.com/breeze-audio/recorder/internal/events"
	"github.com/breeze-audio/recorder/internal/logging"
)

var log = logging.L("encode")

const (
	chunkBytes   = 64 * 1024
	wavHeaderLen = 44
)

// ToMP3 reads PCM samples from mixWAVPath (skipping its 44-byte
// canonical WAV header) and streams them through a shine-mp3 encoder
// into mp3Path, in chunkBytes-sized reads. Progress is published after
// every chunk; ctx cancellation is checked between chunks so a stopped
// session can abandon an in-flight encode promptly.
//
// shine-mp3's public encoder takes no bitrate parameter — it is a
// fixed-quality block encoder — so mp3_bitrate_kbps only gates whether
// encoding runs at all, not the encoder's internal rate choice.
func ToMP3(ctx context.Context, mixWAVPath, mp3Path string, sampleRate, channels, bitDepth int, bus *events.Bus) error {
	in, err := os.Open(mixWAVPath)
	if err != nil {
		return fmt.Errorf("encode: open %s: %w", mixWAVPath, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("encode: stat %s: %w", mixWAVPath, err)
	}
	total := info.Size() - wavHeaderLen
	if total < 0 {
		total = 0
	}
	if _, err := in.Seek(wavHeaderLen, io.SeekStart); err != nil {
		return fmt.Errorf("encode: seek past header: %w", err)
	}

	out, err := os.Create(mp3Path)
	if err != nil {
		return fmt.Errorf("encode: create %s: %w", mp3Path, err)
	}
	defer out.Close()

	encoder := mp3.NewEncoder(sampleRate, channels)

	buf := make([]byte, chunkBytes)
	var done int64
	for {
		select {
		case <-ctx.Done():
			bus.PublishEncoding(events.NewEncodingProgress(done, total, false, ctx.Err().Error()))
			return ctx.Err()
		default:
		}

		n, readErr := in.Read(buf)
		if n > 0 {
			samples, convErr := pcmToInt16(buf[:n], bitDepth)
			if convErr != nil {
				return fmt.Errorf("encode: %w", convErr)
			}
			if err := encoder.Write(out, samples); err != nil {
				return fmt.Errorf("encode: mp3 write: %w", err)
			}
			done += int64(n)
			bus.PublishEncoding(events.NewEncodingProgress(done, total, false, ""))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("encode: read mix file: %w", readErr)
		}
	}

	bus.PublishEncoding(events.NewEncodingProgress(done, total, true, ""))
	log.Info("mp3 encode complete", "path", mp3Path, "bytes", done)
	return nil
}

// pcmToInt16 converts a chunk of little-endian PCM bytes at bitDepth (16
// or 32) into int16 samples, since shine-mp3's encoder only accepts
// 16-bit input regardless of the session's configured output depth.
func pcmToInt16(b []byte, bitDepth int) ([]int16, error) {
	switch bitDepth {
	case 16:
		if len(b)%2 != 0 {
			return nil, fmt.Errorf("misaligned 16-bit PCM chunk (%d bytes)", len(b))
		}
		out := make([]int16, len(b)/2)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
		}
		return out, nil
	case 32:
		if len(b)%4 != 0 {
			return nil, fmt.Errorf("misaligned 32-bit PCM chunk (%d bytes)", len(b))
		}
		out := make([]int16, len(b)/4)
		for i := range out {
			s32 := int32(binary.LittleEndian.Uint32(b[i*4:]))
			out[i] = int16(s32 >> 16)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
}
