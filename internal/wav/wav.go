// Package wav writes canonical PCM WAVE files incrementally: a header
// is written up front with a placeholder data size, bytes are appended
// as they arrive from the Disk Writer, and the header is patched with
// the final sizes on Close. No pack example writes WAV, so this is
// built directly on encoding/binary (justified stdlib use — RIFF/WAVE
// is a fixed, well-known 44-byte canonical header with no parsing or
// framing complex enough to warrant a dependency).
package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	headerSize  = 44
	fmtChunkLen = 16
	pcmFormat   = 1
)

// Writer is an append-only WAVE file writer. Not safe for concurrent
// Write calls; callers (the Disk Writer's single worker) must serialize
// access per target, which the single-writer-goroutine design already
// guarantees.
type Writer struct {
	f             *os.File
	sampleRate    int
	channels      int
	bitsPerSample int
	dataBytes     int64
}

// Create opens path and writes a placeholder 44-byte canonical header.
// bitsPerSample must be 16 or 32 (spec.md's two PCM output depths).
func Create(path string, sampleRate, channels, bitsPerSample int) (*Writer, error) {
	if bitsPerSample != 16 && bitsPerSample != 32 {
		return nil, fmt.Errorf("wav: unsupported bits per sample %d", bitsPerSample)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav: create %s: %w", path, err)
	}
	w := &Writer{f: f, sampleRate: sampleRate, channels: channels, bitsPerSample: bitsPerSample}
	// Write, not WriteAt: this must advance the file offset past the
	// header so the first PCM block in Write lands at byte 44, not 0.
	if _, err := f.Write(w.header(0)); err != nil {
		f.Close()
		return nil, fmt.Errorf("wav: write header: %w", err)
	}
	return w, nil
}

// Write appends raw PCM bytes to the data chunk. Implements io.Writer
// so a Writer can be handed directly to the Disk Writer as a target.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.dataBytes += int64(n)
	return n, err
}

var _ io.Writer = (*Writer)(nil)

// Close patches the RIFF and data chunk sizes with the final byte count
// and closes the underlying file. Uses WriteAt so the patch lands at
// offset 0 without disturbing the file's append position.
func (w *Writer) Close() error {
	if _, err := w.f.WriteAt(w.header(w.dataBytes), 0); err != nil {
		w.f.Close()
		return fmt.Errorf("wav: write header: %w", err)
	}
	return w.f.Close()
}

// DataBytes reports how many PCM bytes have been written so far.
func (w *Writer) DataBytes() int64 {
	return w.dataBytes
}

// header builds the 44-byte canonical RIFF/WAVE header for the given
// data chunk size.
func (w *Writer) header(dataBytes int64) []byte {
	var hdr [headerSize]byte
	byteRate := w.sampleRate * w.channels * (w.bitsPerSample / 8)
	blockAlign := w.channels * (w.bitsPerSample / 8)
	riffSize := uint32(36 + dataBytes)

	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], riffSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], fmtChunkLen)
	binary.LittleEndian.PutUint16(hdr[20:22], pcmFormat)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(w.channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(w.bitsPerSample))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataBytes))

	return hdr[:]
}
