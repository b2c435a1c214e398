// Package diskwriter implements the Disk Writer (spec.md §4 component C):
// a single background task that drains a bounded job queue and appends
// PCM bytes to the System, Mic, and Mix WAV files, so capture callbacks
// never touch the filesystem. Built directly on the teacher's
// internal/workerpool.Pool, instantiated with exactly one worker — a
// pool of one preserves per-target FIFO ordering the way a dedicated
// writer goroutine would, while reusing the teacher's bounded-queue,
// drain-with-timeout, and panic-recovery machinery verbatim.
package diskwriter

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-audio/recorder/internal/bufpool"
	"github.com/breeze-audio/recorder/internal/events"
	"github.com/breeze-audio/recorder/internal/logging"
	"github.com/breeze-audio/recorder/internal/workerpool"
)

var log = logging.L("diskwriter")

// Target identifies which output file a Job's bytes belong to. A closed,
// three-variant tagged union per spec.md §9 rather than an interface, so
// the writer can switch on it without dynamic dispatch.
type Target int

const (
	System Target = iota
	Mic
	Mix
)

func (t Target) String() string {
	switch t {
	case System:
		return "system"
	case Mic:
		return "mic"
	case Mix:
		return "mix"
	default:
		return "unknown"
	}
}

// Job is one block of encoded PCM bytes destined for one target file.
type Job struct {
	Target Target
	Bytes  []byte // rented from a bufpool.Pool; returned after the write
	Length int    // valid byte count; Bytes may be oversized from the pool
}

const (
	minQueueCapacity = 2000
	maxQueueCapacity = 10000
	drainTimeout     = 30 * time.Second
)

// Writer owns the three open output files and the single-worker pool
// draining jobs into them.
type Writer struct {
	pool  *workerpool.Pool
	bufs  *bufpool.Pool
	bus   *events.Bus
	files [3]io.Writer

	faulted   atomic.Bool
	dropCount atomic.Uint64

	mu      sync.Mutex
	written [3]int64
}

// New creates a Writer bound to the three already-open output files,
// indexed by Target. queueCapacity is clamped to [2000, 10000] per
// spec.md §7 (roughly 10 seconds of stereo float32 audio at 48kHz). bus
// may be nil, in which case a fatal write failure is only observable
// through Faulted.
func New(system, mic, mix io.Writer, bufs *bufpool.Pool, queueCapacity int, bus *events.Bus) *Writer {
	if queueCapacity < minQueueCapacity {
		queueCapacity = minQueueCapacity
	}
	if queueCapacity > maxQueueCapacity {
		queueCapacity = maxQueueCapacity
	}
	w := &Writer{bufs: bufs, bus: bus}
	w.files[System] = system
	w.files[Mic] = mic
	w.files[Mix] = mix
	w.pool = workerpool.New(1, queueCapacity)
	return w
}

// Enqueue submits a job for writing. Non-blocking: if the queue is full
// the job is dropped, the buffer is returned to the pool immediately,
// and a drop is logged on the 1st occurrence and every 100th thereafter
// (spec.md §6 error-handling policy for the Disk Writer).
func (w *Writer) Enqueue(job Job) bool {
	ok := w.pool.Submit(func() { w.write(job) })
	if !ok {
		w.bufs.Return(job.Bytes)
		n := w.dropCount.Add(1)
		if n == 1 || n%100 == 0 {
			log.Warn("disk writer queue full, job dropped", "target", job.Target, "dropCount", n)
		}
	}
	return ok
}

func (w *Writer) write(job Job) {
	defer w.bufs.Return(job.Bytes)
	out := w.files[job.Target]
	n, err := out.Write(job.Bytes[:job.Length])
	if err != nil {
		if !w.faulted.Swap(true) {
			// First fault only: stop taking new jobs and escalate, rather
			// than continue appending to files already known to be broken.
			w.pool.StopAccepting()
			log.Error("disk write failed, writer faulted", "target", job.Target, "error", err)
			if w.bus != nil {
				w.bus.PublishStatus(events.Status{Kind: events.StatusError, Message: fmt.Sprintf("disk write failed: %v", err)})
			}
		}
		return
	}
	w.mu.Lock()
	w.written[job.Target] += int64(n)
	w.mu.Unlock()
}

// Faulted reports whether any write has failed since construction. A
// session that observes this should stop and surface an error rather
// than continue producing a silently-truncated file.
func (w *Writer) Faulted() bool {
	return w.faulted.Load()
}

// BytesWritten reports how many bytes have been committed to a target
// so far, used to finalize WAV headers on stop.
func (w *Writer) BytesWritten(t Target) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written[t]
}

// Drain stops accepting new jobs and blocks until the queue empties or
// the 30-second watchdog elapses, matching spec.md §5's stop-sequence
// bound on the writer.
func (w *Writer) Drain() error {
	w.pool.StopAccepting()
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	w.pool.Drain(ctx)
	if ctx.Err() != nil {
		return fmt.Errorf("diskwriter: drain watchdog elapsed after %s", drainTimeout)
	}
	return nil
}
