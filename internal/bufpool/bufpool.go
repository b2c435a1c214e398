// Package bufpool provides a concurrent, size-classed pool of rentable
// byte buffers for the capture handlers' per-block file-write jobs,
// grounded on the teacher's image/byte-buffer pool
// (internal/remote/desktop/pool.go) but keyed by size class instead of a
// single fixed resolution, since the three Job targets (System, Mic, Mix)
// write different byte widths per sample.
package bufpool

import "sync"

// maxPooledCapacity bounds how large a buffer is worth retaining; an
// oversized one-off buffer (e.g. from a device burst) is let go to the
// garbage collector instead of bloating the pool.
const maxPooledCapacity = 1 << 20 // 1 MiB

// sizeClasses are power-of-two buckets bytes are rounded up into, so a
// rent(n) with a slightly different n each call still reuses buffers
// instead of missing the pool every time.
var sizeClasses = []int{
	1 << 10, 1 << 11, 1 << 12, 1 << 13, 1 << 14,
	1 << 15, 1 << 16, 1 << 17, 1 << 18, 1 << 19, 1 << 20,
}

// Pool rents and returns byte buffers bucketed by size class. Safe for
// concurrent use from any goroutine, including audio callback goroutines
// (Rent does not allocate on the common path once warmed up; Return boxes
// the slice header for sync.Pool, a small per-call allocation).
type Pool struct {
	buckets []sync.Pool
}

// New constructs a ready-to-use Pool.
func New() *Pool {
	p := &Pool{buckets: make([]sync.Pool, len(sizeClasses))}
	for i, sz := range sizeClasses {
		sz := sz
		p.buckets[i].New = func() any {
			b := make([]byte, sz)
			return &b
		}
	}
	return p
}

// Rent returns a buffer whose length is >= n. Ownership transfers to the
// caller until it is passed to Return.
func (p *Pool) Rent(n int) []byte {
	idx := classFor(n)
	if idx < 0 {
		b := make([]byte, n)
		return b
	}
	bp := p.buckets[idx].Get().(*[]byte)
	if len(*bp) < n {
		*bp = make([]byte, sizeClasses[idx])
	}
	return (*bp)[:n]
}

// Return reinserts a rented buffer. Never fails; oversized or
// odd-capacity buffers are simply dropped rather than pooled.
func (p *Pool) Return(buf []byte) {
	c := cap(buf)
	if c > maxPooledCapacity {
		return
	}
	idx := classFor(c)
	if idx < 0 {
		return
	}
	if sizeClasses[idx] != c {
		// Capacity doesn't exactly match a class (e.g. grew oddly) —
		// still safe to drop; the pool's New will mint a fresh one.
		return
	}
	full := buf[:c]
	p.buckets[idx].Put(&full)
}

func classFor(n int) int {
	for i, sz := range sizeClasses {
		if n <= sz {
			return i
		}
	}
	return -1
}
