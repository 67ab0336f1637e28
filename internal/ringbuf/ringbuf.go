// Package ringbuf provides a fixed-capacity ring queue for model.Tick
// used as the per-instrument inbound buffer. When the queue is full the
// OLDEST tick is overwritten, so a slow pipeline sheds the stalest data
// and the upstream connector is never blocked.
package ringbuf

import (
	"sync"

	"alert-systemv1/internal/model"
)

// Ring is a drop-oldest ring queue for Tick values.
// Capacity is rounded up to the next power of two for fast bitwise modulo.
type Ring struct {
	mu   sync.Mutex
	buf  []model.Tick
	mask uint64
	head uint64 // next write position
	tail uint64 // next read position

	dropped uint64 // overwritten ticks, for metrics
}

// New creates a ring queue. capacity is rounded up to the next power of
// two; the minimum capacity is 2.
func New(capacity int) *Ring {
	c := nextPow2(capacity)
	if c < 2 {
		c = 2
	}
	return &Ring{
		buf:  make([]model.Tick, c),
		mask: uint64(c - 1),
	}
}

// Push appends a tick. When the queue is full the oldest queued tick is
// overwritten and counted as dropped. Never blocks. Returns true when an
// older tick was discarded to make room.
func (r *Ring) Push(t model.Tick) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	overwrote := false
	if r.head-r.tail >= uint64(len(r.buf)) {
		r.tail++ // discard the oldest
		r.dropped++
		overwrote = true
	}
	r.buf[r.head&r.mask] = t
	r.head++
	return overwrote
}

// Pop retrieves the next tick. Returns false if the queue is empty.
// Never blocks.
func (r *Ring) Pop() (model.Tick, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tail >= r.head {
		return model.Tick{}, false
	}
	t := r.buf[r.tail&r.mask]
	r.tail++
	return t, true
}

// Len returns the current number of queued ticks.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.head - r.tail)
}

// Cap returns the queue capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Dropped returns the total number of ticks discarded to make room.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
