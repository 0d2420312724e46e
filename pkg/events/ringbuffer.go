// Package events implements EventBus (C8): a lock-free SPSC ring buffer
// carrying domain events from the write path to subscribers, grounded on
// pkg/consensus/pacemaker.go's lock-free-ish channel/atomic patterns
// (single producer: the write-lock holder; single consumer: the
// broadcast goroutine).
package events

import "sync/atomic"

const defaultCapacity = 1 << 14 // must be a power of two for the mask trick

// RingBuffer is a single-producer, single-consumer ring buffer. Push never
// blocks: a full buffer silently drops the oldest-pending slot's would-be
// write by overwriting it, since falling behind on events must never
// stall the matching engine's write lock.
type RingBuffer[T any] struct {
	mask uint64
	buf  []T

	writePos atomic.Uint64
	readPos  atomic.Uint64
}

func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	size := nextPowerOfTwo(capacity)
	return &RingBuffer[T]{
		mask: uint64(size - 1),
		buf:  make([]T, size),
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Push writes v into the buffer. If the consumer has fallen a full
// buffer length behind, the oldest unread slot is overwritten and the
// read cursor is advanced past it, trading history for a write path that
// never blocks.
func (r *RingBuffer[T]) Push(v T) {
	w := r.writePos.Load()
	read := r.readPos.Load()
	if w-read >= uint64(len(r.buf)) {
		r.readPos.CompareAndSwap(read, read+1)
	}
	r.buf[w&r.mask] = v
	r.writePos.Store(w + 1)
}

// Read returns the next unread value and true, or the zero value and
// false if the buffer is caught up to the writer.
func (r *RingBuffer[T]) Read() (T, bool) {
	read := r.readPos.Load()
	w := r.writePos.Load()
	if read >= w {
		var zero T
		return zero, false
	}
	v := r.buf[read&r.mask]
	r.readPos.Store(read + 1)
	return v, true
}

// Len reports how many entries are currently pending for the consumer.
func (r *RingBuffer[T]) Len() int {
	return int(r.writePos.Load() - r.readPos.Load())
}
