// Package ringbuffer implements a single-producer/single-consumer lock-free
// FIFO of fixed-size elements, used for per-client audio ingress. Capacity
// is rounded up to a power of two; on overflow the oldest elements are
// discarded so the writer never blocks and never fails.
package ringbuffer

import "sync/atomic"

// RingBuffer is a wait-free SPSC queue of T. Safe for exactly one writer
// goroutine and one reader goroutine to use concurrently; it is not safe
// for multiple writers or multiple readers.
type RingBuffer[T any] struct {
	buf        []T
	mask       uint64
	writeIndex atomic.Uint64
	readIndex  atomic.Uint64
}

// New creates a RingBuffer whose capacity is the smallest power of two
// greater than or equal to capacityHint (minimum 2).
func New[T any](capacityHint int) *RingBuffer[T] {
	capacity := nextPow2(capacityHint)
	return &RingBuffer[T]{
		buf:  make([]T, capacity),
		mask: uint64(capacity - 1),
	}
}

func nextPow2(n int) int {
	if n < 2 {
		return 2
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Capacity returns the buffer's fixed element capacity.
func (r *RingBuffer[T]) Capacity() int {
	return len(r.buf)
}

// AvailableRead returns the number of elements ready to be read.
func (r *RingBuffer[T]) AvailableRead() int {
	w := r.writeIndex.Load()
	rd := r.readIndex.Load()
	return int((w - rd) & r.mask)
}

// AvailableWrite returns the number of elements that can be written before
// the reader would need to drop anything.
func (r *RingBuffer[T]) AvailableWrite() int {
	return len(r.buf) - r.AvailableRead() - 1
}

// Write copies items into the buffer, returning the number written (always
// len(items)). If the buffer would overflow, the oldest unread elements are
// discarded by advancing the read index — the writer never blocks and never
// fails under overflow.
func (r *RingBuffer[T]) Write(items []T) int {
	if len(items) == 0 {
		return 0
	}

	avail := r.AvailableWrite()
	if len(items) > avail {
		drop := len(items) - avail
		r.readIndex.Add(uint64(drop))
	}

	w := r.writeIndex.Load()
	for i, item := range items {
		r.buf[(w+uint64(i))&r.mask] = item
	}
	// Release: the write index publishes everything written above.
	r.writeIndex.Store(w + uint64(len(items)))
	return len(items)
}

// Read copies up to len(out) available elements into out, returning the
// number actually read. Non-blocking.
func (r *RingBuffer[T]) Read(out []T) int {
	// Acquire: observe the most recently published write index.
	w := r.writeIndex.Load()
	rd := r.readIndex.Load()
	available := int((w - rd) & r.mask)

	n := len(out)
	if n > available {
		n = available
	}
	for i := 0; i < n; i++ {
		out[i] = r.buf[(rd+uint64(i))&r.mask]
	}
	r.readIndex.Store(rd + uint64(n))
	return n
}

// Reset drops all buffered elements, returning the buffer to empty.
func (r *RingBuffer[T]) Reset() {
	r.readIndex.Store(r.writeIndex.Load())
}
