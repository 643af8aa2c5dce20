// Package videobuf implements the latest-only double buffer used for both
// video ingress (raw or compressed camera frames arriving from a client)
// and video egress (the composited ASCII frame for a client). Writers never
// block on readers; stale frames are discarded by definition.
package videobuf

import "sync"

// Frame is a single published video frame. For ingress it may hold raw RGB8
// bytes or an already-decompressed byte string; for egress it holds the
// composed ASCII UTF-8 bytes.
type Frame struct {
	Data             []byte
	Width            int
	Height           int
	CaptureTimestamp int64 // microseconds
	SequenceNumber   uint64
}

// DoubleBuffer holds a front (readable) and back (writable) Frame slot.
// Writer fills the back slot then Commit swaps it into front under a short
// mutex section; Reader copies front under the same mutex.
type DoubleBuffer struct {
	mu    sync.Mutex
	front Frame
	back  Frame
	seq   uint64
}

// New returns an empty DoubleBuffer.
func New() *DoubleBuffer {
	return &DoubleBuffer{}
}

// BeginWrite returns a pointer to the back slot for the writer to fill.
// The writer owns this slot exclusively until Commit; no lock is held
// between BeginWrite and Commit, matching the single-writer contract.
func (d *DoubleBuffer) BeginWrite() *Frame {
	return &d.back
}

// Commit publishes the back slot as the new front slot. Readers observe
// either the previous or the new frame, never a partially written one.
func (d *DoubleBuffer) Commit() {
	d.mu.Lock()
	d.seq++
	d.back.SequenceNumber = d.seq
	d.front, d.back = d.back, d.front
	d.mu.Unlock()
}

// ReadLatest returns a copy of the most recently committed frame. The
// returned Frame's Data slice is the writer's own backing array; callers
// that need to retain it past their next call must copy it themselves.
func (d *DoubleBuffer) ReadLatest() Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.front
}

// Empty reports whether no frame has been committed yet.
func (d *DoubleBuffer) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.front.SequenceNumber == 0
}
