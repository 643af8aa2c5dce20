// Package packetqueue implements the bounded, prioritized egress queue
// drained by a client's send worker. Entries of equal priority are FIFO;
// high-priority entries always bypass low-priority ones.
package packetqueue

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrShutdown is returned by Enqueue once the queue has been shut down, and
// by Dequeue/DequeueBlocking when woken by shutdown rather than by data.
var ErrShutdown = errors.New("packetqueue: shut down")

// ErrFull is returned by Enqueue when the queue is at capacity.
var ErrFull = errors.New("packetqueue: full")

// Packet is one queued entry.
type Packet struct {
	Type        uint16
	Payload     []byte
	HighPriority bool

	seq   uint64
	index int
}

type packetHeap []*Packet

func (h packetHeap) Len() int { return len(h) }

func (h packetHeap) Less(i, j int) bool {
	pi, pj := priorityRank(h[i]), priorityRank(h[j])
	if pi != pj {
		return pi < pj
	}
	return h[i].seq < h[j].seq
}

func priorityRank(p *Packet) int {
	if p.HighPriority {
		return 0
	}
	return 1
}

func (h packetHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *packetHeap) Push(x any) {
	p := x.(*Packet)
	p.index = len(*h)
	*h = append(*h, p)
}

func (h *packetHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.index = -1
	*h = old[:n-1]
	return p
}

// Queue is a bounded priority FIFO of Packet with blocking dequeue and
// idempotent shutdown.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     packetHeap
	capacity int
	nextSeq  uint64
	closed   bool
}

// New creates a Queue with the given bounded capacity.
func New(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a packet. It fails with ErrFull if the queue is at capacity
// and ErrShutdown if the queue has been shut down.
func (q *Queue) Enqueue(packetType uint16, payload []byte, highPriority bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrShutdown
	}
	if len(q.heap) >= q.capacity {
		return ErrFull
	}

	q.nextSeq++
	heap.Push(&q.heap, &Packet{
		Type:         packetType,
		Payload:      payload,
		HighPriority: highPriority,
		seq:          q.nextSeq,
	})
	q.cond.Signal()
	return nil
}

// Size returns the current number of queued packets.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// DequeueBlocking waits until a packet is available, the deadline passes,
// or the queue shuts down. It returns (nil, nil) on deadline expiry and
// (nil, ErrShutdown) on shutdown.
func (q *Queue) DequeueBlocking(deadline time.Time) (*Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timedOut := false
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			timedOut = true
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		defer timer.Stop()

		for len(q.heap) == 0 && !q.closed && !timedOut {
			q.cond.Wait()
		}
		if timedOut && len(q.heap) == 0 && !q.closed {
			return nil, nil
		}
	}

	if len(q.heap) == 0 {
		if q.closed {
			return nil, ErrShutdown
		}
		return nil, nil
	}

	return heap.Pop(&q.heap).(*Packet), nil
}

// Shutdown wakes every waiter with ErrShutdown; subsequent Enqueue calls
// fail. Idempotent.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
