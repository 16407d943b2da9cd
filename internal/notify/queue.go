package notify

import (
	"sync"

	"github.com/roach88/civicroute/internal/clock"
)

// queue is a thread-safe unbounded FIFO of notifications.
//
// Unbounded so that Dispatcher.Notify never blocks a deadline handler or an
// HTTP request behind a slow sink.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type queue struct {
	mu     sync.Mutex
	items  []Notification
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)

	// seq stamps each item under mu, so Seq order is queue order.
	seq *clock.Sequence
}

func newQueue(seq *clock.Sequence) *queue {
	return &queue{
		items:  make([]Notification, 0, 64),
		signal: make(chan struct{}, 1),
		seq:    seq,
	}
}

// Enqueue stamps n.Seq and adds n to the back of the queue.
// Returns false if the queue is closed; no sequence number is used then.
func (q *queue) Enqueue(n Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	n.Seq = q.seq.Next()
	q.items = append(q.items, n)

	// Non-blocking - buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front item without blocking.
func (q *queue) TryDequeue() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Notification{}, false
	}

	n := q.items[0]
	q.items[0] = Notification{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return n, true
}

// Wait returns a channel that signals when items may be available. The
// channel is closed once the queue is closed.
func (q *queue) Wait() <-chan struct{} {
	return q.signal
}

// Drained reports whether the queue is closed and empty.
func (q *queue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

// Len returns the current queue length.
func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further enqueues and wakes any waiter.
func (q *queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
