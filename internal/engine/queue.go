package engine

import (
	"sync"

	"github.com/roach88/timebank/internal/ledger"
)

// request is one submitted operation waiting for the Run loop.
type request struct {
	op          ledger.Operation
	correlation string

	// reply is buffered so the Run loop never blocks on a caller that gave up.
	reply chan result
}

type result struct {
	receipt Receipt
	err     error
}

// opQueue is an unbounded, thread-safe FIFO of submitted operations.
//
// Submitters enqueue from any goroutine; only the Run loop dequeues. The
// signal channel lets Run wait for work and for context cancellation in the
// same select.
type opQueue struct {
	mu     sync.Mutex
	items  []*request
	closed bool
	signal chan struct{} // buffered, size 1
}

func newOpQueue() *opQueue {
	return &opQueue{
		items:  make([]*request, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a request to the back of the queue.
// Returns false if the queue is closed.
func (q *opQueue) Enqueue(r *request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, r)

	// Non-blocking: the size-1 buffer coalesces signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front request without blocking.
func (q *opQueue) TryDequeue() (*request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	r := q.items[0]
	q.items[0] = nil // release for GC

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return r, true
}

// Wait returns a channel that fires when requests may be available. It is
// closed by Close.
func (q *opQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *opQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *opQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting requests and wakes the waiter. Idempotent.
func (q *opQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Drain removes and returns every queued request.
func (q *opQueue) Drain() []*request {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}
