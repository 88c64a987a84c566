package bridge

import "sync"

// callQueue is a mutex-guarded FIFO of pending calls.
//
// The queue is unbounded: a sender never blocks on a slow receiver. The
// signal channel lets a receiver loop wait for work without polling.
type callQueue struct {
	mu     sync.Mutex
	calls  []Call
	closed bool
	signal chan struct{} // buffered, size 1
}

func newCallQueue() *callQueue {
	return &callQueue{
		calls:  make([]Call, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends c. Returns false if the queue is closed.
func (q *callQueue) Enqueue(c Call) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.calls = append(q.calls, c)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Swap takes every queued call and leaves the queue empty. Calls enqueued
// after Swap returns belong to the next Swap.
func (q *callQueue) Swap() []Call {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.calls) == 0 {
		return nil
	}
	out := q.calls
	q.calls = make([]Call, 0, cap(out))
	return out
}

// Wait returns a channel that signals when calls may be available.
func (q *callQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued calls.
func (q *callQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

// Close stops the queue from accepting calls and wakes waiters. Queued calls
// are kept and may still be swapped out.
func (q *callQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
