// Package queue provides the unbounded FIFO used by the worker pool, the
// host delivery loop and the changefeed publisher.
package queue

import "sync"

// Queue is a thread-safe unbounded FIFO.
//
// Consumers wait on the signal channel instead of blocking inside the
// queue, which keeps waiting context-aware:
//
//	for {
//	    if item, ok := q.TryDequeue(); ok {
//	        handle(item)
//	        continue
//	    }
//	    select {
//	    case <-ctx.Done():
//	        return
//	    case <-q.Wait():
//	    }
//	}
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // Signals item availability (buffered, size 1)
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items:  make([]T, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds item to the back of the queue.
// Returns false if the queue is closed.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front item without blocking.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]

	// Clear the slot so the backing array does not pin the item.
	q.items[0] = zero

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	// More work remains: keep other waiters awake.
	if len(q.items) > 0 && !q.closed {
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}

	return item, true
}

// Wait returns a channel that fires when items may be available. It is
// closed when the queue is closed.
func (q *Queue[T]) Wait() <-chan struct{} {
	return q.signal
}

// Drain removes and returns every pending item.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, len(q.items))
	copy(out, q.items)
	clear(q.items)
	q.items = q.items[:0]
	return out
}

// Len returns the current queue length.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops further enqueues and wakes every waiter. Items already
// queued can still be dequeued.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
