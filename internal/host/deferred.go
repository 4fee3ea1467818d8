package host

import (
	"context"
	"sync"

	"github.com/roach88/sqlbridge/internal/sqlerr"
)

// Deferred is a result that settles exactly once, on the loop goroutine.
//
// The producing side calls Resolve or Reject from any goroutine. The
// consuming side either registers callbacks with Then (run on the loop)
// or blocks in Await.
type Deferred[T any] struct {
	loop *Loop
	gone <-chan struct{}

	mu       sync.Mutex
	settled  bool
	val      T
	err      error
	done     chan struct{}
	handlers []func()
}

// NewDeferred creates a pending Deferred bound to l's current generation.
func NewDeferred[T any](l *Loop) *Deferred[T] {
	return &Deferred[T]{
		loop: l,
		gone: l.generation(),
		done: make(chan struct{}),
	}
}

// Resolve delivers v through the loop. Returns false if the delivery was
// dropped because the host is invalidated.
func (d *Deferred[T]) Resolve(v T) bool {
	return d.deliver(v, nil)
}

// Reject delivers err through the loop.
func (d *Deferred[T]) Reject(err error) bool {
	var zero T
	return d.deliver(zero, err)
}

func (d *Deferred[T]) deliver(v T, err error) bool {
	if d.stale() {
		return false
	}
	ok := d.loop.Invoke(func() {
		if d.stale() {
			return
		}
		d.settle(v, err, true)
	})
	if !ok && !d.loop.Invalidated() {
		// Loop stopped: Await still observes the outcome, callbacks are
		// dropped with the host.
		d.settle(v, err, false)
	}
	return ok
}

func (d *Deferred[T]) stale() bool {
	select {
	case <-d.gone:
		return true
	default:
		return false
	}
}

// settle runs on the loop goroutine, or on the producer once the loop
// has stopped (runHandlers false).
func (d *Deferred[T]) settle(v T, err error, runHandlers bool) {
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return
	}
	d.settled = true
	d.val, d.err = v, err
	handlers := d.handlers
	d.handlers = nil
	close(d.done)
	d.mu.Unlock()

	if !runHandlers {
		return
	}
	for _, h := range handlers {
		h()
	}
}

// Then registers callbacks run on the loop once d settles. Either may
// be nil.
func (d *Deferred[T]) Then(onResolve func(T), onReject func(error)) {
	h := func() {
		if d.err != nil {
			if onReject != nil {
				onReject(d.err)
			}
			return
		}
		if onResolve != nil {
			onResolve(d.val)
		}
	}

	d.mu.Lock()
	if !d.settled {
		d.handlers = append(d.handlers, h)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	d.loop.Invoke(h)
}

// Await blocks until d settles, ctx ends, or the host generation that
// created d is invalidated (InvalidatedError).
func (d *Deferred[T]) Await(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-d.done:
		return d.val, d.err
	case <-d.gone:
		// A settle may have won the race.
		select {
		case <-d.done:
			return d.val, d.err
		default:
		}
		return zero, sqlerr.NewInvalidatedError()
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Done is closed once d settles.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// Settled reports whether d has settled.
func (d *Deferred[T]) Settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}
