package host

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/sqlbridge/internal/queue"
)

// Loop is the serialized host executor.
//
// Thread-safety model:
//   - Invoke, Invalidate, Revalidate: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Loop struct {
	q           *queue.Queue[func()]
	invalidated atomic.Bool
	logger      *slog.Logger

	mu   sync.Mutex
	gone chan struct{} // closed when the current generation is invalidated
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) {
		lp.logger = l
	}
}

// New creates a Loop. Call Run to start delivering.
func New(opts ...Option) *Loop {
	l := &Loop{
		q:      queue.New[func()](),
		logger: slog.Default(),
		gone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Invoke schedules fn on the loop goroutine.
// Returns false if the loop is invalidated or stopped; fn is dropped.
func (l *Loop) Invoke(fn func()) bool {
	if l.invalidated.Load() {
		return false
	}
	return l.q.Enqueue(fn)
}

// Run delivers invoked closures until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("host loop starting")

	for {
		fn, ok := l.q.TryDequeue()
		if ok {
			// Re-checked here: Invalidate may have raced the enqueue.
			if !l.invalidated.Load() {
				l.call(fn)
			}
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Debug("host loop stopping: context cancelled")
			l.q.Close()
			return ctx.Err()

		case <-l.q.Wait():
			if l.q.Closed() && l.q.Len() == 0 {
				l.logger.Debug("host loop stopping: queue closed")
				return nil
			}
		}
	}
}

// RunPending delivers every queued closure on the calling goroutine,
// including closures queued while it runs, and returns how many ran.
// Hosts that pump the loop themselves use it instead of Run; the two must
// not be mixed.
func (l *Loop) RunPending() int {
	n := 0
	for {
		fn, ok := l.q.TryDequeue()
		if !ok {
			return n
		}
		if !l.invalidated.Load() {
			l.call(fn)
			n++
		}
	}
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("host callback panicked", "panic", r)
		}
	}()
	fn()
}

// Stop closes the loop. Queued closures still run; Run then returns.
func (l *Loop) Stop() {
	l.q.Close()
}

// Invalidate marks the host context as torn down and discards every
// queued delivery. Idempotent.
func (l *Loop) Invalidate() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.invalidated.CompareAndSwap(false, true) {
		return 0
	}
	close(l.gone)
	dropped := len(l.q.Drain())
	l.logger.Info("host invalidated", "dropped", dropped)
	return dropped
}

// Revalidate starts a new host generation. Deferreds created before the
// preceding Invalidate stay dead.
func (l *Loop) Revalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.invalidated.Load() {
		return
	}
	l.gone = make(chan struct{})
	l.invalidated.Store(false)
	l.logger.Info("host revalidated")
}

// Invalidated reports whether deliveries are currently suppressed.
func (l *Loop) Invalidated() bool {
	return l.invalidated.Load()
}

func (l *Loop) generation() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gone
}
