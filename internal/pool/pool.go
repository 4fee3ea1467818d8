// Package pool runs queued closures on a fixed set of worker goroutines.
//
// Tasks are dequeued in FIFO order; once dequeued, tasks on different
// workers complete in any order. There is no per-task cancellation: the
// only coarse control is Restart, which drops everything still queued,
// waits for running tasks and starts a fresh set of workers.
package pool

import (
	"log/slog"
	"runtime"
	"sync"

	"github.com/roach88/sqlbridge/internal/queue"
)

// Task is a unit of background work. It must capture only thread-safe,
// copied data.
type Task func()

// Pool is a fixed-size worker pool.
type Pool struct {
	size   int
	logger *slog.Logger

	mu     sync.Mutex
	q      *queue.Queue[Task]
	stop   chan struct{}
	wg     *sync.WaitGroup
	closed bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// New starts a pool with the given number of workers. Non-positive
// values use runtime.NumCPU().
func New(workers int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{
		size:   workers,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.q, p.stop, p.wg = queue.New[Task](), make(chan struct{}), &sync.WaitGroup{}
	p.start(p.q, p.stop, p.wg)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

func (p *Pool) start(q *queue.Queue[Task], stop chan struct{}, wg *sync.WaitGroup) {
	wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.worker(q, stop, wg)
	}
}

func (p *Pool) worker(q *queue.Queue[Task], stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}

		if task, ok := q.TryDequeue(); ok {
			p.run(task)
			continue
		}

		select {
		case <-stop:
			return
		case <-q.Wait():
			// Closed and empty: exit. Closing also closes the signal
			// channel, so this case fires repeatedly until then.
			if q.Closed() && q.Len() == 0 {
				return
			}
		}
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool task panicked", "panic", r)
		}
	}()
	task()
}

// Queue submits task. Returns false once the pool is closed.
func (p *Pool) Queue(task Task) bool {
	p.mu.Lock()
	q, closed := p.q, p.closed
	p.mu.Unlock()
	if closed {
		return false
	}
	return q.Enqueue(task)
}

// Pending returns the number of queued tasks not yet picked up.
func (p *Pool) Pending() int {
	p.mu.Lock()
	q := p.q
	p.mu.Unlock()
	return q.Len()
}

// Restart drops every queued task, waits for running tasks to return and
// starts fresh workers. Tasks queued while Restart runs are kept for the
// new workers. Must not be called from inside a task.
func (p *Pool) Restart() int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	oldQ, oldStop, oldWG := p.q, p.stop, p.wg
	newQ, newStop, newWG := queue.New[Task](), make(chan struct{}), &sync.WaitGroup{}
	p.q, p.stop, p.wg = newQ, newStop, newWG
	p.mu.Unlock()

	dropped := len(oldQ.Drain())
	oldQ.Close()
	close(oldStop)
	oldWG.Wait()

	p.start(newQ, newStop, newWG)
	p.logger.Info("pool restarted", "workers", p.size, "dropped", dropped)
	return dropped
}

// Close stops accepting tasks, lets workers finish what is queued and
// waits for them to exit. Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	q, wg := p.q, p.wg
	p.mu.Unlock()

	q.Close()
	wg.Wait()
}
