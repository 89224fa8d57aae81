package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/hrm/pkg/observability"
)

var (
	// ErrPoolClosed is returned by Submit after Shutdown
	ErrPoolClosed = errors.New("worker pool shut down")
	// ErrQueueFull is returned by Submit when the backlog is at capacity
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task is a unit of background work
type Task func(ctx context.Context) error

// Pool runs tasks on a fixed number of workers behind a bounded queue.
// Submit never blocks the caller.
type Pool struct {
	name    string
	timeout time.Duration
	logger  *observability.Logger
	tasks   *prometheus.CounterVec

	mu     sync.RWMutex
	closed bool
	queue  chan Task
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Pool
type Option func(*Pool)

// WithTaskCounter counts tasks labeled by pool and result
// (ok, error, panic, rejected)
func WithTaskCounter(counter *prometheus.CounterVec) Option {
	return func(p *Pool) {
		p.tasks = counter
	}
}

// WithTaskTimeout bounds every task; the default is 10 seconds
func WithTaskTimeout(timeout time.Duration) Option {
	return func(p *Pool) {
		p.timeout = timeout
	}
}

// NewPool starts workers goroutines draining a queue of the given capacity
func NewPool(name string, workers, capacity int, logger *observability.Logger, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:    name,
		timeout: 10 * time.Second,
		logger:  logger.WithField("pool", name),
		queue:   make(chan Task, capacity),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues a task without blocking
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.count("rejected")
		return ErrPoolClosed
	}
	select {
	case p.queue <- task:
		return nil
	default:
		p.count("rejected")
		return ErrQueueFull
	}
}

// Backlog reports queued tasks against the queue capacity
func (p *Pool) Backlog() (queued, capacity int) {
	return len(p.queue), cap(p.queue)
}

// Shutdown stops accepting tasks and waits for the queue to drain. When ctx
// expires first, running tasks are cancelled and an error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("worker pool %s shutdown: %w", p.name, ctx.Err())
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.count("panic")
			p.logger.WithFields(map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
				"stack": string(debug.Stack()),
			}).Error("Background task panicked")
		}
	}()

	if err := task(ctx); err != nil {
		p.count("error")
		p.logger.WithError(err).Warn("Background task failed")
		return
	}
	p.count("ok")
}

func (p *Pool) count(result string) {
	if p.tasks != nil {
		p.tasks.WithLabelValues(p.name, result).Inc()
	}
}
