package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/modkernel/pkg/ports"
)

var (
	// ErrPoolNotRunning is returned by Go before Start or after Shutdown
	ErrPoolNotRunning = errors.New("worker pool is not running")
)

// Pool manages a fixed set of worker goroutines that execute phase bodies
type Pool struct {
	size    int
	metrics ports.MetricsCollector
	logger  *zap.Logger
	health  *HealthMonitor

	jobs    chan job
	quit    chan struct{}
	workers []*worker
	wg      sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

type job struct {
	fn       func()
	enqueued time.Time
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool
func NewPool(
	size int,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	pool := &Pool{
		size:    size,
		metrics: metrics,
		logger:  logger,
		jobs:    make(chan job, size*4),
		quit:    make(chan struct{}),
		workers: make([]*worker, size),
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start starts the worker pool
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("worker pool already started")
	}

	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run()
	}
	p.running = true

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Go queues fn for execution on a worker. It blocks while the queue is full.
func (p *Pool) Go(ctx context.Context, fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrPoolNotRunning
	}

	select {
	case p.jobs <- job{fn: fn, enqueued: time.Now()}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work, lets queued jobs drain and waits for the
// workers to exit
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.quit)
	p.mu.Unlock()

	p.health.Stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.size
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop
func (w *worker) run() {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case j := <-w.pool.jobs:
			w.execute(j)
		case <-w.pool.quit:
			// Drain whatever was queued before shutdown
			for {
				select {
				case j := <-w.pool.jobs:
					w.execute(j)
				default:
					w.setStatus(WorkerStatusStopped)
					w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
					return
				}
			}
		}
	}
}

// execute runs a single job
func (w *worker) execute(j job) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	w.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("worker job panicked",
				zap.String("worker_id", w.id),
				zap.Any("panic", r))
		}
		w.setStatus(WorkerStatusIdle)
	}()

	if wait := time.Since(j.enqueued); wait > time.Second {
		w.pool.logger.Debug("job waited in queue",
			zap.String("worker_id", w.id),
			zap.Duration("wait", wait))
	}

	j.fn()
}

func (w *worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}
