package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/modkernel/internal/process"
	"github.com/aescanero/modkernel/pkg/ports"
)

// CompletionHook runs after a process finishes and before its tracker
// becomes terminal
type CompletionHook func(res *process.Result)

// Scheduler submits processes for asynchronous execution. Each process is
// driven by its own goroutine; phases run on the runner.
type Scheduler struct {
	runner  process.Runner
	metrics ports.MetricsCollector
	logger  *zap.Logger

	active sync.Map // map[string]*Tracker
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewScheduler creates a scheduler dispatching phases to runner
func NewScheduler(runner process.Runner, metrics ports.MetricsCollector, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:  runner,
		metrics: metrics,
		logger:  logger,
	}
}

// Submit starts p and returns its tracker. Hooks run in order once the
// process has finished, before waiters are released.
func (s *Scheduler) Submit(ctx context.Context, p *process.Process, hooks ...CompletionHook) *Tracker {
	t := newTracker(uuid.New().String(), p.Name())

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		t.complete(&process.Result{Process: p.Name(), Err: fmt.Errorf("submit %q: %w", p.Name(), ErrPoolNotRunning)})
		return t
	}

	s.metrics.RecordProcessSubmitted(p.Name())
	s.active.Store(t.id, t)
	s.wg.Add(1)

	// Detach from the caller's cancellation; callers bound their waits instead
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer s.wg.Done()
		defer s.active.Delete(t.id)

		t.start()
		s.logger.Debug("process started",
			zap.String("process", p.Name()),
			zap.String("tracker_id", t.id))

		res := process.Run(runCtx, p, s.runner, process.WithPhaseObserver(s.observePhase))

		for _, hook := range hooks {
			hook(res)
		}

		status := TrackerSucceeded.String()
		if res.Err != nil {
			status = TrackerFailed.String()
			s.logger.Warn("process failed",
				zap.String("process", p.Name()),
				zap.String("tracker_id", t.id),
				zap.Duration("duration", res.Duration),
				zap.Error(res.Err))
		} else {
			s.logger.Debug("process completed",
				zap.String("process", p.Name()),
				zap.String("tracker_id", t.id),
				zap.Duration("duration", res.Duration))
		}
		s.metrics.RecordProcessCompleted(p.Name(), status, res.Duration)

		t.complete(res)
	}()

	return t
}

// Active returns the number of processes still running
func (s *Scheduler) Active() int {
	n := 0
	s.active.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Shutdown refuses new submissions and waits for running processes
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %d processes still running: %w", s.Active(), ctx.Err())
	}
}

func (s *Scheduler) observePhase(processName, phase string, err error, d time.Duration) {
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	s.metrics.RecordPhaseExecuted(phase, status, d)
}
