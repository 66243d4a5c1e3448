package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/modkernel/internal/process"
	"github.com/aescanero/modkernel/pkg/adapters/metrics/noop"
)

func newTestScheduler(t *testing.T, size int) (*Scheduler, *Pool) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	pool := NewPool(size, noop.NewCollector(), logger, 0)
	require.NoError(t, pool.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return NewScheduler(pool, noop.NewCollector(), logger), pool
}

func TestSubmitSucceeds(t *testing.T) {
	s, _ := newTestScheduler(t, 2)

	p, err := process.New("greet").
		Register(
			process.NewPhase("a", func(_ context.Context, sc *process.Scope) error {
				sc.Set("a", "hello")
				return nil
			}),
			process.NewPhase("b", func(_ context.Context, sc *process.Scope) error {
				v, err := process.Value[string](sc, "a")
				if err != nil {
					return err
				}
				sc.Set("b", v+" world")
				return nil
			}),
		).
		Task("b").DependsOn("a").
		Create()
	require.NoError(t, err)

	tr := s.Submit(context.Background(), p)
	require.NoError(t, tr.Wait(context.Background()))
	assert.Equal(t, TrackerSucceeded, tr.State())
	assert.Equal(t, "greet", tr.Process())
	assert.Greater(t, tr.Elapsed(), time.Duration(0))

	v, err := process.Value[string](p.Scope(), "b")
	require.NoError(t, err)
	assert.Equal(t, "hello world", v)
}

func TestSubmitFailureAndHooks(t *testing.T) {
	s, _ := newTestScheduler(t, 2)
	boom := errors.New("boom")

	p, err := process.New("broken").
		Register(process.NewPhase("explode", func(context.Context, *process.Scope) error { return boom })).
		Create()
	require.NoError(t, err)

	var hookSaw error
	tr := s.Submit(context.Background(), p, func(res *process.Result) {
		hookSaw = res.Err
	})

	err = tr.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, TrackerFailed, tr.State())
	assert.ErrorIs(t, hookSaw, boom, "hooks run before the tracker is released")

	var pe *process.PhaseExecutionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "broken", pe.Process)
	assert.Equal(t, "explode", pe.Phase)
}

func TestTrackerCallbacksAndImmutability(t *testing.T) {
	tr := newTracker("id", "p")
	assert.Equal(t, TrackerPending, tr.State())

	var calls atomic.Int32
	tr.OnComplete(func(*Tracker) { calls.Add(1) })

	tr.start()
	assert.Equal(t, TrackerRunning, tr.State())

	tr.complete(&process.Result{Process: "p"})
	tr.complete(&process.Result{Process: "p", Err: errors.New("late")})
	assert.Equal(t, TrackerSucceeded, tr.State())
	assert.NoError(t, tr.Err())

	tr.OnComplete(func(*Tracker) { calls.Add(1) })
	assert.Equal(t, int32(2), calls.Load())
}

func TestTrackerWaitHonorsContext(t *testing.T) {
	tr := newTracker("id", "slow")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, tr.Wait(ctx), context.DeadlineExceeded)
	assert.Equal(t, TrackerPending, tr.State())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	s, _ := newTestScheduler(t, 2)

	var running, peak atomic.Int32
	phase := func(name string) process.Phase {
		return process.NewPhase(name, func(context.Context, *process.Scope) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}

	p, err := process.New("wide").
		Register(phase("a"), phase("b"), phase("c"), phase("d"), phase("e")).
		Create()
	require.NoError(t, err)

	require.NoError(t, s.Submit(context.Background(), p).Wait(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPoolShutdownDrainsQueue(t *testing.T) {
	logger := zaptest.NewLogger(t)
	pool := NewPool(1, noop.NewCollector(), logger, 0)
	require.NoError(t, pool.Start())

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		wg.Add(1)
		require.NoError(t, pool.Go(context.Background(), func() {
			defer wg.Done()
			time.Sleep(5 * time.Millisecond)
			ran.Add(1)
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))
	wg.Wait()
	assert.Equal(t, int32(3), ran.Load())

	assert.ErrorIs(t, pool.Go(context.Background(), func() {}), ErrPoolNotRunning)
	assert.Equal(t, 1, pool.Health().GetStatus().StoppedWorkers)
}

func TestSchedulerShutdownRejectsSubmissions(t *testing.T) {
	s, _ := newTestScheduler(t, 1)
	require.NoError(t, s.Shutdown(context.Background()))

	p, err := process.New("late").
		Register(process.NewPhase("a", func(context.Context, *process.Scope) error { return nil })).
		Create()
	require.NoError(t, err)

	tr := s.Submit(context.Background(), p)
	assert.ErrorIs(t, tr.Wait(context.Background()), ErrPoolNotRunning)
}
