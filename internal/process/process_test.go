package process

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/modkernel/internal/graph"
)

type extracted struct {
	name string
}

func TestInstallProcessSchedulesAndSharesScope(t *testing.T) {
	var read *extracted

	download := NewPhase("download", func(ctx context.Context, s *Scope) error {
		s.Set("download.path", "/tmp/artifact")
		return nil
	})
	scan := NewPhase("scan", func(ctx context.Context, s *Scope) error {
		path, err := Value[string](s, "download.path")
		if err != nil {
			return err
		}
		s.Set("scan.module", &extracted{name: path})
		return nil
	})
	transfer := NewPhase("transfer", func(ctx context.Context, s *Scope) error {
		m, err := Value[*extracted](s, "scan.module")
		if err != nil {
			return err
		}
		read = m
		return nil
	})

	p, err := New("install").
		Register(download, scan, transfer).
		Task("scan").DependsOn("download").
		Task("transfer").DependsOn("scan").
		Create()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"download"}, {"scan"}, {"transfer"}}, p.Levels())

	res := Run(context.Background(), p, GoroutineRunner{})
	require.NoError(t, res.Err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, []string{"download", "scan", "transfer"}, res.Completed)
	require.NotNil(t, read)
	assert.Equal(t, "/tmp/artifact", read.name)
}

func TestCreateValidation(t *testing.T) {
	noop := func(name string) Phase {
		return NewPhase(name, func(context.Context, *Scope) error { return nil })
	}

	tests := []struct {
		name  string
		build func() *Builder
		want  error
	}{
		{
			name: "unknown dependency",
			build: func() *Builder {
				return New("p").Register(noop("a")).Task("a").DependsOn("missing")
			},
			want: ErrUnknownPhase,
		},
		{
			name: "unknown task",
			build: func() *Builder {
				return New("p").Register(noop("a")).Task("ghost").DependsOn("a")
			},
			want: ErrUnknownPhase,
		},
		{
			name: "duplicate phase",
			build: func() *Builder {
				return New("p").Register(noop("a"), noop("a"))
			},
			want: ErrDuplicatePhase,
		},
		{
			name: "empty phase name",
			build: func() *Builder {
				return New("p").Register(noop(""))
			},
			want: ErrInvalidPhase,
		},
		{
			name: "cycle",
			build: func() *Builder {
				return New("p").Register(noop("a"), noop("b")).
					Task("a").DependsOn("b").
					Task("b").DependsOn("a")
			},
			want: graph.ErrGraphCycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.build().Create()
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRunFailFast(t *testing.T) {
	boom := errors.New("boom")
	var laterRan atomic.Bool
	started := make(chan struct{})
	release := make(chan struct{})
	var slowDone atomic.Bool

	fail := NewPhase("fail", func(context.Context, *Scope) error {
		<-started
		close(release)
		return boom
	})
	slow := NewPhase("slow", func(context.Context, *Scope) error {
		close(started)
		<-release
		time.Sleep(10 * time.Millisecond)
		slowDone.Store(true)
		return nil
	})
	later := NewPhase("later", func(context.Context, *Scope) error {
		laterRan.Store(true)
		return nil
	})

	p, err := New("failing").
		Register(fail, slow, later).
		Task("later").DependsOn("fail", "slow").
		Create()
	require.NoError(t, err)

	res := Run(context.Background(), p, GoroutineRunner{})
	require.Error(t, res.Err)

	var pe *PhaseExecutionError
	require.ErrorAs(t, res.Err, &pe)
	assert.Equal(t, "failing", pe.Process)
	assert.Equal(t, "fail", pe.Phase)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, "fail", FailedPhase(res.Err))

	assert.True(t, slowDone.Load(), "same-level phase must be allowed to finish")
	assert.False(t, laterRan.Load())
	require.NotNil(t, res.Aborted)
	assert.Equal(t, []string{"later"}, res.Aborted.Phases)
	assert.ErrorIs(t, res.Aborted, ErrProcessAborted)
	assert.ErrorIs(t, res.Aborted, boom)
}

func TestRunRecoversPanics(t *testing.T) {
	p, err := New("panicky").
		Register(NewPhase("explode", func(context.Context, *Scope) error { panic("kaboom") })).
		Create()
	require.NoError(t, err)

	res := Run(context.Background(), p, GoroutineRunner{})
	var pe *PhaseExecutionError
	require.ErrorAs(t, res.Err, &pe)
	assert.Contains(t, pe.Error(), "kaboom")
}

func TestRunLevelBarrier(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string, delay time.Duration) Phase {
		return NewPhase(name, func(context.Context, *Scope) error {
			time.Sleep(delay)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	p, err := New("barrier").
		Register(record("a1", 20*time.Millisecond), record("a2", 0), record("b", 0)).
		Task("b").DependsOn("a2").
		Create()
	require.NoError(t, err)
	require.Len(t, p.Levels(), 2)

	res := Run(context.Background(), p, GoroutineRunner{})
	require.NoError(t, res.Err)
	require.Len(t, order, 3)
	assert.Equal(t, "b", order[2], "b must wait for the whole first level")
}

func TestRunCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := New("canceled").
		Register(NewPhase("a", func(context.Context, *Scope) error { return nil })).
		Create()
	require.NoError(t, err)

	res := Run(ctx, p, GoroutineRunner{})
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.ErrorIs(t, res.Err, ErrProcessAborted)
	assert.Empty(t, res.Completed)
}

func TestRunObserver(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]error{}
	p, err := New("observed").
		Register(
			NewPhase("ok", func(context.Context, *Scope) error { return nil }),
			NewPhase("bad", func(context.Context, *Scope) error { return errors.New("bad") }),
		).
		Create()
	require.NoError(t, err)

	Run(context.Background(), p, GoroutineRunner{}, WithPhaseObserver(func(process, phase string, err error, _ time.Duration) {
		mu.Lock()
		seen[phase] = err
		mu.Unlock()
	}))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, "bad")
	assert.Error(t, seen["bad"])
}

func TestScopeValueTypeMismatch(t *testing.T) {
	s := NewScope()
	s.Set("k", 42)

	_, err := Value[string](s, "k")
	assert.Error(t, err)
	_, err = Value[int](s, "missing")
	assert.Error(t, err)

	v, err := Value[int](s, "k")
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, []string{"k"}, s.Keys())
}
