package kernel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/modkernel/internal/application/manager"
	"github.com/aescanero/modkernel/internal/application/tracker"
	"github.com/aescanero/modkernel/internal/application/workers"
	"github.com/aescanero/modkernel/internal/process"
	artifacts "github.com/aescanero/modkernel/pkg/adapters/artifacts/memory"
	events "github.com/aescanero/modkernel/pkg/adapters/events/memory"
	loader "github.com/aescanero/modkernel/pkg/adapters/loader/memory"
	"github.com/aescanero/modkernel/pkg/adapters/metrics/noop"
	store "github.com/aescanero/modkernel/pkg/adapters/storage/memory"
	"github.com/aescanero/modkernel/pkg/domain"
)

type fixture struct {
	kernel    *Kernel
	loader    *loader.Loader
	artifacts *artifacts.Source
	store     *store.ModuleStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := noop.NewCollector()

	pool := workers.NewPool(4, metrics, logger, 0)
	require.NoError(t, pool.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	f := &fixture{
		loader:    loader.New(),
		artifacts: artifacts.New(),
		store:     store.NewModuleStore(),
	}
	k, err := New(&Config{
		Pool:           pool,
		Bus:            events.NewInMemoryEventBus(logger),
		Store:          f.store,
		Loader:         f.loader,
		Artifacts:      f.artifacts,
		Metrics:        metrics,
		Logger:         logger,
		ProcessTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	f.kernel = k
	return f
}

func (f *fixture) save(t *testing.T, coord string, deps ...string) domain.Coordinate {
	t.Helper()
	rec := domain.ModuleRecord{
		Coordinate: domain.MustParseCoordinate(coord),
		Location:   "file:///deploy/" + coord,
		Path:       "mem://modules/" + coord,
		State:      domain.StateInstalled,
	}
	for _, d := range deps {
		rec.Dependencies = append(rec.Dependencies, domain.MustParseCoordinate(d))
	}
	require.NoError(t, f.store.Save(context.Background(), rec))
	return rec.Coordinate
}

func (f *fixture) installAndActivate(t *testing.T, location, coord string, deps ...string) domain.Coordinate {
	t.Helper()
	d := domain.Descriptor{Coordinate: domain.MustParseCoordinate(coord)}
	for _, dep := range deps {
		d.Dependencies = append(d.Dependencies, domain.MustParseCoordinate(dep))
	}
	f.artifacts.Add(location, d)

	p, err := f.kernel.ModuleManager().PrepareInstall(domain.NewInstallationGroup(
		domain.InstallationRequest{Location: location, Action: domain.ActionActivate},
	))
	require.NoError(t, err)
	out := wait(t, p.Commit(context.Background()))
	require.NoError(t, domain.OutcomeErrors(out))
	return d.Coordinate
}

func wait(t *testing.T, f *manager.CompositeFuture) []domain.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := f.Wait(ctx)
	require.NoError(t, err)
	return out
}

func count(calls []string, prefix string) int {
	n := 0
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
}

func TestStartAndStopTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := f.kernel

	assert.Equal(t, StateStopped, k.State())
	err := k.Stop(ctx)
	assert.ErrorIs(t, err, ErrKernelState)

	require.NoError(t, k.Start(ctx))
	assert.Equal(t, StateRunning, k.State())

	var serr *StateError
	require.ErrorAs(t, k.Start(ctx), &serr)
	assert.Equal(t, StateRunning, serr.State)

	require.NoError(t, k.Stop(ctx))
	assert.Equal(t, StateStopped, k.State())
	assert.Equal(t, "stopped", k.State().String())
}

func TestShutdownDrainsInFlightProcesses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.kernel.Start(ctx))

	entered := make(chan struct{})
	release := make(chan struct{})
	p, err := process.New("slow").
		Register(
			process.NewPhase("first", func(context.Context, *process.Scope) error {
				close(entered)
				<-release
				return nil
			}),
			process.NewPhase("second", func(context.Context, *process.Scope) error { return nil }),
		).
		Task("second").DependsOn("first").
		Create()
	require.NoError(t, err)
	tr := f.kernel.Scheduler().Submit(ctx, p)
	<-entered

	done := make(chan error, 1)
	go func() { done <- f.kernel.Shutdown(ctx) }()

	assert.Never(t, func() bool { return len(done) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not return")
	}
	require.NoError(t, tr.Err())
	assert.Equal(t, workers.TrackerSucceeded, tr.State())
	assert.Equal(t, StateStopped, f.kernel.State())

	late := f.kernel.Scheduler().Submit(ctx, p)
	<-late.Done()
	assert.ErrorIs(t, late.Err(), workers.ErrPoolNotRunning)
}

func TestStartRestoresPersistedModules(t *testing.T) {
	f := newFixture(t)
	db := f.save(t, "acme:db:1.0.0")
	web := f.save(t, "acme:web:1.0.0", "acme:db:1.0.0")
	orphan := f.save(t, "acme:api:1.0.0", "acme:missing:1.0.0")

	require.NoError(t, f.kernel.Start(context.Background()))

	assert.Len(t, f.kernel.Modules(), 3)
	for _, c := range []domain.Coordinate{db, web} {
		m, err := f.kernel.Module(c)
		require.NoError(t, err)
		assert.Equal(t, domain.StateResolved, m.State())
		assert.Equal(t, "mem://modules/"+c.String(), m.Path())
		assert.NotNil(t, m.Handle())
	}
	m, err := f.kernel.Module(orphan)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInstalled, m.State())
	assert.Equal(t, 3, f.loader.Handles())

	levels, err := f.kernel.ModuleManager().Schedule()
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, []domain.Coordinate{web}, levels[1])
}

func TestRestoreWithBrokenHandleFails(t *testing.T) {
	f := newFixture(t)
	c := f.save(t, "acme:db:1.0.0")
	boom := errors.New("interpreter crashed")
	f.loader.OnInstall(func(context.Context, *domain.Module) error { return boom })

	var mu sync.Mutex
	var failed []domain.Event
	sub, err := f.kernel.Subscribe(context.Background(), func(_ context.Context, e domain.Event) error {
		if e.To == domain.StateFailed {
			mu.Lock()
			failed = append(failed, e)
			mu.Unlock()
		}
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, f.kernel.Start(context.Background()))

	m, err := f.kernel.Module(c)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, m.State())
	assert.ErrorIs(t, m.Cause(), boom)
	assert.Nil(t, m.Handle())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failed) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, c, failed[0].Coordinate)
	assert.Equal(t, domain.StateInstalled, failed[0].From)
	assert.Contains(t, failed[0].Error, "interpreter crashed")
}

func TestStopDeactivatesInReverseOrderAndReloadRestores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.kernel.Start(ctx))

	db := f.installAndActivate(t, "file:///deploy/db", "acme:db:1.0.0")
	web := f.installAndActivate(t, "file:///deploy/web", "acme:web:1.0.0", "acme:db:1.0.0")

	require.NoError(t, f.kernel.Stop(ctx))

	calls := f.loader.Calls()
	var order []string
	for _, c := range calls {
		if strings.HasPrefix(c, "deactivate:") {
			order = append(order, c)
		}
	}
	assert.Equal(t, []string{"deactivate:" + web.String(), "deactivate:" + db.String()}, order)
	assert.Empty(t, f.kernel.Modules())
	assert.Equal(t, 0, f.loader.Handles())

	records, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, f.kernel.Start(ctx))
	m, err := f.kernel.Module(web)
	require.NoError(t, err)
	assert.Equal(t, domain.StateResolved, m.State())

	require.NoError(t, f.kernel.Reload(ctx))
	assert.Equal(t, StateRunning, f.kernel.State())
	assert.Len(t, f.kernel.Modules(), 2)
}

func TestUninstallForgetsRecordAndArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.kernel.Start(ctx))
	c := f.installAndActivate(t, "file:///deploy/db", "acme:db:1.0.0")

	p, err := f.kernel.ModuleManager().PrepareLifecycle(domain.NewLifecycleChangeGroup(
		domain.LifecycleChangeRequest{Coordinate: c, Action: domain.ActionStop},
	))
	require.NoError(t, err)
	require.NoError(t, domain.OutcomeErrors(wait(t, p.Commit(ctx))))

	p, err = f.kernel.ModuleManager().PrepareLifecycle(domain.NewLifecycleChangeGroup(
		domain.LifecycleChangeRequest{Coordinate: c, Action: domain.ActionUninstall},
	))
	require.NoError(t, err)
	require.NoError(t, domain.OutcomeErrors(wait(t, p.Commit(ctx))))

	records, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.False(t, f.artifacts.Stored(c))
}

func TestTrackerSeesKernelEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.kernel.Start(ctx))

	tr, err := f.kernel.Track(ctx, "test", tracker.Group("acme"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	var mu sync.Mutex
	var seen []domain.Transition
	require.NoError(t, tr.AddEventListener(func(e domain.ModuleEvent) {
		mu.Lock()
		seen = append(seen, e.Transition)
		mu.Unlock()
	}))

	f.installAndActivate(t, "file:///deploy/db", "acme:db:1.0.0")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == domain.TransitionStarted
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.TransitionInstalled, seen[0])
}

func TestDeployInstallsAndActivatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.artifacts.Add("file:///deploy/db", domain.Descriptor{Coordinate: domain.MustParseCoordinate("acme:db:1.0.0")})

	f.kernel.Deploy(ctx, []string{"/deploy/db"})
	assert.Equal(t, 0, count(f.loader.Calls(), "install:"))

	require.NoError(t, f.kernel.Start(ctx))
	f.kernel.Deploy(ctx, []string{"/deploy/db"})

	c := domain.MustParseCoordinate("acme:db:1.0.0")
	require.Eventually(t, func() bool {
		m, err := f.kernel.Module(c)
		return err == nil && m.State() == domain.StateActive
	}, 2*time.Second, 10*time.Millisecond)

	f.kernel.Deploy(ctx, []string{"/deploy/db"})
	assert.Never(t, func() bool {
		return count(f.loader.Calls(), "install:") > 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}
