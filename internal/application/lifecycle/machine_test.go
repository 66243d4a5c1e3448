package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/modkernel/internal/application/registry"
	"github.com/aescanero/modkernel/internal/application/workers"
	"github.com/aescanero/modkernel/internal/process"
	"github.com/aescanero/modkernel/pkg/adapters/loader/memory"
	"github.com/aescanero/modkernel/pkg/adapters/metrics/noop"
	"github.com/aescanero/modkernel/pkg/domain"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) changes() [][2]domain.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][2]domain.State
	for _, e := range r.events {
		if e.Type == domain.EventLifecycleChanged {
			out = append(out, [2]domain.State{e.From, e.To})
		}
	}
	return out
}

type forgetter struct {
	forgotten []domain.Coordinate
}

func (f *forgetter) Forget(_ context.Context, m *domain.Module) error {
	f.forgotten = append(f.forgotten, m.Coordinate())
	return nil
}

type fixture struct {
	machine *Machine
	modules *registry.Registry
	loader  *memory.Loader
	events  *recorder
	storage *forgetter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	pool := workers.NewPool(4, noop.NewCollector(), logger, 0)
	require.NoError(t, pool.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	f := &fixture{
		modules: registry.New(),
		loader:  memory.New(),
		events:  &recorder{},
		storage: &forgetter{},
	}
	f.machine = NewMachine(f.modules, workers.NewScheduler(pool, noop.NewCollector(), logger),
		f.loader, f.storage, f.events, noop.NewCollector(), logger)
	return f
}

func (f *fixture) install(t *testing.T, coord string, deps ...string) *domain.Module {
	t.Helper()
	d := domain.Descriptor{Coordinate: domain.MustParseCoordinate(coord)}
	for _, dep := range deps {
		d.Dependencies = append(d.Dependencies, domain.MustParseCoordinate(dep))
	}
	m := domain.NewModule(d, "file:///modules/"+coord)
	h, err := f.loader.Install(context.Background(), m)
	require.NoError(t, err)
	m.SetHandle(h)
	require.NoError(t, f.modules.Add(m))
	return m
}

func wait(t *testing.T, tr *workers.Tracker) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return tr.Wait(ctx)
}

func TestStartWithUnresolvedDependenciesIsRejected(t *testing.T) {
	f := newFixture(t)
	m := f.install(t, "acme:web:1.0.0", "acme:db:1.0.0")

	tr, err := f.machine.Start(context.Background(), m)
	assert.Nil(t, tr)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, OpStart, te.Operation)
	assert.Contains(t, te.Error(), "acme:db:1.0.0")

	assert.Equal(t, domain.StateInstalled, m.State())
	assert.Empty(t, f.events.changes())
}

func TestStartFromResolvedEmitsTwoEvents(t *testing.T) {
	f := newFixture(t)
	m := f.install(t, "acme:db:1.0.0")
	f.machine.SetState(m, domain.StateResolved)
	assert.Empty(t, f.events.changes(), "SetState is silent")

	tr, err := f.machine.Start(context.Background(), m)
	require.NoError(t, err)
	require.NoError(t, wait(t, tr))

	assert.Equal(t, domain.StateActive, m.State())
	assert.Equal(t, [][2]domain.State{
		{domain.StateResolved, domain.StateStarting},
		{domain.StateStarting, domain.StateActive},
	}, f.events.changes())
	assert.Contains(t, f.loader.Calls(), "activate:acme:db:1.0.0")
}

func TestStartFromInstalledResolvesSilently(t *testing.T) {
	f := newFixture(t)
	db := f.install(t, "acme:db:1.0.0")
	web := f.install(t, "acme:web:1.0.0", "acme:db:1.0.0")
	f.machine.SetState(db, domain.StateActive)

	tr, err := f.machine.Start(context.Background(), web)
	require.NoError(t, err)
	require.NoError(t, wait(t, tr))
	assert.Equal(t, domain.StateActive, web.State())
	assert.Len(t, f.events.changes(), 2)
}

func TestStopReturnsToResolved(t *testing.T) {
	f := newFixture(t)
	m := f.install(t, "acme:db:1.0.0")
	f.machine.SetState(m, domain.StateActive)

	_, err := f.machine.Start(context.Background(), m)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	tr, err := f.machine.Stop(context.Background(), m)
	require.NoError(t, err)
	require.NoError(t, wait(t, tr))

	assert.Equal(t, domain.StateResolved, m.State())
	assert.Equal(t, [][2]domain.State{
		{domain.StateActive, domain.StateStopping},
		{domain.StateStopping, domain.StateResolved},
	}, f.events.changes())

	_, err = f.machine.Stop(context.Background(), m)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFailedActivationMovesModuleToFailed(t *testing.T) {
	f := newFixture(t)
	m := f.install(t, "acme:db:1.0.0")
	f.machine.SetState(m, domain.StateResolved)

	boom := errors.New("port in use")
	f.loader.OnActivate(func(context.Context, *domain.Module) error { return boom })

	tr, err := f.machine.Start(context.Background(), m)
	require.NoError(t, err)

	err = wait(t, tr)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "activate", process.FailedPhase(err))

	assert.Equal(t, domain.StateFailed, m.State())
	assert.ErrorIs(t, m.Cause(), boom)
	assert.Equal(t, [][2]domain.State{
		{domain.StateResolved, domain.StateStarting},
		{domain.StateStarting, domain.StateFailed},
	}, f.events.changes())

	f.events.mu.Lock()
	last := f.events.events[len(f.events.events)-1]
	f.events.mu.Unlock()
	assert.Contains(t, last.Error, "port in use")
}

func TestRestartActiveModule(t *testing.T) {
	f := newFixture(t)
	m := f.install(t, "acme:db:1.0.0")
	f.machine.SetState(m, domain.StateActive)

	tr, err := f.machine.Restart(context.Background(), m)
	require.NoError(t, err)
	require.NoError(t, wait(t, tr))

	assert.Equal(t, domain.StateActive, m.State())
	assert.Equal(t, [][2]domain.State{
		{domain.StateActive, domain.StateStopping},
		{domain.StateStopping, domain.StateResolved},
		{domain.StateResolved, domain.StateStarting},
		{domain.StateStarting, domain.StateActive},
	}, f.events.changes())
}

func TestUninstall(t *testing.T) {
	f := newFixture(t)
	db := f.install(t, "acme:db:1.0.0")
	web := f.install(t, "acme:web:1.0.0", "acme:db:1.0.0")

	_, err := f.machine.Uninstall(context.Background(), db)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "required by acme:web:1.0.0")

	tr, err := f.machine.Uninstall(context.Background(), web)
	require.NoError(t, err)
	require.NoError(t, wait(t, tr))

	assert.Equal(t, domain.StateUninstalled, web.State())
	assert.False(t, f.modules.Contains(web.Coordinate()))
	assert.Equal(t, []domain.Coordinate{web.Coordinate()}, f.storage.forgotten)
	assert.Nil(t, web.Handle())
	assert.Equal(t, 1, f.loader.Handles())

	tr, err = f.machine.Uninstall(context.Background(), db)
	require.NoError(t, err)
	require.NoError(t, wait(t, tr))
	assert.Equal(t, 0, f.loader.Handles())
}

func TestReinstallFailedModule(t *testing.T) {
	f := newFixture(t)
	m := f.install(t, "acme:db:1.0.0")
	f.machine.Fail(context.Background(), m, errors.New("crashed"))
	require.Equal(t, domain.StateFailed, m.State())

	tr, err := f.machine.Reinstall(context.Background(), m)
	require.NoError(t, err)
	require.NoError(t, wait(t, tr))

	assert.Equal(t, domain.StateResolved, m.State(), "reinstall resolves silently when dependencies allow")
	assert.NoError(t, m.Cause())
	assert.Equal(t, [][2]domain.State{
		{domain.StateInstalled, domain.StateFailed},
		{domain.StateFailed, domain.StateInstalled},
	}, f.events.changes())
}

func TestResolveAndCatchUp(t *testing.T) {
	f := newFixture(t)
	db := f.install(t, "acme:db:1.0.0")
	web := f.install(t, "acme:web:1.0.0", "acme:db:1.0.0")
	api := f.install(t, "acme:api:1.0.0", "acme:missing:1.0.0")

	_, err := f.machine.Resolve(context.Background(), web)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	resolved := f.machine.CatchUp([]*domain.Module{db, web, api})
	assert.Equal(t, []domain.Coordinate{db.Coordinate(), web.Coordinate()}, resolved)
	assert.Equal(t, domain.StateInstalled, api.State())
	assert.Empty(t, f.events.changes())

	other := f.install(t, "acme:cache:1.0.0")
	tr, err := f.machine.Resolve(context.Background(), other)
	require.NoError(t, err)
	require.NoError(t, wait(t, tr))
	assert.Equal(t, [][2]domain.State{{domain.StateInstalled, domain.StateResolved}}, f.events.changes())
}
