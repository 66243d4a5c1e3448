package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/modkernel/pkg/adapters/events/memory"
	"github.com/aescanero/modkernel/pkg/adapters/metrics/noop"
	"github.com/aescanero/modkernel/pkg/domain"
	"github.com/aescanero/modkernel/pkg/ports"
)

type fakeSource struct {
	bus *memory.InMemoryEventBus

	mu      sync.Mutex
	modules []*domain.Module
}

func newSource(t *testing.T) *fakeSource {
	return &fakeSource{bus: memory.NewInMemoryEventBus(zaptest.NewLogger(t))}
}

func (s *fakeSource) Modules() []*domain.Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Module, len(s.modules))
	copy(out, s.modules)
	return out
}

func (s *fakeSource) Subscribe(ctx context.Context, h ports.EventHandler) (ports.Subscription, error) {
	return s.bus.Subscribe(ctx, domain.TopicModules, h)
}

func (s *fakeSource) add(coord string, state domain.State) *domain.Module {
	m := domain.NewModule(domain.Descriptor{Coordinate: domain.MustParseCoordinate(coord)}, "file:///"+coord)
	if state != domain.StateInstalled {
		m.Transition(state, nil)
	}
	s.mu.Lock()
	s.modules = append(s.modules, m)
	s.mu.Unlock()
	return m
}

func (s *fakeSource) change(t *testing.T, m *domain.Module, to domain.State) {
	t.Helper()
	from, rev := m.Transition(to, nil)
	ev := domain.NewEvent(domain.EventLifecycleChanged, m.Coordinate(), from, to, rev, nil)
	require.NoError(t, s.bus.Publish(context.Background(), domain.TopicModules, ev))
}

type collector struct {
	mu     sync.Mutex
	events []domain.ModuleEvent
}

func (c *collector) listen(e domain.ModuleEvent) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) pairs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Coordinate.Name + ":" + string(e.Transition)
	}
	return out
}

func track(t *testing.T, src *fakeSource, filter Filter) *Tracker {
	t.Helper()
	tr, err := Track(context.Background(), src, "test", filter, noop.NewCollector(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return tr
}

func TestCatchUpSynthesizesImpliedTransitions(t *testing.T) {
	src := newSource(t)
	src.add("acme:db:1.0.0", domain.StateActive)
	src.add("acme:web:1.0.0", domain.StateResolved)
	src.add("acme:api:1.0.0", domain.StateFailed)

	tr := track(t, src, nil)
	c := &collector{}
	require.NoError(t, tr.AddEventListener(c.listen))
	require.NoError(t, tr.Close())

	assert.Equal(t, []string{
		"db:INSTALLED", "db:STARTED",
		"web:INSTALLED", "web:RESOLVED",
		"api:INSTALLED", "api:FAILED",
	}, c.pairs())
	for _, e := range c.events {
		assert.True(t, e.Synthetic)
	}
}

func TestLiveEventsCoveredByCatchUpAreDropped(t *testing.T) {
	src := newSource(t)
	m := src.add("acme:db:1.0.0", domain.StateResolved)

	tr := track(t, src, nil)

	// Queued behind the catch-up task, which will observe Active already
	src.change(t, m, domain.StateStarting)
	src.change(t, m, domain.StateActive)

	c := &collector{}
	require.NoError(t, tr.AddEventListener(c.listen))
	require.Eventually(t, func() bool { return len(c.pairs()) == 2 }, time.Second, 5*time.Millisecond)

	src.change(t, m, domain.StateStopping)
	src.change(t, m, domain.StateResolved)
	require.NoError(t, tr.Close())

	assert.Equal(t, []string{
		"db:INSTALLED", "db:STARTED", "db:STOPPING", "db:STOPPED",
	}, c.pairs())
	assert.True(t, c.events[1].Synthetic)
	assert.False(t, c.events[2].Synthetic)
}

func TestDuplicateLiveEventIsDeliveredOnce(t *testing.T) {
	src := newSource(t)
	m := src.add("acme:db:1.0.0", domain.StateInstalled)

	tr := track(t, src, nil)
	c := &collector{}
	require.NoError(t, tr.AddEventListener(c.listen))

	src.change(t, m, domain.StateResolved)
	_, rev := m.Snapshot()
	dup := domain.NewEvent(domain.EventLifecycleChanged, m.Coordinate(), domain.StateInstalled, domain.StateResolved, rev, nil)
	require.NoError(t, src.bus.Publish(context.Background(), domain.TopicModules, dup))
	require.NoError(t, tr.Close())

	resolved := 0
	for _, p := range c.pairs() {
		if p == "db:RESOLVED" {
			resolved++
		}
	}
	assert.Equal(t, 1, resolved)
}

func TestListenerKindsAndFilter(t *testing.T) {
	src := newSource(t)
	src.add("acme:db:1.0.0", domain.StateActive)
	src.add("other:web:1.0.0", domain.StateActive)

	tr := track(t, src, Group("acme"))
	started := &collector{}
	all := &collector{}
	require.NoError(t, tr.AddEventListener(started.listen, domain.TransitionStarted))
	require.NoError(t, tr.AddEventListener(all.listen))
	require.NoError(t, tr.Close())

	assert.Equal(t, []string{"db:STARTED"}, started.pairs())
	for _, p := range all.pairs() {
		assert.NotContains(t, p, "web")
	}
}

func TestCoordinatesFilter(t *testing.T) {
	db := domain.MustParseCoordinate("acme:db:1.0.0")
	f := Coordinates(db)
	assert.True(t, f(db))
	assert.False(t, f(domain.MustParseCoordinate("acme:db:2.0.0")))
}

func TestUninstallResetsDedup(t *testing.T) {
	src := newSource(t)
	m := src.add("acme:db:1.0.0", domain.StateInstalled)

	tr := track(t, src, nil)
	c := &collector{}
	require.NoError(t, tr.AddEventListener(c.listen))
	require.Eventually(t, func() bool { return len(c.pairs()) == 1 }, time.Second, 5*time.Millisecond)

	src.change(t, m, domain.StateUninstalled)

	fresh := domain.NewModule(domain.Descriptor{Coordinate: m.Coordinate()}, "file:///again")
	ev := domain.NewEvent(domain.EventModuleInstalled, fresh.Coordinate(), domain.StateUninstalled, domain.StateInstalled, fresh.Revision(), nil)
	require.NoError(t, src.bus.Publish(context.Background(), domain.TopicModules, ev))
	require.NoError(t, tr.Close())

	assert.Equal(t, []string{"db:INSTALLED", "db:UNINSTALLED", "db:INSTALLED"}, c.pairs())
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	src := newSource(t)
	m := src.add("acme:db:1.0.0", domain.StateResolved)

	tr := track(t, src, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	c := &collector{}
	require.NoError(t, tr.AddEventListener(func(e domain.ModuleEvent) {
		once.Do(func() { close(entered) })
		<-release
		c.listen(e)
	}))
	<-entered

	for i := 0; i < 5; i++ {
		src.change(t, m, domain.StateStarting)
		src.change(t, m, domain.StateActive)
		src.change(t, m, domain.StateStopping)
		src.change(t, m, domain.StateResolved)
	}

	closed := make(chan struct{})
	go func() {
		_ = tr.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before the queue drained")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Len(t, c.pairs(), 2+20)
}

func TestClosedTrackerRejectsDeliveries(t *testing.T) {
	src := newSource(t)
	m := src.add("acme:db:1.0.0", domain.StateInstalled)

	tr := track(t, src, nil)
	require.NoError(t, tr.Close())
	assert.Equal(t, 0, src.bus.SubscriberCount(domain.TopicModules))

	err := tr.AddEventListener(func(domain.ModuleEvent) {})
	assert.ErrorIs(t, err, ErrTrackerClosed)

	err = tr.onEvent(context.Background(), domain.NewEvent(domain.EventLifecycleChanged, m.Coordinate(), domain.StateInstalled, domain.StateResolved, 1, nil))
	var ce *ClosedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "test", ce.Host)

	assert.NoError(t, tr.Close())
}
