package manager

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/modkernel/internal/application/lifecycle"
	"github.com/aescanero/modkernel/internal/application/registry"
	"github.com/aescanero/modkernel/internal/application/workers"
	"github.com/aescanero/modkernel/internal/graph"
	"github.com/aescanero/modkernel/internal/process"
	"github.com/aescanero/modkernel/pkg/domain"
	"github.com/aescanero/modkernel/pkg/ports"
)

// dependency graph of module coordinates; an edge A -> B means A requires B
type dependencyGraph = graph.Graph[struct{}, domain.Coordinate]

// Manager validates and commits request groups
type Manager struct {
	modules   *registry.Registry
	machine   *lifecycle.Machine
	scheduler lifecycle.Submitter
	artifacts ports.ArtifactSource
	loader    ports.Loader
	store     ports.ModuleStore
	metrics   ports.MetricsCollector
	validator *Validator
	logger    *zap.Logger

	mu    sync.Mutex
	graph *dependencyGraph
	// coordinate -> name of the process holding it
	busy map[domain.Coordinate]string
}

// NewManager creates a new module manager
func NewManager(
	modules *registry.Registry,
	machine *lifecycle.Machine,
	scheduler lifecycle.Submitter,
	artifacts ports.ArtifactSource,
	loader ports.Loader,
	store ports.ModuleStore,
	metrics ports.MetricsCollector,
	validator *Validator,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		modules:   modules,
		machine:   machine,
		scheduler: scheduler,
		artifacts: artifacts,
		loader:    loader,
		store:     store,
		metrics:   metrics,
		validator: validator,
		logger:    logger,
		graph:     graph.New[struct{}, domain.Coordinate](),
		busy:      make(map[domain.Coordinate]string),
	}
}

// Preparation is a validated request group ready to be committed
type Preparation struct {
	manager   *Manager
	install   []domain.InstallationRequest
	lifecycle []domain.LifecycleChangeRequest
}

// Len returns the number of requests in the group
func (p *Preparation) Len() int {
	return len(p.install) + len(p.lifecycle)
}

// Commit submits every request and returns a future of their outcomes.
// Requests are independent: one failing does not undo the others.
func (p *Preparation) Commit(ctx context.Context) *CompositeFuture {
	if p.install != nil {
		return p.manager.commitInstall(ctx, p.install)
	}
	return p.manager.commitLifecycle(ctx, p.lifecycle)
}

// PrepareInstall validates an installation group
func (m *Manager) PrepareInstall(g domain.InstallationGroup) (*Preparation, error) {
	if err := m.validator.ValidateInstall(g); err != nil {
		m.logger.Warn("installation group rejected", zap.Error(err))
		return nil, err
	}
	reqs := make([]domain.InstallationRequest, len(g.Requests))
	copy(reqs, g.Requests)
	return &Preparation{manager: m, install: reqs}, nil
}

// PrepareLifecycle validates a lifecycle change group
func (m *Manager) PrepareLifecycle(g domain.LifecycleChangeGroup) (*Preparation, error) {
	if err := m.validator.ValidateLifecycle(g, m.modules); err != nil {
		m.logger.Warn("lifecycle group rejected", zap.Error(err))
		return nil, err
	}
	reqs := make([]domain.LifecycleChangeRequest, len(g.Requests))
	copy(reqs, g.Requests)
	return &Preparation{manager: m, lifecycle: reqs}, nil
}

func (m *Manager) commitLifecycle(ctx context.Context, reqs []domain.LifecycleChangeRequest) *CompositeFuture {
	f := newFuture(len(reqs))
	trackers := make([]*workers.Tracker, len(reqs))

	// Markers are taken synchronously so a conflicting commit fails at once
	for i, req := range reqs {
		f.outcomes[i] = domain.Outcome{
			Index:      i,
			Target:     req.Coordinate.String(),
			Coordinate: req.Coordinate,
			Action:     req.Action,
		}
		tr, err := m.submitLifecycle(ctx, req)
		if err != nil {
			f.outcomes[i].Err = err
			continue
		}
		trackers[i] = tr
	}

	go func() {
		for i, tr := range trackers {
			if tr == nil {
				continue
			}
			<-tr.Done()
			if err := tr.Err(); err != nil {
				f.outcomes[i].Err = err
				f.outcomes[i].Phase = process.FailedPhase(err)
			}
		}
		m.finish(f)
	}()

	return f
}

func (m *Manager) submitLifecycle(ctx context.Context, req domain.LifecycleChangeRequest) (*workers.Tracker, error) {
	c := req.Coordinate
	mod, err := m.modules.Get(c)
	if err != nil {
		return nil, err
	}

	holder := lifecycle.ProcessName(c, string(req.Action))
	if err := m.acquire(c, holder); err != nil {
		return nil, err
	}

	done := func(res *process.Result) {
		if req.Action == domain.ActionUninstall && res.Err == nil {
			m.Forget(c)
		}
		m.release(c)
	}

	var tr *workers.Tracker
	switch req.Action {
	case domain.ActionStart:
		tr, err = m.machine.Start(ctx, mod, done)
	case domain.ActionStop:
		tr, err = m.machine.Stop(ctx, mod, done)
	case domain.ActionRestart:
		tr, err = m.machine.Restart(ctx, mod, done)
	case domain.ActionUninstall:
		tr, err = m.machine.Uninstall(ctx, mod, done)
	case domain.ActionReinstall:
		tr, err = m.machine.Reinstall(ctx, mod, done)
	default:
		err = &ValidationError{Problems: []Problem{{Field: "action", Message: "unsupported action " + string(req.Action)}}}
	}
	if err != nil {
		m.release(c)
		return nil, err
	}
	return tr, nil
}

// Start starts an installed module while holding its busy marker
func (m *Manager) Start(ctx context.Context, mod *domain.Module) (*workers.Tracker, error) {
	c := mod.Coordinate()
	if err := m.acquire(c, lifecycle.ProcessName(c, lifecycle.OpStart)); err != nil {
		return nil, err
	}
	tr, err := m.machine.Start(ctx, mod, func(*process.Result) { m.release(c) })
	if err != nil {
		m.release(c)
		return nil, err
	}
	return tr, nil
}

// Stop stops an active module while holding its busy marker
func (m *Manager) Stop(ctx context.Context, mod *domain.Module) (*workers.Tracker, error) {
	c := mod.Coordinate()
	if err := m.acquire(c, lifecycle.ProcessName(c, lifecycle.OpStop)); err != nil {
		return nil, err
	}
	tr, err := m.machine.Stop(ctx, mod, func(*process.Result) { m.release(c) })
	if err != nil {
		m.release(c)
		return nil, err
	}
	return tr, nil
}

// Busy reports whether a process currently holds the module's marker
func (m *Manager) Busy(c domain.Coordinate) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.busy[c]
	return ok
}

func (m *Manager) acquire(c domain.Coordinate, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.busy[c]; ok {
		m.metrics.RecordModuleBusy()
		m.logger.Warn("module busy",
			zap.String("coordinate", c.String()),
			zap.String("holder", current),
			zap.String("requested", holder))
		return &ModuleBusyError{Coordinate: c, Holder: current}
	}
	m.busy[c] = holder
	return nil
}

func (m *Manager) release(c domain.Coordinate) {
	m.mu.Lock()
	delete(m.busy, c)
	m.mu.Unlock()
}

// Adopt inserts an already installed module into the dependency graph
func (m *Manager) Adopt(mod *domain.Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(mod.Coordinate(), mod.Dependencies())
}

// Forget removes a module from the dependency graph. The vertex stays as a
// placeholder while other modules still declare it as a dependency.
func (m *Manager) Forget(c domain.Coordinate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(c)
}

// Schedule levels the installed modules, dependencies first
func (m *Manager) Schedule() ([][]domain.Coordinate, error) {
	m.mu.Lock()
	g := m.graph.Clone()
	m.mu.Unlock()

	s, err := graph.BuildSchedule(g, nil, m.modules.Contains)
	if err != nil {
		return nil, fmt.Errorf("failed to order modules: %w", err)
	}
	return s.Values(), nil
}

// CatchUp silently resolves every Installed module whose dependencies are
// satisfied, dependencies first
func (m *Manager) CatchUp() ([]domain.Coordinate, error) {
	levels, err := m.Schedule()
	if err != nil {
		return nil, err
	}
	var ordered []*domain.Module
	for _, level := range levels {
		for _, c := range level {
			if mod, err := m.modules.Get(c); err == nil {
				ordered = append(ordered, mod)
			}
		}
	}
	resolved := m.machine.CatchUp(ordered)
	if len(resolved) > 0 {
		m.logger.Debug("resolution caught up", zap.Int("resolved", len(resolved)))
	}
	return resolved, nil
}

func (m *Manager) insertLocked(c domain.Coordinate, deps []domain.Coordinate) error {
	existed := m.graph.Contains(c)
	m.graph.AddVertex(c)
	for _, d := range deps {
		m.graph.Connect(c, d, struct{}{})
	}

	if _, err := graph.BuildSchedule(m.graph, nil, nil); err != nil {
		for _, d := range deps {
			m.graph.Disconnect(c, d)
		}
		if !existed && len(m.graph.DependentsOf(c)) == 0 {
			m.graph.Delete(c)
		}
		m.prunePlaceholders(deps)
		return fmt.Errorf("failed to insert %s into dependency graph: %w", c, err)
	}
	return nil
}

func (m *Manager) removeLocked(c domain.Coordinate) {
	if !m.graph.Contains(c) {
		return
	}
	edges := m.graph.DependenciesOf(c)
	deps := make([]domain.Coordinate, 0, len(edges))
	for _, e := range edges {
		m.graph.Disconnect(c, e.Target)
		deps = append(deps, e.Target)
	}
	if len(m.graph.DependentsOf(c)) == 0 {
		m.graph.Delete(c)
	}
	m.prunePlaceholders(deps)
}

// prunePlaceholders drops dependency vertices no installed module needs
func (m *Manager) prunePlaceholders(deps []domain.Coordinate) {
	for _, d := range deps {
		if m.modules.Contains(d) || !m.graph.Contains(d) {
			continue
		}
		if len(m.graph.DependentsOf(d)) == 0 && len(m.graph.DependenciesOf(d)) == 0 {
			m.graph.Delete(d)
		}
	}
}

var countedStates = []domain.State{
	domain.StateInstalled,
	domain.StateResolved,
	domain.StateStarting,
	domain.StateActive,
	domain.StateStopping,
	domain.StateFailed,
}

// finish records per-request metrics and resolves f
func (m *Manager) finish(f *CompositeFuture) {
	for _, o := range f.outcomes {
		status := "succeeded"
		if o.Err != nil {
			status = "failed"
			m.logger.Warn("request failed",
				zap.Int("index", o.Index),
				zap.String("target", o.Target),
				zap.String("action", string(o.Action)),
				zap.String("phase", o.Phase),
				zap.Error(o.Err))
		}
		m.metrics.RecordRequest(o.Action, status)
	}
	m.RefreshCounts()
	f.resolve()
}

// RefreshCounts publishes the number of modules per state
func (m *Manager) RefreshCounts() {
	counts := m.modules.CountByState()
	for _, s := range countedStates {
		m.metrics.SetModuleCount(s, counts[s])
	}
}
