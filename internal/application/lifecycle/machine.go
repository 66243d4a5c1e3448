package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aescanero/modkernel/internal/application/registry"
	"github.com/aescanero/modkernel/internal/application/workers"
	"github.com/aescanero/modkernel/internal/process"
	"github.com/aescanero/modkernel/pkg/domain"
	"github.com/aescanero/modkernel/pkg/ports"
)

// Operation names
const (
	OpResolve   = "resolve"
	OpStart     = "start"
	OpStop      = "stop"
	OpRestart   = "restart"
	OpUninstall = "uninstall"
	OpReinstall = "reinstall"
)

// Publisher delivers events to the kernel event channel
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Submitter runs processes asynchronously
type Submitter interface {
	Submit(ctx context.Context, p *process.Process, hooks ...workers.CompletionHook) *workers.Tracker
}

// Storage forgets a module's persisted record and artifact on uninstall
type Storage interface {
	Forget(ctx context.Context, m *domain.Module) error
}

// Machine validates and executes lifecycle transitions. Every operation
// except SetState runs as a submitted process and publishes one
// lifecycle-changed event per state change. Hooks passed to an operation run
// once its process has finished, before the returned tracker resolves.
type Machine struct {
	modules   *registry.Registry
	scheduler Submitter
	loader    ports.Loader
	storage   Storage
	events    Publisher
	metrics   ports.MetricsCollector
	logger    *zap.Logger
}

// NewMachine creates a lifecycle machine
func NewMachine(
	modules *registry.Registry,
	scheduler Submitter,
	loader ports.Loader,
	storage Storage,
	events Publisher,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Machine {
	return &Machine{
		modules:   modules,
		scheduler: scheduler,
		loader:    loader,
		storage:   storage,
		events:    events,
		metrics:   metrics,
		logger:    logger,
	}
}

// SetState assigns a state without publishing an event. It is reserved for
// bookkeeping such as resolution catch-up.
func (l *Machine) SetState(m *domain.Module, s domain.State) {
	from, _ := m.Transition(s, nil)
	l.metrics.RecordLifecycleTransition(from, s)
	l.logger.Debug("module state set",
		zap.String("coordinate", m.Coordinate().String()),
		zap.String("from", from.String()),
		zap.String("to", s.String()))
}

// CatchUp silently resolves, in the given order, every Installed module
// whose dependencies are satisfied. Callers pass dependencies before
// dependents. It returns the coordinates that were resolved.
func (l *Machine) CatchUp(ordered []*domain.Module) []domain.Coordinate {
	var resolved []domain.Coordinate
	for _, m := range ordered {
		if m.State() != domain.StateInstalled {
			continue
		}
		if len(l.modules.Unsatisfied(m)) > 0 {
			continue
		}
		l.SetState(m, domain.StateResolved)
		resolved = append(resolved, m.Coordinate())
	}
	return resolved
}

// Resolve moves an Installed module with satisfied dependencies to Resolved
func (l *Machine) Resolve(ctx context.Context, m *domain.Module, hooks ...workers.CompletionHook) (*workers.Tracker, error) {
	if err := l.expect(m, OpResolve, domain.StateInstalled); err != nil {
		return nil, err
	}
	if err := l.checkDependencies(m, OpResolve); err != nil {
		return nil, err
	}

	p, err := l.build(m, OpResolve,
		process.NewPhase("resolve", l.changePhase(m, domain.StateResolved)),
	).Create()
	if err != nil {
		return nil, err
	}
	return l.submit(ctx, m, p, hooks), nil
}

// Start moves a Resolved module through Starting to Active. An Installed
// module whose dependencies are satisfied is resolved silently first.
func (l *Machine) Start(ctx context.Context, m *domain.Module, hooks ...workers.CompletionHook) (*workers.Tracker, error) {
	if err := l.prepareStart(m, OpStart); err != nil {
		return nil, err
	}

	p, err := l.startPhases(l.build(m, OpStart), m, nil).Create()
	if err != nil {
		return nil, err
	}
	return l.submit(ctx, m, p, hooks), nil
}

// Stop moves an Active module through Stopping back to Resolved
func (l *Machine) Stop(ctx context.Context, m *domain.Module, hooks ...workers.CompletionHook) (*workers.Tracker, error) {
	if err := l.expect(m, OpStop, domain.StateActive); err != nil {
		return nil, err
	}

	p, err := l.stopPhases(l.build(m, OpStop), m).Create()
	if err != nil {
		return nil, err
	}
	return l.submit(ctx, m, p, hooks), nil
}

// Restart stops an Active module and starts it again. A module that is not
// running is just started.
func (l *Machine) Restart(ctx context.Context, m *domain.Module, hooks ...workers.CompletionHook) (*workers.Tracker, error) {
	b := l.build(m, OpRestart)
	if m.State() == domain.StateActive {
		b = l.stopPhases(b, m)
		b = l.startPhases(b, m, []string{"deactivate"})
	} else {
		if err := l.prepareStart(m, OpRestart); err != nil {
			return nil, err
		}
		b = l.startPhases(b, m, nil)
	}

	p, err := b.Create()
	if err != nil {
		return nil, err
	}
	return l.submit(ctx, m, p, hooks), nil
}

// Uninstall releases the module's isolation handle, forgets its storage and
// removes it from the kernel. Installed, Resolved and Failed modules can be
// uninstalled as long as no other module depends on them.
func (l *Machine) Uninstall(ctx context.Context, m *domain.Module, hooks ...workers.CompletionHook) (*workers.Tracker, error) {
	if err := l.expect(m, OpUninstall, domain.StateInstalled, domain.StateResolved, domain.StateFailed); err != nil {
		return nil, err
	}
	if dependents := l.modules.Dependents(m.Coordinate()); len(dependents) > 0 {
		names := make([]string, len(dependents))
		for i, d := range dependents {
			names[i] = d.Coordinate().String()
		}
		return nil, &TransitionError{
			Coordinate: m.Coordinate(),
			Operation:  OpUninstall,
			State:      m.State(),
			Reason:     "required by " + strings.Join(names, ", "),
		}
	}

	release := process.NewPhase("release", func(ctx context.Context, _ *process.Scope) error {
		if err := l.loader.Uninstall(ctx, m); err != nil {
			return fmt.Errorf("failed to release isolation handle: %w", err)
		}
		m.SetHandle(nil)
		return nil
	})
	forget := process.NewPhase("forget", func(ctx context.Context, _ *process.Scope) error {
		if l.storage == nil {
			return nil
		}
		return l.storage.Forget(ctx, m)
	})
	uninstalled := process.NewPhase("uninstalled", func(ctx context.Context, s *process.Scope) error {
		if err := l.changePhase(m, domain.StateUninstalled)(ctx, s); err != nil {
			return err
		}
		l.modules.Remove(m.Coordinate())
		return nil
	})

	p, err := l.build(m, OpUninstall, release, forget, uninstalled).
		Task("forget").DependsOn("release").
		Task("uninstalled").DependsOn("forget").
		Create()
	if err != nil {
		return nil, err
	}
	return l.submit(ctx, m, p, hooks), nil
}

// Reinstall acquires a fresh isolation handle for a module that is not
// running and returns it to Installed. Dependencies are resolved silently
// afterwards.
func (l *Machine) Reinstall(ctx context.Context, m *domain.Module, hooks ...workers.CompletionHook) (*workers.Tracker, error) {
	if err := l.expect(m, OpReinstall, domain.StateInstalled, domain.StateResolved, domain.StateFailed); err != nil {
		return nil, err
	}

	release := process.NewPhase("release", func(ctx context.Context, _ *process.Scope) error {
		if m.Handle() == nil {
			return nil
		}
		if err := l.loader.Uninstall(ctx, m); err != nil {
			return fmt.Errorf("failed to release isolation handle: %w", err)
		}
		m.SetHandle(nil)
		return nil
	})
	isolate := process.NewPhase("isolate", func(ctx context.Context, _ *process.Scope) error {
		h, err := l.loader.Install(ctx, m)
		if err != nil {
			return fmt.Errorf("failed to acquire isolation handle: %w", err)
		}
		m.SetHandle(h)
		return nil
	})
	installed := process.NewPhase("installed", func(ctx context.Context, s *process.Scope) error {
		if err := l.changePhase(m, domain.StateInstalled)(ctx, s); err != nil {
			return err
		}
		l.CatchUp([]*domain.Module{m})
		return nil
	})

	p, err := l.build(m, OpReinstall, release, isolate, installed).
		Task("isolate").DependsOn("release").
		Task("installed").DependsOn("isolate").
		Create()
	if err != nil {
		return nil, err
	}
	return l.submit(ctx, m, p, hooks), nil
}

// Fail moves the module to Failed and publishes the change
func (l *Machine) Fail(ctx context.Context, m *domain.Module, cause error) {
	if m.State() == domain.StateFailed {
		return
	}
	l.change(ctx, m, domain.StateFailed, cause)
	l.logger.Error("module failed",
		zap.String("coordinate", m.Coordinate().String()),
		zap.Error(cause))
}

// Announce publishes the arrival of a newly installed module
func (l *Machine) Announce(ctx context.Context, m *domain.Module) {
	state, rev := m.Snapshot()
	ev := domain.NewEvent(domain.EventModuleInstalled, m.Coordinate(), domain.StateUninstalled, state, rev, nil)
	if err := l.events.Publish(ctx, ev); err != nil {
		l.logger.Error("failed to publish install event",
			zap.String("coordinate", m.Coordinate().String()),
			zap.Error(err))
	}
}

func (l *Machine) prepareStart(m *domain.Module, op string) error {
	switch m.State() {
	case domain.StateResolved:
		return nil
	case domain.StateInstalled:
		if err := l.checkDependencies(m, op); err != nil {
			return err
		}
		l.SetState(m, domain.StateResolved)
		return nil
	default:
		return &TransitionError{Coordinate: m.Coordinate(), Operation: op, State: m.State()}
	}
}

func (l *Machine) startPhases(b *process.Builder, m *domain.Module, after []string) *process.Builder {
	starting := process.NewPhase("starting", l.changePhase(m, domain.StateStarting))
	activate := process.NewPhase("activate", func(ctx context.Context, s *process.Scope) error {
		if err := l.loader.Activate(ctx, m); err != nil {
			return fmt.Errorf("failed to activate: %w", err)
		}
		return l.changePhase(m, domain.StateActive)(ctx, s)
	})
	b = b.Register(starting, activate).Task("activate").DependsOn("starting")
	if len(after) > 0 {
		b = b.Task("starting").DependsOn(after...)
	}
	return b
}

func (l *Machine) stopPhases(b *process.Builder, m *domain.Module) *process.Builder {
	stopping := process.NewPhase("stopping", l.changePhase(m, domain.StateStopping))
	deactivate := process.NewPhase("deactivate", func(ctx context.Context, s *process.Scope) error {
		if err := l.loader.Deactivate(ctx, m); err != nil {
			return fmt.Errorf("failed to deactivate: %w", err)
		}
		return l.changePhase(m, domain.StateResolved)(ctx, s)
	})
	return b.Register(stopping, deactivate).Task("deactivate").DependsOn("stopping")
}

func (l *Machine) build(m *domain.Module, op string, phases ...process.Phase) *process.Builder {
	return process.New(ProcessName(m.Coordinate(), op)).Register(phases...)
}

// submit runs p; the Fail hook always runs before the caller's hooks
func (l *Machine) submit(ctx context.Context, m *domain.Module, p *process.Process, hooks []workers.CompletionHook) *workers.Tracker {
	fail := func(res *process.Result) {
		if res.Err != nil {
			l.Fail(context.WithoutCancel(ctx), m, res.Err)
		}
	}
	return l.scheduler.Submit(ctx, p, append([]workers.CompletionHook{fail}, hooks...)...)
}

func (l *Machine) changePhase(m *domain.Module, to domain.State) process.PhaseFunc {
	return func(ctx context.Context, _ *process.Scope) error {
		l.change(ctx, m, to, nil)
		return nil
	}
}

func (l *Machine) change(ctx context.Context, m *domain.Module, to domain.State, cause error) {
	from, rev := m.Transition(to, cause)
	l.metrics.RecordLifecycleTransition(from, to)

	l.logger.Info("module lifecycle changed",
		zap.String("coordinate", m.Coordinate().String()),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Uint64("revision", rev))

	ev := domain.NewEvent(domain.EventLifecycleChanged, m.Coordinate(), from, to, rev, cause)
	if err := l.events.Publish(ctx, ev); err != nil {
		l.logger.Error("failed to publish lifecycle event",
			zap.String("coordinate", m.Coordinate().String()),
			zap.Error(err))
	}
}

func (l *Machine) expect(m *domain.Module, op string, allowed ...domain.State) error {
	state := m.State()
	for _, s := range allowed {
		if state == s {
			return nil
		}
	}
	return &TransitionError{Coordinate: m.Coordinate(), Operation: op, State: state}
}

func (l *Machine) checkDependencies(m *domain.Module, op string) error {
	missing := l.modules.Unsatisfied(m)
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, len(missing))
	for i, c := range missing {
		names[i] = c.String()
	}
	return &TransitionError{
		Coordinate: m.Coordinate(),
		Operation:  op,
		State:      m.State(),
		Reason:     "unresolved dependencies " + strings.Join(names, ", "),
	}
}

// ProcessName names the process running op on the module at c
func ProcessName(c domain.Coordinate, op string) string {
	return "module:" + c.String() + ":" + op
}
