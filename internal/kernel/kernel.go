package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/modkernel/internal/application/lifecycle"
	"github.com/aescanero/modkernel/internal/application/manager"
	"github.com/aescanero/modkernel/internal/application/registry"
	"github.com/aescanero/modkernel/internal/application/tracker"
	"github.com/aescanero/modkernel/internal/application/workers"
	"github.com/aescanero/modkernel/pkg/domain"
	"github.com/aescanero/modkernel/pkg/ports"
)

// State is the kernel's own run state
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ErrKernelState is returned when an operation is not allowed in the
// kernel's current state
var ErrKernelState = errors.New("operation not allowed in kernel state")

// StateError reports an operation refused because of the kernel state
type StateError struct {
	Operation string
	State     State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s kernel: kernel is %s", e.Operation, e.State)
}

func (e *StateError) Unwrap() error { return ErrKernelState }

// Config holds the kernel's collaborators
type Config struct {
	Pool      *workers.Pool
	Bus       ports.EventBus
	Store     ports.ModuleStore
	Loader    ports.Loader
	Artifacts ports.ArtifactSource
	Metrics   ports.MetricsCollector
	Logger    *zap.Logger

	// ProcessTimeout bounds kernel start and stop
	ProcessTimeout time.Duration
}

// Kernel is the explicit context shared by every kernel component
type Kernel struct {
	modules   *registry.Registry
	scheduler *workers.Scheduler
	machine   *lifecycle.Machine
	manager   *manager.Manager

	bus       ports.EventBus
	store     ports.ModuleStore
	loader    ports.Loader
	artifacts ports.ArtifactSource
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	timeout   time.Duration

	// serializes Start, Stop and Reload
	runMu sync.Mutex
	state atomic.Int32
}

// New wires a kernel. The kernel starts Stopped.
func New(cfg *Config) (*Kernel, error) {
	switch {
	case cfg.Pool == nil:
		return nil, errors.New("kernel requires a worker pool")
	case cfg.Bus == nil:
		return nil, errors.New("kernel requires an event bus")
	case cfg.Store == nil:
		return nil, errors.New("kernel requires a module store")
	case cfg.Loader == nil:
		return nil, errors.New("kernel requires a loader")
	case cfg.Artifacts == nil:
		return nil, errors.New("kernel requires an artifact source")
	case cfg.Metrics == nil:
		return nil, errors.New("kernel requires a metrics collector")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.ProcessTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	k := &Kernel{
		modules:   registry.New(),
		bus:       cfg.Bus,
		store:     cfg.Store,
		loader:    cfg.Loader,
		artifacts: cfg.Artifacts,
		metrics:   cfg.Metrics,
		logger:    logger,
		timeout:   timeout,
	}
	k.scheduler = workers.NewScheduler(cfg.Pool, cfg.Metrics, logger)
	k.machine = lifecycle.NewMachine(k.modules, k.scheduler, cfg.Loader, k, k, cfg.Metrics, logger)
	k.manager = manager.NewManager(k.modules, k.machine, k.scheduler, cfg.Artifacts, cfg.Loader,
		cfg.Store, cfg.Metrics, manager.NewValidator(), logger)
	return k, nil
}

// State returns the kernel run state
func (k *Kernel) State() State { return State(k.state.Load()) }

// ModuleManager returns the module manager
func (k *Kernel) ModuleManager() *manager.Manager { return k.manager }

// Scheduler returns the process scheduler
func (k *Kernel) Scheduler() *workers.Scheduler { return k.scheduler }

// Modules returns a snapshot of the installed modules
func (k *Kernel) Modules() []*domain.Module { return k.modules.List() }

// Module returns the installed module at c
func (k *Kernel) Module(c domain.Coordinate) (*domain.Module, error) {
	return k.modules.Get(c)
}

// Publish sends an event on the kernel event channel
func (k *Kernel) Publish(ctx context.Context, event domain.Event) error {
	return k.bus.Publish(ctx, domain.TopicModules, event)
}

// Subscribe registers handler on the kernel event channel
func (k *Kernel) Subscribe(ctx context.Context, handler ports.EventHandler) (ports.Subscription, error) {
	return k.bus.Subscribe(ctx, domain.TopicModules, handler)
}

// Track opens an event tracker over the kernel for host
func (k *Kernel) Track(ctx context.Context, host string, filter tracker.Filter) (*tracker.Tracker, error) {
	return tracker.Track(ctx, k, host, filter, k.metrics, k.logger)
}

// Forget deletes an uninstalled module's record and stored artifact
func (k *Kernel) Forget(ctx context.Context, m *domain.Module) error {
	c := m.Coordinate()
	if err := k.store.Delete(ctx, c); err != nil {
		return fmt.Errorf("failed to delete module record %s: %w", c, err)
	}
	if err := k.artifacts.Remove(ctx, c); err != nil {
		return fmt.Errorf("failed to remove module artifact %s: %w", c, err)
	}
	return nil
}

// Start restores persisted modules and moves the kernel to Running
func (k *Kernel) Start(ctx context.Context) error {
	k.runMu.Lock()
	defer k.runMu.Unlock()
	return k.start(ctx)
}

// Stop stops active modules, releases every isolation handle and moves the
// kernel to Stopped. Persisted records are kept.
func (k *Kernel) Stop(ctx context.Context) error {
	k.runMu.Lock()
	defer k.runMu.Unlock()
	return k.stop(ctx)
}

// Shutdown stops the kernel when it is running, then refuses new processes
// and waits for the ones still in flight. The worker pool must outlive it.
func (k *Kernel) Shutdown(ctx context.Context) error {
	var errs []error
	if k.State() == StateRunning {
		if err := k.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := k.scheduler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain processes: %w", err))
	}
	return errors.Join(errs...)
}

// Reload stops and starts the kernel
func (k *Kernel) Reload(ctx context.Context) error {
	k.runMu.Lock()
	defer k.runMu.Unlock()
	if err := k.stop(ctx); err != nil {
		return fmt.Errorf("failed to reload kernel: %w", err)
	}
	if err := k.start(ctx); err != nil {
		return fmt.Errorf("failed to reload kernel: %w", err)
	}
	return nil
}

func (k *Kernel) start(ctx context.Context) error {
	if !k.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return &StateError{Operation: "start", State: k.State()}
	}
	k.logger.Info("kernel starting")

	p, err := k.startProcess()
	if err == nil {
		err = k.await(ctx, p.Name(), k.scheduler.Submit(ctx, p))
	}
	if err != nil {
		k.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to start kernel: %w", err)
	}

	k.manager.RefreshCounts()
	k.state.Store(int32(StateRunning))
	k.logger.Info("kernel running", zap.Int("modules", len(k.modules.List())))
	return nil
}

func (k *Kernel) stop(ctx context.Context) error {
	if !k.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return &StateError{Operation: "stop", State: k.State()}
	}
	k.logger.Info("kernel stopping")

	p, err := k.stopProcess()
	if err == nil {
		err = k.await(ctx, p.Name(), k.scheduler.Submit(ctx, p))
	}
	k.manager.RefreshCounts()
	k.state.Store(int32(StateStopped))
	if err != nil {
		return fmt.Errorf("failed to stop kernel: %w", err)
	}
	k.logger.Info("kernel stopped")
	return nil
}

func (k *Kernel) await(ctx context.Context, name string, tr *workers.Tracker) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := tr.Wait(ctx); err != nil {
		return fmt.Errorf("process %s: %w", name, err)
	}
	k.logger.Debug("kernel process finished",
		zap.String("process", name),
		zap.String("state", tr.State().String()),
		zap.Duration("elapsed", tr.Elapsed()))
	return nil
}

// Deploy installs and activates module directories found by the deploy
// watcher. Directories already installed from the same location are
// skipped.
func (k *Kernel) Deploy(ctx context.Context, dirs []string) {
	if k.State() != StateRunning {
		k.logger.Warn("ignoring deployment while kernel is not running",
			zap.Strings("dirs", dirs),
			zap.String("state", k.State().String()))
		return
	}

	installed := make(map[string]bool)
	for _, m := range k.modules.List() {
		installed[m.Location()] = true
	}

	var reqs []domain.InstallationRequest
	for _, dir := range dirs {
		location := "file://" + dir
		if installed[location] {
			continue
		}
		reqs = append(reqs, domain.InstallationRequest{Location: location, Action: domain.ActionActivate})
	}
	if len(reqs) == 0 {
		return
	}

	prep, err := k.manager.PrepareInstall(domain.NewInstallationGroup(reqs...))
	if err != nil {
		k.logger.Error("failed to prepare deployment", zap.Error(err))
		return
	}
	f := prep.Commit(ctx)

	go func() {
		<-f.Done()
		for _, o := range f.Outcomes() {
			if o.Err != nil {
				continue
			}
			k.logger.Info("module deployed",
				zap.String("location", o.Target),
				zap.String("coordinate", o.Coordinate.String()))
		}
	}()
}
