package kernel

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/modkernel/internal/application/workers"
	"github.com/aescanero/modkernel/internal/process"
	"github.com/aescanero/modkernel/pkg/domain"
)

// Kernel process and phase names
const (
	ProcessStart = "kernel:start"
	ProcessStop  = "kernel:stop"

	PhaseFilesystemCreate  = "filesystem:create"
	PhaseModuleList        = "module:list"
	PhaseIsolationCreate   = "isolation:create"
	PhaseModulesStop       = "modules:stop"
	PhaseIsolationDestroy  = "isolation:destroy"
	PhaseFilesystemUnmount = "filesystem:unmount"
)

const keyRecords = "records"

// artifact sources backed by a directory layout implement these
type preparer interface {
	Prepare() error
}

type stagingCleaner interface {
	CleanStaging() error
}

func (k *Kernel) startProcess() (*process.Process, error) {
	create := process.NewPhase(PhaseFilesystemCreate, func(context.Context, *process.Scope) error {
		if p, ok := k.artifacts.(preparer); ok {
			return p.Prepare()
		}
		return nil
	})

	list := process.NewPhase(PhaseModuleList, func(ctx context.Context, s *process.Scope) error {
		records, err := k.store.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list module records: %w", err)
		}
		s.Set(keyRecords, records)
		return nil
	})

	isolate := process.NewPhase(PhaseIsolationCreate, func(ctx context.Context, s *process.Scope) error {
		records, err := process.Value[[]domain.ModuleRecord](s, keyRecords)
		if err != nil {
			return err
		}
		for _, rec := range records {
			k.restore(ctx, rec)
		}
		if _, err := k.manager.CatchUp(); err != nil {
			return fmt.Errorf("failed to resolve restored modules: %w", err)
		}
		return nil
	})

	return process.New(ProcessStart).
		Register(create, list, isolate).
		Task(PhaseModuleList).DependsOn(PhaseFilesystemCreate).
		Task(PhaseIsolationCreate).DependsOn(PhaseModuleList).
		Create()
}

// restore brings a persisted module back as Installed. A module whose
// handle cannot be recreated is kept in Failed so it can be reinstalled.
func (k *Kernel) restore(ctx context.Context, rec domain.ModuleRecord) {
	mod := domain.NewModule(rec.Descriptor(), rec.Location)
	mod.SetPath(rec.Path)
	c := mod.Coordinate()

	if err := k.manager.Adopt(mod); err != nil {
		k.logger.Error("failed to restore module",
			zap.String("coordinate", c.String()),
			zap.Error(err))
		return
	}

	h, installErr := k.loader.Install(ctx, mod)
	if installErr == nil {
		mod.SetHandle(h)
	}

	if err := k.modules.Add(mod); err != nil {
		k.logger.Error("failed to register restored module",
			zap.String("coordinate", c.String()),
			zap.Error(err))
		if mod.Handle() != nil {
			if err := k.loader.Uninstall(ctx, mod); err != nil {
				k.logger.Warn("failed to release isolation handle",
					zap.String("coordinate", c.String()),
					zap.Error(err))
			}
		}
		k.manager.Forget(c)
		return
	}

	if installErr != nil {
		k.machine.Fail(ctx, mod, fmt.Errorf("failed to recreate isolation handle: %w", installErr))
		return
	}
	k.logger.Debug("module restored", zap.String("coordinate", c.String()))
}

func (k *Kernel) stopProcess() (*process.Process, error) {
	stop := process.NewPhase(PhaseModulesStop, func(ctx context.Context, _ *process.Scope) error {
		k.stopModules(ctx)
		return nil
	})

	destroy := process.NewPhase(PhaseIsolationDestroy, func(ctx context.Context, _ *process.Scope) error {
		var errs []error
		for _, mod := range k.modules.List() {
			c := mod.Coordinate()
			if mod.Handle() != nil {
				if err := k.loader.Uninstall(ctx, mod); err != nil {
					errs = append(errs, fmt.Errorf("failed to release %s: %w", c, err))
				}
				mod.SetHandle(nil)
			}
			k.modules.Remove(c)
			k.manager.Forget(c)
		}
		return errors.Join(errs...)
	})

	unmount := process.NewPhase(PhaseFilesystemUnmount, func(context.Context, *process.Scope) error {
		if c, ok := k.artifacts.(stagingCleaner); ok {
			return c.CleanStaging()
		}
		return nil
	})

	return process.New(ProcessStop).
		Register(stop, destroy, unmount).
		Task(PhaseIsolationDestroy).DependsOn(PhaseModulesStop).
		Task(PhaseFilesystemUnmount).DependsOn(PhaseIsolationDestroy).
		Create()
}

// stopModules stops Active modules, dependents before their dependencies.
// Failures are logged; teardown continues regardless.
func (k *Kernel) stopModules(ctx context.Context) {
	levels, err := k.manager.Schedule()
	if err != nil {
		k.logger.Error("failed to order modules for stop", zap.Error(err))
		return
	}

	for i := len(levels) - 1; i >= 0; i-- {
		var wave []*workers.Tracker
		for _, c := range levels[i] {
			mod, err := k.modules.Get(c)
			if err != nil || mod.State() != domain.StateActive {
				continue
			}
			tr, err := k.manager.Stop(ctx, mod)
			if err != nil {
				k.logger.Warn("failed to stop module",
					zap.String("coordinate", c.String()),
					zap.Error(err))
				continue
			}
			wave = append(wave, tr)
		}
		for _, tr := range wave {
			if err := tr.Wait(ctx); err != nil {
				k.logger.Warn("module did not stop cleanly",
					zap.String("process", tr.Process()),
					zap.Error(err))
			}
		}
	}
}
