package manager

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/modkernel/internal/application/registry"
	"github.com/aescanero/modkernel/internal/application/workers"
	"github.com/aescanero/modkernel/internal/process"
	"github.com/aescanero/modkernel/pkg/domain"
)

// Install process phases, in order
const (
	PhaseDownload = "download"
	PhaseScan     = "scan"
	PhaseInsert   = "insert"
	PhaseIsolate  = "isolate"
	PhaseTransfer = "transfer"
)

// Scope keys shared by the install phases
const (
	keyStaged      = "staged"
	keyModule      = "module"
	keyInserted    = "inserted"
	keyTransferred = "transferred"
)

func (m *Manager) commitInstall(ctx context.Context, reqs []domain.InstallationRequest) *CompositeFuture {
	f := newFuture(len(reqs))
	trackers := make([]*workers.Tracker, len(reqs))
	scopes := make([]*process.Scope, len(reqs))

	for i, req := range reqs {
		action := req.Action
		if action == "" {
			action = domain.ActionInstall
		}
		f.outcomes[i] = domain.Outcome{Index: i, Target: req.Location, Action: action}

		p, err := m.installProcess(req.Location)
		if err != nil {
			f.outcomes[i].Err = err
			continue
		}
		scopes[i] = p.Scope()
		trackers[i] = m.scheduler.Submit(ctx, p, m.installCompleted(ctx, p.Scope()))
	}

	go func() {
		pending := make(map[domain.Coordinate]int)
		for i, tr := range trackers {
			if tr == nil {
				continue
			}
			<-tr.Done()
			if mod, err := process.Value[*domain.Module](scopes[i], keyModule); err == nil {
				f.outcomes[i].Coordinate = mod.Coordinate()
			}
			if err := tr.Err(); err != nil {
				f.outcomes[i].Err = err
				f.outcomes[i].Phase = process.FailedPhase(err)
				continue
			}
			if f.outcomes[i].Action == domain.ActionActivate {
				pending[f.outcomes[i].Coordinate] = i
			}
		}

		if _, err := m.CatchUp(); err != nil {
			m.logger.Error("failed to catch up resolution", zap.Error(err))
		}
		m.activate(ctx, pending, f)
		m.finish(f)
	}()

	return f
}

// activate starts the modules of pending level by level, dependencies first
func (m *Manager) activate(ctx context.Context, pending map[domain.Coordinate]int, f *CompositeFuture) {
	if len(pending) == 0 {
		return
	}

	levels, err := m.Schedule()
	if err != nil {
		for _, i := range pending {
			f.outcomes[i].Err = err
			f.outcomes[i].Phase = "activate"
		}
		return
	}

	type started struct {
		index   int
		tracker *workers.Tracker
	}
	for _, level := range levels {
		var wave []started
		for _, c := range level {
			i, ok := pending[c]
			if !ok {
				continue
			}
			mod, err := m.modules.Get(c)
			if err == nil {
				var tr *workers.Tracker
				if tr, err = m.Start(ctx, mod); err == nil {
					wave = append(wave, started{index: i, tracker: tr})
					continue
				}
			}
			f.outcomes[i].Err = err
			f.outcomes[i].Phase = "activate"
		}

		for _, s := range wave {
			<-s.tracker.Done()
			if err := s.tracker.Err(); err != nil {
				f.outcomes[s.index].Err = err
				f.outcomes[s.index].Phase = process.FailedPhase(err)
			}
		}
	}
}

func installName(location string) string {
	return "module:" + location + ":install"
}

func (m *Manager) installProcess(location string) (*process.Process, error) {
	download := process.NewPhase(PhaseDownload, func(ctx context.Context, s *process.Scope) error {
		staged, err := m.artifacts.Fetch(ctx, location)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", location, err)
		}
		s.Set(keyStaged, staged)
		return nil
	})

	scan := process.NewPhase(PhaseScan, func(ctx context.Context, s *process.Scope) error {
		staged, err := process.Value[string](s, keyStaged)
		if err != nil {
			return err
		}
		desc, err := m.artifacts.Scan(ctx, staged)
		if err != nil {
			return fmt.Errorf("failed to scan artifact: %w", err)
		}
		if err := desc.Coordinate.Validate(); err != nil {
			return fmt.Errorf("artifact declares an invalid coordinate: %w", err)
		}
		mod := domain.NewModule(*desc, location)
		mod.SetPath(staged)
		s.Set(keyModule, mod)
		return nil
	})

	insert := process.NewPhase(PhaseInsert, func(_ context.Context, s *process.Scope) error {
		mod, err := process.Value[*domain.Module](s, keyModule)
		if err != nil {
			return err
		}
		c := mod.Coordinate()
		if err := m.acquire(c, installName(location)); err != nil {
			return err
		}
		if m.modules.Contains(c) {
			m.release(c)
			return fmt.Errorf("module %s: %w", c, registry.ErrModuleExists)
		}

		m.mu.Lock()
		err = m.insertLocked(c, mod.Dependencies())
		m.mu.Unlock()
		if err != nil {
			m.release(c)
			return err
		}
		s.Set(keyInserted, true)
		return nil
	})

	isolate := process.NewPhase(PhaseIsolate, func(ctx context.Context, s *process.Scope) error {
		mod, err := process.Value[*domain.Module](s, keyModule)
		if err != nil {
			return err
		}
		h, err := m.loader.Install(ctx, mod)
		if err != nil {
			return fmt.Errorf("failed to acquire isolation handle: %w", err)
		}
		mod.SetHandle(h)
		return nil
	})

	transfer := process.NewPhase(PhaseTransfer, func(ctx context.Context, s *process.Scope) error {
		mod, err := process.Value[*domain.Module](s, keyModule)
		if err != nil {
			return err
		}
		staged, err := process.Value[string](s, keyStaged)
		if err != nil {
			return err
		}
		path, err := m.artifacts.Transfer(ctx, staged, mod.Coordinate())
		if err != nil {
			return fmt.Errorf("failed to transfer artifact: %w", err)
		}
		s.Set(keyTransferred, true)
		mod.SetPath(path)

		if err := m.store.Save(ctx, mod.Record()); err != nil {
			return fmt.Errorf("failed to persist module record: %w", err)
		}
		if err := m.modules.Add(mod); err != nil {
			return err
		}
		m.machine.Announce(ctx, mod)

		m.logger.Info("module installed",
			zap.String("coordinate", mod.Coordinate().String()),
			zap.String("location", location),
			zap.String("path", path))
		return nil
	})

	return process.New(installName(location)).
		Register(download, scan, insert, isolate, transfer).
		Task(PhaseScan).DependsOn(PhaseDownload).
		Task(PhaseInsert).DependsOn(PhaseScan).
		Task(PhaseIsolate).DependsOn(PhaseInsert).
		Task(PhaseTransfer).DependsOn(PhaseIsolate).
		Create()
}

// installCompleted releases the busy marker and, on failure, undoes what the
// finished phases left behind
func (m *Manager) installCompleted(ctx context.Context, s *process.Scope) workers.CompletionHook {
	return func(res *process.Result) {
		ctx := context.WithoutCancel(ctx)
		inserted, _ := process.Value[bool](s, keyInserted)
		transferred, _ := process.Value[bool](s, keyTransferred)
		mod, _ := process.Value[*domain.Module](s, keyModule)

		if res.Err == nil {
			m.release(mod.Coordinate())
			return
		}

		if staged, err := process.Value[string](s, keyStaged); err == nil && !transferred {
			if err := m.artifacts.Discard(staged); err != nil {
				m.logger.Warn("failed to discard staged artifact",
					zap.String("staged", staged),
					zap.Error(err))
			}
		}
		if !inserted {
			return
		}

		c := mod.Coordinate()
		m.logger.Warn("rolling back failed install",
			zap.String("coordinate", c.String()),
			zap.String("phase", process.FailedPhase(res.Err)))

		if mod.Handle() != nil {
			if err := m.loader.Uninstall(ctx, mod); err != nil {
				m.logger.Warn("failed to release isolation handle",
					zap.String("coordinate", c.String()),
					zap.Error(err))
			}
			mod.SetHandle(nil)
		}
		if transferred {
			m.modules.Remove(c)
			if err := m.store.Delete(ctx, c); err != nil {
				m.logger.Warn("failed to delete module record",
					zap.String("coordinate", c.String()),
					zap.Error(err))
			}
			if err := m.artifacts.Remove(ctx, c); err != nil {
				m.logger.Warn("failed to remove module artifact",
					zap.String("coordinate", c.String()),
					zap.Error(err))
			}
		}
		m.Forget(c)
		m.release(c)
	}
}
