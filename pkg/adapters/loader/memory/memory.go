package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aescanero/modkernel/pkg/domain"
)

// Hook is called by the loader for a module operation
type Hook func(ctx context.Context, m *domain.Module) error

// Handle is the isolation handle handed out by the in-memory loader
type Handle struct {
	Coordinate domain.Coordinate
	Active     bool
}

// Loader keeps isolation handles in memory. It does not execute module code;
// hooks can be registered to simulate slow or failing modules.
type Loader struct {
	mu      sync.Mutex
	handles map[domain.Coordinate]*Handle
	calls   []string

	onInstall    Hook
	onActivate   Hook
	onDeactivate Hook
}

// New creates an empty in-memory loader
func New() *Loader {
	return &Loader{handles: make(map[domain.Coordinate]*Handle)}
}

// OnInstall sets the hook run before a handle is created
func (l *Loader) OnInstall(h Hook) { l.setHook(&l.onInstall, h) }

// OnActivate sets the hook run when a module starts
func (l *Loader) OnActivate(h Hook) { l.setHook(&l.onActivate, h) }

// OnDeactivate sets the hook run when a module stops
func (l *Loader) OnDeactivate(h Hook) { l.setHook(&l.onDeactivate, h) }

func (l *Loader) setHook(dst *Hook, h Hook) {
	l.mu.Lock()
	*dst = h
	l.mu.Unlock()
}

// Install creates a handle for m
func (l *Loader) Install(ctx context.Context, m *domain.Module) (any, error) {
	if err := l.run(ctx, "install", m, l.hook(&l.onInstall)); err != nil {
		return nil, err
	}
	h := &Handle{Coordinate: m.Coordinate()}
	l.mu.Lock()
	l.handles[m.Coordinate()] = h
	l.mu.Unlock()
	return h, nil
}

// Uninstall drops the handle of m
func (l *Loader) Uninstall(ctx context.Context, m *domain.Module) error {
	l.record("uninstall", m.Coordinate())
	l.mu.Lock()
	delete(l.handles, m.Coordinate())
	l.mu.Unlock()
	return nil
}

// Load returns the handle installed for c
func (l *Loader) Load(_ context.Context, c domain.Coordinate) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.handles[c]
	if !ok {
		return nil, fmt.Errorf("no isolation handle for %s", c)
	}
	return h, nil
}

// Activate marks the handle of m active
func (l *Loader) Activate(ctx context.Context, m *domain.Module) error {
	if err := l.run(ctx, "activate", m, l.hook(&l.onActivate)); err != nil {
		return err
	}
	return l.setActive(m.Coordinate(), true)
}

// Deactivate marks the handle of m inactive
func (l *Loader) Deactivate(ctx context.Context, m *domain.Module) error {
	if err := l.run(ctx, "deactivate", m, l.hook(&l.onDeactivate)); err != nil {
		return err
	}
	return l.setActive(m.Coordinate(), false)
}

// Close drops every handle
func (l *Loader) Close() error {
	l.mu.Lock()
	l.handles = make(map[domain.Coordinate]*Handle)
	l.mu.Unlock()
	return nil
}

// Calls returns the operations performed so far, as "op:coordinate"
func (l *Loader) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

// Handles returns the number of live handles
func (l *Loader) Handles() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}

func (l *Loader) hook(h *Hook) Hook {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *h
}

func (l *Loader) run(ctx context.Context, op string, m *domain.Module, h Hook) error {
	l.record(op, m.Coordinate())
	if h == nil {
		return nil
	}
	return h(ctx, m)
}

func (l *Loader) record(op string, c domain.Coordinate) {
	l.mu.Lock()
	l.calls = append(l.calls, op+":"+c.String())
	l.mu.Unlock()
}

func (l *Loader) setActive(c domain.Coordinate, active bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.handles[c]
	if !ok {
		return fmt.Errorf("no isolation handle for %s", c)
	}
	h.Active = active
	return nil
}
