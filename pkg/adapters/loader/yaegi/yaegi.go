package yaegi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"github.com/aescanero/modkernel/pkg/domain"
)

const (
	activateFunc   = "Activate"
	deactivateFunc = "Deactivate"
)

// Unit is the isolation handle of one module: a private interpreter that
// has evaluated the module's Go sources
type Unit struct {
	Coordinate domain.Coordinate
	Sources    []string

	interp *interp.Interpreter
	prefix string
}

// Loader isolates each module in its own yaegi interpreter
type Loader struct {
	logger *zap.Logger

	mu    sync.RWMutex
	units map[domain.Coordinate]*Unit
}

// New creates a yaegi loader
func New(logger *zap.Logger) *Loader {
	return &Loader{
		logger: logger,
		units:  make(map[domain.Coordinate]*Unit),
	}
}

// Install evaluates every .go file in the module's storage directory
func (l *Loader) Install(_ context.Context, m *domain.Module) (any, error) {
	dir := m.Path()
	if dir == "" {
		return nil, fmt.Errorf("module %s has no storage path", m.Coordinate())
	}

	sources, err := goSources(dir)
	if err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{GoPath: dir})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}
	for _, src := range sources {
		if _, err := i.EvalPath(src); err != nil {
			return nil, fmt.Errorf("interpret %s: %w", src, err)
		}
	}

	prefix := ""
	if ep := strings.TrimSpace(m.Entrypoint()); ep != "" && ep != "main" {
		prefix = ep + "."
	}

	u := &Unit{Coordinate: m.Coordinate(), Sources: sources, interp: i, prefix: prefix}
	l.mu.Lock()
	l.units[m.Coordinate()] = u
	l.mu.Unlock()

	l.logger.Info("module interpreted",
		zap.String("coordinate", m.Coordinate().String()),
		zap.Int("sources", len(sources)))
	return u, nil
}

// Uninstall drops the module's interpreter
func (l *Loader) Uninstall(_ context.Context, m *domain.Module) error {
	l.mu.Lock()
	delete(l.units, m.Coordinate())
	l.mu.Unlock()
	return nil
}

// Load returns the unit installed for c
func (l *Loader) Load(_ context.Context, c domain.Coordinate) (any, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.units[c]
	if !ok {
		return nil, fmt.Errorf("module %s is not loaded", c)
	}
	return u, nil
}

// Activate calls the module's Activate function if it declares one
func (l *Loader) Activate(ctx context.Context, m *domain.Module) error {
	return l.call(ctx, m, activateFunc)
}

// Deactivate calls the module's Deactivate function if it declares one
func (l *Loader) Deactivate(ctx context.Context, m *domain.Module) error {
	return l.call(ctx, m, deactivateFunc)
}

// Close drops every interpreter
func (l *Loader) Close() error {
	l.mu.Lock()
	l.units = make(map[domain.Coordinate]*Unit)
	l.mu.Unlock()
	return nil
}

func (l *Loader) call(ctx context.Context, m *domain.Module, name string) error {
	h, err := l.Load(ctx, m.Coordinate())
	if err != nil {
		return err
	}
	u := h.(*Unit)

	v, err := u.interp.Eval(u.prefix + name)
	if err != nil {
		// The hook is optional
		l.logger.Debug("module has no hook",
			zap.String("coordinate", m.Coordinate().String()),
			zap.String("hook", name))
		return nil
	}
	return invokeHook(v, name)
}

// invokeHook calls a func() or func() error value
func invokeHook(v reflect.Value, name string) error {
	if !v.IsValid() || v.Kind() != reflect.Func {
		return fmt.Errorf("%s is not a function", name)
	}
	if v.Type().NumIn() != 0 {
		return fmt.Errorf("%s must not take arguments", name)
	}
	results := v.Call(nil)
	switch len(results) {
	case 0:
		return nil
	case 1:
		if results[0].IsNil() {
			return nil
		}
		if e, ok := results[0].Interface().(error); ok {
			return e
		}
		return fmt.Errorf("%s returned a non-error value", name)
	default:
		return fmt.Errorf("%s must return nothing or an error", name)
	}
}

func goSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".go" || strings.HasSuffix(e.Name(), "_test.go") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
