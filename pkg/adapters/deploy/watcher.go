// Package deploy turns module directories dropped into a watched deploy
// directory into installation requests.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/aescanero/modkernel/pkg/adapters/artifacts/filesystem"
)

// Handler receives the module directories that became ready since the last
// call, sorted
type Handler func(ctx context.Context, dirs []string)

// Options configures a Watcher
type Options struct {
	// Debounce is how long the directory must stay quiet before a batch is
	// handed to the handler
	Debounce time.Duration
	// Descriptor is the file that marks a directory as a complete module
	Descriptor string
}

// DefaultOptions returns the watcher defaults
func DefaultOptions() Options {
	return Options{
		Debounce:   500 * time.Millisecond,
		Descriptor: filesystem.DescriptorFile,
	}
}

// Watcher watches the top level of a deploy directory. Every subdirectory
// holding a descriptor is handed to the handler once; removing the
// subdirectory makes it eligible again.
type Watcher struct {
	root       string
	handler    Handler
	debounce   time.Duration
	descriptor string
	logger     *zap.Logger
	watcher    *fsnotify.Watcher

	mu       sync.Mutex
	pending  map[string]struct{}
	deployed map[string]struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for root. A nil opts uses DefaultOptions.
func NewWatcher(root string, handler Handler, opts *Options, logger *zap.Logger) (*Watcher, error) {
	if root == "" {
		return nil, errors.New("deploy directory is required")
	}
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if opts.Descriptor == "" {
		opts.Descriptor = filesystem.DescriptorFile
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve deploy directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		root:       abs,
		handler:    handler,
		debounce:   opts.Debounce,
		descriptor: opts.Descriptor,
		logger:     logger,
		watcher:    fw,
		pending:    make(map[string]struct{}),
		deployed:   make(map[string]struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Root returns the watched directory
func (w *Watcher) Root() string { return w.root }

// Start creates the deploy directory if needed and begins watching it.
// Module directories already present are handed over in the first batch.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("failed to create deploy directory: %w", err)
	}
	if err := w.watcher.Add(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}

	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("failed to read deploy directory: %w", err)
	}
	w.mu.Lock()
	for _, e := range entries {
		if !e.IsDir() || hidden(e.Name()) {
			continue
		}
		dir := filepath.Join(w.root, e.Name())
		w.watchDir(dir)
		w.pending[dir] = struct{}{}
	}
	initial := len(w.pending) > 0
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx, initial)

	w.logger.Info("deploy watcher started", zap.String("dir", w.root))
	return nil
}

// Stop stops watching and waits for an in-flight handler call
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
		w.logger.Info("deploy watcher stopped", zap.String("dir", w.root))
	})
	return err
}

func (w *Watcher) run(ctx context.Context, armed bool) {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	if !armed {
		timer.Stop()
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.observe(ev) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("deploy watcher error", zap.Error(err))
		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// observe records the module directory an event belongs to and reports
// whether a flush should be scheduled
func (w *Watcher) observe(ev fsnotify.Event) bool {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	top := strings.SplitN(rel, string(filepath.Separator), 2)[0]
	if hidden(top) {
		return false
	}
	dir := filepath.Join(w.root, top)

	w.mu.Lock()
	defer w.mu.Unlock()

	if ev.Name == dir && ev.Has(fsnotify.Remove|fsnotify.Rename) {
		delete(w.pending, dir)
		delete(w.deployed, dir)
		return false
	}
	if ev.Name == dir && ev.Has(fsnotify.Create) {
		w.watchDir(dir)
	}
	if _, ok := w.deployed[dir]; ok {
		return false
	}
	w.pending[dir] = struct{}{}
	return true
}

func (w *Watcher) watchDir(dir string) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("failed to watch module directory",
			zap.String("dir", dir),
			zap.Error(err))
	}
}

// flush hands over pending directories that now hold a descriptor
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	var ready []string
	for dir := range w.pending {
		delete(w.pending, dir)
		if _, err := os.Stat(filepath.Join(dir, w.descriptor)); err != nil {
			continue
		}
		w.deployed[dir] = struct{}{}
		ready = append(ready, dir)
	}
	w.mu.Unlock()

	if len(ready) == 0 {
		return
	}
	sort.Strings(ready)
	w.logger.Info("module directories ready", zap.Strings("dirs", ready))
	w.handler(ctx, ready)
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
