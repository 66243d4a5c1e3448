package deploy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type batches struct {
	mu   sync.Mutex
	seen [][]string
}

func (b *batches) handle(_ context.Context, dirs []string) {
	b.mu.Lock()
	b.seen = append(b.seen, dirs)
	b.mu.Unlock()
}

func (b *batches) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, batch := range b.seen {
		out = append(out, batch...)
	}
	return out
}

func writeModule(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module.yaml"), []byte("group: acme\nname: db\nversion: 1.0.0\n"), 0o644))
}

func startWatcher(t *testing.T, root string) *batches {
	t.Helper()
	b := &batches{}
	w, err := NewWatcher(root, b.handle, &Options{Debounce: 20 * time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return b
}

func TestExistingModulesAreDeployedOnStart(t *testing.T) {
	root := t.TempDir()
	writeModule(t, filepath.Join(root, "db"))
	writeModule(t, filepath.Join(root, ".hidden"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	b := startWatcher(t, root)

	require.Eventually(t, func() bool { return len(b.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{filepath.Join(root, "db")}, b.all())
}

func TestNewModuleDirectoryIsDeployedOnce(t *testing.T) {
	root := t.TempDir()
	b := startWatcher(t, root)

	staging := t.TempDir()
	writeModule(t, filepath.Join(staging, "web"))
	require.NoError(t, os.Rename(filepath.Join(staging, "web"), filepath.Join(root, "web")))

	require.Eventually(t, func() bool { return len(b.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{filepath.Join(root, "web")}, b.all())

	require.NoError(t, os.WriteFile(filepath.Join(root, "web", "extra.go"), []byte("package main\n"), 0o644))
	assert.Never(t, func() bool { return len(b.all()) > 1 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestDescriptorWrittenLater(t *testing.T) {
	root := t.TempDir()
	b := startWatcher(t, root)

	dir := filepath.Join(root, "api")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	assert.Never(t, func() bool { return len(b.all()) > 0 }, 150*time.Millisecond, 20*time.Millisecond)

	writeModule(t, dir)
	require.Eventually(t, func() bool { return len(b.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{dir}, b.all())
}

func TestRemovedDirectoryCanBeRedeployed(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "db")
	writeModule(t, dir)
	b := startWatcher(t, root)
	require.Eventually(t, func() bool { return len(b.all()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.RemoveAll(dir))
	time.Sleep(100 * time.Millisecond)

	writeModule(t, dir)
	require.Eventually(t, func() bool { return len(b.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestNewWatcherRequiresRoot(t *testing.T) {
	_, err := NewWatcher("", func(context.Context, []string) {}, nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}
