package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/modkernel/pkg/domain"
)

func module(coord string) *domain.Module {
	return domain.NewModule(domain.Descriptor{Coordinate: domain.MustParseCoordinate(coord)}, "file:///deploy")
}

func TestLoaderLifecycle(t *testing.T) {
	ctx := context.Background()
	l := New()
	m := module("acme:db:1.0.0")

	h, err := l.Install(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, m.Coordinate(), h.(*Handle).Coordinate)
	assert.Equal(t, 1, l.Handles())

	require.NoError(t, l.Activate(ctx, m))
	loaded, err := l.Load(ctx, m.Coordinate())
	require.NoError(t, err)
	assert.True(t, loaded.(*Handle).Active)

	require.NoError(t, l.Deactivate(ctx, m))
	assert.False(t, loaded.(*Handle).Active)

	require.NoError(t, l.Uninstall(ctx, m))
	_, err = l.Load(ctx, m.Coordinate())
	assert.Error(t, err)
	assert.Equal(t, []string{
		"install:acme:db:1.0.0",
		"activate:acme:db:1.0.0",
		"deactivate:acme:db:1.0.0",
		"uninstall:acme:db:1.0.0",
	}, l.Calls())
}

func TestLoaderHooks(t *testing.T) {
	ctx := context.Background()
	l := New()
	m := module("acme:db:1.0.0")
	boom := errors.New("boom")

	l.OnInstall(func(context.Context, *domain.Module) error { return boom })
	_, err := l.Install(ctx, m)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, l.Handles())

	l.OnInstall(nil)
	_, err = l.Install(ctx, m)
	require.NoError(t, err)

	l.OnActivate(func(context.Context, *domain.Module) error { return boom })
	assert.ErrorIs(t, l.Activate(ctx, m), boom)
	h, _ := l.Load(ctx, m.Coordinate())
	assert.False(t, h.(*Handle).Active)
}

func TestActivateWithoutHandle(t *testing.T) {
	l := New()
	assert.Error(t, l.Activate(context.Background(), module("acme:db:1.0.0")))
}

func TestCloseDropsHandles(t *testing.T) {
	ctx := context.Background()
	l := New()
	_, _ = l.Install(ctx, module("acme:db:1.0.0"))
	_, _ = l.Install(ctx, module("acme:web:1.0.0"))
	require.NoError(t, l.Close())
	assert.Equal(t, 0, l.Handles())
}
