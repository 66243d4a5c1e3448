package loader

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/modkernel/pkg/adapters/loader/memory"
	"github.com/aescanero/modkernel/pkg/adapters/loader/yaegi"
	"github.com/aescanero/modkernel/pkg/ports"
)

// Config holds loader configuration
type Config struct {
	Backend string
	Logger  *zap.Logger
}

// New creates a loader for the configured backend
func New(cfg *Config) (ports.Loader, error) {
	switch cfg.Backend {
	case "yaegi":
		return yaegi.New(cfg.Logger), nil
	case "noop":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported loader backend: %s", cfg.Backend)
	}
}
