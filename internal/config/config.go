package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the module kernel
type Config struct {
	// Home holds staging, installed modules, the badger store and the
	// default deploy directory
	Home string `env:"MODKERNEL_HOME" envDefault:".modkernel"`

	// Server configuration
	HTTPPort int    `env:"MODKERNEL_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"MODKERNEL_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Workers  WorkerConfig
	Timeouts TimeoutConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Events   EventsConfig
	Loader   LoaderConfig
	Deploy   DeployConfig
	Tracing  TracingConfig
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"8"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	// ProcessAwait bounds kernel start and stop processes
	ProcessAwait time.Duration `env:"TIMEOUT_PROCESS_AWAIT" envDefault:"60s"`
	// Request bounds how long an API call waits for request outcomes
	Request  time.Duration `env:"TIMEOUT_REQUEST" envDefault:"120s"`
	Shutdown time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// StorageConfig selects where module records are persisted
type StorageConfig struct {
	Backend    string `env:"STORAGE_BACKEND" envDefault:"badger"`
	BadgerDir  string `env:"BADGER_DIR"`
	SyncWrites bool   `env:"BADGER_SYNC_WRITES" envDefault:"true"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// EventsConfig controls mirroring of kernel events to Redis streams
type EventsConfig struct {
	Mirror       bool  `env:"EVENTS_MIRROR_ENABLED" envDefault:"false"`
	StreamMaxLen int64 `env:"EVENTS_STREAM_MAXLEN" envDefault:"10000"`
}

// LoaderConfig selects the isolation backend
type LoaderConfig struct {
	Backend string `env:"LOADER_BACKEND" envDefault:"yaegi"`
}

// DeployConfig controls the hot deploy directory
type DeployConfig struct {
	Enabled  bool          `env:"DEPLOY_ENABLED" envDefault:"true"`
	Dir      string        `env:"DEPLOY_DIR"`
	Debounce time.Duration `env:"DEPLOY_DEBOUNCE" envDefault:"500ms"`
}

// TracingConfig selects the span exporter
type TracingConfig struct {
	Exporter     string `env:"TRACING_EXPORTER" envDefault:"none"`
	ServiceName  string `env:"TRACING_SERVICE_NAME" envDefault:"modkernel"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid. An unknown log level is
// not an error; the logger falls back to info.
func (c *Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("kernel home is required")
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// A process run occupies a worker while its phases need others
	if c.Workers.PoolSize < 2 {
		return fmt.Errorf("worker pool size must be at least 2")
	}

	switch c.Storage.Backend {
	case "memory", "badger", "redis":
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be memory, badger, or redis)", c.Storage.Backend)
	}

	if c.NeedsRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	switch c.Loader.Backend {
	case "yaegi", "noop":
	default:
		return fmt.Errorf("unsupported loader backend: %s (must be yaegi or noop)", c.Loader.Backend)
	}

	switch c.Tracing.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("unsupported tracing exporter: %s (must be none, stdout, or otlp)", c.Tracing.Exporter)
	}

	if c.Timeouts.ProcessAwait <= 0 || c.Timeouts.Request <= 0 || c.Timeouts.Shutdown <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}

	return nil
}

// NeedsRedis reports whether any configured component talks to Redis
func (c *Config) NeedsRedis() bool {
	return c.Storage.Backend == "redis" || c.Events.Mirror
}

// BadgerPath returns the badger directory, under Home unless set
func (c *Config) BadgerPath() string {
	if c.Storage.BadgerDir != "" {
		return c.Storage.BadgerDir
	}
	return filepath.Join(c.Home, "db")
}

// DeployPath returns the hot deploy directory, under Home unless set
func (c *Config) DeployPath() string {
	if c.Deploy.Dir != "" {
		return c.Deploy.Dir
	}
	return filepath.Join(c.Home, "deploy")
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
