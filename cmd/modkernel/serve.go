package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aescanero/modkernel/internal/application/workers"
	"github.com/aescanero/modkernel/internal/config"
	"github.com/aescanero/modkernel/internal/kernel"
	"github.com/aescanero/modkernel/internal/telemetry"
	"github.com/aescanero/modkernel/pkg/adapters/artifacts/filesystem"
	"github.com/aescanero/modkernel/pkg/adapters/deploy"
	"github.com/aescanero/modkernel/pkg/adapters/events"
	"github.com/aescanero/modkernel/pkg/adapters/events/memory"
	"github.com/aescanero/modkernel/pkg/adapters/events/redis"
	"github.com/aescanero/modkernel/pkg/adapters/loader"
	"github.com/aescanero/modkernel/pkg/adapters/metrics/prometheus"
	badgerstorage "github.com/aescanero/modkernel/pkg/adapters/storage/badger"
	memorystorage "github.com/aescanero/modkernel/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/modkernel/pkg/adapters/storage/redis"
	"github.com/aescanero/modkernel/pkg/api/grpc"
	"github.com/aescanero/modkernel/pkg/api/http"
	"github.com/aescanero/modkernel/pkg/api/websocket"
	"github.com/aescanero/modkernel/pkg/domain"
	"github.com/aescanero/modkernel/pkg/ports"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the kernel and its API servers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting module kernel",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("home", cfg.Home))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		return err
	}

	registry := prom.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCollector := prometheus.NewCollector(registry)

	var redisClient *goredis.Client
	if cfg.NeedsRedis() {
		redisClient = newRedisClient(cfg)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	store, err := openStore(cfg, redisClient, logger)
	if err != nil {
		return err
	}

	bus := memory.NewInMemoryEventBus(logger)
	var stream *redis.StreamsEventBus
	if cfg.Events.Mirror {
		stream = redis.NewStreamsEventBus(redisClient, "modkernel", fmt.Sprintf("modkernel-%d", os.Getpid()),
			cfg.Events.StreamMaxLen, logger)
		if _, err := events.Mirror(ctx, bus, stream, domain.TopicModules, logger); err != nil {
			return fmt.Errorf("failed to mirror events: %w", err)
		}
	}

	moduleLoader, err := loader.New(&loader.Config{Backend: cfg.Loader.Backend, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create loader: %w", err)
	}
	artifacts := filesystem.New(cfg.Home, logger)

	pool := workers.NewPool(cfg.Workers.PoolSize, metricsCollector, logger, cfg.Workers.HealthCheckInterval)
	if err := pool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	k, err := kernel.New(&kernel.Config{
		Pool:           pool,
		Bus:            bus,
		Store:          store,
		Loader:         moduleLoader,
		Artifacts:      artifacts,
		Metrics:        metricsCollector,
		Logger:         logger,
		ProcessTimeout: cfg.Timeouts.ProcessAwait,
	})
	if err != nil {
		return fmt.Errorf("failed to create kernel: %w", err)
	}
	if err := k.Start(ctx); err != nil {
		return fmt.Errorf("failed to start kernel: %w", err)
	}

	var watcher *deploy.Watcher
	if cfg.Deploy.Enabled {
		opts := deploy.DefaultOptions()
		opts.Debounce = cfg.Deploy.Debounce
		watcher, err = deploy.NewWatcher(cfg.DeployPath(), k.Deploy, &opts, logger)
		if err != nil {
			return fmt.Errorf("failed to create deploy watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start deploy watcher: %w", err)
		}
	}

	httpServer := http.NewServer(&http.Config{
		Port:           cfg.HTTPPort,
		Kernel:         k,
		Pool:           pool,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		RequestTimeout: cfg.Timeouts.Request,
		ServiceName:    cfg.Tracing.ServiceName,
		Logger:         logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(k, logger))

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Kernel: k,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(grpcServer.Start)

	logger.Info("module kernel started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.Int("modules", len(k.Modules())))

	<-gctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Error("deploy watcher shutdown error", zap.Error(err))
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}
	if err := k.Shutdown(shutdownCtx); err != nil {
		logger.Error("kernel shutdown error", zap.Error(err))
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}
	if err := moduleLoader.Close(); err != nil {
		logger.Error("loader close error", zap.Error(err))
	}
	if err := bus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			logger.Error("event stream close error", zap.Error(err))
		}
	}
	if err := store.Close(); err != nil {
		logger.Error("module store close error", zap.Error(err))
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("module kernel shut down complete")
	return nil
}

func openStore(cfg *config.Config, client *goredis.Client, logger *zap.Logger) (ports.ModuleStore, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memorystorage.NewModuleStore(), nil
	case "redis":
		return redisstorage.NewModuleStore(client, logger), nil
	default:
		store, err := badgerstorage.Open(badgerstorage.Config{
			Path:       cfg.BadgerPath(),
			SyncWrites: cfg.Storage.SyncWrites,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open module store: %w", err)
		}
		return store, nil
	}
}

func newRedisClient(cfg *config.Config) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
}
