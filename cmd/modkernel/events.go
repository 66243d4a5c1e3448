package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aescanero/modkernel/internal/config"
	"github.com/aescanero/modkernel/pkg/adapters/events/redis"
	"github.com/aescanero/modkernel/pkg/domain"
	"github.com/aescanero/modkernel/pkg/ports"
)

var eventsGroup string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow module events mirrored to Redis",
	Long: `Reads the module event stream a serving kernel mirrors to Redis
(EVENTS_MIRROR_ENABLED=true) and prints one JSON event per line.

Readers sharing a consumer group split the stream between them.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return followEvents(cmd.Context(), cfg, eventsGroup, cmd.OutOrStdout())
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsGroup, "group", "modkernel-events", "Redis consumer group")
}

func followEvents(parent context.Context, cfg *config.Config, group string, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newRedisClient(cfg)
	defer func() { _ = client.Close() }()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	bus := redis.NewStreamsEventBus(client, group, fmt.Sprintf("reader-%d", os.Getpid()), 0, logger)
	sub, err := bus.Subscribe(ctx, domain.TopicModules, printEvent(out))
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	logger.Info("following module events",
		zap.String("addr", cfg.Redis.Addr),
		zap.String("group", group))

	<-ctx.Done()
	return nil
}

// printEvent writes each event as a JSON line
func printEvent(out io.Writer) ports.EventHandler {
	enc := json.NewEncoder(out)
	return func(_ context.Context, event domain.Event) error {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
		return nil
	}
}
