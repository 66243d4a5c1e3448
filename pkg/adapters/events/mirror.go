package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/aescanero/modkernel/pkg/domain"
	"github.com/aescanero/modkernel/pkg/ports"
)

// Mirror forwards every event published on src's topic to dst. Forwarding
// failures are logged and never reach the publisher.
func Mirror(ctx context.Context, src, dst ports.EventBus, topic string, logger *zap.Logger) (ports.Subscription, error) {
	return src.Subscribe(ctx, topic, func(ctx context.Context, event domain.Event) error {
		if err := dst.Publish(ctx, topic, event); err != nil {
			logger.Warn("failed to mirror event",
				zap.String("topic", topic),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
		return nil
	})
}
