package memory

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/modkernel/pkg/domain"
	"github.com/aescanero/modkernel/pkg/ports"
)

// ErrBusClosed is returned when publishing to or subscribing on a closed bus
var ErrBusClosed = errors.New("event bus closed")

// InMemoryEventBus is the kernel's local event channel. Handlers run
// synchronously on the publishing goroutine, in subscription order, so a
// subscriber sees one publisher's events in publication order.
type InMemoryEventBus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string][]*subscription
	nextID      uint64
	closed      bool
}

type subscription struct {
	id      uint64
	topic   string
	handler ports.EventHandler
	bus     *InMemoryEventBus
	once    sync.Once
	done    chan struct{}
}

// Unsubscribe removes the handler from the bus
func (s *subscription) Unsubscribe() {
	s.bus.unsubscribe(s.topic, s.id)
	s.stop()
}

// stop releases the goroutine watching the subscription's context
func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	return &InMemoryEventBus{
		logger:      logger,
		subscribers: make(map[string][]*subscription),
	}
}

// Publish delivers an event to every subscriber of topic
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrBusClosed
	}
	subs := make([]*subscription, len(e.subscribers[topic]))
	copy(subs, e.subscribers[topic])
	e.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler(ctx, event); err != nil {
			e.logger.Warn("event handler failed",
				zap.String("topic", topic),
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)),
				zap.Error(err))
		}
	}

	return nil
}

// Subscribe registers handler for topic. The subscription ends when ctx is
// done or Unsubscribe is called.
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) (ports.Subscription, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrBusClosed
	}
	e.nextID++
	s := &subscription{id: e.nextID, topic: topic, handler: handler, bus: e, done: make(chan struct{})}
	e.subscribers[topic] = append(e.subscribers[topic], s)
	e.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.Unsubscribe()
			case <-s.done:
			}
		}()
	}

	return s, nil
}

// SubscriberCount returns the number of handlers on topic
func (e *InMemoryEventBus) SubscriberCount(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

// Close drops every subscriber and rejects further use
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	var subs []*subscription
	for _, topicSubs := range e.subscribers {
		subs = append(subs, topicSubs...)
	}
	e.closed = true
	e.subscribers = make(map[string][]*subscription)
	e.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

func (e *InMemoryEventBus) unsubscribe(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			e.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}
