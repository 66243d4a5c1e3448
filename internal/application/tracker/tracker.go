package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/modkernel/pkg/domain"
	"github.com/aescanero/modkernel/pkg/ports"
)

// ErrTrackerClosed is the sentinel behind ClosedError
var ErrTrackerClosed = errors.New("tracker closed")

// ClosedError reports a delivery or registration attempted after Close
type ClosedError struct {
	Host string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("event tracker for %q is closed", e.Host)
}

func (e *ClosedError) Unwrap() error { return ErrTrackerClosed }

// Source is what a tracker observes: a module snapshot and the live event
// channel
type Source interface {
	Modules() []*domain.Module
	Subscribe(ctx context.Context, handler ports.EventHandler) (ports.Subscription, error)
}

// Filter selects the modules a tracker reports on. A nil filter accepts
// every module.
type Filter func(c domain.Coordinate) bool

// Coordinates accepts only the listed modules
func Coordinates(cs ...domain.Coordinate) Filter {
	set := make(map[domain.Coordinate]struct{}, len(cs))
	for _, c := range cs {
		set[c] = struct{}{}
	}
	return func(c domain.Coordinate) bool {
		_, ok := set[c]
		return ok
	}
}

// Group accepts every module of a group
func Group(group string) Filter {
	return func(c domain.Coordinate) bool { return c.Group == group }
}

// Listener receives module events, one at a time
type Listener func(event domain.ModuleEvent)

type registration struct {
	listener Listener
	kinds    map[domain.Transition]struct{}
}

func (r registration) wants(t domain.Transition) bool {
	if len(r.kinds) == 0 {
		return true
	}
	_, ok := r.kinds[t]
	return ok
}

type dedupKey struct {
	coordinate domain.Coordinate
	transition domain.Transition
}

var active atomic.Int64

// Tracker delivers module events to its listeners from a private queue
// drained by a single goroutine. The first queued task replays the current
// module states as synthetic events; live events follow and are dropped
// when the replay already covered them.
type Tracker struct {
	host    string
	filter  Filter
	source  Source
	metrics ports.MetricsCollector
	logger  *zap.Logger

	mu        sync.Mutex
	queue     []func()
	listeners []registration
	sub       ports.Subscription
	started   bool
	closed    bool
	wake      chan struct{}
	done      chan struct{}

	// consumer goroutine only
	snapshot  map[domain.Coordinate]uint64
	delivered map[dedupKey]uint64
}

// Track starts observing source on behalf of host. Delivery begins once the
// first listener is attached, so that listener sees the full replay.
func Track(
	ctx context.Context,
	source Source,
	host string,
	filter Filter,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) (*Tracker, error) {
	t := &Tracker{
		host:      host,
		filter:    filter,
		source:    source,
		metrics:   metrics,
		logger:    logger.With(zap.String("host", host)),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		snapshot:  make(map[domain.Coordinate]uint64),
		delivered: make(map[dedupKey]uint64),
	}

	// The replay must be queued ahead of any live event
	t.queue = append(t.queue, t.catchUp)

	sub, err := source.Subscribe(ctx, t.onEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe tracker for %q: %w", host, err)
	}
	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()

	metrics.SetTrackersActive(int(active.Add(1)))
	t.logger.Debug("event tracker opened")
	return t, nil
}

// Host returns the name the tracker was opened for
func (t *Tracker) Host() string { return t.host }

// AddEventListener registers listener for the given transition kinds, or for
// every kind when none are given
func (t *Tracker) AddEventListener(listener Listener, kinds ...domain.Transition) error {
	reg := registration{listener: listener}
	if len(kinds) > 0 {
		reg.kinds = make(map[domain.Transition]struct{}, len(kinds))
		for _, k := range kinds {
			reg.kinds[k] = struct{}{}
		}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &ClosedError{Host: t.host}
	}
	t.listeners = append(t.listeners, reg)
	start := !t.started
	t.started = true
	t.mu.Unlock()

	if start {
		go t.consume()
	}
	return nil
}

// Close stops accepting events, lets already queued tasks drain and then
// returns. Calling Close again waits for the same drain.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		<-t.done
		return nil
	}
	t.closed = true
	sub := t.sub
	start := !t.started
	t.started = true
	t.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if start {
		go t.consume()
	}
	t.signal()
	<-t.done

	t.metrics.SetTrackersActive(int(active.Add(-1)))
	t.logger.Debug("event tracker closed")
	return nil
}

func (t *Tracker) onEvent(_ context.Context, event domain.Event) error {
	if t.filter != nil && !t.filter(event.Coordinate) {
		return nil
	}
	return t.enqueue(func() { t.deliverLive(event) })
}

func (t *Tracker) enqueue(task func()) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &ClosedError{Host: t.host}
	}
	t.queue = append(t.queue, task)
	t.mu.Unlock()
	t.signal()
	return nil
}

func (t *Tracker) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Tracker) consume() {
	defer close(t.done)
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			if t.closed {
				t.mu.Unlock()
				return
			}
			t.mu.Unlock()
			<-t.wake
			continue
		}
		task := t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]
		t.mu.Unlock()

		task()
	}
}

func (t *Tracker) catchUp() {
	for _, m := range t.source.Modules() {
		c := m.Coordinate()
		if t.filter != nil && !t.filter(c) {
			continue
		}
		state, rev := m.Snapshot()
		implied := domain.ImpliedTransitions(state)
		if len(implied) == 0 {
			continue
		}
		t.snapshot[c] = rev

		var cause string
		if err := m.Cause(); err != nil {
			cause = err.Error()
		}
		now := time.Now()
		for _, tr := range implied {
			t.deliver(domain.ModuleEvent{
				Coordinate: c,
				Transition: tr,
				State:      state,
				Revision:   rev,
				Synthetic:  true,
				Timestamp:  now,
				Error:      cause,
			})
		}
	}
}

func (t *Tracker) deliverLive(event domain.Event) {
	tr, ok := event.Transition()
	if !ok {
		return
	}
	if rev, seen := t.snapshot[event.Coordinate]; seen && event.Revision <= rev {
		t.logger.Debug("dropping event covered by catch-up",
			zap.String("coordinate", event.Coordinate.String()),
			zap.String("transition", string(tr)),
			zap.Uint64("revision", event.Revision))
		return
	}
	if rev, seen := t.delivered[dedupKey{event.Coordinate, tr}]; seen && event.Revision <= rev {
		return
	}

	t.deliver(domain.ModuleEvent{
		Coordinate: event.Coordinate,
		Transition: tr,
		State:      event.To,
		Revision:   event.Revision,
		Timestamp:  event.Timestamp,
		Error:      event.Error,
	})

	// A later install of the same coordinate starts a fresh revision history
	if tr == domain.TransitionUninstalled {
		delete(t.snapshot, event.Coordinate)
		for k := range t.delivered {
			if k.coordinate == event.Coordinate {
				delete(t.delivered, k)
			}
		}
	}
}

func (t *Tracker) deliver(event domain.ModuleEvent) {
	t.delivered[dedupKey{event.Coordinate, event.Transition}] = event.Revision

	t.mu.Lock()
	listeners := make([]registration, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, reg := range listeners {
		if !reg.wants(event.Transition) {
			continue
		}
		t.invoke(reg.listener, event)
	}
	t.metrics.RecordEventDelivered(event.Synthetic)
}

func (t *Tracker) invoke(listener Listener, event domain.ModuleEvent) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("event listener panicked",
				zap.String("coordinate", event.Coordinate.String()),
				zap.String("transition", string(event.Transition)),
				zap.Any("panic", r))
		}
	}()
	listener(event)
}
