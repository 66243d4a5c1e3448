package ports

import (
	"context"
	"errors"
	"time"

	"github.com/aescanero/modkernel/pkg/domain"
)

// ErrNotFound is returned by stores when a record does not exist
var ErrNotFound = errors.New("not found")

// EventHandler handles an event delivered by an EventBus
type EventHandler func(ctx context.Context, event domain.Event) error

// Subscription is a live EventBus registration
type Subscription interface {
	Unsubscribe()
}

// EventBus carries kernel events
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) (Subscription, error)
	Close() error
}

// ModuleStore persists module records
type ModuleStore interface {
	Save(ctx context.Context, record domain.ModuleRecord) error
	Get(ctx context.Context, c domain.Coordinate) (*domain.ModuleRecord, error)
	Delete(ctx context.Context, c domain.Coordinate) error
	List(ctx context.Context) ([]domain.ModuleRecord, error)
	Close() error
}

// Loader is the isolation subsystem. Handles are opaque to the kernel.
type Loader interface {
	// Install creates an isolated context for the module and returns its handle
	Install(ctx context.Context, m *domain.Module) (any, error)
	// Uninstall releases the module's isolated context
	Uninstall(ctx context.Context, m *domain.Module) error
	// Load returns the handle of an installed unit
	Load(ctx context.Context, c domain.Coordinate) (any, error)
	// Activate runs the module's start hook
	Activate(ctx context.Context, m *domain.Module) error
	// Deactivate runs the module's stop hook
	Deactivate(ctx context.Context, m *domain.Module) error
	// Close releases every isolated context
	Close() error
}

// ArtifactSource fetches and unpacks module artifacts
type ArtifactSource interface {
	// Fetch stages the artifact at location and returns the staged path
	Fetch(ctx context.Context, location string) (string, error)
	// Scan reads the descriptor of a staged artifact
	Scan(ctx context.Context, staged string) (*domain.Descriptor, error)
	// Transfer moves a staged artifact into kernel storage
	Transfer(ctx context.Context, staged string, c domain.Coordinate) (string, error)
	// Remove deletes a module from kernel storage
	Remove(ctx context.Context, c domain.Coordinate) error
	// Discard deletes a staged artifact that was not transferred
	Discard(staged string) error
}

// MetricsCollector records kernel metrics
type MetricsCollector interface {
	RecordProcessSubmitted(process string)
	RecordProcessCompleted(process, status string, duration time.Duration)
	RecordPhaseExecuted(phase, status string, duration time.Duration)
	RecordLifecycleTransition(from, to domain.State)
	RecordRequest(action domain.Action, status string)
	RecordModuleBusy()
	SetModuleCount(state domain.State, count int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	RecordEventDelivered(synthetic bool)
	SetTrackersActive(count int)
}
