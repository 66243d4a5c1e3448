package manager

import (
	"context"

	"github.com/aescanero/modkernel/pkg/domain"
)

// CompositeFuture resolves once every request of a committed group has a
// final outcome
type CompositeFuture struct {
	done     chan struct{}
	outcomes []domain.Outcome
}

func newFuture(n int) *CompositeFuture {
	return &CompositeFuture{
		done:     make(chan struct{}),
		outcomes: make([]domain.Outcome, n),
	}
}

// Done is closed when every outcome is final
func (f *CompositeFuture) Done() <-chan struct{} { return f.done }

// Wait blocks until every outcome is final or ctx ends. The error is only
// ever ctx's; request failures are reported per outcome.
func (f *CompositeFuture) Wait(ctx context.Context) ([]domain.Outcome, error) {
	select {
	case <-f.done:
		return f.Outcomes(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Outcomes returns a copy of the outcomes, nil until the future resolves
func (f *CompositeFuture) Outcomes() []domain.Outcome {
	select {
	case <-f.done:
	default:
		return nil
	}
	out := make([]domain.Outcome, len(f.outcomes))
	copy(out, f.outcomes)
	return out
}

func (f *CompositeFuture) resolve() { close(f.done) }
