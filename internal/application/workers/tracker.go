package workers

import (
	"context"
	"sync"
	"time"

	"github.com/aescanero/modkernel/internal/process"
)

// TrackerState is the execution state of a submitted process
type TrackerState int

const (
	TrackerPending TrackerState = iota
	TrackerRunning
	TrackerSucceeded
	TrackerFailed
)

func (s TrackerState) String() string {
	switch s {
	case TrackerPending:
		return "pending"
	case TrackerRunning:
		return "running"
	case TrackerSucceeded:
		return "succeeded"
	case TrackerFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the state is final
func (s TrackerState) Terminal() bool {
	return s == TrackerSucceeded || s == TrackerFailed
}

// Tracker follows one submitted process. Its terminal state never changes.
type Tracker struct {
	id      string
	process string

	mu        sync.Mutex
	state     TrackerState
	result    *process.Result
	callbacks []func(*Tracker)
	submitted time.Time
	finished  time.Time
	done      chan struct{}
}

func newTracker(id, processName string) *Tracker {
	return &Tracker{
		id:        id,
		process:   processName,
		state:     TrackerPending,
		submitted: time.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns the tracker ID
func (t *Tracker) ID() string { return t.id }

// Process returns the name of the tracked process
func (t *Tracker) Process() string { return t.process }

// State returns the current state
func (t *Tracker) State() TrackerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the tracker reaches a terminal state
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Wait blocks until the process finishes or ctx is done. It returns the
// process error, or ctx's error if ctx ends first.
func (t *Tracker) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the process error once terminal
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result == nil {
		return nil
	}
	return t.result.Err
}

// Result returns the process result, nil until terminal
func (t *Tracker) Result() *process.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Elapsed returns how long the process ran, or has been running
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished.IsZero() {
		return time.Since(t.submitted)
	}
	return t.finished.Sub(t.submitted)
}

// OnComplete registers cb to run once the tracker is terminal. If it already
// is, cb runs immediately on the caller's goroutine.
func (t *Tracker) OnComplete(cb func(*Tracker)) {
	t.mu.Lock()
	if !t.state.Terminal() {
		t.callbacks = append(t.callbacks, cb)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	cb(t)
}

func (t *Tracker) start() {
	t.mu.Lock()
	if t.state == TrackerPending {
		t.state = TrackerRunning
	}
	t.mu.Unlock()
}

func (t *Tracker) complete(res *process.Result) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.result = res
	t.finished = time.Now()
	if res.Err != nil {
		t.state = TrackerFailed
	} else {
		t.state = TrackerSucceeded
	}
	callbacks := t.callbacks
	t.callbacks = nil
	close(t.done)
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb(t)
	}
}
