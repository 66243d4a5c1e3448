package process

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aescanero/modkernel/internal/graph"
)

var tracer = otel.Tracer("modkernel.process")

// Runner executes phase bodies, usually on a bounded worker pool
type Runner interface {
	Go(ctx context.Context, fn func()) error
}

// GoroutineRunner runs every phase on its own goroutine
type GoroutineRunner struct{}

// Go starts fn on a new goroutine
func (GoroutineRunner) Go(_ context.Context, fn func()) error {
	go fn()
	return nil
}

// PhaseObserver is told about every executed phase
type PhaseObserver func(process, phase string, err error, duration time.Duration)

// RunOption configures Run
type RunOption func(*runConfig)

type runConfig struct {
	observer PhaseObserver
}

// WithPhaseObserver registers a callback invoked after each phase
func WithPhaseObserver(o PhaseObserver) RunOption {
	return func(c *runConfig) { c.observer = o }
}

// Result is the outcome of a process run
type Result struct {
	Process   string
	Completed []string
	// Err is the first failure, nil on success
	Err error
	// Aborted lists the phases skipped after Err, nil when nothing was skipped
	Aborted  *ProcessAbortedError
	Duration time.Duration
}

// Succeeded reports whether every phase ran and succeeded
func (r *Result) Succeeded() bool {
	return r.Err == nil
}

// Run executes p level by level. A level starts only after every phase of
// the previous level has returned. The first failure stops dispatching:
// phases already running finish, the rest are reported as aborted.
func Run(ctx context.Context, p *Process, runner Runner, opts ...RunOption) *Result {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := tracer.Start(ctx, "process.Run",
		trace.WithAttributes(
			attribute.String("process.name", p.name),
			attribute.Int("process.phases", len(p.phases)),
			attribute.Int("process.levels", len(p.schedule.Levels)),
		),
	)
	defer span.End()

	start := time.Now()
	res := &Result{Process: p.name}

	for i, level := range p.schedule.Levels {
		if err := ctx.Err(); err != nil {
			aborted := &ProcessAbortedError{Process: p.name, Phases: remaining(p.schedule.Levels[i:]), Cause: err}
			res.Err = aborted
			res.Aborted = aborted
			break
		}

		completed, skipped, err := runLevel(ctx, p, level, runner, cfg)
		res.Completed = append(res.Completed, completed...)
		if err != nil {
			res.Err = err
			skipped = append(skipped, remaining(p.schedule.Levels[i+1:])...)
			if len(skipped) > 0 {
				res.Aborted = &ProcessAbortedError{Process: p.name, Phases: skipped, Cause: err}
			}
			break
		}
	}

	res.Duration = time.Since(start)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return res
}

func runLevel(ctx context.Context, p *Process, level graph.TaskSet[struct{}, string], runner Runner, cfg runConfig) (completed, skipped []string, first error) {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed bool
	)

	fail := func(err error) {
		if first == nil {
			first = err
		}
		failed = true
	}

	for _, task := range level.Tasks {
		name := task.Value
		phase := p.phases[name]

		mu.Lock()
		stop := failed
		if stop {
			skipped = append(skipped, name)
		}
		mu.Unlock()
		if stop {
			continue
		}

		wg.Add(1)
		err := runner.Go(ctx, func() {
			defer wg.Done()

			mu.Lock()
			if failed {
				skipped = append(skipped, name)
				mu.Unlock()
				return
			}
			mu.Unlock()

			err := execute(ctx, p, phase, cfg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fail(err)
				return
			}
			completed = append(completed, name)
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			fail(&PhaseExecutionError{Process: p.name, Phase: name, Err: fmt.Errorf("dispatch: %w", err)})
			mu.Unlock()
		}
	}

	wg.Wait()
	return completed, skipped, first
}

func execute(ctx context.Context, p *Process, phase Phase, cfg runConfig) (err error) {
	ctx, span := tracer.Start(ctx, "process.Phase",
		trace.WithAttributes(
			attribute.String("process.name", p.name),
			attribute.String("process.phase", phase.Name()),
			attribute.StringSlice("process.depends_on", p.DependenciesOf(phase.Name())),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &PhaseExecutionError{Process: p.name, Phase: phase.Name(), Err: err}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		if cfg.observer != nil {
			cfg.observer(p.name, phase.Name(), err, time.Since(start))
		}
	}()

	return phase.Execute(ctx, p.scope)
}

func remaining(levels []graph.TaskSet[struct{}, string]) []string {
	var out []string
	for _, l := range levels {
		out = append(out, l.Values()...)
	}
	return out
}
