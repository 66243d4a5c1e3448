package process

import (
	"fmt"

	"github.com/aescanero/modkernel/internal/graph"
)

type dependency struct {
	task, on string
}

// Builder assembles a process. Phases are registered first, then ordered
// with Task(name).DependsOn(other). Nothing is validated until Create.
type Builder struct {
	name   string
	scope  *Scope
	phases []Phase
	deps   []dependency
}

// TaskBuilder declares the dependencies of one phase
type TaskBuilder struct {
	b    *Builder
	name string
}

// New starts a process builder
func New(name string) *Builder {
	return &Builder{name: name}
}

// WithScope shares an existing scope with the process
func (b *Builder) WithScope(s *Scope) *Builder {
	b.scope = s
	return b
}

// Register adds phases to the process
func (b *Builder) Register(phases ...Phase) *Builder {
	b.phases = append(b.phases, phases...)
	return b
}

// Task selects a registered phase to declare dependencies for
func (b *Builder) Task(name string) *TaskBuilder {
	return &TaskBuilder{b: b, name: name}
}

// DependsOn declares that the selected phase runs after each of names
func (t *TaskBuilder) DependsOn(names ...string) *Builder {
	for _, n := range names {
		t.b.deps = append(t.b.deps, dependency{task: t.name, on: n})
	}
	return t.b
}

// Create validates the phase graph and freezes the process
func (b *Builder) Create() (*Process, error) {
	if b.name == "" {
		return nil, &BuildError{Process: b.name, Kind: ErrInvalidPhase, Msg: "process name is required"}
	}

	g := graph.New[struct{}, string]()
	phases := make(map[string]Phase, len(b.phases))
	for _, p := range b.phases {
		if p == nil || p.Name() == "" {
			return nil, &BuildError{Process: b.name, Kind: ErrInvalidPhase, Msg: "phase name is required"}
		}
		if _, dup := phases[p.Name()]; dup {
			return nil, &BuildError{Process: b.name, Kind: ErrDuplicatePhase, Msg: p.Name()}
		}
		phases[p.Name()] = p
		g.AddVertex(p.Name())
	}

	for _, d := range b.deps {
		if _, ok := phases[d.task]; !ok {
			return nil, &BuildError{Process: b.name, Kind: ErrUnknownPhase, Msg: fmt.Sprintf("task %q is not registered", d.task)}
		}
		if _, ok := phases[d.on]; !ok {
			return nil, &BuildError{Process: b.name, Kind: ErrUnknownPhase, Msg: fmt.Sprintf("%q depends on unregistered phase %q", d.task, d.on)}
		}
		g.Connect(d.task, d.on, struct{}{})
	}

	schedule, err := graph.BuildSchedule(g, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("process %q: %w", b.name, err)
	}

	scope := b.scope
	if scope == nil {
		scope = NewScope()
	}

	return &Process{
		name:     b.name,
		graph:    g,
		schedule: schedule,
		phases:   phases,
		scope:    scope,
	}, nil
}
