package process

import "context"

// Phase is a named unit of work in a process
type Phase interface {
	Name() string
	Execute(ctx context.Context, scope *Scope) error
}

// PhaseFunc is the body of a phase built with NewPhase
type PhaseFunc func(ctx context.Context, scope *Scope) error

type funcPhase struct {
	name string
	fn   PhaseFunc
}

// NewPhase wraps fn as a Phase
func NewPhase(name string, fn PhaseFunc) Phase {
	return &funcPhase{name: name, fn: fn}
}

func (p *funcPhase) Name() string { return p.name }

func (p *funcPhase) Execute(ctx context.Context, scope *Scope) error {
	return p.fn(ctx, scope)
}
