package process

import "github.com/aescanero/modkernel/internal/graph"

// Process is a frozen, validated set of phases and their ordering
type Process struct {
	name     string
	graph    *graph.Graph[struct{}, string]
	schedule *graph.Schedule[struct{}, string]
	phases   map[string]Phase
	scope    *Scope
}

// Name returns the process name
func (p *Process) Name() string { return p.name }

// Scope returns the scope shared by the phases
func (p *Process) Scope() *Scope { return p.scope }

// Levels returns the phase names level by level
func (p *Process) Levels() [][]string { return p.schedule.Values() }

// Phase returns the registered phase called name
func (p *Process) Phase(name string) (Phase, bool) {
	ph, ok := p.phases[name]
	return ph, ok
}

// DependenciesOf returns the phases name waits for
func (p *Process) DependenciesOf(name string) []string {
	var out []string
	for _, e := range p.graph.DependenciesOf(name) {
		out = append(out, e.Target)
	}
	return out
}

