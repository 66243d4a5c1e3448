package graph

// Edge is a directed, labelled edge. Source depends on Target.
type Edge[E any, V comparable] struct {
	Source V
	Target V
	Label  E
}

// Graph is a directed graph of unique vertices with labelled dependency
// edges. A Graph is not safe for concurrent mutation.
type Graph[E any, V comparable] struct {
	order []V
	deps  map[V]map[V]E
	// rdeps mirrors deps: target -> sources depending on it
	rdeps map[V]map[V]struct{}
}

// New creates an empty graph
func New[E any, V comparable]() *Graph[E, V] {
	return &Graph[E, V]{
		deps:  make(map[V]map[V]E),
		rdeps: make(map[V]map[V]struct{}),
	}
}

// AddVertex adds v if it is not already present
func (g *Graph[E, V]) AddVertex(v V) {
	if _, ok := g.deps[v]; ok {
		return
	}
	g.order = append(g.order, v)
	g.deps[v] = make(map[V]E)
	g.rdeps[v] = make(map[V]struct{})
}

// Connect records that from depends on to, adding missing vertices.
// Connecting the same pair again replaces the label.
func (g *Graph[E, V]) Connect(from, to V, label E) {
	g.AddVertex(from)
	g.AddVertex(to)
	g.deps[from][to] = label
	g.rdeps[to][from] = struct{}{}
}

// Disconnect removes the edge from -> to
func (g *Graph[E, V]) Disconnect(from, to V) bool {
	targets, ok := g.deps[from]
	if !ok {
		return false
	}
	if _, ok := targets[to]; !ok {
		return false
	}
	delete(targets, to)
	delete(g.rdeps[to], from)
	return true
}

// Contains reports whether v is a vertex of the graph
func (g *Graph[E, V]) Contains(v V) bool {
	_, ok := g.deps[v]
	return ok
}

// Len returns the number of vertices
func (g *Graph[E, V]) Len() int {
	return len(g.order)
}

// IsEmpty reports whether the graph has no vertices
func (g *Graph[E, V]) IsEmpty() bool {
	return len(g.order) == 0
}

// Vertices returns the vertices in insertion order
func (g *Graph[E, V]) Vertices() []V {
	out := make([]V, len(g.order))
	copy(out, g.order)
	return out
}

// Edges returns every edge, grouped by source in insertion order
func (g *Graph[E, V]) Edges() []Edge[E, V] {
	var out []Edge[E, V]
	for _, v := range g.order {
		out = append(out, g.DependenciesOf(v)...)
	}
	return out
}

// DependenciesOf returns the outgoing edges of v, in target insertion order
func (g *Graph[E, V]) DependenciesOf(v V) []Edge[E, V] {
	targets := g.deps[v]
	if len(targets) == 0 {
		return nil
	}
	out := make([]Edge[E, V], 0, len(targets))
	for _, t := range g.order {
		if label, ok := targets[t]; ok {
			out = append(out, Edge[E, V]{Source: v, Target: t, Label: label})
		}
	}
	return out
}

// DependentsOf returns the vertices that depend on v, in insertion order
func (g *Graph[E, V]) DependentsOf(v V) []V {
	sources := g.rdeps[v]
	if len(sources) == 0 {
		return nil
	}
	out := make([]V, 0, len(sources))
	for _, s := range g.order {
		if _, ok := sources[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// DegreeOf counts the dependency edges of v whose label satisfies pred
func (g *Graph[E, V]) DegreeOf(v V, pred func(E) bool) int {
	n := 0
	for _, label := range g.deps[v] {
		if pred == nil || pred(label) {
			n++
		}
	}
	return n
}

// RemoveDependents removes every edge pointing at v whose label satisfies
// pred and returns the removed edges
func (g *Graph[E, V]) RemoveDependents(v V, pred func(E) bool) []Edge[E, V] {
	var removed []Edge[E, V]
	for _, s := range g.DependentsOf(v) {
		label := g.deps[s][v]
		if pred != nil && !pred(label) {
			continue
		}
		g.Disconnect(s, v)
		removed = append(removed, Edge[E, V]{Source: s, Target: v, Label: label})
	}
	return removed
}

// Delete removes v and every edge touching it
func (g *Graph[E, V]) Delete(v V) bool {
	if !g.Contains(v) {
		return false
	}
	for t := range g.deps[v] {
		delete(g.rdeps[t], v)
	}
	for s := range g.rdeps[v] {
		delete(g.deps[s], v)
	}
	delete(g.deps, v)
	delete(g.rdeps, v)
	for i, o := range g.order {
		if o == v {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

// Clone returns an independent copy. Labels are copied by value.
func (g *Graph[E, V]) Clone() *Graph[E, V] {
	c := New[E, V]()
	for _, v := range g.order {
		c.AddVertex(v)
	}
	for _, v := range g.order {
		for t, label := range g.deps[v] {
			c.Connect(v, t, label)
		}
	}
	return c
}
