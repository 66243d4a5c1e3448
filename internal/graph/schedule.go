package graph

import "fmt"

// Task is one schedulable vertex
type Task[E any, V comparable] struct {
	Value V
	// Satisfied holds the dependency edges that had to be satisfied by
	// earlier levels before the vertex could run. Self-loops and edges
	// rejected by the edge filter are not included.
	Satisfied []Edge[E, V]
}

// TaskSet is one level of a schedule. Its tasks have no edges between them.
type TaskSet[E any, V comparable] struct {
	Tasks []Task[E, V]
}

// Values returns the vertex values of the level
func (s TaskSet[E, V]) Values() []V {
	out := make([]V, len(s.Tasks))
	for i, t := range s.Tasks {
		out[i] = t.Value
	}
	return out
}

// Schedule is an ordered sequence of levels. For every scheduled edge A->B,
// B's level comes before A's.
type Schedule[E any, V comparable] struct {
	Levels []TaskSet[E, V]
}

// Len returns the number of scheduled vertices
func (s *Schedule[E, V]) Len() int {
	n := 0
	for _, l := range s.Levels {
		n += len(l.Tasks)
	}
	return n
}

// Values returns the vertex values level by level
func (s *Schedule[E, V]) Values() [][]V {
	out := make([][]V, len(s.Levels))
	for i, l := range s.Levels {
		out[i] = l.Values()
	}
	return out
}

// Reverse returns a schedule with the level order inverted, used to tear
// things down in dependency order
func (s *Schedule[E, V]) Reverse() *Schedule[E, V] {
	out := &Schedule[E, V]{Levels: make([]TaskSet[E, V], len(s.Levels))}
	for i, l := range s.Levels {
		out.Levels[len(s.Levels)-1-i] = l
	}
	return out
}

// AllEdges accepts every edge
func AllEdges[E any](E) bool { return true }

// AllNodes accepts every vertex
func AllNodes[V comparable](V) bool { return true }

// BuildSchedule levels g with Kahn's algorithm. Edges rejected by edgeFilter
// never block a vertex; vertices rejected by nodeFilter are left out and
// count as satisfied for their dependents. g itself is not modified.
func BuildSchedule[E any, V comparable](g *Graph[E, V], edgeFilter func(E) bool, nodeFilter func(V) bool) (*Schedule[E, V], error) {
	if edgeFilter == nil {
		edgeFilter = AllEdges[E]
	}
	work := g.Clone()

	for _, v := range work.Vertices() {
		work.Disconnect(v, v)
	}
	if nodeFilter != nil {
		for _, v := range work.Vertices() {
			if !nodeFilter(v) {
				work.Delete(v)
			}
		}
	}

	satisfied := make(map[V][]Edge[E, V], work.Len())
	for _, v := range work.Vertices() {
		for _, e := range work.DependenciesOf(v) {
			if edgeFilter(e.Label) {
				satisfied[v] = append(satisfied[v], e)
			}
		}
	}

	schedule := &Schedule[E, V]{}
	for !work.IsEmpty() {
		var frontier []V
		for _, v := range work.Vertices() {
			if work.DegreeOf(v, edgeFilter) == 0 {
				frontier = append(frontier, v)
			}
		}
		if len(frontier) == 0 {
			return nil, cycleError(work.Vertices())
		}

		level := TaskSet[E, V]{Tasks: make([]Task[E, V], 0, len(frontier))}
		for _, v := range frontier {
			work.RemoveDependents(v, nil)
			work.Delete(v)
			level.Tasks = append(level.Tasks, Task[E, V]{Value: v, Satisfied: satisfied[v]})
		}
		schedule.Levels = append(schedule.Levels, level)
	}
	return schedule, nil
}

func cycleError[V comparable](remaining []V) error {
	names := make([]string, len(remaining))
	for i, v := range remaining {
		names[i] = fmt.Sprint(v)
	}
	return &CycleError{Remaining: names}
}
