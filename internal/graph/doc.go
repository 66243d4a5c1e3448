// Package graph provides a generic dependency graph and the topological
// leveler that compiles it into a parallel schedule.
//
// An edge A->B means "A depends on B". BuildSchedule groups vertices into
// levels so that every vertex runs after everything it depends on:
//
//	g := graph.New[string, string]()
//	g.Connect("scan", "download", "")
//	g.Connect("transfer", "scan", "")
//	s, err := graph.BuildSchedule(g, nil, nil)
//	// s.Values() == [[download] [scan] [transfer]]
//
// Self-dependencies are ignored. A true cycle yields a *CycleError.
package graph
