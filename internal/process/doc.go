// Package process implements the phase pipeline used for module
// installation, module lifecycle transitions and kernel start/stop.
//
// A Process is a set of named phases with dependencies between them. The
// phase graph is compiled into levels by the graph package and executed
// level by level; phases of one level may run concurrently and exchange data
// only through the shared Scope.
//
//	p, err := process.New("install").
//	    Register(download, scan, transfer).
//	    Task("scan").DependsOn("download").
//	    Task("transfer").DependsOn("scan").
//	    Create()
//
// Create rejects unknown phase names and cycles, so a created process never
// fails to schedule.
package process
