// Package manager commits batches of module requests.
//
// A group is validated by Prepare and submitted by Commit. Installation
// requests each run a download, scan, insert, isolate and transfer process;
// lifecycle requests run the lifecycle machine's processes. Each module
// coordinate can have at most one process in flight: a conflicting request
// fails with ModuleBusyError instead of waiting.
//
// The manager owns the canonical dependency graph of installed modules and
// uses it to resolve and activate modules in dependency order.
package manager
