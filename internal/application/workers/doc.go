// Package workers runs processes asynchronously.
//
// The Pool manages a fixed number of goroutines that execute phase bodies.
// The Scheduler accepts a process, drives it level by level on the pool and
// hands back a Tracker that reports:
//   - Pending until the driver starts
//   - Running while phases execute
//   - Succeeded or Failed once every level has finished or one has failed
//
// The health monitor samples worker status and records metrics.
package workers
