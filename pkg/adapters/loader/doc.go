// Package loader provides isolation backends for modules.
//
// The factory creates a loader based on configuration:
//   - yaegi: each module's Go sources run in a private interpreter; optional
//     Activate and Deactivate functions are called on start and stop
//   - noop: handles are tracked in memory and no module code runs
package loader
