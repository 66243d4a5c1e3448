// Package lifecycle implements the module lifecycle state machine.
//
// Valid operations:
//   - resolve: Installed -> Resolved, when every dependency is Resolved or beyond
//   - start: Resolved -> Starting -> Active
//   - stop: Active -> Stopping -> Resolved
//   - restart: stop then start
//   - uninstall: Installed, Resolved or Failed -> Uninstalled
//   - reinstall: Installed, Resolved or Failed -> Installed with a new handle
//
// Any failed transition process moves the module to Failed. Invalid requests
// return a *TransitionError and leave the module untouched.
package lifecycle
