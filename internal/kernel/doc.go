// Package kernel wires the module registry, the process scheduler, the
// lifecycle machine and the module manager into one Kernel object.
//
// The kernel runs two processes of its own. kernel:start prepares the home
// layout, reads persisted module records and restores each module with a
// fresh isolation handle. kernel:stop stops active modules in reverse
// dependency order, releases every handle and cleans the staging area.
// Persisted records survive a stop, so Reload brings back the same modules.
package kernel
