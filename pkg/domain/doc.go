// Package domain holds the module kernel's shared types: coordinates,
// lifecycle states, modules, events and manager requests.
package domain
