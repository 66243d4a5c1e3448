// Package tracker delivers module lifecycle events to late-joining
// observers.
//
// A tracker first replays the current state of every matching module as
// synthetic events, then forwards live events from the kernel event channel.
// Live events already reflected in the replay are dropped, so each
// (module, transition) pair reaches a listener once per revision.
package tracker
