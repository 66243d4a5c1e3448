// Package ports defines the interfaces the kernel uses to reach its
// collaborators: the event channel, module storage, the isolation loader,
// artifact sources and metrics.
package ports
