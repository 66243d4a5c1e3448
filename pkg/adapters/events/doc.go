// Package events provides event bus implementations.
//
// Implementations:
//   - memory: the kernel's local event channel, synchronous and ordered
//   - redis: Redis Streams with consumer groups, used to mirror module
//     events outside the process
package events
