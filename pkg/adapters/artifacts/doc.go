// Package artifacts provides module artifact sources.
//
// Implementations:
//   - filesystem: module directories with a module.yaml descriptor, staged
//     and stored under the kernel home
//   - memory: descriptors registered in memory, used by tests
package artifacts
