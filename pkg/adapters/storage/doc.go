// Package storage provides module record stores.
//
// Implementations:
//   - memory: a map, used by tests and throwaway kernels
//   - redis: JSON values under modkernel:module:<coordinate>
//   - badger: an embedded key-value store under the kernel home
package storage
