// Package grpc exposes the kernel over gRPC. The standard health service
// reports SERVING while the kernel is running.
package grpc
