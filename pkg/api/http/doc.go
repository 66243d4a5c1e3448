// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Listing installed modules and their states
//   - Submitting installation and lifecycle request groups
//   - Kernel status and reload
//   - Health checks and Prometheus metrics
package http
