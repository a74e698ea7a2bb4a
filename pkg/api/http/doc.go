// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Run submission (synchronous graph execution)
//   - Node status and result queries
//   - Run cancellation
//   - Health checks
//   - Prometheus metrics
package http
