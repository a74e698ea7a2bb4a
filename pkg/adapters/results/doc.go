// Package results provides result sink implementations.
//
// Implementations:
//   - memory: In-memory for testing and single-binary deployments
//   - redis: Redis with JSON serialization and TTL
package results
