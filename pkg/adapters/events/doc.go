// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams with consumer groups
//   - memory: In-memory for testing and single-binary deployments
package events
