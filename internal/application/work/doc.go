// Package work provides the named work-handler registry used to bind
// wire-submitted graph nodes to executable Go functions.
//
// Builtin handlers:
//   - sleep: waits duration_ms milliseconds, cancellation-aware
//   - echo: returns its "value" parameter unchanged
//   - fail: always fails, for exercising retry and abort paths
package work
