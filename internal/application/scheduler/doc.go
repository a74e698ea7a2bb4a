// Package scheduler implements the dependency-graph execution engine.
//
// Callers build job nodes with Builder, join them with Connect, and submit
// root nodes to Engine.Start with a deadline budget. The engine then:
//   - Walks the graph wave by wave, dispatching ready nodes priority-first
//     under a bounded-concurrency permit gate
//   - Guarantees each node's work function runs at most once per run,
//     even under concurrent fan-in from multiple finishing predecessors
//   - Applies per-node retry and per-attempt timeout policy
//   - Consumes the deadline budget per path through the graph
//   - Aborts the whole run on the first failure or on budget exhaustion,
//     cascading failure over mandatory successor edges
//
// The run registry tracks active runs for cancellation and cleanup; Stop
// is idempotent and may be called by the engine or directly by a caller.
package scheduler
