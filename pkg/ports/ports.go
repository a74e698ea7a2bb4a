// Package ports defines the interfaces between the scheduler core and its
// adapters: result storage, lifecycle event transport, and metrics.
package ports

import (
	"context"
	"time"
)

// EventType identifies a run or node lifecycle transition.
type EventType string

const (
	EventRunSubmitted EventType = "run.submitted"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"
	EventRunStopped   EventType = "run.stopped"

	EventNodeStarted   EventType = "node.started"
	EventNodeCompleted EventType = "node.completed"
	EventNodeFailed    EventType = "node.failed"
)

// Event is a single lifecycle notification.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	NodeID    string         `json:"node_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventHandler processes one event delivered by an EventBus.
type EventHandler func(ctx context.Context, event Event) error

// EventBus transports lifecycle events between the engine and observers.
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// Topics used by the engine.
const (
	TopicRunEvents  = "run.events"
	TopicNodeEvents = "node.events"
)

// ResultKey is the composite key addressing a node's result entry.
func ResultKey(runID, nodeID string) string {
	return runID + "_" + nodeID
}

// ResultSink is the keyed store for terminal node outcomes. Values are
// either the work function's result or the node's terminal error. Entries
// live independently of node objects and are purged when a run is stopped.
type ResultSink interface {
	// Put records the terminal outcome for (runID, nodeID).
	Put(ctx context.Context, runID, nodeID string, value any) error

	// Get returns the recorded outcome and whether an entry exists.
	Get(ctx context.Context, runID, nodeID string) (any, bool, error)

	// Remove deletes the entry for (runID, nodeID); missing entries are a no-op.
	Remove(ctx context.Context, runID, nodeID string) error
}

// MetricsCollector records scheduler metrics.
type MetricsCollector interface {
	RecordRunSubmitted(status string)
	RecordRunCompleted(status string, duration time.Duration)
	RecordNodeExecuted(status string, duration time.Duration)
	RecordNodeRetry()
	SetActiveRuns(count int)
	SetNodesInFlight(count int)
	ObserveLimiterWait(duration time.Duration)
}
