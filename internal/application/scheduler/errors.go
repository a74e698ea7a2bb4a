package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput reports a submission rejected before any run was registered.
	ErrInvalidInput = errors.New("invalid input")

	// ErrExecution reports a work function that returned an error or panicked.
	ErrExecution = errors.New("execution failed")

	// ErrAttemptTimeout reports a single attempt exceeding the node's timeout.
	ErrAttemptTimeout = errors.New("attempt timed out")

	// ErrDependencyFailed reports a node failed because a predecessor ended Failed.
	ErrDependencyFailed = errors.New("dependency failed")

	// ErrRunDeadline reports the group deadline budget was exhausted.
	ErrRunDeadline = errors.New("run deadline exceeded")

	// ErrStopped reports explicit cancellation of the run.
	ErrStopped = errors.New("run stopped")
)

// NodeError wraps a terminal node failure with the identity of the node
// that caused it.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

func nodeErr(nodeID string, err error) error {
	return &NodeError{NodeID: nodeID, Err: err}
}
