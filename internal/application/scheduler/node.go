package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Status represents the lifecycle state of a job node within a run.
type Status int32

const (
	StatusPending Status = iota
	StatusRunning
	StatusFinished
	StatusFailed
)

// String returns the human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// WorkFunc is a parameter-less unit of work.
type WorkFunc func(ctx context.Context) (any, error)

// ParamWorkFunc is a unit of work taking one caller-supplied parameter.
type ParamWorkFunc func(ctx context.Context, param any) (any, error)

// Node is a graph vertex wrapping one unit of work plus execution policy
// and a status cell. Nodes are built through Builder, connected with
// Connect, and mutated only by the engine's state-machine operations
// during a run.
type Node struct {
	id        string
	work      WorkFunc
	paramWork ParamWorkFunc
	param     any
	timeout   time.Duration
	retries   int
	priority  int

	// mu guards the compound "all dependencies Finished, then transition
	// to Running" check. Plain overwrites toward Failed go through the
	// atomic cell alone.
	mu     sync.Mutex
	status atomic.Int32
	errv   atomic.Value // error

	deps  []*Node
	succs []*Node
}

// ID returns the node identity, unique within a run.
func (n *Node) ID() string { return n.id }

// Status returns the current lifecycle state.
func (n *Node) Status() Status { return Status(n.status.Load()) }

// Priority returns the dispatch priority; higher dispatches first.
func (n *Node) Priority() int { return n.priority }

// Retries returns the retry budget beyond the first attempt.
func (n *Node) Retries() int { return n.retries }

// Timeout returns the per-attempt timeout; zero or negative means unbounded.
func (n *Node) Timeout() time.Duration { return n.timeout }

// Err returns the recorded terminal error, or nil if the node has not failed.
func (n *Node) Err() error {
	if v := n.errv.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Dependencies returns the mandatory predecessor set.
func (n *Node) Dependencies() []*Node {
	out := make([]*Node, len(n.deps))
	copy(out, n.deps)
	return out
}

// Successors returns the mandatory successor set.
func (n *Node) Successors() []*Node {
	out := make([]*Node, len(n.succs))
	copy(out, n.succs)
	return out
}

// invoke runs the configured work function.
func (n *Node) invoke(ctx context.Context) (any, error) {
	if n.paramWork != nil {
		return n.paramWork(ctx, n.param)
	}
	return n.work(ctx)
}

// dispatchResult is the outcome of a readiness check.
type dispatchResult int

const (
	dispatchReady dispatchResult = iota
	dispatchNotReady
	dispatchDepFailed
	dispatchDone
)

// tryStart atomically performs the readiness check and, if it passes, the
// Pending to Running transition. Fan-in predecessors each call this on the
// shared successor; the lock guarantees at most one caller observes
// dispatchReady, so the work function executes at most once per run.
func (n *Node) tryStart() dispatchResult {
	n.mu.Lock()
	defer n.mu.Unlock()

	if Status(n.status.Load()) != StatusPending {
		return dispatchDone
	}
	for _, d := range n.deps {
		switch d.Status() {
		case StatusFailed:
			return dispatchDepFailed
		case StatusFinished:
			// satisfied
		default:
			return dispatchNotReady
		}
	}
	n.status.Store(int32(StatusRunning))
	return dispatchReady
}

// finish transitions Running to Finished. It reports false when the node
// was concurrently forced Failed, in which case the result is discarded.
func (n *Node) finish() bool {
	return n.status.CompareAndSwap(int32(StatusRunning), int32(StatusFinished))
}

// forceFail moves the node to Failed regardless of its current state,
// records err, notifies onFailed, and cascades over the mandatory
// successor set. Only the caller winning the transition fires side
// effects, so concurrent cascades converge without duplicate callbacks.
func (n *Node) forceFail(err error, onFailed func(*Node, error)) {
	for {
		cur := n.status.Load()
		if Status(cur) == StatusFailed {
			return
		}
		if n.status.CompareAndSwap(cur, int32(StatusFailed)) {
			break
		}
	}
	n.errv.Store(err)
	if onFailed != nil {
		onFailed(n, err)
	}
	for _, s := range n.succs {
		s.forceFail(nodeErr(s.id, ErrDependencyFailed), onFailed)
	}
}
