package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopWork(ctx context.Context) (any, error) { return nil, nil }

func mustNode(t *testing.T, id string) *Node {
	t.Helper()
	n, err := NewNode(id).WithWork(noopWork).Build()
	require.NoError(t, err)
	return n
}

func TestTryStartNoDependencies(t *testing.T) {
	n := mustNode(t, "a")

	assert.Equal(t, dispatchReady, n.tryStart())
	assert.Equal(t, StatusRunning, n.Status())

	// A second dispatch attempt must not re-run the node.
	assert.Equal(t, dispatchDone, n.tryStart())
}

func TestTryStartWaitsForDependencies(t *testing.T) {
	parent := mustNode(t, "parent")
	child := mustNode(t, "child")
	Connect(parent, child, true)

	assert.Equal(t, dispatchNotReady, child.tryStart())
	assert.Equal(t, StatusPending, child.Status())

	require.Equal(t, dispatchReady, parent.tryStart())
	assert.Equal(t, dispatchNotReady, child.tryStart(), "running parent does not satisfy the child")

	require.True(t, parent.finish())
	assert.Equal(t, dispatchReady, child.tryStart())
}

func TestTryStartFailedDependency(t *testing.T) {
	parent := mustNode(t, "parent")
	child := mustNode(t, "child")
	Connect(parent, child, true)

	parent.forceFail(errors.New("boom"), nil)

	// forceFail already cascaded, so the child is Failed before dispatch.
	assert.Equal(t, StatusFailed, child.Status())
	assert.Equal(t, dispatchDone, child.tryStart())
}

func TestTryStartReportsFailedDependency(t *testing.T) {
	parent := mustNode(t, "parent")
	child := mustNode(t, "child")
	Connect(parent, child, true)

	// A pending child observing a Failed predecessor reports it so the
	// caller can record the dependency failure.
	parent.status.Store(int32(StatusFailed))
	assert.Equal(t, dispatchDepFailed, child.tryStart())
	assert.Equal(t, StatusPending, child.Status())
}

func TestTryStartAtMostOnceUnderFanIn(t *testing.T) {
	a := mustNode(t, "a")
	b := mustNode(t, "b")
	d := mustNode(t, "d")
	Connect(a, d, true)
	Connect(b, d, true)

	require.Equal(t, dispatchReady, a.tryStart())
	require.True(t, a.finish())
	require.Equal(t, dispatchReady, b.tryStart())
	require.True(t, b.finish())

	// Both predecessors race the shared successor; exactly one wins.
	const callers = 16
	var wg sync.WaitGroup
	results := make(chan dispatchResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- d.tryStart()
		}()
	}
	wg.Wait()
	close(results)

	ready := 0
	for r := range results {
		if r == dispatchReady {
			ready++
		}
	}
	assert.Equal(t, 1, ready)
	assert.Equal(t, StatusRunning, d.Status())
}

func TestFinishDiscardedAfterForceFail(t *testing.T) {
	n := mustNode(t, "a")
	require.Equal(t, dispatchReady, n.tryStart())

	n.forceFail(errors.New("stopped"), nil)

	assert.False(t, n.finish(), "a forced-failed node must not transition to Finished")
	assert.Equal(t, StatusFailed, n.Status())
}

func TestForceFailCascadesOverSuccessors(t *testing.T) {
	a := mustNode(t, "a")
	b := mustNode(t, "b")
	c := mustNode(t, "c")
	Connect(a, b, true)
	Connect(b, c, true)

	var mu sync.Mutex
	failed := make(map[string]error)
	onFailed := func(n *Node, err error) {
		mu.Lock()
		failed[n.ID()] = err
		mu.Unlock()
	}

	rootErr := errors.New("boom")
	a.forceFail(rootErr, onFailed)

	assert.Equal(t, StatusFailed, a.Status())
	assert.Equal(t, StatusFailed, b.Status())
	assert.Equal(t, StatusFailed, c.Status())

	require.Len(t, failed, 3)
	assert.Equal(t, rootErr, failed["a"])
	assert.ErrorIs(t, failed["b"], ErrDependencyFailed)
	assert.ErrorIs(t, failed["c"], ErrDependencyFailed)

	var nerr *NodeError
	require.ErrorAs(t, b.Err(), &nerr)
	assert.Equal(t, "b", nerr.NodeID)
}

func TestForceFailFiresCallbackOnce(t *testing.T) {
	n := mustNode(t, "a")

	calls := 0
	onFailed := func(*Node, error) { calls++ }

	n.forceFail(errors.New("first"), onFailed)
	n.forceFail(errors.New("second"), onFailed)

	assert.Equal(t, 1, calls)
	assert.EqualError(t, n.Err(), "first")
}

func TestOptionalEdgeRecordsNothing(t *testing.T) {
	parent := mustNode(t, "parent")
	child := mustNode(t, "child")
	Connect(parent, child, false)

	assert.Empty(t, parent.Successors())
	assert.Empty(t, child.Dependencies())

	// The optional child is untouched by the parent's failure.
	parent.forceFail(errors.New("boom"), nil)
	assert.Equal(t, StatusPending, child.Status())
}
