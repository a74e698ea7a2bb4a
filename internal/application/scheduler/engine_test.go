package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventsmemory "github.com/gantryd/gantry/pkg/adapters/events/memory"
	resultsmemory "github.com/gantryd/gantry/pkg/adapters/results/memory"
	"github.com/gantryd/gantry/pkg/ports"
)

func newTestEngine(t *testing.T) (*Engine, *resultsmemory.Sink) {
	t.Helper()
	sink := resultsmemory.NewSink()
	return NewEngine(sink, nil, nil, nil), sink
}

func sleepWork(d time.Duration, value any) WorkFunc {
	return func(ctx context.Context) (any, error) {
		select {
		case <-time.After(d):
			return value, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func chain(t *testing.T, d time.Duration, ids ...string) []*Node {
	t.Helper()
	nodes := make([]*Node, len(ids))
	for i, id := range ids {
		n, err := NewNode(id).WithWork(sleepWork(d, id)).Build()
		require.NoError(t, err)
		nodes[i] = n
		if i > 0 {
			Connect(nodes[i-1], n, true)
		}
	}
	return nodes
}

func sinkValue(t *testing.T, sink *resultsmemory.Sink, runID, nodeID string) any {
	t.Helper()
	v, ok, err := sink.Get(context.Background(), runID, nodeID)
	require.NoError(t, err)
	require.True(t, ok, "missing result entry for node %q", nodeID)
	return v
}

func TestStartLinearChain(t *testing.T) {
	e, sink := newTestEngine(t)
	nodes := chain(t, 20*time.Millisecond, "a", "b", "c", "d")

	runID, err := e.Start(context.Background(), nodes[:1], 2*time.Second, Options{})
	require.NoError(t, err)
	require.Len(t, runID, 12)

	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, id, sinkValue(t, sink, runID, id))
	}
	assert.Equal(t, 0, e.Registry().Len())
}

func TestStartDiamondExecutesJoinOnce(t *testing.T) {
	e, sink := newTestEngine(t)

	var joinRuns atomic.Int32
	mk := func(id string, d time.Duration) *Node {
		n, err := NewNode(id).WithWork(sleepWork(d, id)).Build()
		require.NoError(t, err)
		return n
	}
	a := mk("a", 5*time.Millisecond)
	b := mk("b", 10*time.Millisecond)
	c := mk("c", 40*time.Millisecond)
	d, err := NewNode("d").WithWork(func(ctx context.Context) (any, error) {
		joinRuns.Add(1)
		return "joined", nil
	}).Build()
	require.NoError(t, err)

	Connect(a, b, true)
	Connect(a, c, true)
	Connect(b, d, true)
	Connect(c, d, true)

	runID, err := e.Start(context.Background(), []*Node{a}, 2*time.Second, Options{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), joinRuns.Load(), "join node must execute exactly once")
	assert.Equal(t, "joined", sinkValue(t, sink, runID, "d"))
	assert.Equal(t, StatusFinished, d.Status())
}

func TestStartRetriesUntilSuccess(t *testing.T) {
	e, sink := newTestEngine(t)

	var attempts atomic.Int32
	n, err := NewNode("flaky").
		WithWork(func(ctx context.Context) (any, error) {
			if attempts.Add(1) < 3 {
				return nil, errors.New("transient")
			}
			return "recovered", nil
		}).
		WithRetries(2).
		Build()
	require.NoError(t, err)

	runID, err := e.Start(context.Background(), []*Node{n}, time.Second, Options{})
	require.NoError(t, err)

	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, "recovered", sinkValue(t, sink, runID, "flaky"))
}

func TestStartFailsAfterRetryBudget(t *testing.T) {
	e, _ := newTestEngine(t)

	var attempts atomic.Int32
	n, err := NewNode("doomed").
		WithWork(func(ctx context.Context) (any, error) {
			attempts.Add(1)
			return nil, errors.New("permanent")
		}).
		WithRetries(2).
		Build()
	require.NoError(t, err)

	_, err = e.Start(context.Background(), []*Node{n}, time.Second, Options{})
	require.Error(t, err)

	assert.Equal(t, int32(3), attempts.Load())
	assert.ErrorIs(t, err, ErrExecution)

	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "doomed", nerr.NodeID)
}

func TestStartAttemptTimeout(t *testing.T) {
	e, sink := newTestEngine(t)

	n, err := NewNode("slow").
		WithWork(sleepWork(500*time.Millisecond, "never")).
		WithTimeout(50 * time.Millisecond).
		Build()
	require.NoError(t, err)

	_, err = e.Start(context.Background(), []*Node{n}, 5*time.Second, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptTimeout)

	// Stop purged the run's entries, so no result survives the abort.
	assert.Equal(t, 0, sink.Len())
	assert.Equal(t, StatusFailed, n.Status())
}

func TestStartFailureCascadesAndAborts(t *testing.T) {
	e, _ := newTestEngine(t)

	bad, err := NewNode("bad").WithWork(func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}).Build()
	require.NoError(t, err)
	downstream := mustNode(t, "downstream")
	leaf := mustNode(t, "leaf")
	Connect(bad, downstream, true)
	Connect(downstream, leaf, true)

	var mu sync.Mutex
	failed := make(map[string]error)
	opts := Options{
		OnFailed: func(n *Node, err error) {
			mu.Lock()
			failed[n.ID()] = err
			mu.Unlock()
		},
	}

	_, err = e.Start(context.Background(), []*Node{bad}, time.Second, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecution)

	assert.Equal(t, StatusFailed, downstream.Status())
	assert.Equal(t, StatusFailed, leaf.Status())
	assert.ErrorIs(t, failed["downstream"], ErrDependencyFailed)
	assert.ErrorIs(t, failed["leaf"], ErrDependencyFailed)
	assert.Equal(t, 0, e.Registry().Len())
}

func TestStartOptionalEdgeDoesNotTrigger(t *testing.T) {
	e, sink := newTestEngine(t)

	root := mustNode(t, "root")
	var sideRuns atomic.Int32
	side, err := NewNode("side").WithWork(func(ctx context.Context) (any, error) {
		sideRuns.Add(1)
		return "side", nil
	}).Build()
	require.NoError(t, err)
	Connect(root, side, false)

	runID, err := e.Start(context.Background(), []*Node{root}, time.Second, Options{})
	require.NoError(t, err)

	assert.Equal(t, int32(0), sideRuns.Load())
	assert.Equal(t, StatusPending, side.Status())
	_, ok, err := sink.Get(context.Background(), runID, "side")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStartBoundsConcurrency(t *testing.T) {
	e, _ := newTestEngine(t)

	var active, peak atomic.Int32
	work := func(ctx context.Context) (any, error) {
		cur := active.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	}

	roots := make([]*Node, 4)
	for i, id := range []string{"w1", "w2", "w3", "w4"} {
		n, err := NewNode(id).WithWork(work).Build()
		require.NoError(t, err)
		roots[i] = n
	}

	_, err := e.Start(context.Background(), roots, 5*time.Second, Options{MaxConcurrency: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestStartDeadlineBudgetExhausted(t *testing.T) {
	e, _ := newTestEngine(t)
	nodes := chain(t, 60*time.Millisecond, "a", "b")

	_, err := e.Start(context.Background(), nodes[:1], 40*time.Millisecond, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunDeadline)
	assert.Equal(t, StatusFailed, nodes[1].Status())
}

func TestStartPriorityOrdersDispatch(t *testing.T) {
	e, _ := newTestEngine(t)

	var mu sync.Mutex
	var order []string
	opts := Options{
		MaxConcurrency: 1,
		OnStarted: func(n *Node) {
			mu.Lock()
			order = append(order, n.ID())
			mu.Unlock()
		},
	}

	roots := make([]*Node, 0, 3)
	for id, prio := range map[string]int{"low": 1, "high": 9, "mid": 5} {
		n, err := NewNode(id).WithWork(noopWork).WithPriority(prio).Build()
		require.NoError(t, err)
		roots = append(roots, n)
	}

	_, err := e.Start(context.Background(), roots, time.Second, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestStartRejectsInvalidInput(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Start(context.Background(), nil, time.Second, Options{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	n := mustNode(t, "a")
	_, err = e.Start(context.Background(), []*Node{n}, 0, Options{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	dupA := mustNode(t, "dup")
	dupB := mustNode(t, "dup")
	Connect(dupA, dupB, true)
	_, err = e.Start(context.Background(), []*Node{dupA}, time.Second, Options{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStopAbortsRunAndPurgesResults(t *testing.T) {
	sink := resultsmemory.NewSink()
	bus := eventsmemory.NewBus()
	e := NewEngine(sink, bus, nil, nil)

	runIDCh := make(chan string, 1)
	err := bus.Subscribe(context.Background(), ports.TopicRunEvents, func(ctx context.Context, ev ports.Event) error {
		if ev.Type == ports.EventRunSubmitted {
			runIDCh <- ev.RunID
		}
		return nil
	})
	require.NoError(t, err)

	fast, err := NewNode("fast").WithWork(sleepWork(5*time.Millisecond, "fast")).Build()
	require.NoError(t, err)
	blocked, err := NewNode("blocked").WithWork(sleepWork(10*time.Second, nil)).Build()
	require.NoError(t, err)
	Connect(fast, blocked, true)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Start(context.Background(), []*Node{fast}, time.Minute, Options{})
		errCh <- err
	}()

	runID := <-runIDCh
	// Let the fast node finish and the blocked node start waiting.
	time.Sleep(50 * time.Millisecond)

	e.Stop(runID)
	e.Stop(runID) // idempotent

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not unblock after Stop")
	}

	assert.Equal(t, 0, sink.Len(), "Stop purges every result entry of the run")
	assert.Equal(t, 0, e.Registry().Len())
	assert.Equal(t, StatusFailed, blocked.Status())
}

func TestStopPreservesResultsWhenConfigured(t *testing.T) {
	sink := resultsmemory.NewSink()
	bus := eventsmemory.NewBus()
	e := NewEngine(sink, bus, nil, nil)

	runIDCh := make(chan string, 1)
	err := bus.Subscribe(context.Background(), ports.TopicRunEvents, func(ctx context.Context, ev ports.Event) error {
		if ev.Type == ports.EventRunSubmitted {
			runIDCh <- ev.RunID
		}
		return nil
	})
	require.NoError(t, err)

	fast, err := NewNode("fast").WithWork(sleepWork(5*time.Millisecond, "kept")).Build()
	require.NoError(t, err)
	blocked, err := NewNode("blocked").WithWork(sleepWork(10*time.Second, nil)).Build()
	require.NoError(t, err)
	Connect(fast, blocked, true)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Start(context.Background(), []*Node{fast}, time.Minute, Options{PreserveResults: true})
		errCh <- err
	}()

	runID := <-runIDCh
	time.Sleep(50 * time.Millisecond)
	e.Stop(runID)

	require.Error(t, <-errCh)
	v, ok, err := sink.Get(context.Background(), runID, "fast")
	require.NoError(t, err)
	require.True(t, ok, "finished branch results survive Stop under PreserveResults")
	assert.Equal(t, "kept", v)
}

func TestSnapshotTracksActiveRun(t *testing.T) {
	e, _ := newTestEngine(t)
	bus := eventsmemory.NewBus()
	e.events = bus

	runIDCh := make(chan string, 1)
	err := bus.Subscribe(context.Background(), ports.TopicRunEvents, func(ctx context.Context, ev ports.Event) error {
		if ev.Type == ports.EventRunSubmitted {
			runIDCh <- ev.RunID
		}
		return nil
	})
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	n, err := NewNode("gated").WithWork(func(ctx context.Context) (any, error) {
		close(started)
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}).Build()
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Start(context.Background(), []*Node{n}, time.Minute, Options{})
		errCh <- err
	}()

	runID := <-runIDCh
	<-started

	statuses, ok := e.Snapshot(runID)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, statuses["gated"])

	close(release)
	require.NoError(t, <-errCh)

	// Completed runs leave the registry; the snapshot is gone.
	_, ok = e.Snapshot(runID)
	assert.False(t, ok)
}

func TestStartRecoversPanickingWork(t *testing.T) {
	e, _ := newTestEngine(t)

	n, err := NewNode("panicky").WithWork(func(ctx context.Context) (any, error) {
		panic("kaboom")
	}).Build()
	require.NoError(t, err)

	_, err = e.Start(context.Background(), []*Node{n}, time.Second, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecution)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestStartNilResultRecordsNothing(t *testing.T) {
	e, sink := newTestEngine(t)

	n, err := NewNode("quiet").WithWork(func(ctx context.Context) (any, error) {
		return nil, nil
	}).Build()
	require.NoError(t, err)

	runID, err := e.Start(context.Background(), []*Node{n}, time.Second, Options{})
	require.NoError(t, err)

	_, ok, err := sink.Get(context.Background(), runID, "quiet")
	require.NoError(t, err)
	assert.False(t, ok, "a nil result means no entry, distinct from failure")
	assert.Equal(t, StatusFinished, n.Status())
}
