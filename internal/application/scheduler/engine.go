package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gantryd/gantry/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configures a single run.
type Options struct {
	// MaxConcurrency bounds simultaneously executing node bodies.
	// Zero or negative means unbounded.
	MaxConcurrency int

	// Lifecycle observers, invoked synchronously at the corresponding
	// state-machine transition.
	OnStarted   func(node *Node)
	OnCompleted func(node *Node)
	OnFailed    func(node *Node, err error)

	// PreserveResults keeps sink entries of nodes that Finished before an
	// abort. The default (false) purges every entry of the run on Stop.
	PreserveResults bool
}

// Engine drives wave-by-wave graph execution: it computes ready nodes,
// dispatches them priority-ordered under the concurrency limiter, consumes
// the deadline budget per path, and aborts the whole run on the first
// failure or on budget exhaustion.
type Engine struct {
	registry *Registry
	sink     ports.ResultSink
	events   ports.EventBus
	metrics  ports.MetricsCollector
	logger   *zap.Logger

	nodesInFlight atomic.Int64
}

// NewEngine creates an engine with its own run registry. The event bus and
// metrics collector may be nil for embedded library use.
func NewEngine(sink ports.ResultSink, events ports.EventBus, metrics ports.MetricsCollector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry: NewRegistry(),
		sink:     sink,
		events:   events,
		metrics:  metrics,
		logger:   logger,
	}
}

// Registry exposes the engine-owned run registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Snapshot returns the status of every node of an active run.
// The second return value is false once the run has completed or been stopped.
func (e *Engine) Snapshot(runID string) (map[string]Status, bool) {
	r, ok := e.registry.get(runID)
	if !ok {
		return nil, false
	}
	out := make(map[string]Status, len(r.nodes))
	for id, n := range r.nodes {
		out[id] = n.Status()
	}
	return out, true
}

// Start executes the graph reachable from roots under the given deadline
// budget and returns the run identifier once every reachable node has
// Finished. It fails synchronously on invalid input, and with a
// deadline-exceeded or execution-failed error when the run aborts; on any
// abort the run is stopped (cancellation, forced failure, result purge)
// before the error is returned.
func (e *Engine) Start(ctx context.Context, roots []*Node, deadline time.Duration, opts Options) (string, error) {
	if len(roots) == 0 {
		return "", fmt.Errorf("%w: empty node set", ErrInvalidInput)
	}
	if deadline <= 0 {
		return "", fmt.Errorf("%w: non-positive deadline %s", ErrInvalidInput, deadline)
	}

	nodes, err := collectNodes(roots)
	if err != nil {
		return "", err
	}

	runID := newRunID()
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		id:        runID,
		cancel:    cancel,
		nodes:     nodes,
		opts:      opts,
		startedAt: time.Now(),
	}
	e.registry.add(r)
	e.recordRunSubmitted()
	e.publishRunEvent(ctx, runID, ports.EventRunSubmitted, map[string]any{
		"node_count":  len(nodes),
		"deadline_ms": deadline.Milliseconds(),
	})
	e.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.Int("nodes", len(nodes)),
		zap.Duration("deadline", deadline),
		zap.Int("max_concurrency", opts.MaxConcurrency))

	s := &runState{
		engine:  e,
		run:     r,
		ctx:     runCtx,
		limiter: newLimiter(opts.MaxConcurrency),
	}
	s.launchWave(roots, deadline)
	s.wg.Wait()

	elapsed := time.Since(r.startedAt)
	if s.firstErr != nil {
		e.recordRunCompleted("failed", elapsed)
		e.publishRunEvent(context.Background(), runID, ports.EventRunFailed, map[string]any{
			"error": s.firstErr.Error(),
		})
		e.logger.Warn("run failed",
			zap.String("run_id", runID),
			zap.Duration("elapsed", elapsed),
			zap.Error(s.firstErr))
		return "", s.firstErr
	}

	// An external Stop may have raced the final completions. The run
	// succeeds only when no node was left Failed.
	for _, n := range nodes {
		if n.Status() == StatusFailed {
			e.recordRunCompleted("stopped", elapsed)
			return "", nodeErr(n.id, ErrStopped)
		}
	}

	if _, ok := e.registry.remove(runID); ok {
		cancel()
	}
	e.recordRunCompleted("completed", elapsed)
	e.publishRunEvent(context.Background(), runID, ports.EventRunCompleted, map[string]any{
		"elapsed_ms": elapsed.Milliseconds(),
	})
	e.logger.Info("run completed",
		zap.String("run_id", runID),
		zap.Duration("elapsed", elapsed))
	return runID, nil
}

// Stop aborts a run: it signals cancellation, forces every node of the run
// to Failed, purges the run's result entries (unless the run was started
// with PreserveResults), and removes the registry entry. Unknown or
// already-stopped run ids are a no-op.
func (e *Engine) Stop(runID string) {
	r, ok := e.registry.remove(runID)
	if !ok {
		return
	}
	e.stopRun(r)
}

func (e *Engine) stopRun(r *run) {
	r.cancel()

	onFailed := func(n *Node, err error) {
		if r.opts.OnFailed != nil {
			r.opts.OnFailed(n, err)
		}
		e.publishNodeEvent(context.Background(), r.id, n.ID(), ports.EventNodeFailed, map[string]any{
			"error": err.Error(),
		})
	}
	for _, n := range r.nodes {
		n.forceFail(nodeErr(n.ID(), ErrStopped), onFailed)
	}

	if !r.opts.PreserveResults {
		ctx := context.Background()
		for id := range r.nodes {
			if err := e.sink.Remove(ctx, r.id, id); err != nil {
				e.logger.Error("failed to purge result entry",
					zap.String("run_id", r.id),
					zap.String("node_id", id),
					zap.Error(err))
			}
		}
	}

	e.publishRunEvent(context.Background(), r.id, ports.EventRunStopped, nil)
	e.logger.Info("run stopped", zap.String("run_id", r.id))
}

// Shutdown stops every active run.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("shutting down scheduler engine")
	e.registry.runs.Range(func(key, _ any) bool {
		e.Stop(key.(string))
		return true
	})
	return nil
}

// collectNodes walks the mandatory successor edges from the roots and
// returns the full node set of the run, rejecting duplicate identities.
// The engine assumes the caller supplied an acyclic graph.
func collectNodes(roots []*Node) (map[string]*Node, error) {
	nodes := make(map[string]*Node)
	queue := make([]*Node, 0, len(roots))
	for _, n := range roots {
		if n == nil {
			return nil, fmt.Errorf("%w: nil root node", ErrInvalidInput)
		}
		queue = append(queue, n)
	}
	seen := make(map[*Node]bool)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		if prev, ok := nodes[n.id]; ok && prev != n {
			return nil, fmt.Errorf("%w: duplicate node id %q", ErrInvalidInput, n.id)
		}
		nodes[n.id] = n
		queue = append(queue, n.succs...)
	}
	return nodes, nil
}

// runState carries the per-run execution machinery: the cancellation
// context, the limiter, the wave wait group, and the first-error latch.
type runState struct {
	engine  *Engine
	run     *run
	ctx     context.Context
	limiter *limiter

	wg       sync.WaitGroup
	abortOne sync.Once
	firstErr error
}

// launchWave dispatches one wave: the set of nodes whose dispatch should
// now be attempted, carrying the remaining budget of the path that
// triggered it. A dispatcher goroutine admits the wave's nodes in strict
// priority order, acquiring a limiter permit per node before handing it to
// its own goroutine. Waves are goroutine groups rather than recursion so
// deep graphs cannot grow the call stack.
func (s *runState) launchWave(nodes []*Node, budget time.Duration) {
	if s.ctx.Err() != nil {
		return
	}
	if budget <= 0 {
		s.abort(fmt.Errorf("%w: budget exhausted", ErrRunDeadline))
		return
	}

	ordered := make([]*Node, len(nodes))
	copy(ordered, nodes)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].priority != ordered[j].priority {
			return ordered[i].priority > ordered[j].priority
		}
		return ordered[i].id < ordered[j].id
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, n := range ordered {
			waitStart := time.Now()
			if err := s.limiter.acquire(s.ctx); err != nil {
				// Run cancelled while waiting for a permit; the rest of
				// the wave is abandoned, never started.
				return
			}
			s.engine.observeLimiterWait(time.Since(waitStart))
			s.wg.Add(1)
			go s.runNode(n, budget)
		}
	}()
}

// runNode performs the atomic readiness check holding a permit the
// dispatcher acquired, and if the node is ready executes it with retry and
// timeout policy. On success the node's successor set becomes the next
// wave with the budget reduced by this node's elapsed execution time.
func (s *runState) runNode(n *Node, budget time.Duration) {
	defer s.wg.Done()
	defer s.limiter.release()

	switch n.tryStart() {
	case dispatchNotReady, dispatchDone:
		// Another predecessor will re-trigger (or already ran) this node.
		return
	case dispatchDepFailed:
		n.forceFail(nodeErr(n.id, ErrDependencyFailed), s.failNotify)
		return
	case dispatchReady:
	}

	if s.run.opts.OnStarted != nil {
		s.run.opts.OnStarted(n)
	}
	s.engine.publishNodeEvent(s.ctx, s.run.id, n.id, ports.EventNodeStarted, nil)
	s.engine.logger.Debug("node started",
		zap.String("run_id", s.run.id),
		zap.String("node_id", n.id),
		zap.Int("priority", n.priority))

	s.engine.trackInFlight(1)
	start := time.Now()
	result, err := s.execute(n)
	elapsed := time.Since(start)
	s.engine.trackInFlight(-1)

	if err != nil {
		failure := nodeErr(n.id, err)
		n.forceFail(failure, s.failNotify)
		if errors.Is(err, ErrStopped) {
			// The run is already being torn down; recording the failure
			// would resurrect an entry Stop just purged.
			return
		}
		s.putResult(n.id, failure)
		s.engine.recordNodeExecuted("failed", elapsed)
		s.abort(failure)
		return
	}

	if !n.finish() {
		// Forced Failed while the attempt was in flight (stop or abort);
		// the outcome is discarded.
		return
	}
	if result != nil {
		s.putResult(n.id, result)
	}
	if s.run.opts.OnCompleted != nil {
		s.run.opts.OnCompleted(n)
	}
	s.engine.publishNodeEvent(s.ctx, s.run.id, n.id, ports.EventNodeCompleted, map[string]any{
		"elapsed_ms": elapsed.Milliseconds(),
	})
	s.engine.recordNodeExecuted("finished", elapsed)
	s.engine.logger.Debug("node finished",
		zap.String("run_id", s.run.id),
		zap.String("node_id", n.id),
		zap.Duration("elapsed", elapsed))

	// The deadline budget is relative remaining time, consumed per path:
	// successors inherit this wave's budget minus this node's execution.
	remaining := budget - elapsed
	if remaining <= 0 {
		s.abort(fmt.Errorf("%w: budget exhausted after node %q", ErrRunDeadline, n.id))
		return
	}
	if len(n.succs) > 0 {
		s.launchWave(n.succs, remaining)
	}
}

// execute attempts the work function up to retries+1 times. Every error
// class is retryable; only the last attempt's outcome is reported.
func (s *runState) execute(n *Node) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			s.engine.recordNodeRetry()
		}
		result, err := s.attempt(n)
		if err == nil {
			return result, nil
		}
		lastErr = err
		s.engine.logger.Warn("node attempt failed",
			zap.String("run_id", s.run.id),
			zap.String("node_id", n.id),
			zap.Int("attempt", attempt+1),
			zap.Int("attempts_allowed", n.retries+1),
			zap.Error(err))
	}
	return nil, lastErr
}

// attempt runs the work function once, raced against the per-attempt timer
// and the run's cancellation signal. A work function that is not
// cancellation-aware keeps running to physical completion; its eventual
// result is discarded.
func (s *runState) attempt(n *Node) (any, error) {
	ctx := s.ctx
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		value, err := n.invoke(ctx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExecution, out.err)
		}
		return out.value, nil
	case <-ctx.Done():
		if n.timeout > 0 && ctx.Err() == context.DeadlineExceeded && s.ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrAttemptTimeout, n.timeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrStopped, s.ctx.Err())
	}
}

// abort latches the first error and stops the run. Later callers lose the
// race and their errors are discarded.
func (s *runState) abort(err error) {
	s.abortOne.Do(func() {
		s.firstErr = err
		s.engine.Stop(s.run.id)
	})
}

// failNotify bridges forced-fail transitions to the run's observers and
// the event bus.
func (s *runState) failNotify(n *Node, err error) {
	if s.run.opts.OnFailed != nil {
		s.run.opts.OnFailed(n, err)
	}
	s.engine.publishNodeEvent(context.Background(), s.run.id, n.ID(), ports.EventNodeFailed, map[string]any{
		"error": err.Error(),
	})
}

func (s *runState) putResult(nodeID string, value any) {
	if err := s.engine.sink.Put(context.Background(), s.run.id, nodeID, value); err != nil {
		s.engine.logger.Error("failed to record result",
			zap.String("run_id", s.run.id),
			zap.String("node_id", nodeID),
			zap.Error(err))
	}
}

// Event and metrics helpers tolerate nil collaborators for library use.

func (e *Engine) publishRunEvent(ctx context.Context, runID string, typ ports.EventType, data map[string]any) {
	if e.events == nil {
		return
	}
	event := ports.Event{
		ID:        uuid.New().String(),
		Type:      typ,
		RunID:     runID,
		Timestamp: time.Now(),
		Data:      data,
	}
	if err := e.events.Publish(ctx, ports.TopicRunEvents, event); err != nil {
		e.logger.Error("failed to publish run event",
			zap.String("run_id", runID),
			zap.String("event_type", string(typ)),
			zap.Error(err))
	}
}

func (e *Engine) publishNodeEvent(ctx context.Context, runID, nodeID string, typ ports.EventType, data map[string]any) {
	if e.events == nil {
		return
	}
	event := ports.Event{
		ID:        uuid.New().String(),
		Type:      typ,
		RunID:     runID,
		NodeID:    nodeID,
		Timestamp: time.Now(),
		Data:      data,
	}
	if err := e.events.Publish(ctx, ports.TopicNodeEvents, event); err != nil {
		e.logger.Error("failed to publish node event",
			zap.String("run_id", runID),
			zap.String("node_id", nodeID),
			zap.String("event_type", string(typ)),
			zap.Error(err))
	}
}

func (e *Engine) recordRunSubmitted() {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordRunSubmitted("submitted")
	e.metrics.SetActiveRuns(e.registry.Len())
}

func (e *Engine) recordRunCompleted(status string, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordRunCompleted(status, elapsed)
	e.metrics.SetActiveRuns(e.registry.Len())
}

func (e *Engine) recordNodeExecuted(status string, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordNodeExecuted(status, elapsed)
}

func (e *Engine) recordNodeRetry() {
	if e.metrics != nil {
		e.metrics.RecordNodeRetry()
	}
}

func (e *Engine) observeLimiterWait(d time.Duration) {
	if e.metrics != nil {
		e.metrics.ObserveLimiterWait(d)
	}
}

func (e *Engine) trackInFlight(delta int64) {
	n := e.nodesInFlight.Add(delta)
	if e.metrics != nil {
		e.metrics.SetNodesInFlight(int(n))
	}
}
