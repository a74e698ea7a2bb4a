package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gantryd/gantry/internal/application/scheduler"
)

// Factory builds a work function from the parameters of a submitted node.
type Factory func(params map[string]any) (scheduler.WorkFunc, error)

// Registry maps handler names to work factories so graphs submitted over
// the wire can bind node bodies by name.
type Registry struct {
	mu  sync.RWMutex
	all map[string]Factory
}

// NewRegistry creates a registry preloaded with the builtin handlers.
func NewRegistry() *Registry {
	r := &Registry{all: make(map[string]Factory)}
	r.Register("sleep", sleepFactory)
	r.Register("echo", echoFactory)
	r.Register("fail", failFactory)
	return r
}

// Register adds a factory under name. Duplicate registration is a
// programming error.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.all[name]; exists {
		panic(fmt.Sprintf("work handler %q already registered", name))
	}
	r.all[name] = factory
}

// Resolve builds the work function for a named handler.
func (r *Registry) Resolve(name string, params map[string]any) (scheduler.WorkFunc, error) {
	r.mu.RLock()
	factory, ok := r.all[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown work handler %q", name)
	}
	return factory(params)
}

// sleepFactory builds a handler that sleeps for params["duration_ms"]
// milliseconds and returns the slept duration. It honors cancellation.
func sleepFactory(params map[string]any) (scheduler.WorkFunc, error) {
	ms, err := intParam(params, "duration_ms")
	if err != nil {
		return nil, err
	}
	d := time.Duration(ms) * time.Millisecond
	return func(ctx context.Context) (any, error) {
		select {
		case <-time.After(d):
			return ms, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, nil
}

// echoFactory builds a handler that returns params["value"] unchanged.
func echoFactory(params map[string]any) (scheduler.WorkFunc, error) {
	value, ok := params["value"]
	if !ok {
		return nil, errors.New(`echo handler requires a "value" parameter`)
	}
	return func(ctx context.Context) (any, error) {
		return value, nil
	}, nil
}

// failFactory builds a handler that always fails with params["message"].
// Useful for exercising retry and fail-fast behavior end to end.
func failFactory(params map[string]any) (scheduler.WorkFunc, error) {
	message := "handler failed"
	if m, ok := params["message"].(string); ok && m != "" {
		message = m
	}
	return func(ctx context.Context) (any, error) {
		return nil, errors.New(message)
	}, nil
}

// intParam reads an integer parameter, accepting the float64 values JSON
// decoding produces.
func intParam(params map[string]any, key string) (int64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing %q parameter", key)
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("parameter %q must be a number, got %T", key, v)
	}
}
