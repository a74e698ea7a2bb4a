package memory

import (
	"context"
	"sync"

	"github.com/gantryd/gantry/pkg/ports"
)

// Sink implements ports.ResultSink using an in-memory map keyed by the
// composite (runID, nodeID) key.
type Sink struct {
	entries map[string]any
	mu      sync.RWMutex
}

// NewSink creates a new in-memory result sink.
func NewSink() *Sink {
	return &Sink{entries: make(map[string]any)}
}

// Put records the terminal outcome for (runID, nodeID).
func (s *Sink) Put(ctx context.Context, runID, nodeID string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[ports.ResultKey(runID, nodeID)] = value
	return nil
}

// Get returns the recorded outcome and whether an entry exists.
func (s *Sink) Get(ctx context.Context, runID, nodeID string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.entries[ports.ResultKey(runID, nodeID)]
	return value, ok, nil
}

// Remove deletes the entry for (runID, nodeID).
func (s *Sink) Remove(ctx context.Context, runID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, ports.ResultKey(runID, nodeID))
	return nil
}

// Len returns the number of stored entries.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}
