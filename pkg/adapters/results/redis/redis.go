package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gantryd/gantry/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sink implements ports.ResultSink using Redis.
type Sink struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// envelope distinguishes recorded values from recorded errors, since an
// error cannot round-trip through JSON directly.
type envelope struct {
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
	IsErr bool            `json:"is_err"`
}

// NewSink creates a new Redis result sink. Entries expire after ttl.
func NewSink(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Sink {
	return &Sink{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Put records the terminal outcome for (runID, nodeID).
func (s *Sink) Put(ctx context.Context, runID, nodeID string, value any) error {
	env := envelope{}
	if err, ok := value.(error); ok {
		env.IsErr = true
		env.Error = err.Error()
	} else {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		env.Value = raw
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal result envelope: %w", err)
	}

	key := getResultKey(runID, nodeID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	s.logger.Debug("result saved",
		zap.String("run_id", runID),
		zap.String("node_id", nodeID))

	return nil
}

// Get returns the recorded outcome and whether an entry exists. Error
// entries come back as an error value.
func (s *Sink) Get(ctx context.Context, runID, nodeID string) (any, bool, error) {
	key := getResultKey(runID, nodeID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get result: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal result envelope: %w", err)
	}

	if env.IsErr {
		return errors.New(env.Error), true, nil
	}

	var value any
	if len(env.Value) > 0 {
		if err := json.Unmarshal(env.Value, &value); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal result value: %w", err)
		}
	}
	return value, true, nil
}

// Remove deletes the entry for (runID, nodeID).
func (s *Sink) Remove(ctx context.Context, runID, nodeID string) error {
	key := getResultKey(runID, nodeID)

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}

	s.logger.Debug("result deleted",
		zap.String("run_id", runID),
		zap.String("node_id", nodeID))

	return nil
}

// getResultKey returns the Redis key for a result entry.
func getResultKey(runID, nodeID string) string {
	return fmt.Sprintf("gantry:result:%s", ports.ResultKey(runID, nodeID))
}
