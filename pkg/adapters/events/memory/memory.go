package memory

import (
	"context"
	"sync"

	"github.com/gantryd/gantry/pkg/ports"
)

// Bus implements ports.EventBus using in-memory handlers. Intended for
// tests and single-binary deployments.
type Bus struct {
	subscribers map[string][]ports.EventHandler
	mu          sync.RWMutex
}

// NewBus creates a new in-memory event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]ports.EventHandler)}
}

// Publish delivers an event to all subscribers of a topic. Handlers run
// synchronously so tests can assert on delivery order.
func (b *Bus) Publish(ctx context.Context, topic string, event ports.Event) error {
	b.mu.RLock()
	handlers := make([]ports.EventHandler, len(b.subscribers[topic]))
	copy(handlers, b.subscribers[topic])
	b.mu.RUnlock()

	for _, handler := range handlers {
		// Handler errors do not fail publication.
		_ = handler(ctx, event)
	}

	return nil
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[topic] = append(b.subscribers[topic], handler)
	return nil
}

// Unsubscribe removes all subscriptions from a topic.
func (b *Bus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, topic)
	return nil
}

// Close clears all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers = make(map[string][]ports.EventHandler)
	return nil
}
