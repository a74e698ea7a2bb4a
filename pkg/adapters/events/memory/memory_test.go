package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryd/gantry/pkg/ports"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := NewBus()
	ctx := context.Background()

	var got []ports.Event
	err := b.Subscribe(ctx, ports.TopicRunEvents, func(ctx context.Context, ev ports.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)

	ev := ports.Event{ID: "1", Type: ports.EventRunSubmitted, RunID: "123456789012"}
	require.NoError(t, b.Publish(ctx, ports.TopicRunEvents, ev))

	require.Len(t, got, 1)
	assert.Equal(t, ports.EventRunSubmitted, got[0].Type)
	assert.Equal(t, "123456789012", got[0].RunID)
}

func TestPublishIsTopicScoped(t *testing.T) {
	b := NewBus()
	ctx := context.Background()

	delivered := 0
	require.NoError(t, b.Subscribe(ctx, ports.TopicNodeEvents, func(context.Context, ports.Event) error {
		delivered++
		return nil
	}))

	require.NoError(t, b.Publish(ctx, ports.TopicRunEvents, ports.Event{ID: "1"}))
	assert.Equal(t, 0, delivered)

	require.NoError(t, b.Publish(ctx, ports.TopicNodeEvents, ports.Event{ID: "2"}))
	assert.Equal(t, 1, delivered)
}

func TestHandlerErrorDoesNotFailPublish(t *testing.T) {
	b := NewBus()
	ctx := context.Background()

	require.NoError(t, b.Subscribe(ctx, ports.TopicRunEvents, func(context.Context, ports.Event) error {
		return errors.New("broken handler")
	}))

	assert.NoError(t, b.Publish(ctx, ports.TopicRunEvents, ports.Event{ID: "1"}))
}

func TestUnsubscribeAndClose(t *testing.T) {
	b := NewBus()
	ctx := context.Background()

	delivered := 0
	handler := func(context.Context, ports.Event) error {
		delivered++
		return nil
	}
	require.NoError(t, b.Subscribe(ctx, ports.TopicRunEvents, handler))
	require.NoError(t, b.Unsubscribe(ctx, ports.TopicRunEvents))
	require.NoError(t, b.Publish(ctx, ports.TopicRunEvents, ports.Event{ID: "1"}))
	assert.Equal(t, 0, delivered)

	require.NoError(t, b.Subscribe(ctx, ports.TopicRunEvents, handler))
	require.NoError(t, b.Close())
	require.NoError(t, b.Publish(ctx, ports.TopicRunEvents, ports.Event{ID: "2"}))
	assert.Equal(t, 0, delivered)
}
