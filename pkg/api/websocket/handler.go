package websocket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gantryd/gantry/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
	}
}

// HandleEventStream streams run and node lifecycle events to the client.
// An optional run_id query parameter filters to a single run.
func (h *Handler) HandleEventStream(c *gin.Context) {
	runID := c.Query("run_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	eventChan := make(chan ports.Event, 10)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	h.subscribeToEvents(ctx, eventChan)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			if runID != "" && event.RunID != runID {
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}

// subscribeToEvents subscribes to both run and node event topics.
func (h *Handler) subscribeToEvents(ctx context.Context, ch chan<- ports.Event) {
	eventHandler := func(ctx context.Context, event ports.Event) error {
		// Send to channel (non-blocking)
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}

	topics := []string{ports.TopicRunEvents, ports.TopicNodeEvents}
	for _, topic := range topics {
		if err := h.eventBus.Subscribe(ctx, topic, eventHandler); err != nil {
			h.logger.Error("failed to subscribe to events",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
}
