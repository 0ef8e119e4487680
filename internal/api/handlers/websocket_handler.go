package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/events"
)

// Subscriber hands out live event streams. *events.Hub implements it.
type Subscriber interface {
	Subscribe(runID string, buffer int) (<-chan events.Event, func())
}

type WebSocketHandler struct {
	hub    Subscriber
	logger *zap.Logger
}

func NewWebSocketHandler(hub Subscriber, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{hub: hub, logger: logger}
}

// Upgrade rejects plain HTTP requests on the stream route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleConnection streams the events of the run named by the :id param, or
// of every run when the param is absent, until the client goes away or the
// run finishes.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	runID := c.Params("id")
	logger := h.logger.With(zap.String("run_id", runID))
	logger.Info("WebSocket connection established")

	stream, unsubscribe := h.hub.Subscribe(runID, 256)
	defer func() {
		unsubscribe()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	// The client only ever sends close frames; reading detects them.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case e, ok := <-stream:
			if !ok {
				return
			}
			if err := c.WriteJSON(e); err != nil {
				logger.Warn("Failed to write event", zap.Error(err))
				return
			}
			if runID != "" && e.Kind == events.KindRunFinished {
				h.sendComplete(c, e)
				return
			}
		}
	}
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, e events.Event) {
	msg := map[string]any{
		"type":     "complete",
		"run_id":   e.RunID,
		"accepted": e.Accepted,
	}
	if e.Error != "" {
		msg["error"] = e.Error
	}
	_ = c.WriteJSON(msg)
}
