package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	syncsvc "github.com/govdecisions/backend/internal/sync"
	"github.com/govdecisions/backend/pkg/logger"
)

type WebSocketHandler struct {
	service *syncsvc.Service
}

func NewWebSocketHandler(service *syncsvc.Service) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
	}
}

// HandleSyncProgress streams sync progress events to the client as JSON
// frames. The subscription lives until the client disconnects; slow clients
// miss events rather than stalling the pipeline.
func (h *WebSocketHandler) HandleSyncProgress(c *websocket.Conn) {
	logger.Info("Sync progress stream attached")

	events, cancel := h.service.Subscribe()
	defer cancel()
	defer func() {
		c.Close()
		logger.Info("Sync progress stream closed")
	}()

	// Reads only detect disconnect; clients are not expected to send.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	hello := map[string]interface{}{
		"type":    "connected",
		"running": h.service.Running(),
	}
	if err := c.WriteJSON(hello); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case event := <-events:
			if err := c.WriteJSON(event); err != nil {
				logger.Debug("Failed to write progress event", zap.Error(err))
				return
			}
		}
	}
}
