package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/the-vow/backend/internal/ws"
)

// WebSocketHandler upgrades realtime connections for sessions.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
	}
}

// Realtime handles WS /api/realtime?session=&code= - joins a session's live channel.
// Refused handshakes get no HTTP response; the hub closes the connection.
func (h *WebSocketHandler) Realtime(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, c.Query("session"), c.Query("code")); err != nil {
		// Upgrade already wrote its own error response
		c.Abort()
		return
	}
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/realtime", h.Realtime)
}
