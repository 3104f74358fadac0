package router

import (
	"github.com/labstack/echo/v4"

	"agrilink/internal/adapter/api/handler"
)

// SetupWebSocketRouter sets up WebSocket routes
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler) {
	// Auth happens inside the handler: upgrade requests carry the token
	// as a query parameter.
	e.GET("/ws", wsHandler.HandleWebSocket)
}
