package router

import (
	"github.com/labstack/echo/v4"

	"agrilink/internal/adapter/api/handler"
	"agrilink/internal/adapter/api/middleware"
)

func Setup(e *echo.Echo, conversationHandler *handler.ConversationHandler, wsHandler *handler.WebSocketHandler, healthHandler *handler.HealthHandler, authMiddleware *middleware.AuthMiddleware, rateLimitMiddleware *middleware.RateLimitMiddleware) {
	SetupHealthRouter(e, healthHandler)
	SetupConversationRouter(e, conversationHandler, authMiddleware, rateLimitMiddleware)
	SetupWebSocketRouter(e, wsHandler)
}

func SetupHealthRouter(e *echo.Echo, healthHandler *handler.HealthHandler) {
	e.GET("/health", healthHandler.CheckHealth)
}
