package router

import (
	"github.com/labstack/echo/v4"

	"agrilink/internal/adapter/api/handler"
	"agrilink/internal/adapter/api/middleware"
)

// SetupConversationRouter sets up all conversation routes (excluding WebSocket)
func SetupConversationRouter(e *echo.Echo, conversationHandler *handler.ConversationHandler, authMiddleware *middleware.AuthMiddleware, rateLimitMiddleware *middleware.RateLimitMiddleware) {
	group := e.Group("/v1/conversations")
	group.Use(authMiddleware.Authenticate) // All conversation endpoints require authentication

	// Conversation management
	group.POST("", conversationHandler.CreateConversation, rateLimitMiddleware.LimitSends) // POST /v1/conversations - Find or create a conversation
	group.GET("", conversationHandler.GetConversations)         // GET /v1/conversations - Inbox listing
	group.GET("/unread", conversationHandler.GetUnreadSummary)  // GET /v1/conversations/unread - Unread badge totals
	group.GET("/:id", conversationHandler.GetConversationByID)  // GET /v1/conversations/:id - Single conversation
	group.PUT("/:id/read", conversationHandler.MarkConversationRead) // PUT /v1/conversations/:id/read - Acknowledge messages

	// Message management
	group.POST("/:id/messages", conversationHandler.SendMessage, rateLimitMiddleware.LimitSends) // POST /v1/conversations/:id/messages - Send message
	group.GET("/:id/messages", conversationHandler.GetConversationMessages) // GET /v1/conversations/:id/messages - Message history

	// Maintenance
	group.POST("/:id/reconcile", conversationHandler.ReconcileConversation) // POST /v1/conversations/:id/reconcile - Rebuild summary from log
}
