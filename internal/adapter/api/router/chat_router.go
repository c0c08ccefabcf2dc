package router

import (
	"github.com/labstack/echo/v4"

	"dormarket/internal/adapter/api/handler"
	"dormarket/internal/adapter/api/middleware"
)

// SetupChatRouter sets up all conversation routes (excluding WebSocket)
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	convGroup := e.Group("/v1/conversations")
	convGroup.Use(authMiddleware.Authenticate) // All conversation endpoints require authentication

	// Conversation list
	convGroup.GET("", chatHandler.ListConversations)       // GET /v1/conversations - List with unread/profile augmentation
	convGroup.POST("", chatHandler.FindOrCreateConversation) // POST /v1/conversations - Resolve or create
	convGroup.POST("/refresh", chatHandler.RefreshConversations) // POST /v1/conversations/refresh - Debounced refresh

	// Open session
	convGroup.POST("/open", chatHandler.OpenConversation)   // POST /v1/conversations/open - Open reconciler session
	convGroup.POST("/close", chatHandler.CloseConversation) // POST /v1/conversations/close - Dispose session

	// Messages
	convGroup.GET("/:id/messages", chatHandler.GetMessages) // GET /v1/conversations/:id/messages
	convGroup.POST("/:id/messages", chatHandler.SendMessage) // POST /v1/conversations/:id/messages
	convGroup.PUT("/:id/read", chatHandler.MarkRead)         // PUT /v1/conversations/:id/read

	// Badge
	unreadGroup := e.Group("/v1/unread-count")
	unreadGroup.Use(authMiddleware.Authenticate)
	unreadGroup.GET("", chatHandler.GetUnreadCount) // GET /v1/unread-count
}
