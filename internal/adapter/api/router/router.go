package router

import (
	"dormarket/internal/adapter/api/handler"
	"dormarket/internal/adapter/api/middleware"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, authClient *auth.Client, chatHandler *handler.ChatHandler, wsHandler *handler.WebSocketHandler) {
	SetupChatRouter(e, chatHandler, authMiddleware)
	SetupWebSocketRouter(e, wsHandler, authClient)
	SetupHealthRouter(e)
}
