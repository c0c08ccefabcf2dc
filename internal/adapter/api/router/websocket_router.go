package router

import (
	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"

	"dormarket/internal/adapter/api/handler"
)

// SetupWebSocketRouter sets up WebSocket routes
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler, authClient *auth.Client) {
	// Token verification is best-effort here; the handler rejects
	// connections that arrive without a uid.
	e.GET("/v1/ws", wsHandler.HandleWebSocket, VerifyToken(authClient))
}
