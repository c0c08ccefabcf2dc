package handler

import (
	"context"
	"log"
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	ws "dormarket/internal/infrastructure/websocket"
	"dormarket/internal/usecase"
	"dormarket/pkg/errors"
)

type WebSocketHandler struct {
	wsManager     *ws.Manager
	listUseCase   *usecase.ConversationListUseCase
	unreadUseCase *usecase.UnreadUseCase
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // You should restrict this in production
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, listUseCase *usecase.ConversationListUseCase, unreadUseCase *usecase.UnreadUseCase) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:     wsManager,
		listUseCase:   listUseCase,
		unreadUseCase: unreadUseCase,
	}
}

// HandleWebSocket upgrades the connection and starts pushing change
// notifications. Connecting also starts the user's list sync and badge
// computation; both are torn down when the socket closes.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	userID, ok := c.Get("uid").(string)
	if !ok || userID == "" {
		return errors.Unauthorized("Authentication required", nil)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Internal("Failed to upgrade connection", err)
	}

	client := &ws.Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}

	h.wsManager.Register <- client

	// The sync lifecycle outlives this request.
	ctx := context.WithoutCancel(c.Request().Context())
	h.unreadUseCase.SignIn(ctx, userID)
	if err := h.listUseCase.StartSync(ctx, userID); err != nil {
		log.Printf("HandleWebSocket Error: failed to start sync for %s: %v", userID, err)
	}

	go func() {
		client.ReadPump(h.wsManager)
		h.listUseCase.StopSync(userID)
		h.unreadUseCase.SignOut(userID)
	}()
	go client.WritePump()

	return nil
}
