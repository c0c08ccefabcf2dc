package handler

import (
	"github.com/labstack/echo/v4"

	"dormarket/internal/usecase"
	"dormarket/pkg/response"
)

type ChatHandler struct {
	listUseCase   *usecase.ConversationListUseCase
	streamUseCase *usecase.MessageStreamUseCase
	convUseCase   *usecase.ConversationUseCase
	unreadUseCase *usecase.UnreadUseCase
}

func NewChatHandler(
	listUseCase *usecase.ConversationListUseCase,
	streamUseCase *usecase.MessageStreamUseCase,
	convUseCase *usecase.ConversationUseCase,
	unreadUseCase *usecase.UnreadUseCase,
) *ChatHandler {
	return &ChatHandler{
		listUseCase:   listUseCase,
		streamUseCase: streamUseCase,
		convUseCase:   convUseCase,
		unreadUseCase: unreadUseCase,
	}
}

type findOrCreateConversationRequest struct {
	OtherUserID string `json:"other_user_id"`
	ProductID   string `json:"product_id"`
}

type openConversationRequest struct {
	ConversationID string `json:"conversation_id"`
	OtherUserID    string `json:"other_user_id"`
	ProductID      string `json:"product_id"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// ListConversations returns the augmented conversation list, optionally
// narrowed by the client-side search filter.
func (h *ChatHandler) ListConversations(c echo.Context) error {
	userID := c.Get("uid").(string)

	views, err := h.listUseCase.ListConversations(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	if search := c.QueryParam("search"); search != "" {
		views = usecase.FilterConversations(views, search)
	}

	return response.Success(c, views)
}

// RefreshConversations is the pull-to-refresh trigger; the actual fetch is
// debounced with every other refresh source.
func (h *ChatHandler) RefreshConversations(c echo.Context) error {
	userID := c.Get("uid").(string)
	h.listUseCase.RequestRefresh(userID)
	return response.Success(c, map[string]string{"status": "queued"})
}

// FindOrCreateConversation resolves or lazily creates the conversation for
// a user-pair or product context.
func (h *ChatHandler) FindOrCreateConversation(c echo.Context) error {
	var req findOrCreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	conversation, err := h.convUseCase.FindOrCreateConversation(c.Request().Context(), userID, usecase.FindOrCreateInput{
		OtherUserID: req.OtherUserID,
		ProductID:   req.ProductID,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, conversation)
}

// OpenConversation opens (or replaces) the user's reconciler session and
// returns the current message list.
func (h *ChatHandler) OpenConversation(c echo.Context) error {
	var req openConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	session, err := h.streamUseCase.OpenConversation(c.Request().Context(), userID, usecase.OpenConversationInput{
		ConversationID: req.ConversationID,
		OtherUserID:    req.OtherUserID,
		ProductID:      req.ProductID,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]interface{}{
		"conversation_id": session.ConversationID(),
		"messages":        session.Messages(),
	})
}

// GetMessages returns the rendered message list of the open session.
func (h *ChatHandler) GetMessages(c echo.Context) error {
	userID := c.Get("uid").(string)

	session, err := h.sessionFor(c, userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, session.Messages())
}

// SendMessage sends through the open session, opening one when needed.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	session, err := h.sessionFor(c, userID)
	if err != nil {
		return response.Error(c, err)
	}

	message, err := session.Send(c.Request().Context(), req.Content)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// MarkRead propagates read receipts for the open session.
func (h *ChatHandler) MarkRead(c echo.Context) error {
	userID := c.Get("uid").(string)

	session, err := h.sessionFor(c, userID)
	if err != nil {
		return response.Error(c, err)
	}

	session.MarkRead(c.Request().Context())
	return response.Success(c, map[string]string{"status": "ok"})
}

// CloseConversation disposes the user's open session.
func (h *ChatHandler) CloseConversation(c echo.Context) error {
	userID := c.Get("uid").(string)
	h.streamUseCase.CloseConversation(userID)
	return response.Success(c, map[string]string{"status": "closed"})
}

// GetUnreadCount returns the badge value and whether it is authoritative.
func (h *ChatHandler) GetUnreadCount(c echo.Context) error {
	userID := c.Get("uid").(string)
	count, loaded := h.unreadUseCase.Count(userID)
	return response.Success(c, map[string]interface{}{
		"unread_conversations": count,
		"loaded":               loaded,
	})
}

func (h *ChatHandler) sessionFor(c echo.Context, userID string) (*usecase.ChatSession, error) {
	conversationID := c.Param("id")

	session := h.streamUseCase.Session(userID)
	if session != nil && session.ConversationID() == conversationID {
		return session, nil
	}

	return h.streamUseCase.OpenConversation(c.Request().Context(), userID, usecase.OpenConversationInput{
		ConversationID: conversationID,
	})
}
