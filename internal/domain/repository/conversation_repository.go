package repository

import (
	"context"

	"dormarket/internal/domain/entity"
)

type ConversationRepository interface {
	// Create persists a new conversation under its deterministic id. It
	// must fail with a CONFLICT error when the id already exists so the
	// caller can re-fetch the winner, and with a SCHEMA_MISMATCH error
	// when the deployment does not support the product-centric shape.
	Create(ctx context.Context, conversation *entity.Conversation) error
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	ListByUserID(ctx context.Context, userID string) ([]*entity.Conversation, error)
	Update(ctx context.Context, conversation *entity.Conversation) error

	// Subscribe delivers events for every conversation userID takes part
	// in, until the returned subscription is closed.
	Subscribe(ctx context.Context, userID string, handler ConversationEventHandler) (Subscription, error)
}
