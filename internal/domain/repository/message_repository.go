package repository

import (
	"context"

	"dormarket/internal/domain/entity"
)

type MessageRepository interface {
	Create(ctx context.Context, message *entity.Message) error
	GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error)

	// ListByConversation returns the full message history ordered by
	// createdAt ascending. No pagination window: the reconciler re-sorts
	// and deduplicates the whole list after every merge.
	ListByConversation(ctx context.Context, conversationID string) ([]*entity.Message, error)

	// MarkAllRead appends userID to the read-by set of every message in
	// the conversation not sent by userID, in one batched update. Returns
	// the number of rows touched; zero means there was nothing unread.
	MarkAllRead(ctx context.Context, conversationID, userID string) (int, error)

	// Subscribe delivers insert/update events for one conversation.
	Subscribe(ctx context.Context, conversationID string, handler MessageEventHandler) (Subscription, error)

	// SubscribeUser delivers events for every message addressed to a
	// conversation userID takes part in; the unread badge aggregator and
	// the conversation list refresh on these.
	SubscribeUser(ctx context.Context, userID string, handler MessageEventHandler) (Subscription, error)
}
