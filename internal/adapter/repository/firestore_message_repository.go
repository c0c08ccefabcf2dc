package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dormarket/internal/domain/entity"
	"dormarket/internal/domain/repository"
	"dormarket/pkg/errors"
	"dormarket/pkg/logger"
	"dormarket/pkg/utils"
)

type firestoreMessageRepository struct {
	client *firestore.Client
}

func NewFirestoreMessageRepository(client *firestore.Client) repository.MessageRepository {
	return &firestoreMessageRepository{
		client: client,
	}
}

func (r *firestoreMessageRepository) messagesRef(conversationID string) *firestore.CollectionRef {
	return r.client.Collection("conversations").Doc(conversationID).Collection("messages")
}

func (r *firestoreMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	if message.ID == "" || entity.IsTemporaryID(message.ID) {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	message.IsTemporary = false

	// readBy is written explicitly: the struct keeps it out of the
	// Firestore mapping so every read goes through the normalizer.
	data := map[string]interface{}{
		"id":             message.ID,
		"conversationId": message.ConversationID,
		"senderId":       message.SenderID,
		"content":        message.Content,
		"participants":   message.Participants,
		"readBy":         message.ReadBy,
		"createdAt":      message.CreatedAt,
	}

	_, err := r.messagesRef(message.ConversationID).Doc(message.ID).Set(ctx, data)
	if err != nil {
		return errors.Internal("Failed to create message", err)
	}

	return nil
}

func (r *firestoreMessageRepository) GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	doc, err := r.messagesRef(conversationID).Doc(messageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Message", err)
		}
		return nil, errors.Internal("Failed to get message", err)
	}

	return messageFromDoc(doc)
}

func (r *firestoreMessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	query := r.messagesRef(conversationID).OrderBy("createdAt", firestore.Asc)

	iter := query.Documents(ctx)
	var messages []*entity.Message
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while iterating messages for conversation %s: %v", conversationID, err)
			return nil, errors.Internal("Failed to iterate messages", err)
		}

		message, err := messageFromDoc(doc)
		if err != nil {
			logger.Warn("Skipping malformed message %s: %v", doc.Ref.ID, err)
			continue
		}
		messages = append(messages, message)
	}

	return messages, nil
}

func (r *firestoreMessageRepository) MarkAllRead(ctx context.Context, conversationID, userID string) (int, error) {
	docs, err := r.messagesRef(conversationID).Documents(ctx).GetAll()
	if err != nil {
		return 0, errors.Internal("Failed to fetch messages for read update", err)
	}

	batch := r.client.Batch()
	touched := 0
	for _, doc := range docs {
		message, err := messageFromDoc(doc)
		if err != nil {
			continue
		}
		if !message.UnreadFor(userID) {
			continue
		}
		batch.Update(doc.Ref, []firestore.Update{
			{Path: "readBy", Value: utils.AppendReader(message.ReadBy, userID)},
		})
		touched++
	}

	if touched == 0 {
		return 0, nil
	}

	if _, err := batch.Commit(ctx); err != nil {
		return 0, errors.Internal("Failed to update read status", err)
	}

	return touched, nil
}

func (r *firestoreMessageRepository) Subscribe(ctx context.Context, conversationID string, handler repository.MessageEventHandler) (repository.Subscription, error) {
	query := r.messagesRef(conversationID).Query
	return watchQuery(ctx, query, func(change firestore.DocumentChange) {
		handler(messageEventFromChange(change))
	})
}

func (r *firestoreMessageRepository) SubscribeUser(ctx context.Context, userID string, handler repository.MessageEventHandler) (repository.Subscription, error) {
	query := r.client.CollectionGroup("messages").Where("participants", "array-contains", userID)
	return watchQuery(ctx, query, func(change firestore.DocumentChange) {
		handler(messageEventFromChange(change))
	})
}

func messageEventFromChange(change firestore.DocumentChange) repository.MessageEvent {
	eventType := repository.EventInsert
	if change.Kind == firestore.DocumentModified {
		eventType = repository.EventUpdate
	}

	// Event payloads carry ids plus whatever parsed; consumers refetch the
	// full row before rendering an insert.
	message, err := messageFromDoc(change.Doc)
	event := repository.MessageEvent{
		Type:      eventType,
		MessageID: change.Doc.Ref.ID,
	}
	if err == nil {
		event.ConversationID = message.ConversationID
		event.Message = message
	}
	return event
}

func messageFromDoc(doc *firestore.DocumentSnapshot) (*entity.Message, error) {
	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}
	message.ID = doc.Ref.ID
	message.ReadBy = utils.DecodeReadBy(doc.Data()["readBy"])
	return &message, nil
}
