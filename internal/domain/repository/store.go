package repository

import "dormarket/internal/domain/entity"

// EventType distinguishes realtime store events. Delivery is at-least-once
// with no ordering guarantee, and nothing is replayed across disconnects:
// consumers reconcile via fetch on reconnect or focus, never by relying on
// the stream.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

// MessageEvent is the payload of a message-collection event. It only carries
// identifiers plus whatever partial row the transport happened to include;
// an insert payload is not sufficient for rendering, so consumers fetch the
// full row before merging.
type MessageEvent struct {
	Type           EventType
	ConversationID string
	MessageID      string
	Message        *entity.Message // partial on insert, read-state patch on update
}

// ConversationEvent signals a change to a conversation row, typically the
// product-deleted flag or the last-message summary.
type ConversationEvent struct {
	Type           EventType
	ConversationID string
}

// Subscription is a live realtime listener. Close must be called when the
// consumer loses interest; at most one live subscription per open
// conversation is the rule upstream.
type Subscription interface {
	Close()
}

type MessageEventHandler func(MessageEvent)

type ConversationEventHandler func(ConversationEvent)
