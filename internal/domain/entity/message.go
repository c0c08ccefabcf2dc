package entity

import (
	"fmt"
	"math/rand"
	"time"
)

const tempIDPrefix = "temp_"

type Message struct {
	ID             string    `json:"id" firestore:"id"`
	ConversationID string    `json:"conversation_id" firestore:"conversationId"`
	SenderID       string    `json:"sender_id" firestore:"senderId"` // "" means the sender account was removed
	Content        string    `json:"content" firestore:"content"`
	CreatedAt      time.Time `json:"created_at" firestore:"createdAt"`

	// Flat copy of the conversation's participant ids, written with every
	// message so a single collection-group filter can feed the user-wide
	// event stream.
	Participants []string `json:"-" firestore:"participants"`

	// Set of user ids who have read the message. Append-only; stored
	// remotely as either a native array or a JSON-encoded string, so it is
	// always normalized through utils.DecodeReadBy at the read boundary
	// and written back explicitly by the repository.
	ReadBy []string `json:"read_by" firestore:"-"`

	// Local-only marker for an optimistic, unconfirmed send. Never
	// persisted; dropped once the confirmed message arrives or the send
	// fails.
	IsTemporary bool `json:"is_temporary,omitempty" firestore:"-"`

	// Sender display info, resolved when the full row is fetched.
	Sender *User `json:"sender,omitempty" firestore:"-"`
}

// NewTemporaryID generates the client-side id used during the optimistic
// phase, before the server assigns the real one.
func NewTemporaryID() string {
	return fmt.Sprintf("%s%d_%04d", tempIDPrefix, time.Now().UnixNano(), rand.Intn(10000))
}

// IsTemporaryID reports whether id was generated by NewTemporaryID.
func IsTemporaryID(id string) bool {
	return len(id) >= len(tempIDPrefix) && id[:len(tempIDPrefix)] == tempIDPrefix
}

// ReadByUser reports whether userID appears in the message's read-by set.
func (m *Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r == userID {
			return true
		}
	}
	return false
}

// UnreadFor reports whether the message counts as unread for userID: sent by
// somebody else (a removed account included) and not yet read by userID.
func (m *Message) UnreadFor(userID string) bool {
	return m.SenderID != userID && !m.ReadByUser(userID)
}
