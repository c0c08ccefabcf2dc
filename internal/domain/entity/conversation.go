package entity

import (
	"sort"
	"strings"
	"time"
)

// Conversation schema variants. A conversation's variant is fixed at
// creation and never changes afterwards.
const (
	SchemaLegacy  = "legacy"  // identified by the sorted participant pair
	SchemaProduct = "product" // scoped to a listing, buyer/seller order is semantic
)

type Conversation struct {
	ID     string `json:"id" firestore:"id"`
	Schema string `json:"schema" firestore:"schema"`

	// Flat copy of both participant ids, kept in sync on every write so
	// the store can filter with a single array-contains clause.
	ParticipantIDs []string `json:"participant_ids" firestore:"participantIds"`

	// Legacy shape: the two participants, no product association.
	User1ID string `json:"user1_id,omitempty" firestore:"user1Id,omitempty"`
	User2ID string `json:"user2_id,omitempty" firestore:"user2Id,omitempty"`

	// Product-centric shape. Buyer is always the party who initiated the
	// conversation from the listing; seller is the listing owner.
	BuyerID  string           `json:"buyer_id,omitempty" firestore:"buyerId,omitempty"`
	SellerID string           `json:"seller_id,omitempty" firestore:"sellerId,omitempty"`
	Product  *ProductSnapshot `json:"product,omitempty" firestore:"product,omitempty"`

	// Denormalized copy of the most recent message, updated on every send
	// so list rendering never joins the messages collection.
	LastMessage   string    `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	LastMessageAt time.Time `json:"last_message_at" firestore:"lastMessageAt"`

	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}

// ProductSnapshot is a denormalized copy of the listing taken when the
// conversation is created, so the conversation stays displayable after the
// listing itself is removed.
type ProductSnapshot struct {
	ID       string  `json:"id" firestore:"id"`
	Name     string  `json:"name" firestore:"name"`
	Type     string  `json:"type" firestore:"type"` // "sell" or "buyorder"
	ImageURL string  `json:"image_url,omitempty" firestore:"imageUrl,omitempty"`
	Price    float64 `json:"price" firestore:"price"`
	Location string  `json:"location,omitempty" firestore:"location,omitempty"`
	Deleted  bool    `json:"deleted" firestore:"deleted"`
}

// LegacyConversationID returns the deterministic id for a user-pair
// conversation. Commutative: the same pair yields the same id regardless of
// who initiates.
func LegacyConversationID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}

// ProductConversationID returns the deterministic id for a product-centric
// conversation. Buyer/seller order is semantic here, not just for uniqueness.
func ProductConversationID(productID, buyerID, sellerID string) string {
	return "product_" + productID + "_" + buyerID + "_" + sellerID
}

// Participants returns both participant ids regardless of schema variant.
func (c *Conversation) Participants() []string {
	if c.Schema == SchemaProduct {
		return []string{c.BuyerID, c.SellerID}
	}
	return []string{c.User1ID, c.User2ID}
}

// OtherParticipant returns the participant that is not userID, or "" when
// userID is not part of the conversation.
func (c *Conversation) OtherParticipant(userID string) string {
	for _, p := range c.Participants() {
		if p != userID {
			return p
		}
	}
	return ""
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants() {
		if p == userID {
			return true
		}
	}
	return false
}
