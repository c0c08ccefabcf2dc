package entity

import "time"

// Block records that BlockerID has blocked BlockedID. Either direction of a
// pair prevents new conversations and sends between the two.
type Block struct {
	ID        string    `json:"id" firestore:"id"`
	BlockerID string    `json:"blocker_id" firestore:"blockerId"`
	BlockedID string    `json:"blocked_id" firestore:"blockedId"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}
