package entity

import "time"

type User struct {
	ID        string    `json:"id" firestore:"id"`
	Email     string    `json:"email,omitempty" firestore:"email,omitempty"`
	Username  string    `json:"username" firestore:"username"`
	AvatarURL string    `json:"avatar_url,omitempty" firestore:"avatarURL,omitempty"`
	Dorm      string    `json:"dorm,omitempty" firestore:"dorm,omitempty"`
	Deleted   bool      `json:"deleted" firestore:"deleted"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}

const (
	DeletedAccountName   = "Deleted Account"
	DeletedAccountAvatar = "https://storage.googleapis.com/dormarket-assets/avatar-deleted.png"
)

// DeletedAccount returns the synthetic participant substituted when a
// profile is missing or flagged deleted. Rendering falls back to this
// instead of surfacing a fetch error.
func DeletedAccount() *User {
	return &User{
		ID:        "",
		Username:  DeletedAccountName,
		AvatarURL: DeletedAccountAvatar,
		Deleted:   true,
	}
}

// IsDeletedSentinel reports whether u is the placeholder identity (or a
// profile flagged deleted). Sending to such a participant is disallowed.
func (u *User) IsDeletedSentinel() bool {
	return u == nil || u.ID == "" || u.Deleted
}
