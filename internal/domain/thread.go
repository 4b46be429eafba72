package domain

import "time"

// DefaultThreadName is the name given to every new thread.
const DefaultThreadName = "New Thread"

// Thread is a conversation about one user project.
type Thread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OwnedBy reports whether userID may read or write the thread.
// Threads created without an owner are readable by anyone.
func (t *Thread) OwnedBy(userID string) bool {
	return t.UserID == "" || t.UserID == userID
}
