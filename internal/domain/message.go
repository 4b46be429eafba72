package domain

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageText   MessageType = "TEXT"
	MessageResult MessageType = "RESULT"
	MessageError  MessageType = "ERROR"
)

// MessageStatus tracks progress of an assistant message.
type MessageStatus string

const (
	StatusProcessing MessageStatus = "PROCESSING"
	StatusCompleted  MessageStatus = "COMPLETED"
	StatusFailed     MessageStatus = "FAILED"
)

// Message is one entry of a thread. USER messages never change after creation;
// the ASSISTANT message of an agent run is rewritten until it reaches a terminal status.
type Message struct {
	ID        string        `json:"id"`
	ThreadID  string        `json:"threadId"`
	UserID    string        `json:"userId,omitempty"`
	Role      Role          `json:"role"`
	Type      MessageType   `json:"type"`
	Status    MessageStatus `json:"status"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Fragment  *Fragment     `json:"fragment,omitempty"`
}

// Terminal reports whether the message reached COMPLETED or FAILED.
func (m *Message) Terminal() bool {
	return m.Status == StatusCompleted || m.Status == StatusFailed
}

// Fragment is the sandbox and generated-file snapshot attached to an assistant message.
type Fragment struct {
	ID         string            `json:"id"`
	MessageID  string            `json:"messageId"`
	SandboxID  string            `json:"sandboxId"`
	SandboxURL string            `json:"sandboxUrl"`
	Title      string            `json:"title"`
	Files      map[string]string `json:"files"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// MessageUpdate carries the mutable fields of an assistant message.
// Nil fields are left untouched.
type MessageUpdate struct {
	Content *string
	Type    *MessageType
	Status  *MessageStatus
}

// FragmentUpdate carries the mutable fields of a fragment. Nil fields are left untouched.
// Files replaces the whole map.
type FragmentUpdate struct {
	SandboxID  *string
	SandboxURL *string
	Title      *string
	Files      map[string]string
}
