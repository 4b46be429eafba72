package domain

import "time"

// EventAgentCall is the name of the event that starts an agent run.
const EventAgentCall = "agent/call"

// EventStatus tracks an event through the job queue.
type EventStatus string

const (
	EventPending EventStatus = "pending"
	EventRunning EventStatus = "running"
	EventDone    EventStatus = "done"
	EventFailed  EventStatus = "failed"
)

// AgentCall is the payload of an agent/call event.
type AgentCall struct {
	Value    string `json:"value"`
	ThreadID string `json:"threadId"`
	UserID   string `json:"userId,omitempty"`
}

// Event is a queued asynchronous job trigger.
type Event struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Payload   []byte      `json:"payload"`
	Status    EventStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Payment records an on-chain transaction that paid for a plan.
type Payment struct {
	TxHash    string    `json:"txHash"`
	UserID    string    `json:"userId"`
	Wallet    string    `json:"wallet"`
	Plan      Plan      `json:"plan"`
	AmountWei string    `json:"amountWei"`
	CreatedAt time.Time `json:"createdAt"`
}
