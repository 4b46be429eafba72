// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/sagent/internal/domain"
)

// ErrDuplicatePayment is returned when a transaction hash was already redeemed.
var ErrDuplicatePayment = errors.New("payment already recorded")

// Repository defines the interface for persisting users, threads, messages and jobs.
// Lookups of a single row return (nil, nil) when the row does not exist.
type Repository interface {
	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// CreateUser inserts the user unless one with the same id exists.
	// It reports whether a row was created.
	CreateUser(ctx context.Context, user *domain.User) (bool, error)

	// SaveUser persists plan, credit counters, refresh stamp and expiry.
	SaveUser(ctx context.Context, user *domain.User) error

	// DeductCredits atomically moves amount credits to creditsUsedToday.
	// It fails with domain.ErrNotFound or domain.ErrInsufficientCredits.
	DeductCredits(ctx context.Context, userID string, amount int) (*domain.User, error)

	// CreateThread stores a thread with its first message, charges the owner
	// charge credits and enqueues evt, all in one transaction.
	CreateThread(ctx context.Context, thread *domain.Thread, first *domain.Message, charge int, evt *domain.Event) error

	// GetThread retrieves a thread by id.
	GetThread(ctx context.Context, threadID string) (*domain.Thread, error)

	// ListThreads returns the user's threads ordered by last update.
	ListThreads(ctx context.Context, userID string) ([]*domain.Thread, error)

	// AcceptMessage stores a user message, charges its author charge credits and
	// enqueues evt, all in one transaction.
	AcceptMessage(ctx context.Context, msg *domain.Message, charge int, evt *domain.Event) error

	// ListMessages returns a thread's messages with fragments, ordered by updatedAt ascending.
	ListMessages(ctx context.Context, threadID string) ([]*domain.Message, error)

	// GetMessage retrieves a message and its fragment.
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)

	// CreateAssistantMessage stores an assistant message with its fragment.
	CreateAssistantMessage(ctx context.Context, msg *domain.Message, frag *domain.Fragment) error

	// UpdateMessage applies upd and returns the message with its fragment.
	UpdateMessage(ctx context.Context, messageID string, upd domain.MessageUpdate) (*domain.Message, error)

	// UpdateFragment applies upd to the fragment owned by messageID.
	UpdateFragment(ctx context.Context, messageID string, upd domain.FragmentUpdate) error

	// ClaimEvents moves up to limit pending events to running and returns them.
	ClaimEvents(ctx context.Context, limit int) ([]*domain.Event, error)

	// CompleteEvent marks an event done.
	CompleteEvent(ctx context.Context, eventID string) error

	// FailEvent marks an event failed with a reason.
	FailEvent(ctx context.Context, eventID string, reason string) error

	// FailStaleEvents marks events left running by a previous process as failed.
	FailStaleEvents(ctx context.Context) (int64, error)

	// RecordPayment stores the payment and saves the upgraded user in one transaction.
	// It returns ErrDuplicatePayment when the tx hash was used before.
	RecordPayment(ctx context.Context, payment *domain.Payment, user *domain.User) error

	// GetPayment retrieves a payment by transaction hash.
	GetPayment(ctx context.Context, txHash string) (*domain.Payment, error)
}
