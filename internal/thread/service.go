// Package thread implements the thread and message operations behind the API.
package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/ashureev/sagent/internal/domain"
	"github.com/ashureev/sagent/internal/store"
	"github.com/google/uuid"
)

// MaxMessageLength is the longest prompt accepted, in characters.
const MaxMessageLength = 1000

// creditsPerRun is charged when a prompt is accepted.
const creditsPerRun = 1

// Users loads the caller with today's credits applied.
type Users interface {
	EnsureUser(ctx context.Context, userID string) (*domain.User, bool, error)
}

// Notifier is told that new work was enqueued.
type Notifier interface {
	Notify()
}

// Service owns threads and user messages.
type Service struct {
	repo   store.Repository
	users  Users
	notify Notifier
	now    func() time.Time
}

// NewService creates a Service. notify may be nil.
func NewService(repo store.Repository, users Users, notify Notifier) *Service {
	return &Service{repo: repo, users: users, notify: notify, now: time.Now}
}

func validatePrompt(field, s string) error {
	if s == "" {
		return fmt.Errorf("%s is required: %w", field, domain.ErrValidation)
	}
	if n := utf8.RuneCountInString(s); n > MaxMessageLength {
		return fmt.Errorf("%s is too long (%d > %d characters): %w", field, n, MaxMessageLength, domain.ErrValidation)
	}
	return nil
}

// chargeable loads the user and rejects the request when no credits are left.
func (s *Service) chargeable(ctx context.Context, userID string) error {
	user, _, err := s.users.EnsureUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Credits <= 0 {
		return fmt.Errorf("user %s has no credits left today: %w", userID, domain.ErrInsufficientCredits)
	}
	return nil
}

func (s *Service) userMessage(threadID, userID, content string, now time.Time) *domain.Message {
	return &domain.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		UserID:    userID,
		Role:      domain.RoleUser,
		Type:      domain.MessageResult,
		Status:    domain.StatusCompleted,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func agentCall(call domain.AgentCall, now time.Time) (*domain.Event, error) {
	payload, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("encode agent call: %w", err)
	}
	return &domain.Event{
		ID:        uuid.NewString(),
		Name:      domain.EventAgentCall,
		Payload:   payload,
		Status:    domain.EventPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Service) wake() {
	if s.notify != nil {
		s.notify.Notify()
	}
}

// CreateThread starts a thread from value, charges one credit and queues the agent.
func (s *Service) CreateThread(ctx context.Context, userID, value string) (*domain.Thread, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	if err := validatePrompt("value", value); err != nil {
		return nil, err
	}
	if err := s.chargeable(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now()
	th := &domain.Thread{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      domain.DefaultThreadName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	evt, err := agentCall(domain.AgentCall{Value: value, ThreadID: th.ID, UserID: userID}, now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateThread(ctx, th, s.userMessage(th.ID, userID, value, now), creditsPerRun, evt); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	slog.Info("Thread created", "thread_id", th.ID, "user_id", userID, "event_id", evt.ID)
	s.wake()
	return th, nil
}

// SendMessage adds a follow-up prompt to an owned thread, charges one credit
// and queues the agent. Nothing is stored when the user has no credits.
func (s *Service) SendMessage(ctx context.Context, userID, threadID, message string) (*domain.Message, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	if err := validatePrompt("message", message); err != nil {
		return nil, err
	}
	if _, err := s.GetThread(ctx, userID, threadID); err != nil {
		return nil, err
	}
	if err := s.chargeable(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now()
	msg := s.userMessage(threadID, userID, message, now)
	evt, err := agentCall(domain.AgentCall{Value: message, ThreadID: threadID, UserID: userID}, now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.AcceptMessage(ctx, msg, creditsPerRun, evt); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	slog.Info("Message accepted", "thread_id", threadID, "message_id", msg.ID, "event_id", evt.ID)
	s.wake()
	return msg, nil
}

// GetThread returns a thread the user may access. Threads of other users are
// reported as not found.
func (s *Service) GetThread(ctx context.Context, userID, threadID string) (*domain.Thread, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	th, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	if th == nil || !th.OwnedBy(userID) {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	return th, nil
}

// ListThreads returns the user's threads ordered by last update.
func (s *Service) ListThreads(ctx context.Context, userID string) ([]*domain.Thread, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	threads, err := s.repo.ListThreads(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	if threads == nil {
		threads = []*domain.Thread{}
	}
	return threads, nil
}

// GetMessages returns the thread's messages in update order with fragments.
func (s *Service) GetMessages(ctx context.Context, userID, threadID string) ([]*domain.Message, error) {
	if _, err := s.GetThread(ctx, userID, threadID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	return msgs, nil
}

// GetUser returns the caller, creating it on first sight.
func (s *Service) GetUser(ctx context.Context, userID string) (*domain.User, bool, error) {
	return s.users.EnsureUser(ctx, userID)
}
