package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ashureev/sagent/internal/domain"
	"github.com/ashureev/sagent/internal/identity"
	"github.com/ashureev/sagent/internal/live"
	"github.com/ashureev/sagent/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// ThreadService is the thread layer the handlers call.
type ThreadService interface {
	CreateThread(ctx context.Context, userID, value string) (*domain.Thread, error)
	SendMessage(ctx context.Context, userID, threadID, message string) (*domain.Message, error)
	GetThread(ctx context.Context, userID, threadID string) (*domain.Thread, error)
	ListThreads(ctx context.Context, userID string) ([]*domain.Thread, error)
	GetMessages(ctx context.Context, userID, threadID string) ([]*domain.Message, error)
	GetUser(ctx context.Context, userID string) (*domain.User, bool, error)
}

// ThreadHandler serves threads, messages and their live updates.
type ThreadHandler struct {
	threads ThreadService
	live    *live.WebSocketHandler
	limiter *middleware.RateLimiter
}

// NewThreadHandler creates a handler. liveHandler and limiter may be nil.
func NewThreadHandler(threads ThreadService, liveHandler *live.WebSocketHandler, limiter *middleware.RateLimiter) *ThreadHandler {
	return &ThreadHandler{threads: threads, live: liveHandler, limiter: limiter}
}

type createThreadRequest struct {
	Value string `json:"value" validate:"required"`
}

type sendMessageRequest struct {
	Message string `json:"message" validate:"required"`
}

type meResponse struct {
	User      *domain.User `json:"user"`
	IsNewUser bool         `json:"isNewUser"`
}

// RegisterRoutes registers thread routes. Callers mount identity.RequireUser first.
func (h *ThreadHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/me", h.GetMe)
	r.Route("/api/threads", func(r chi.Router) {
		r.Get("/", h.ListThreads)
		r.Post("/", h.CreateThread)
		r.Route("/{threadID}", func(r chi.Router) {
			r.Get("/", h.GetThread)
			r.Get("/messages", h.GetMessages)
			r.Post("/messages", h.SendMessage)
			r.Get("/live", h.Live)
		})
	})
}

// allow applies the per-user prompt rate limit.
func (h *ThreadHandler) allow(w http.ResponseWriter, userID string) bool {
	if h.limiter == nil || h.limiter.Allow(userID) {
		return true
	}
	slog.Warn("Prompt rate limit exceeded", "user_id", userID)
	Error(w, http.StatusTooManyRequests, "rate limit exceeded, please slow down")
	return false
}

// GetMe returns the caller with today's credits.
func (h *ThreadHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, isNew, err := h.threads.GetUser(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, meResponse{User: user, IsNewUser: isNew})
}

// ListThreads returns the caller's threads.
func (h *ThreadHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.threads.ListThreads(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, threads)
}

// CreateThread starts a thread and queues the agent.
func (h *ThreadHandler) CreateThread(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	var req createThreadRequest
	if err := decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if !h.allow(w, userID) {
		return
	}
	th, err := h.threads.CreateThread(r.Context(), userID, req.Value)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, th)
}

// GetThread returns one thread.
func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	th, err := h.threads.GetThread(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "threadID"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, th)
}

// GetMessages returns the thread's messages with fragments.
func (h *ThreadHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.threads.GetMessages(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "threadID"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, msgs)
}

// SendMessage adds a follow-up prompt.
func (h *ThreadHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	var req sendMessageRequest
	if err := decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if !h.allow(w, userID) {
		return
	}
	msg, err := h.threads.SendMessage(r.Context(), userID, chi.URLParam(r, "threadID"), req.Message)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, msg)
}

// Live upgrades to a websocket streaming the thread's message updates.
func (h *ThreadHandler) Live(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		Error(w, http.StatusNotFound, "live updates are disabled")
		return
	}
	th, err := h.threads.GetThread(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "threadID"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.live.Serve(w, r, th.ID)
}
