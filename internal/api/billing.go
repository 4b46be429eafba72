package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ashureev/sagent/internal/billing"
	"github.com/ashureev/sagent/internal/domain"
	"github.com/ashureev/sagent/internal/identity"
	"github.com/go-chi/chi/v5"
)

// BillingService is the billing layer the handlers call.
type BillingService interface {
	EnsureUser(ctx context.Context, userID string) (*domain.User, bool, error)
	GetBillingInfo(ctx context.Context, userID, wallet string) (*billing.Info, error)
	UpdatePlan(ctx context.Context, userID string, plan domain.Plan) (*billing.PlanResult, error)
	SubscribeToPlan(ctx context.Context, userID string, req billing.SubscribeRequest) (*billing.PlanResult, error)
	DepositBalance(ctx context.Context, userID, amount string) (*billing.DepositResult, error)
}

// BillingHandler serves plans, credits and wallet balances.
type BillingHandler struct {
	billing           BillingService
	allowPlanOverride bool
}

// NewBillingHandler creates a handler. allowPlanOverride lets /plan switch to
// paid plans without a payment.
func NewBillingHandler(svc BillingService, allowPlanOverride bool) *BillingHandler {
	return &BillingHandler{billing: svc, allowPlanOverride: allowPlanOverride}
}

type updatePlanRequest struct {
	Plan string `json:"plan" validate:"required"`
}

type subscribeRequest struct {
	Plan          string `json:"plan" validate:"required"`
	WalletAddress string `json:"walletAddress" validate:"required"`
	TxHash        string `json:"txHash" validate:"required"`
}

type depositRequest struct {
	Amount string `json:"amount" validate:"required"`
}

// RegisterRoutes registers billing routes. Callers mount identity.RequireUser first.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/billing", func(r chi.Router) {
		r.Get("/", h.GetBillingInfo)
		r.Post("/plan", h.UpdatePlan)
		r.Post("/subscribe", h.Subscribe)
		r.Post("/deposit", h.Deposit)
	})
}

// caller returns the user id after making sure the user row exists.
func (h *BillingHandler) caller(r *http.Request) (string, error) {
	userID := identity.UserIDFromContext(r.Context())
	if _, _, err := h.billing.EnsureUser(r.Context(), userID); err != nil {
		return "", err
	}
	return userID, nil
}

func parsePlan(s string) (domain.Plan, error) {
	plan, ok := domain.ParsePlan(s)
	if !ok {
		return "", fmt.Errorf("unknown plan %q: %w", s, domain.ErrValidation)
	}
	return plan, nil
}

// GetBillingInfo returns plan, credits and the wallet's contract balance.
func (h *BillingHandler) GetBillingInfo(w http.ResponseWriter, r *http.Request) {
	userID, err := h.caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	info, err := h.billing.GetBillingInfo(r.Context(), userID, r.URL.Query().Get("wallet"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, info)
}

// UpdatePlan switches plans directly. Paid plans need the override switch.
func (h *BillingHandler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req updatePlanRequest
	if err := decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	plan, err := parsePlan(req.Plan)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if plan.IsPaid() && !h.allowPlanOverride {
		Error(w, http.StatusPaymentRequired, "paid plans require a subscription payment")
		return
	}
	userID, err := h.caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.billing.UpdatePlan(r.Context(), userID, plan)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Subscribe verifies a payment transaction and upgrades the plan. Rejected
// payments are a 200 with success=false.
func (h *BillingHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	plan, err := parsePlan(req.Plan)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	userID, err := h.caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.billing.SubscribeToPlan(r.Context(), userID, billing.SubscribeRequest{
		Plan:   plan,
		Wallet: req.WalletAddress,
		TxHash: req.TxHash,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Deposit acknowledges an on-chain deposit.
func (h *BillingHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	userID, err := h.caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.billing.DepositBalance(r.Context(), userID, req.Amount)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}
