package api

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/ashureev/sagent/internal/billing"
	"github.com/ashureev/sagent/internal/domain"
	"github.com/ashureev/sagent/internal/identity"
	"github.com/ashureev/sagent/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBilling struct {
	ensured   []string
	plan      domain.Plan
	subscribe billing.SubscribeRequest
	result    *billing.PlanResult
	err       error
}

func (f *fakeBilling) EnsureUser(_ context.Context, userID string) (*domain.User, bool, error) {
	f.ensured = append(f.ensured, userID)
	return &domain.User{ID: userID}, false, nil
}

func (f *fakeBilling) GetBillingInfo(_ context.Context, _, wallet string) (*billing.Info, error) {
	if f.err != nil {
		return nil, f.err
	}
	balance := "0"
	if wallet != "" {
		balance = "0.25"
	}
	return &billing.Info{Balance: balance, Plan: domain.PlanFree, Credits: 5, DailyLimit: 5}, nil
}

func (f *fakeBilling) UpdatePlan(_ context.Context, _ string, plan domain.Plan) (*billing.PlanResult, error) {
	f.plan = plan
	return &billing.PlanResult{Success: true, Plan: plan}, nil
}

func (f *fakeBilling) SubscribeToPlan(_ context.Context, _ string, req billing.SubscribeRequest) (*billing.PlanResult, error) {
	f.subscribe = req
	return f.result, f.err
}

func (f *fakeBilling) DepositBalance(_ context.Context, _, amount string) (*billing.DepositResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &billing.DepositResult{NewBalance: "Updated on blockchain", DepositAmount: amount}, nil
}

var _ BillingService = (*billing.Service)(nil)

func newBillingRouter(svc BillingService, override bool) http.Handler {
	r := chi.NewRouter()
	r.Use(asUser)
	r.Group(func(r chi.Router) {
		r.Use(identity.RequireUser)
		NewBillingHandler(svc, override).RegisterRoutes(r)
	})
	return r
}

func TestGetBillingInfo(t *testing.T) {
	fb := &fakeBilling{}
	h := newBillingRouter(fb, false)

	rec := do(t, h, http.MethodGet, "/api/billing?wallet=0xabc", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info billing.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "0.25", info.Balance)
	assert.Equal(t, []string{"u1"}, fb.ensured, "user is created lazily")

	rec = do(t, h, http.MethodGet, "/api/billing", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdatePlanRequiresOverrideForPaidPlans(t *testing.T) {
	fb := &fakeBilling{}

	rec := do(t, newBillingRouter(fb, false), http.MethodPost, "/api/billing/plan", "u1", map[string]string{"plan": "PRO"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Empty(t, fb.plan)

	rec = do(t, newBillingRouter(fb, false), http.MethodPost, "/api/billing/plan", "u1", map[string]string{"plan": "free"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PlanFree, fb.plan)

	rec = do(t, newBillingRouter(fb, true), http.MethodPost, "/api/billing/plan", "u1", map[string]string{"plan": "premium"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PlanPremium, fb.plan)

	rec = do(t, newBillingRouter(fb, true), http.MethodPost, "/api/billing/plan", "u1", map[string]string{"plan": "GOLD"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePlanToFreeKeepsSpentCredits(t *testing.T) {
	repo, err := store.Open("sqlite://" + filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	svc := billing.NewService(repo, nil, "")
	h := newBillingRouter(svc, false)
	ctx := context.Background()

	_, _, err = svc.EnsureUser(ctx, "u1")
	require.NoError(t, err)
	_, err = svc.DeductCredits(ctx, "u1", 5)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rec := do(t, h, http.MethodPost, "/api/billing/plan", "u1", map[string]string{"plan": "FREE"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res billing.PlanResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, 0, res.Credits)
	}

	_, err = svc.DeductCredits(ctx, "u1", 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)
}

func TestSubscribe(t *testing.T) {
	fb := &fakeBilling{result: &billing.PlanResult{Success: false, Message: "Insufficient balance: 0 SAG available"}}
	h := newBillingRouter(fb, false)

	rec := do(t, h, http.MethodPost, "/api/billing/subscribe", "u1", map[string]string{
		"plan":          "PRO",
		"walletAddress": "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		"txHash":        "0xabc",
	})
	require.Equal(t, http.StatusOK, rec.Code, "rejections are reported in the body")
	var res billing.PlanResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Insufficient balance")
	assert.Equal(t, billing.SubscribeRequest{
		Plan:   domain.PlanPro,
		Wallet: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		TxHash: "0xabc",
	}, fb.subscribe)

	rec = do(t, h, http.MethodPost, "/api/billing/subscribe", "u1", map[string]string{"plan": "PRO"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fb.err = domain.ErrExternalService
	rec = do(t, h, http.MethodPost, "/api/billing/subscribe", "u1", map[string]string{
		"plan": "PRO", "walletAddress": "0x1", "txHash": "0x2",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDeposit(t *testing.T) {
	fb := &fakeBilling{}
	h := newBillingRouter(fb, false)

	rec := do(t, h, http.MethodPost, "/api/billing/deposit", "u1", map[string]string{"amount": "0.5"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Updated on blockchain")

	fb.err = domain.ErrValidation
	rec = do(t, h, http.MethodPost, "/api/billing/deposit", "u1", map[string]string{"amount": "-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
