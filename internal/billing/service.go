package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ashureev/sagent/internal/chain"
	"github.com/ashureev/sagent/internal/domain"
	"github.com/ashureev/sagent/internal/store"
)

// Chain is the on-chain surface billing depends on.
type Chain interface {
	GetBalance(ctx context.Context, account string) (*big.Int, error)
	TransactionByHash(ctx context.Context, hash string) (*chain.Transaction, error)
	TransactionReceipt(ctx context.Context, hash string) (*chain.Receipt, error)
}

// Service owns user credit state and plan changes.
type Service struct {
	repo     store.Repository
	chain    Chain
	contract string
	loc      *time.Location
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the time zone that decides calendar days.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewService creates a billing service. contract is the address payments must target.
func NewService(repo store.Repository, c Chain, contract string, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		chain:    c,
		contract: contract,
		loc:      time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureUser returns the user, creating it on first sight, after a daily refresh.
// The boolean reports whether the user was created by this call.
func (s *Service) EnsureUser(ctx context.Context, userID string) (*domain.User, bool, error) {
	if userID == "" {
		return nil, false, domain.ErrUnauthorized
	}
	created, err := s.repo.CreateUser(ctx, domain.NewUser(userID, s.now(), DailyLimit(domain.PlanFree)))
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	if created {
		slog.Info("User created", "user_id", userID)
	}
	user, err := s.RefreshDailyCredits(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

// RefreshDailyCredits applies subscription expiry and the daily allotment.
func (s *Service) RefreshDailyCredits(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}

	prevPlan := user.Plan
	if !Refresh(user, s.now(), s.loc) {
		return user, nil
	}
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("save refreshed user: %w", err)
	}
	if prevPlan != user.Plan {
		slog.Info("Subscription expired, downgraded", "user_id", userID, "from", prevPlan)
	}
	return user, nil
}

// DeductCredits charges amount credits. It fails with ErrInsufficientCredits or ErrNotFound.
func (s *Service) DeductCredits(ctx context.Context, userID string, amount int) (*domain.User, error) {
	if amount < 1 {
		return nil, fmt.Errorf("amount %d: %w", amount, domain.ErrValidation)
	}
	return s.repo.DeductCredits(ctx, userID, amount)
}

// Info is the billing summary of a user.
type Info struct {
	Balance               string      `json:"balance"`
	Plan                  domain.Plan `json:"plan"`
	Credits               int         `json:"credits"`
	CreditsUsedToday      int         `json:"creditsUsedToday"`
	DailyLimit            int         `json:"dailyLimit"`
	PlanDisplayName       string      `json:"planDisplayName"`
	SubscriptionExpiresAt *time.Time  `json:"subscriptionExpiresAt"`
}

// GetBillingInfo refreshes the user and reads the wallet's deposited balance.
// A failed balance read reports "0" instead of failing.
func (s *Service) GetBillingInfo(ctx context.Context, userID, wallet string) (*Info, error) {
	user, err := s.RefreshDailyCredits(ctx, userID)
	if err != nil {
		return nil, err
	}

	balance := "0"
	if wallet != "" {
		wei, err := s.chain.GetBalance(ctx, wallet)
		if err != nil {
			slog.Warn("Failed to fetch wallet balance", "error", err, "user_id", userID, "wallet", wallet)
		} else {
			balance = chain.FormatEther(wei)
		}
	}

	return &Info{
		Balance:               balance,
		Plan:                  user.Plan,
		Credits:               user.Credits,
		CreditsUsedToday:      user.CreditsUsedToday,
		DailyLimit:            DailyLimit(user.Plan),
		PlanDisplayName:       PlanDisplayName(user.Plan),
		SubscriptionExpiresAt: user.SubscriptionExpiresAt,
	}, nil
}

// PlanResult is the state after a plan change.
type PlanResult struct {
	Success               bool        `json:"success"`
	Message               string      `json:"message,omitempty"`
	Plan                  domain.Plan `json:"plan,omitempty"`
	Credits               int         `json:"credits"`
	DailyLimit            int         `json:"dailyLimit"`
	SubscriptionExpiresAt *time.Time  `json:"subscriptionExpiresAt,omitempty"`
}

func planResult(u *domain.User, msg string) *PlanResult {
	return &PlanResult{
		Success:               true,
		Message:               msg,
		Plan:                  u.Plan,
		Credits:               u.Credits,
		DailyLimit:            DailyLimit(u.Plan),
		SubscriptionExpiresAt: u.SubscriptionExpiresAt,
	}
}

func rejected(format string, args ...any) *PlanResult {
	return &PlanResult{Success: false, Message: fmt.Sprintf(format, args...)}
}

// UpdatePlan switches the user to plan without a payment check. Asking for
// the current plan changes nothing.
func (s *Service) UpdatePlan(ctx context.Context, userID string, plan domain.Plan) (*PlanResult, error) {
	user, err := s.RefreshDailyCredits(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Plan == plan {
		return planResult(user, ""), nil
	}

	ApplyPlan(user, plan, s.now())
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}
	slog.Info("Plan updated", "user_id", userID, "plan", plan)
	return planResult(user, ""), nil
}

// SubscribeRequest asks to pay for a plan with an already submitted transaction.
type SubscribeRequest struct {
	Plan   domain.Plan
	Wallet string
	TxHash string
}

// SubscribeToPlan verifies a payment transaction and upgrades the user. Every
// rejection is reported as Success=false with a user-facing message and leaves
// stored state untouched.
func (s *Service) SubscribeToPlan(ctx context.Context, userID string, req SubscribeRequest) (*PlanResult, error) {
	if !req.Plan.IsPaid() {
		return nil, fmt.Errorf("plan %q cannot be purchased: %w", req.Plan, domain.ErrValidation)
	}
	if !chain.IsAddress(req.Wallet) {
		return nil, fmt.Errorf("wallet address %q: %w", req.Wallet, domain.ErrValidation)
	}
	if !chain.IsTxHash(req.TxHash) {
		return nil, fmt.Errorf("transaction hash %q: %w", req.TxHash, domain.ErrValidation)
	}

	user, err := s.RefreshDailyCredits(ctx, userID)
	if err != nil {
		return nil, err
	}

	price := PlanPrice(req.Plan)
	balance, err := s.chain.GetBalance(ctx, req.Wallet)
	if err != nil {
		return nil, fmt.Errorf("read balance: %v: %w", err, domain.ErrExternalService)
	}
	if balance.Cmp(price) < 0 {
		return rejected("Insufficient balance: %s %s available, %s %s required for the %s plan.",
			chain.FormatEther(balance), chain.Symbol, chain.FormatEther(price), chain.Symbol, planName(req.Plan)), nil
	}

	if existing, err := s.repo.GetPayment(ctx, req.TxHash); err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	} else if existing != nil {
		return rejected("Transaction %s has already been used for a subscription.", req.TxHash), nil
	}

	if res := s.verifyPayment(ctx, req, price); res != nil {
		return res, nil
	}

	now := s.now()
	ApplyPlan(user, req.Plan, now)
	payment := &domain.Payment{
		TxHash:    strings.ToLower(req.TxHash),
		UserID:    userID,
		Wallet:    strings.ToLower(req.Wallet),
		Plan:      req.Plan,
		AmountWei: price.String(),
		CreatedAt: now,
	}
	if err := s.repo.RecordPayment(ctx, payment, user); err != nil {
		if errors.Is(err, store.ErrDuplicatePayment) {
			return rejected("Transaction %s has already been used for a subscription.", req.TxHash), nil
		}
		return nil, fmt.Errorf("record payment: %w", err)
	}

	slog.Info("Subscription activated", "user_id", userID, "plan", req.Plan, "tx_hash", req.TxHash)
	return planResult(user, fmt.Sprintf("Subscribed to the %s plan.", planName(req.Plan))), nil
}

// verifyPayment returns a rejection, or nil when the transaction pays for the plan.
func (s *Service) verifyPayment(ctx context.Context, req SubscribeRequest, price *big.Int) *PlanResult {
	receipt, err := s.chain.TransactionReceipt(ctx, req.TxHash)
	if errors.Is(err, chain.ErrTxNotFound) {
		return rejected("Transaction %s was not found or is not confirmed yet.", req.TxHash)
	}
	if err != nil {
		slog.Warn("Failed to fetch transaction receipt", "error", err, "tx_hash", req.TxHash)
		return rejected("Could not verify transaction %s, please retry later.", req.TxHash)
	}
	if !receipt.Succeeded() {
		return rejected("Transaction %s failed on chain.", req.TxHash)
	}

	tx, err := s.chain.TransactionByHash(ctx, req.TxHash)
	if err != nil {
		slog.Warn("Failed to fetch transaction", "error", err, "tx_hash", req.TxHash)
		return rejected("Could not verify transaction %s, please retry later.", req.TxHash)
	}
	if !chain.SameAddress(tx.To, s.contract) {
		return rejected("Transaction %s was not sent to the Sagent contract.", req.TxHash)
	}
	if !chain.SameAddress(tx.From, req.Wallet) {
		return rejected("Transaction %s was not sent from wallet %s.", req.TxHash, req.Wallet)
	}
	if tx.Value == nil || tx.Value.Cmp(price) < 0 {
		return rejected("Insufficient balance: transaction pays %s %s, %s %s required.",
			chain.FormatEther(tx.Value), chain.Symbol, chain.FormatEther(price), chain.Symbol)
	}
	return nil
}

// DepositResult acknowledges a deposit made directly on chain.
type DepositResult struct {
	NewBalance    string `json:"newBalance"`
	DepositAmount string `json:"depositAmount"`
}

// DepositBalance validates a deposit amount. The balance itself lives in the
// contract and is read again on the next billing query.
func (s *Service) DepositBalance(ctx context.Context, userID, amount string) (*DepositResult, error) {
	wei, err := chain.ParseEther(amount)
	if err != nil || wei.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be a positive number: %w", domain.ErrValidation)
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return &DepositResult{NewBalance: "Updated on blockchain", DepositAmount: amount}, nil
}

func planName(p domain.Plan) string {
	switch p {
	case domain.PlanPro:
		return "Pro"
	case domain.PlanPremium:
		return "Premium"
	default:
		return "Free"
	}
}
