// Package domain contains core domain types for the Sagent application.
package domain

import (
	"strings"
	"time"
)

// Plan is a subscription tier.
type Plan string

const (
	PlanFree    Plan = "FREE"
	PlanPro     Plan = "PRO"
	PlanPremium Plan = "PREMIUM"
)

// ParsePlan returns the plan named by s, case-insensitively.
func ParsePlan(s string) (Plan, bool) {
	switch Plan(strings.ToUpper(strings.TrimSpace(s))) {
	case PlanFree:
		return PlanFree, true
	case PlanPro:
		return PlanPro, true
	case PlanPremium:
		return PlanPremium, true
	}
	return "", false
}

// IsPaid reports whether the plan requires an on-chain payment.
func (p Plan) IsPaid() bool {
	return p == PlanPro || p == PlanPremium
}

// User is an authenticated account and its credit counters.
type User struct {
	ID                    string     `json:"id"`
	Plan                  Plan       `json:"plan"`
	Credits               int        `json:"credits"`
	CreditsUsedToday      int        `json:"creditsUsedToday"`
	LastCreditRefresh     time.Time  `json:"lastCreditRefresh"`
	SubscriptionExpiresAt *time.Time `json:"subscriptionExpiresAt"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// NewUser returns a FREE user with a full daily allotment.
func NewUser(id string, now time.Time, freeCredits int) *User {
	return &User{
		ID:                id,
		Plan:              PlanFree,
		Credits:           freeCredits,
		LastCreditRefresh: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// SubscriptionExpired reports whether a paid subscription has lapsed at now.
func (u *User) SubscriptionExpired(now time.Time) bool {
	return u.SubscriptionExpiresAt != nil && !u.SubscriptionExpiresAt.After(now)
}
