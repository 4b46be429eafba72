// Package billing implements the credit policy and plan subscriptions.
package billing

import (
	"math/big"
	"time"

	"github.com/ashureev/sagent/internal/domain"
)

// SubscriptionPeriod is how long a paid plan lasts.
const SubscriptionPeriod = 30 * 24 * time.Hour

// DailyLimit returns the daily credit allotment of a plan. Unknown plans get FREE's.
func DailyLimit(plan domain.Plan) int {
	switch plan {
	case domain.PlanPro:
		return 30
	case domain.PlanPremium:
		return 60
	default:
		return 5
	}
}

// PlanDisplayName returns the label shown on the billing page.
func PlanDisplayName(plan domain.Plan) string {
	switch plan {
	case domain.PlanPro:
		return "Pro (30 credits/day)"
	case domain.PlanPremium:
		return "Premium (60 credits/day)"
	default:
		return "Free (5 credits/day)"
	}
}

var (
	proPrice     = big.NewInt(5_000_000_000_000_000)  // 0.005 ether
	premiumPrice = big.NewInt(10_000_000_000_000_000) // 0.01 ether
)

// PlanPrice returns the price of a plan in wei. FREE costs nothing.
func PlanPrice(plan domain.Plan) *big.Int {
	switch plan {
	case domain.PlanPro:
		return new(big.Int).Set(proPrice)
	case domain.PlanPremium:
		return new(big.Int).Set(premiumPrice)
	default:
		return new(big.Int)
	}
}

// sameDay compares calendar dates of a and b in loc.
func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// Refresh applies the daily policy to u at now and reports whether u changed.
// A lapsed subscription is downgraded to FREE and re-issued FREE's allotment.
// Otherwise the allotment is re-issued once per calendar day.
func Refresh(u *domain.User, now time.Time, loc *time.Location) bool {
	if u.SubscriptionExpired(now) {
		u.Plan = domain.PlanFree
		u.SubscriptionExpiresAt = nil
		reset(u, now)
		return true
	}
	if sameDay(u.LastCreditRefresh, now, loc) {
		return false
	}
	reset(u, now)
	return true
}

// ApplyPlan moves u to plan at now. A new paid plan starts a fresh allotment
// that expires after SubscriptionPeriod. Paying again for the current plan
// extends the subscription from its later of now and the current expiry.
// Dropping to FREE clears the expiry and never raises the credit balance.
func ApplyPlan(u *domain.User, plan domain.Plan, now time.Time) {
	switch {
	case plan == u.Plan:
		if plan.IsPaid() {
			u.SubscriptionExpiresAt = extend(u.SubscriptionExpiresAt, now)
		}
	case !plan.IsPaid():
		u.Plan = plan
		u.SubscriptionExpiresAt = nil
		u.Credits = min(u.Credits, DailyLimit(plan))
	default:
		u.Plan = plan
		u.SubscriptionExpiresAt = extend(nil, now)
		reset(u, now)
	}
}

func extend(expires *time.Time, now time.Time) *time.Time {
	from := now
	if expires != nil && expires.After(now) {
		from = *expires
	}
	next := from.Add(SubscriptionPeriod)
	return &next
}

func reset(u *domain.User, now time.Time) {
	u.Credits = DailyLimit(u.Plan)
	u.CreditsUsedToday = 0
	u.LastCreditRefresh = now
}
