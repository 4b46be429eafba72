package billing

import (
	"testing"
	"time"

	"github.com/ashureev/sagent/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestDailyLimit(t *testing.T) {
	assert.Equal(t, 5, DailyLimit(domain.PlanFree))
	assert.Equal(t, 30, DailyLimit(domain.PlanPro))
	assert.Equal(t, 60, DailyLimit(domain.PlanPremium))
	assert.Equal(t, 5, DailyLimit("GOLD"))
	assert.Equal(t, "Premium (60 credits/day)", PlanDisplayName(domain.PlanPremium))
	assert.Equal(t, "Free (5 credits/day)", PlanDisplayName("GOLD"))
}

func TestPlanPriceReturnsCopies(t *testing.T) {
	p := PlanPrice(domain.PlanPro)
	assert.Equal(t, "5000000000000000", p.String())
	p.SetInt64(1)
	assert.Equal(t, "5000000000000000", PlanPrice(domain.PlanPro).String())
	assert.Equal(t, "10000000000000000", PlanPrice(domain.PlanPremium).String())
	assert.Equal(t, 0, PlanPrice(domain.PlanFree).Sign())
}

func TestRefresh(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		user        func() *domain.User
		loc         *time.Location
		wantChanged bool
		wantPlan    domain.Plan
		wantCredits int
	}{
		{
			name: "same day unchanged",
			user: func() *domain.User {
				u := domain.NewUser("u", now.Add(-2*time.Hour), 5)
				u.Credits, u.CreditsUsedToday = 1, 4
				return u
			},
			loc:         time.UTC,
			wantPlan:    domain.PlanFree,
			wantCredits: 1,
		},
		{
			name: "new day resets",
			user: func() *domain.User {
				u := domain.NewUser("u", now.Add(-24*time.Hour), 5)
				u.Plan = domain.PlanPro
				u.Credits, u.CreditsUsedToday = 0, 30
				return u
			},
			loc:         time.UTC,
			wantChanged: true,
			wantPlan:    domain.PlanPro,
			wantCredits: 30,
		},
		{
			name: "expired subscription downgrades",
			user: func() *domain.User {
				u := domain.NewUser("u", now.Add(-time.Hour), 5)
				expired := now.Add(-time.Minute)
				u.Plan = domain.PlanPremium
				u.Credits, u.CreditsUsedToday = 42, 18
				u.SubscriptionExpiresAt = &expired
				return u
			},
			loc:         time.UTC,
			wantChanged: true,
			wantPlan:    domain.PlanFree,
			wantCredits: 5,
		},
		{
			name: "day boundary follows time zone",
			user: func() *domain.User {
				// 23:00 UTC on the 9th is already the 10th in Tokyo.
				u := domain.NewUser("u", time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC), 5)
				u.Credits, u.CreditsUsedToday = 2, 3
				return u
			},
			loc:         time.FixedZone("JST", 9*3600),
			wantPlan:    domain.PlanFree,
			wantCredits: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.user()
			changed := Refresh(u, now, tt.loc)
			assert.Equal(t, tt.wantChanged, changed)
			assert.Equal(t, tt.wantPlan, u.Plan)
			assert.Equal(t, tt.wantCredits, u.Credits)
			if changed {
				assert.Equal(t, 0, u.CreditsUsedToday)
				assert.Equal(t, DailyLimit(u.Plan), u.Credits+u.CreditsUsedToday)
				assert.True(t, now.Equal(u.LastCreditRefresh))
				assert.Nil(t, u.SubscriptionExpiresAt)
			}
		})
	}
}

func TestApplyPlan(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	u := domain.NewUser("u", now.Add(-time.Hour), 5)
	u.Credits, u.CreditsUsedToday = 0, 5

	ApplyPlan(u, domain.PlanPro, now)
	assert.Equal(t, domain.PlanPro, u.Plan)
	assert.Equal(t, 30, u.Credits)
	assert.Equal(t, 0, u.CreditsUsedToday)
	if assert.NotNil(t, u.SubscriptionExpiresAt) {
		assert.True(t, now.Add(30*24*time.Hour).Equal(*u.SubscriptionExpiresAt))
	}

	u.Credits, u.CreditsUsedToday = 2, 28
	ApplyPlan(u, domain.PlanFree, now)
	assert.Equal(t, domain.PlanFree, u.Plan)
	assert.Equal(t, 2, u.Credits, "downgrade never adds credits")
	assert.Nil(t, u.SubscriptionExpiresAt)

	u.Plan, u.Credits = domain.PlanPremium, 60
	ApplyPlan(u, domain.PlanFree, now)
	assert.Equal(t, 5, u.Credits, "downgrade caps at the FREE allotment")
}

func TestApplyPlanSamePlan(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	u := domain.NewUser("u", now.Add(-time.Hour), 5)
	u.Credits, u.CreditsUsedToday = 0, 5
	ApplyPlan(u, domain.PlanFree, now)
	assert.Equal(t, 0, u.Credits)
	assert.Equal(t, 5, u.CreditsUsedToday)
	assert.Nil(t, u.SubscriptionExpiresAt)

	expires := now.Add(10 * 24 * time.Hour)
	u.Plan, u.Credits, u.SubscriptionExpiresAt = domain.PlanPro, 7, &expires
	ApplyPlan(u, domain.PlanPro, now)
	assert.Equal(t, 7, u.Credits)
	if assert.NotNil(t, u.SubscriptionExpiresAt) {
		assert.True(t, expires.Add(SubscriptionPeriod).Equal(*u.SubscriptionExpiresAt), "renewal keeps the remaining days")
	}
}
