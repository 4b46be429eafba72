package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ashureev/sagent/internal/domain"
	"github.com/georgysavva/scany/v2/sqlscan"
)

type userRow struct {
	ID                    string        `db:"id"`
	Plan                  string        `db:"plan"`
	Credits               int           `db:"credits"`
	CreditsUsedToday      int           `db:"credits_used_today"`
	LastCreditRefresh     int64         `db:"last_credit_refresh"`
	SubscriptionExpiresAt sql.NullInt64 `db:"subscription_expires_at"`
	CreatedAt             int64         `db:"created_at"`
	UpdatedAt             int64         `db:"updated_at"`
}

func (r *userRow) toDomain() *domain.User {
	return &domain.User{
		ID:                    r.ID,
		Plan:                  domain.Plan(r.Plan),
		Credits:               r.Credits,
		CreditsUsedToday:      r.CreditsUsedToday,
		LastCreditRefresh:     fromMillis(r.LastCreditRefresh),
		SubscriptionExpiresAt: timePtr(r.SubscriptionExpiresAt),
		CreatedAt:             fromMillis(r.CreatedAt),
		UpdatedAt:             fromMillis(r.UpdatedAt),
	}
}

const userColumns = `id, plan, credits, credits_used_today, last_credit_refresh,
	subscription_expires_at, created_at, updated_at`

// GetUser retrieves a user by id.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.getUser(ctx, s.db, userID)
}

func (s *SQLStore) getUser(ctx context.Context, q sqlscan.Querier, userID string) (*domain.User, error) {
	var row userRow
	err := sqlscan.Get(ctx, q, &row, s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), userID)
	if sqlscan.NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return row.toDomain(), nil
}

// CreateUser inserts the user unless it already exists.
func (s *SQLStore) CreateUser(ctx context.Context, user *domain.User) (bool, error) {
	query := s.rebind(`
	INSERT INTO users (` + userColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`)

	var created bool
	err := s.withRetry(ctx, "create user", func() error {
		res, err := s.db.ExecContext(ctx, query,
			user.ID, string(user.Plan), user.Credits, user.CreditsUsedToday,
			user.LastCreditRefresh.UnixMilli(), nullMillis(user.SubscriptionExpiresAt),
			user.CreatedAt.UnixMilli(), user.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		created = n > 0
		return nil
	})
	return created, err
}

// SaveUser persists plan, credit counters, refresh stamp and expiry.
func (s *SQLStore) SaveUser(ctx context.Context, user *domain.User) error {
	return s.withRetry(ctx, "save user", func() error {
		return s.saveUser(ctx, s.db, user)
	})
}

func (s *SQLStore) saveUser(ctx context.Context, ex execer, user *domain.User) error {
	user.UpdatedAt = s.now()
	res, err := ex.ExecContext(ctx, s.rebind(`
	UPDATE users SET plan = ?, credits = ?, credits_used_today = ?,
		last_credit_refresh = ?, subscription_expires_at = ?, updated_at = ?
	WHERE id = ?`),
		string(user.Plan), user.Credits, user.CreditsUsedToday,
		user.LastCreditRefresh.UnixMilli(), nullMillis(user.SubscriptionExpiresAt),
		user.UpdatedAt.UnixMilli(), user.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update user %s: %w", user.ID, domain.ErrNotFound)
	}
	return nil
}

// DeductCredits atomically moves amount credits to creditsUsedToday.
func (s *SQLStore) DeductCredits(ctx context.Context, userID string, amount int) (*domain.User, error) {
	var user *domain.User
	err := s.inTx(ctx, "deduct credits", func(tx *sql.Tx) error {
		if err := s.charge(ctx, tx, userID, amount); err != nil {
			return err
		}
		var err error
		user, err = s.getUser(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// charge decrements credits inside tx. The WHERE clause makes the check and the
// decrement a single statement so concurrent charges cannot overdraw.
func (s *SQLStore) charge(ctx context.Context, tx *sql.Tx, userID string, amount int) error {
	if amount <= 0 {
		return nil
	}
	res, err := tx.ExecContext(ctx, s.rebind(`
	UPDATE users SET credits = credits - ?, credits_used_today = credits_used_today + ?, updated_at = ?
	WHERE id = ? AND credits >= ?`),
		amount, amount, s.nowMillis(), userID, amount,
	)
	if err != nil {
		return fmt.Errorf("deduct credits: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	user, err := s.getUser(ctx, tx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return fmt.Errorf("user %s has %d credits, needs %d: %w", userID, user.Credits, amount, domain.ErrInsufficientCredits)
}
