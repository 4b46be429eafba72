package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ashureev/sagent/internal/domain"
	"github.com/georgysavva/scany/v2/sqlscan"
)

type paymentRow struct {
	TxHash    string `db:"tx_hash"`
	UserID    string `db:"user_id"`
	Wallet    string `db:"wallet"`
	Plan      string `db:"plan"`
	AmountWei string `db:"amount_wei"`
	CreatedAt int64  `db:"created_at"`
}

// RecordPayment stores the payment and saves the upgraded user in one transaction.
func (s *SQLStore) RecordPayment(ctx context.Context, payment *domain.Payment, user *domain.User) error {
	return s.inTx(ctx, "record payment", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO payments (tx_hash, user_id, wallet, plan, amount_wei, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_hash) DO NOTHING`),
			payment.TxHash, payment.UserID, payment.Wallet, string(payment.Plan),
			payment.AmountWei, payment.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrDuplicatePayment
		}
		return s.saveUser(ctx, tx, user)
	})
}

// GetPayment retrieves a payment by transaction hash.
func (s *SQLStore) GetPayment(ctx context.Context, txHash string) (*domain.Payment, error) {
	var row paymentRow
	err := sqlscan.Get(ctx, s.db, &row, s.rebind(`
		SELECT tx_hash, user_id, wallet, plan, amount_wei, created_at FROM payments WHERE tx_hash = ?`), txHash)
	if sqlscan.NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment row: %w", err)
	}
	return &domain.Payment{
		TxHash:    row.TxHash,
		UserID:    row.UserID,
		Wallet:    row.Wallet,
		Plan:      domain.Plan(row.Plan),
		AmountWei: row.AmountWei,
		CreatedAt: fromMillis(row.CreatedAt),
	}, nil
}
