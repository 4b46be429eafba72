package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ashureev/sagent/internal/domain"
	"github.com/georgysavva/scany/v2/sqlscan"
)

type threadRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	Name      string `db:"name"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r *threadRow) toDomain() *domain.Thread {
	return &domain.Thread{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

// CreateThread stores a thread with its first message, charges the owner and
// enqueues evt in one transaction.
func (s *SQLStore) CreateThread(ctx context.Context, thread *domain.Thread, first *domain.Message, charge int, evt *domain.Event) error {
	return s.inTx(ctx, "create thread", func(tx *sql.Tx) error {
		if err := s.charge(ctx, tx, thread.UserID, charge); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO threads (id, user_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`),
			thread.ID, thread.UserID, thread.Name,
			thread.CreatedAt.UnixMilli(), thread.UpdatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert thread: %w", err)
		}
		if first != nil {
			if err := s.insertMessage(ctx, tx, first); err != nil {
				return err
			}
		}
		if evt != nil {
			return s.insertEvent(ctx, tx, evt)
		}
		return nil
	})
}

// GetThread retrieves a thread by id.
func (s *SQLStore) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	var row threadRow
	err := sqlscan.Get(ctx, s.db, &row, s.rebind(`
		SELECT id, user_id, name, created_at, updated_at FROM threads WHERE id = ?`), threadID)
	if sqlscan.NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan thread row: %w", err)
	}
	return row.toDomain(), nil
}

// ListThreads returns the user's threads ordered by last update.
func (s *SQLStore) ListThreads(ctx context.Context, userID string) ([]*domain.Thread, error) {
	var rows []threadRow
	if err := sqlscan.Select(ctx, s.db, &rows, s.rebind(`
		SELECT id, user_id, name, created_at, updated_at FROM threads
		WHERE user_id = ? ORDER BY updated_at ASC, id ASC`), userID); err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	threads := make([]*domain.Thread, 0, len(rows))
	for i := range rows {
		threads = append(threads, rows[i].toDomain())
	}
	return threads, nil
}

func (s *SQLStore) touchThread(ctx context.Context, ex execer, threadID string, at int64) error {
	if _, err := ex.ExecContext(ctx, s.rebind(`UPDATE threads SET updated_at = ? WHERE id = ?`), at, threadID); err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}
