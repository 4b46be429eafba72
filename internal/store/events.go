package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ashureev/sagent/internal/domain"
	"github.com/georgysavva/scany/v2/sqlscan"
)

type eventRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Payload   string `db:"payload"`
	Status    string `db:"status"`
	Error     string `db:"error"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r *eventRow) toDomain() *domain.Event {
	return &domain.Event{
		ID:        r.ID,
		Name:      r.Name,
		Payload:   []byte(r.Payload),
		Status:    domain.EventStatus(r.Status),
		Error:     r.Error,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

func (s *SQLStore) insertEvent(ctx context.Context, ex execer, evt *domain.Event) error {
	if evt.Status == "" {
		evt.Status = domain.EventPending
	}
	if _, err := ex.ExecContext(ctx, s.rebind(`
	INSERT INTO events (id, name, payload, status, error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`),
		evt.ID, evt.Name, string(evt.Payload), string(evt.Status), evt.Error,
		evt.CreatedAt.UnixMilli(), evt.UpdatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ClaimEvents moves up to limit pending events to running, oldest first. Each claim
// is a conditional update, so two workers never run the same event.
func (s *SQLStore) ClaimEvents(ctx context.Context, limit int) ([]*domain.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	var claimed []*domain.Event
	err := s.inTx(ctx, "claim events", func(tx *sql.Tx) error {
		claimed = claimed[:0]
		var rows []eventRow
		if err := sqlscan.Select(ctx, tx, &rows, s.rebind(`
			SELECT id, name, payload, status, error, created_at, updated_at
			FROM events WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`),
			string(domain.EventPending), limit); err != nil {
			return fmt.Errorf("query pending events: %w", err)
		}

		now := s.nowMillis()
		for i := range rows {
			res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE events SET status = ?, updated_at = ? WHERE id = ? AND status = ?`),
				string(domain.EventRunning), now, rows[i].ID, string(domain.EventPending))
			if err != nil {
				return fmt.Errorf("claim event: %w", err)
			}
			n, err := affected(res)
			if err != nil {
				return err
			}
			if n == 0 {
				continue
			}
			evt := rows[i].toDomain()
			evt.Status = domain.EventRunning
			evt.UpdatedAt = fromMillis(now)
			claimed = append(claimed, evt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *SQLStore) finishEvent(ctx context.Context, eventID string, status domain.EventStatus, reason string) error {
	return s.withRetry(ctx, "finish event", func() error {
		res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE events SET status = ?, error = ?, updated_at = ? WHERE id = ?`),
			string(status), reason, s.nowMillis(), eventID)
		if err != nil {
			return fmt.Errorf("update event: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("event %s: %w", eventID, domain.ErrNotFound)
		}
		return nil
	})
}

// CompleteEvent marks an event done.
func (s *SQLStore) CompleteEvent(ctx context.Context, eventID string) error {
	return s.finishEvent(ctx, eventID, domain.EventDone, "")
}

// FailEvent marks an event failed with a reason.
func (s *SQLStore) FailEvent(ctx context.Context, eventID string, reason string) error {
	return s.finishEvent(ctx, eventID, domain.EventFailed, reason)
}

// FailStaleEvents marks events left running by a previous process as failed.
// Runs are never retried, so an interrupted run is terminal.
func (s *SQLStore) FailStaleEvents(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
	UPDATE events SET status = ?, error = ?, updated_at = ? WHERE status = ?`),
		string(domain.EventFailed), "interrupted by restart", s.nowMillis(), string(domain.EventRunning))
	if err != nil {
		return 0, fmt.Errorf("fail stale events: %w", err)
	}
	return affected(res)
}
