package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/sagent/internal/domain"
	"github.com/georgysavva/scany/v2/sqlscan"
)

type messageRow struct {
	ID        string `db:"id"`
	ThreadID  string `db:"thread_id"`
	UserID    string `db:"user_id"`
	Role      string `db:"role"`
	Type      string `db:"type"`
	Status    string `db:"status"`
	Content   string `db:"content"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`

	FragmentID        sql.NullString `db:"fragment_id"`
	SandboxID         sql.NullString `db:"sandbox_id"`
	SandboxURL        sql.NullString `db:"sandbox_url"`
	Title             sql.NullString `db:"title"`
	Files             sql.NullString `db:"files"`
	FragmentCreatedAt sql.NullInt64  `db:"fragment_created_at"`
	FragmentUpdatedAt sql.NullInt64  `db:"fragment_updated_at"`
}

func (r *messageRow) toDomain() (*domain.Message, error) {
	msg := &domain.Message{
		ID:        r.ID,
		ThreadID:  r.ThreadID,
		UserID:    r.UserID,
		Role:      domain.Role(r.Role),
		Type:      domain.MessageType(r.Type),
		Status:    domain.MessageStatus(r.Status),
		Content:   r.Content,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
	if !r.FragmentID.Valid {
		return msg, nil
	}

	files := map[string]string{}
	if r.Files.Valid && r.Files.String != "" {
		if err := json.Unmarshal([]byte(r.Files.String), &files); err != nil {
			return nil, fmt.Errorf("decode fragment files: %w", err)
		}
	}
	msg.Fragment = &domain.Fragment{
		ID:         r.FragmentID.String,
		MessageID:  r.ID,
		SandboxID:  r.SandboxID.String,
		SandboxURL: r.SandboxURL.String,
		Title:      r.Title.String,
		Files:      files,
		CreatedAt:  fromMillis(r.FragmentCreatedAt.Int64),
		UpdatedAt:  fromMillis(r.FragmentUpdatedAt.Int64),
	}
	return msg, nil
}

const messageSelect = `
	SELECT m.id, m.thread_id, m.user_id, m.role, m.type, m.status, m.content,
	       m.created_at, m.updated_at,
	       f.id AS fragment_id, f.sandbox_id, f.sandbox_url, f.title, f.files,
	       f.created_at AS fragment_created_at, f.updated_at AS fragment_updated_at
	FROM messages m
	LEFT JOIN fragments f ON f.message_id = m.id`

func (s *SQLStore) insertMessage(ctx context.Context, ex execer, msg *domain.Message) error {
	if _, err := ex.ExecContext(ctx, s.rebind(`
	INSERT INTO messages (id, thread_id, user_id, role, type, status, content, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.ThreadID, msg.UserID, string(msg.Role), string(msg.Type),
		string(msg.Status), msg.Content, msg.CreatedAt.UnixMilli(), msg.UpdatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// AcceptMessage stores a user message, charges its author and enqueues evt in one transaction.
func (s *SQLStore) AcceptMessage(ctx context.Context, msg *domain.Message, charge int, evt *domain.Event) error {
	return s.inTx(ctx, "accept message", func(tx *sql.Tx) error {
		if err := s.charge(ctx, tx, msg.UserID, charge); err != nil {
			return err
		}
		if err := s.insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		if err := s.touchThread(ctx, tx, msg.ThreadID, msg.UpdatedAt.UnixMilli()); err != nil {
			return err
		}
		if evt != nil {
			return s.insertEvent(ctx, tx, evt)
		}
		return nil
	})
}

// ListMessages returns a thread's messages with fragments, ordered by updatedAt ascending.
func (s *SQLStore) ListMessages(ctx context.Context, threadID string) ([]*domain.Message, error) {
	var rows []messageRow
	if err := sqlscan.Select(ctx, s.db, &rows, s.rebind(messageSelect+`
		WHERE m.thread_id = ?
		ORDER BY m.updated_at ASC, m.created_at ASC, m.id ASC`), threadID); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	msgs := make([]*domain.Message, 0, len(rows))
	for i := range rows {
		msg, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// GetMessage retrieves a message and its fragment.
func (s *SQLStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	var row messageRow
	err := sqlscan.Get(ctx, s.db, &row, s.rebind(messageSelect+` WHERE m.id = ?`), messageID)
	if sqlscan.NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}
	return row.toDomain()
}

// CreateAssistantMessage stores an assistant message with its fragment.
func (s *SQLStore) CreateAssistantMessage(ctx context.Context, msg *domain.Message, frag *domain.Fragment) error {
	files, err := encodeFiles(frag.Files)
	if err != nil {
		return err
	}
	return s.inTx(ctx, "create assistant message", func(tx *sql.Tx) error {
		if err := s.insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO fragments (id, message_id, sandbox_id, sandbox_url, title, files, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			frag.ID, msg.ID, frag.SandboxID, frag.SandboxURL, frag.Title, files,
			frag.CreatedAt.UnixMilli(), frag.UpdatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert fragment: %w", err)
		}
		return s.touchThread(ctx, tx, msg.ThreadID, msg.UpdatedAt.UnixMilli())
	})
}

// UpdateMessage applies upd and returns the message with its fragment.
func (s *SQLStore) UpdateMessage(ctx context.Context, messageID string, upd domain.MessageUpdate) (*domain.Message, error) {
	sets := []string{"updated_at = ?"}
	args := []any{s.nowMillis()}
	if upd.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *upd.Content)
	}
	if upd.Type != nil {
		sets = append(sets, "type = ?")
		args = append(args, string(*upd.Type))
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	args = append(args, messageID)
	query := s.rebind(`UPDATE messages SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)

	err := s.withRetry(ctx, "update message", func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetMessage(ctx, messageID)
}

// UpdateFragment applies upd to the fragment owned by messageID.
func (s *SQLStore) UpdateFragment(ctx context.Context, messageID string, upd domain.FragmentUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{s.nowMillis()}
	if upd.SandboxID != nil {
		sets = append(sets, "sandbox_id = ?")
		args = append(args, *upd.SandboxID)
	}
	if upd.SandboxURL != nil {
		sets = append(sets, "sandbox_url = ?")
		args = append(args, *upd.SandboxURL)
	}
	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.Files != nil {
		files, err := encodeFiles(upd.Files)
		if err != nil {
			return err
		}
		sets = append(sets, "files = ?")
		args = append(args, files)
	}
	args = append(args, messageID)
	query := s.rebind(`UPDATE fragments SET ` + strings.Join(sets, ", ") + ` WHERE message_id = ?`)

	return s.withRetry(ctx, "update fragment", func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update fragment: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("fragment for message %s: %w", messageID, domain.ErrNotFound)
		}
		return nil
	})
}

func encodeFiles(files map[string]string) (string, error) {
	if files == nil {
		return "{}", nil
	}
	b, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("encode fragment files: %w", err)
	}
	return string(b), nil
}
