package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtbook/relay/internal/domain"
)

const notificationColumns = `id, recipient_type, recipient_ref, user_id, title, body, channels,
	       priority, data, sent, sent_at, error, is_read, read_at, created_at`

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Store backed by PostgreSQL.
func NewPgStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Create(ctx context.Context, n *domain.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}
	channels := make([]string, len(n.Channels))
	for i, ch := range n.Channels {
		channels[i] = string(ch)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO notifications
			(id, recipient_type, recipient_ref, user_id, title, body, channels,
			 priority, data, sent, is_read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		n.ID, n.RecipientType, n.RecipientRef, n.UserID, n.Title, n.Body, channels,
		n.Priority, data, n.Sent, n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *pgStore) Get(ctx context.Context, id string) (*domain.Notification, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications WHERE id = $1`, id)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotificationNotFound
	}
	return n, err
}

func (s *pgStore) ListForUser(ctx context.Context, userID string, page, limit int) ([]*domain.Notification, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	offset := (page - 1) * limit
	rows, err := s.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (s *pgStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET sent = TRUE, sent_at = $1, error = NULL
		WHERE id = $2`, at, id)
	return err
}

func (s *pgStore) MarkSendError(ctx context.Context, id, msg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE notifications SET error = $1 WHERE id = $2`, msg, id)
	return err
}

func (s *pgStore) MarkRead(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (s *pgStore) MarkAllRead(ctx context.Context, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = $1
		WHERE user_id = $2 AND is_read = FALSE`, at, userID)
	return err
}

func (s *pgStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// ---- helpers ----

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	var channels []string
	var data []byte
	err := row.Scan(
		&n.ID, &n.RecipientType, &n.RecipientRef, &n.UserID, &n.Title, &n.Body, &channels,
		&n.Priority, &data, &n.Sent, &n.SentAt, &n.Error, &n.IsRead, &n.ReadAt, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.Channels = make([]domain.Channel, len(channels))
	for i, ch := range channels {
		n.Channels[i] = domain.Channel(ch)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("unmarshal notification data: %w", err)
		}
	}
	return &n, nil
}
