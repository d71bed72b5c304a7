package notify

import (
	"context"
	"time"

	"github.com/courtbook/relay/internal/domain"
)

// Store defines persistence for notification rows.
// The pgx implementation is in pg_store.go; tests use MockStore.
type Store interface {
	Create(ctx context.Context, n *domain.Notification) error
	Get(ctx context.Context, id string) (*domain.Notification, error)
	// ListForUser returns a user's notifications newest-first.
	ListForUser(ctx context.Context, userID string, page, limit int) ([]*domain.Notification, int, error)

	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkSendError(ctx context.Context, id, msg string) error

	MarkRead(ctx context.Context, id string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) error
	Delete(ctx context.Context, id string) error
}
