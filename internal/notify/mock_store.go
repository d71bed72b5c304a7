package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/courtbook/relay/internal/domain"
)

// MockStore is an in-memory Store for tests.
type MockStore struct {
	mu            sync.Mutex
	notifications map[string]*domain.Notification

	CreateErr   error
	MarkSentErr error
}

func NewMockStore() *MockStore {
	return &MockStore{notifications: make(map[string]*domain.Notification)}
}

func (m *MockStore) Create(_ context.Context, n *domain.Notification) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

func (m *MockStore) Get(_ context.Context, id string) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, domain.ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *MockStore) ListForUser(_ context.Context, userID string, page, limit int) ([]*domain.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*domain.Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			cp := *n
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *MockStore) MarkSent(_ context.Context, id string, at time.Time) error {
	if m.MarkSentErr != nil {
		return m.MarkSentErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.Sent = true
	n.SentAt = &at
	n.Error = nil
	return nil
}

func (m *MockStore) MarkSendError(_ context.Context, id, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.Error = &msg
	return nil
}

func (m *MockStore) MarkRead(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.IsRead = true
	n.ReadAt = &at
	return nil
}

func (m *MockStore) MarkAllRead(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = &at
		}
	}
	return nil
}

func (m *MockStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[id]; !ok {
		return domain.ErrNotificationNotFound
	}
	delete(m.notifications, id)
	return nil
}
