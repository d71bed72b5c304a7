// Package notify creates notification records and fans them out to the
// per-channel delivery queues. Dispatch is best-effort past the point
// of persistence: a failed enqueue is recorded on the row, not returned
// to the business flow that triggered it.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/payload"
	"github.com/courtbook/relay/internal/queue"
)

// Hooks carries the metric callback functions injected by main.
type Hooks struct {
	OnDispatched func(recipientType string)
}

func (h *Hooks) fillNops() {
	if h.OnDispatched == nil {
		h.OnDispatched = func(string) {}
	}
}

// Dispatcher resolves recipients, persists notifications, and enqueues
// one delivery job per usable channel.
type Dispatcher struct {
	directory Directory
	store     Store
	queues    *queue.Registry
	logger    *zap.Logger
	hooks     Hooks
}

func NewDispatcher(directory Directory, store Store, queues *queue.Registry, logger *zap.Logger, hooks Hooks) *Dispatcher {
	hooks.fillNops()
	return &Dispatcher{
		directory: directory,
		store:     store,
		queues:    queues,
		logger:    logger,
		hooks:     hooks,
	}
}

// CreateAndSend resolves the recipient descriptor to concrete users,
// persists one notification per user, and enqueues delivery jobs.
// A role descriptor matching zero users succeeds with no notifications.
// Delivery enqueue failures are recorded on the notification row and
// never propagate to the caller.
func (d *Dispatcher) CreateAndSend(ctx context.Context, in domain.DispatchInput) ([]*domain.Notification, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	identities, err := d.resolve(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(identities) == 0 {
		d.logger.Info("dispatch matched no recipients",
			zap.String("recipient_type", string(in.RecipientType)),
			zap.Strings("roles", in.Roles),
		)
		return nil, nil
	}

	channels := in.Channels
	if len(channels) == 0 {
		channels = domain.AllChannels
	}
	priority := in.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}

	out := make([]*domain.Notification, 0, len(identities))
	for _, id := range identities {
		n := &domain.Notification{
			ID:            uuid.New().String(),
			RecipientType: in.RecipientType,
			RecipientRef:  in.RecipientID,
			UserID:        id.UserID,
			Title:         in.Title,
			Body:          in.Body,
			Channels:      channels,
			Priority:      priority,
			Data:          in.Data,
			CreatedAt:     time.Now().UTC(),
		}
		if err := d.store.Create(ctx, n); err != nil {
			return nil, err
		}
		d.hooks.OnDispatched(string(n.RecipientType))
		d.send(ctx, n, id)
		out = append(out, n)
	}
	return out, nil
}

// send enqueues one delivery job per requested channel that has usable
// contact data. Channels without an address are skipped silently; the
// notification is marked sent once every buildable channel is queued.
func (d *Dispatcher) send(ctx context.Context, n *domain.Notification, id Identity) {
	var failed bool
	for _, ch := range n.Channels {
		to, ok := addressFor(ch, id)
		if !ok {
			d.logger.Debug("channel skipped, no contact data",
				zap.String("notification_id", n.ID),
				zap.String("channel", string(ch)),
			)
			continue
		}

		p := &payload.Delivery{
			NotificationID: n.ID,
			Channel:        ch,
			To:             to,
			Title:          n.Title,
			Body:           n.Body,
			Data:           n.Data,
		}
		_, err := d.queues.Enqueue(ctx, domain.DeliveryQueue(ch), p, queue.WithPriority(n.Priority))
		if err != nil {
			failed = true
			d.logger.Error("delivery enqueue failed",
				zap.String("notification_id", n.ID),
				zap.String("channel", string(ch)),
				zap.Error(err),
			)
			if serr := d.store.MarkSendError(ctx, n.ID, err.Error()); serr != nil {
				d.logger.Error("mark send error failed",
					zap.String("notification_id", n.ID), zap.Error(serr))
			}
			msg := err.Error()
			n.Error = &msg
		}
	}
	if failed {
		return
	}

	now := time.Now().UTC()
	if err := d.store.MarkSent(ctx, n.ID, now); err != nil {
		d.logger.Error("mark sent failed",
			zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	n.Sent = true
	n.SentAt = &now
}

func (d *Dispatcher) resolve(ctx context.Context, in domain.DispatchInput) ([]Identity, error) {
	switch in.RecipientType {
	case domain.RecipientUser:
		id, err := d.directory.User(ctx, in.RecipientID)
		if err != nil {
			return nil, err
		}
		return []Identity{*id}, nil
	case domain.RecipientAcademy:
		id, err := d.directory.AcademyOwner(ctx, in.RecipientID)
		if err != nil {
			return nil, err
		}
		return []Identity{*id}, nil
	case domain.RecipientRole:
		return d.directory.UsersByRoles(ctx, in.Roles)
	}
	return nil, domain.ErrInvalidRecipientType
}

// addressFor picks the per-channel destination. Push targets the user's
// device registry keyed by user ID, so it is always buildable.
func addressFor(ch domain.Channel, id Identity) (string, bool) {
	switch ch {
	case domain.ChannelPush:
		return id.UserID, true
	case domain.ChannelEmail:
		return id.Email, id.Email != ""
	case domain.ChannelSMS, domain.ChannelWhatsApp:
		return id.Phone, id.Phone != ""
	}
	return "", false
}

// Get returns one notification row.
func (d *Dispatcher) Get(ctx context.Context, id string) (*domain.Notification, error) {
	return d.store.Get(ctx, id)
}

// ListForUser returns a user's notifications newest-first.
func (d *Dispatcher) ListForUser(ctx context.Context, userID string, page, limit int) ([]*domain.Notification, int, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return d.store.ListForUser(ctx, userID, page, limit)
}

// MarkRead flags one notification as read.
func (d *Dispatcher) MarkRead(ctx context.Context, id string) error {
	return d.store.MarkRead(ctx, id, time.Now().UTC())
}

// MarkAllRead flags every unread notification for the user.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID string) error {
	return d.store.MarkAllRead(ctx, userID, time.Now().UTC())
}

// Delete removes one notification row.
func (d *Dispatcher) Delete(ctx context.Context, id string) error {
	return d.store.Delete(ctx, id)
}
