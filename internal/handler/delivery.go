package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/payload"
	"github.com/courtbook/relay/internal/ratelimit"
)

// ChannelSender delivers one channel payload through the external
// provider for that channel (push gateway, SMS aggregator, SMTP relay,
// WhatsApp business API).
type ChannelSender interface {
	Send(ctx context.Context, d payload.Delivery) error
}

// DeliveryHandler drains the per-channel durable queues. One instance
// serves every deliver-* queue; the payload names its channel.
type DeliveryHandler struct {
	senders map[domain.Channel]ChannelSender
	limiter *ratelimit.ChannelLimiters
	logger  *zap.Logger
}

func NewDeliveryHandler(senders map[domain.Channel]ChannelSender, limiter *ratelimit.ChannelLimiters, logger *zap.Logger) *DeliveryHandler {
	return &DeliveryHandler{senders: senders, limiter: limiter, logger: logger}
}

func (h *DeliveryHandler) Handle(ctx context.Context, job domain.Job, p payload.Payload) (json.RawMessage, error) {
	d, ok := p.(*payload.Delivery)
	if !ok {
		return nil, &domain.ValidationError{Queue: job.Queue, Reason: "unexpected payload type"}
	}

	sender, ok := h.senders[d.Channel]
	if !ok {
		return nil, domain.Terminal(fmt.Errorf("no sender configured for channel %s", d.Channel))
	}

	if err := h.limiter.Wait(ctx, d.Channel); err != nil {
		return nil, err
	}
	if err := sender.Send(ctx, *d); err != nil {
		return nil, fmt.Errorf("send via %s: %w", d.Channel, err)
	}

	h.logger.Info("delivery sent",
		zap.String("notification_id", d.NotificationID),
		zap.String("channel", string(d.Channel)),
	)
	return nil, nil
}
