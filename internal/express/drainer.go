package express

import (
	"context"

	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/domain"
)

// Sender pushes a message to the downstream gateway.
type Sender interface {
	Send(ctx context.Context, msg domain.DeliveryMessage) error
}

// DrainHooks carries the metric callback functions injected by main.
type DrainHooks struct {
	OnDropped func()
	OnDepth   func(high, medium, low int)
}

func (h *DrainHooks) fillNops() {
	if h.OnDropped == nil {
		h.OnDropped = func() {}
	}
	if h.OnDepth == nil {
		h.OnDepth = func(int, int, int) {}
	}
}

// Drainer runs the single drain loop over the queue. Failure policy by
// tier: high messages are re-enqueued at their bucket tail exactly
// once, medium and low failures are logged and dropped.
type Drainer struct {
	queue  *Queue
	sender Sender
	logger *zap.Logger
	hooks  DrainHooks
}

func NewDrainer(q *Queue, sender Sender, logger *zap.Logger, hooks DrainHooks) *Drainer {
	hooks.fillNops()
	return &Drainer{queue: q, sender: sender, logger: logger, hooks: hooks}
}

// Run consumes until ctx is cancelled. Meant to be launched through
// the background runner.
func (d *Drainer) Run(ctx context.Context) error {
	for {
		item, ok := d.queue.Dequeue(ctx)
		if !ok {
			return nil
		}
		d.hooks.OnDepth(d.queue.Depths())
		d.deliver(ctx, item)
	}
}

func (d *Drainer) deliver(ctx context.Context, item Item) {
	err := d.sender.Send(ctx, item.Msg)
	if err == nil {
		return
	}

	if item.Msg.Priority == domain.PriorityHigh && !item.Requeued {
		item.Requeued = true
		if qerr := d.queue.put(item); qerr != nil {
			d.hooks.OnDropped()
			d.logger.Error("express requeue failed, message dropped",
				zap.String("to", item.Msg.To),
				zap.Error(qerr),
			)
			return
		}
		d.logger.Warn("express send failed, requeued once",
			zap.String("to", item.Msg.To),
			zap.Error(err),
		)
		return
	}

	d.hooks.OnDropped()
	d.logger.Warn("express send failed, message dropped",
		zap.String("to", item.Msg.To),
		zap.String("priority", string(item.Msg.Priority)),
		zap.Bool("requeued", item.Requeued),
		zap.Error(err),
	)
}
