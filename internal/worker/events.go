package worker

import (
	"context"
	"sync"

	"github.com/courtbook/relay/internal/background"
	"github.com/courtbook/relay/internal/domain"
)

// FailedEvent is published when a job reaches terminal failure.
// Subscribers run compensating actions; the payout workflow uses it to
// roll the account status back so the user can retry from the UI.
type FailedEvent struct {
	Job    domain.Job
	Reason string
}

// Subscriber receives terminal-failure events for one queue.
type Subscriber func(ctx context.Context, ev FailedEvent) error

// Events is a minimal in-process bus keyed by queue name. Subscribers
// run through the background runner so a slow compensating action never
// blocks a worker slot, and its outcome is still recorded.
type Events struct {
	mu     sync.RWMutex
	subs   map[string][]Subscriber
	runner *background.Runner
}

func NewEvents(runner *background.Runner) *Events {
	return &Events{
		subs:   make(map[string][]Subscriber),
		runner: runner,
	}
}

// SubscribeFailed registers fn for terminal failures on the named queue.
// Subscriptions happen during process wiring, before workers start.
func (e *Events) SubscribeFailed(queue string, fn Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs[queue] = append(e.subs[queue], fn)
}

func (e *Events) publishFailed(ctx context.Context, ev FailedEvent) {
	e.mu.RLock()
	subs := e.subs[ev.Job.Queue]
	e.mu.RUnlock()

	for _, fn := range subs {
		fn := fn
		e.runner.Go(ctx, "failed-event:"+ev.Job.Queue, func(ctx context.Context) error {
			return fn(ctx, ev)
		})
	}
}
