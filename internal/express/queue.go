// Package express is the in-process fast path for latency-sensitive
// messages such as one-time codes. It trades durability for immediacy:
// nothing is persisted, and a crash loses whatever is still buffered.
package express

import (
	"context"
	"fmt"

	"github.com/courtbook/relay/internal/domain"
)

// Item wraps a message with its redelivery marker. A high-priority
// message that fails once is re-enqueued with requeued=true so the
// drainer never retries it a second time.
type Item struct {
	Msg      domain.DeliveryMessage
	Requeued bool
}

// Queue dispatches items to one of three buffered channels based on
// priority.
//
// Workers dequeue via the double-select pattern, which guarantees that
// high-priority items are always served before medium or low ones,
// while still allowing fair competition between medium and low when
// high is empty.
type Queue struct {
	high   chan Item
	medium chan Item
	low    chan Item
}

// NewQueue sizes each bucket independently. The high buffer should be
// the smallest so back-pressure surfaces quickly on the path that must
// never accumulate.
func NewQueue(highBuf, mediumBuf, lowBuf int) *Queue {
	return &Queue{
		high:   make(chan Item, highBuf),
		medium: make(chan Item, mediumBuf),
		low:    make(chan Item, lowBuf),
	}
}

// Enqueue places a message on the appropriate priority channel.
// It is non-blocking: if the target channel is full, ErrQueueFull is
// returned immediately rather than blocking the caller.
func (q *Queue) Enqueue(msg domain.DeliveryMessage) error {
	return q.put(Item{Msg: msg})
}

func (q *Queue) put(item Item) error {
	var target chan Item
	switch item.Msg.Priority {
	case domain.PriorityHigh:
		target = q.high
	case domain.PriorityMedium:
		target = q.medium
	case domain.PriorityLow:
		target = q.low
	default:
		return fmt.Errorf("unknown priority %q", item.Msg.Priority)
	}

	select {
	case target <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until an item is available or ctx is cancelled.
//
// Priority guarantee, one non-blocking tier per bucket:
//  1. A non-blocking select checks the high channel. An item waiting
//     there is returned immediately regardless of medium/low.
//  2. A second non-blocking select checks high and medium, so a medium
//     backlog is never raced against low (a bare three-way select
//     would pick between ready channels at random).
//  3. Only when every higher bucket is empty does the goroutine enter
//     the fair blocking select across all three channels plus the done
//     signal, letting the worker sleep instead of spinning.
//
// Returns (Item{}, false) when ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (Item, bool) {
	select {
	case item := <-q.high:
		return item, true
	default:
	}

	select {
	case item := <-q.high:
		return item, true
	case item := <-q.medium:
		return item, true
	default:
	}

	select {
	case item := <-q.high:
		return item, true
	case item := <-q.medium:
		return item, true
	case item := <-q.low:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	}
}

// Depths returns the number of items waiting in each priority tier.
func (q *Queue) Depths() (high, medium, low int) {
	return len(q.high), len(q.medium), len(q.low)
}
