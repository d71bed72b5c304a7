package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/courtbook/relay/internal/domain"
)

// ChannelLimiters holds one token bucket limiter per delivery channel.
// Each limiter enforces a steady-state rate (e.g. 50 tokens/sec).
// Burst is set equal to the rate so no extra burst capacity is allowed
// beyond the configured per-second maximum.
type ChannelLimiters struct {
	limiters map[domain.Channel]*rate.Limiter
}

// New creates a ChannelLimiters with ratePerSec tokens per second per channel.
func New(ratePerSec int) *ChannelLimiters {
	r := rate.Limit(ratePerSec)
	burst := ratePerSec // burst == rate: prevents any "saved up" burst above the limit

	limiters := make(map[domain.Channel]*rate.Limiter, len(domain.AllChannels))
	for _, ch := range domain.AllChannels {
		limiters[ch] = rate.NewLimiter(r, burst)
	}
	return &ChannelLimiters{limiters: limiters}
}

// Wait blocks until the channel's limiter grants a token.
// Called by the delivery handler immediately before invoking the sender.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	l, ok := cl.limiters[ch]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}
