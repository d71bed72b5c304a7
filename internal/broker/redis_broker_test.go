package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtbook/relay/internal/broker"
	"github.com/courtbook/relay/internal/domain"
)

func setup(t *testing.T) (*broker.Broker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return broker.New(client, time.Minute), mr
}

func TestBroker_EnqueueDequeue(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, "thumbnail", "job-1", domain.PriorityMedium, time.Time{}))

	id, err := b.Dequeue(ctx, "thumbnail")
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	// Leased, so a second dequeue sees nothing.
	id, err = b.Dequeue(ctx, "thumbnail")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestBroker_PriorityOrder(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, "q", "low-1", domain.PriorityLow, time.Time{}))
	require.NoError(t, b.Enqueue(ctx, "q", "med-1", domain.PriorityMedium, time.Time{}))
	require.NoError(t, b.Enqueue(ctx, "q", "high-1", domain.PriorityHigh, time.Time{}))

	var got []string
	for range 3 {
		id, err := b.Dequeue(ctx, "q")
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []string{"high-1", "med-1", "low-1"}, got)
}

func TestBroker_DelayedPromotion(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	runAt := time.Now().Add(time.Hour)
	require.NoError(t, b.Enqueue(ctx, "q", "later", domain.PriorityHigh, runAt))

	id, err := b.Dequeue(ctx, "q")
	require.NoError(t, err)
	assert.Empty(t, id, "delayed job must not be leasable before its run time")

	promoted, err := b.PromoteDelayed(ctx, "q", runAt.Add(time.Second), 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"later"}, promoted)

	id, err = b.Dequeue(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, "later", id)
}

func TestBroker_ReclaimExpiredKeepsPriority(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, "q", "job-1", domain.PriorityHigh, time.Time{}))
	_, err := b.Dequeue(ctx, "q")
	require.NoError(t, err)

	// Nothing is reclaimable while the lease is live.
	ids, err := b.ReclaimExpired(ctx, "q", time.Now(), 100)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// After the deadline the job is handed back to its own bucket.
	ids, err = b.ReclaimExpired(ctx, "q", time.Now().Add(2*time.Minute), 100)
	require.NoError(t, err)
	require.Equal(t, []string{"job-1"}, ids)

	// Exactly one worker can lease it again.
	require.NoError(t, b.Enqueue(ctx, "q", "med-1", domain.PriorityMedium, time.Time{}))
	id, err := b.Dequeue(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, "job-1", id, "reclaimed high job must outrank medium")
}

func TestBroker_AckReleasesLease(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, "q", "job-1", domain.PriorityMedium, time.Time{}))
	_, err := b.Dequeue(ctx, "q")
	require.NoError(t, err)
	require.NoError(t, b.Ack(ctx, "q", "job-1"))

	ids, err := b.ReclaimExpired(ctx, "q", time.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	assert.Empty(t, ids, "acked job must never be reclaimed")
}

func TestBroker_Remove(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, "q", "job-1", domain.PriorityMedium, time.Time{}))
	require.NoError(t, b.Remove(ctx, "q", "job-1"))

	id, err := b.Dequeue(ctx, "q")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestBroker_PauseResume(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	paused, err := b.IsPaused(ctx, "q")
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, b.Pause(ctx, "q"))
	paused, err = b.IsPaused(ctx, "q")
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, b.Resume(ctx, "q"))
	paused, err = b.IsPaused(ctx, "q")
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestBroker_ReadyDepth(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	for _, p := range []domain.Priority{domain.PriorityHigh, domain.PriorityLow, domain.PriorityLow} {
		require.NoError(t, b.Enqueue(ctx, "q", string(p)+"-"+time.Now().String(), p, time.Time{}))
	}
	depth, err := b.ReadyDepth(ctx, "q")
	require.NoError(t, err)
	assert.EqualValues(t, 3, depth)
}
