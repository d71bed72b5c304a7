package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/broker"
	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/jobstore"
	"github.com/courtbook/relay/internal/payload"
	"github.com/courtbook/relay/internal/queue"
)

func setup(t *testing.T) (*queue.Registry, *jobstore.MockStore, *broker.Broker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := broker.New(client, time.Minute)
	store := jobstore.NewMockStore()
	reg := queue.NewRegistry(b, store, zap.NewNop())
	reg.Register(queue.Config{Name: domain.QueueThumbnail, Concurrency: 2, MaxAttempts: 3})
	return reg, store, b
}

func TestRegistry_EnqueueCreatesRowAndBrokerEntry(t *testing.T) {
	reg, store, b := setup(t)
	ctx := context.Background()

	id, err := reg.Enqueue(ctx, domain.QueueThumbnail, &payload.Thumbnail{
		ListingID: "l-1", SourceKey: "uploads/a.png", Width: 320,
	}, queue.WithPriority(domain.PriorityHigh))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := store.Get(ctx, domain.QueueThumbnail, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobWaiting, job.State)
	assert.Equal(t, domain.PriorityHigh, job.Priority)
	assert.Equal(t, 3, job.MaxAttempts)

	leased, err := b.Dequeue(ctx, domain.QueueThumbnail)
	require.NoError(t, err)
	assert.Equal(t, id, leased)
}

func TestRegistry_EnqueueWithDelayParksJob(t *testing.T) {
	reg, store, b := setup(t)
	ctx := context.Background()

	id, err := reg.Enqueue(ctx, domain.QueueThumbnail, &payload.Thumbnail{
		ListingID: "l-1", SourceKey: "uploads/a.png",
	}, queue.WithDelay(time.Hour))
	require.NoError(t, err)

	job, err := store.Get(ctx, domain.QueueThumbnail, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDelayed, job.State)
	require.NotNil(t, job.NextRunAt)

	// Not leasable until promoted.
	leased, err := b.Dequeue(ctx, domain.QueueThumbnail)
	require.NoError(t, err)
	assert.Empty(t, leased)
}

func TestRegistry_EnqueueUnknownQueue(t *testing.T) {
	reg, _, _ := setup(t)

	_, err := reg.Enqueue(context.Background(), "no-such-queue", &payload.Thumbnail{
		ListingID: "l-1", SourceKey: "uploads/a.png",
	})
	assert.ErrorIs(t, err, domain.ErrQueueNotFound)
}

func TestRegistry_EnqueueRejectsInvalidPayload(t *testing.T) {
	reg, store, _ := setup(t)

	_, err := reg.Enqueue(context.Background(), domain.QueueThumbnail, &payload.Thumbnail{
		ListingID: "", SourceKey: "uploads/a.png",
	})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	// Nothing persisted for a rejected payload.
	_, total, err := store.List(context.Background(), domain.QueueThumbnail,
		domain.ListJobsFilter{State: "all", Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRegistry_RegisterAppliesDefaults(t *testing.T) {
	reg, _, _ := setup(t)
	reg.Register(queue.Config{Name: "bare"})

	cfg, ok := reg.Lookup("bare")
	require.True(t, ok)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.BackoffBase)
	assert.Equal(t, 5*time.Minute, cfg.BackoffCap)
}
