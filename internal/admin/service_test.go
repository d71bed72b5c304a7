package admin_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/admin"
	"github.com/courtbook/relay/internal/broker"
	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/jobstore"
	"github.com/courtbook/relay/internal/queue"
)

type fixture struct {
	svc    *admin.Service
	broker *broker.Broker
	store  *jobstore.MockStore
}

func setup(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := broker.New(client, time.Minute)

	store := jobstore.NewMockStore()
	reg := queue.NewRegistry(b, store, zap.NewNop())
	reg.Register(queue.Config{Name: domain.QueueThumbnail, Concurrency: 2})

	return &fixture{
		svc:    admin.NewService(reg, b, store, zap.NewNop()),
		broker: b,
		store:  store,
	}
}

func (f *fixture) seed(t *testing.T, id string, state domain.JobState, finishedAgo time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	j := &domain.Job{
		ID:          id,
		Queue:       domain.QueueThumbnail,
		Payload:     []byte(`{}`),
		State:       state,
		Priority:    domain.PriorityMedium,
		MaxAttempts: 3,
		CreatedAt:   now,
	}
	if state.Terminal() {
		at := now.Add(-finishedAgo)
		j.FinishedAt = &at
		j.AttemptsMade = 3
	}
	require.NoError(t, f.store.Create(context.Background(), j))
}

func TestService_RetryFailedJob(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "j-1", domain.JobFailed, time.Minute)

	require.NoError(t, f.svc.RetryJob(ctx, domain.QueueThumbnail, "j-1"))

	job, err := f.svc.GetJob(ctx, domain.QueueThumbnail, "j-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobWaiting, job.State)
	// Attempt history survives the retry.
	assert.Equal(t, 3, job.AttemptsMade)

	id, err := f.broker.Dequeue(ctx, domain.QueueThumbnail)
	require.NoError(t, err)
	assert.Equal(t, "j-1", id)
}

func TestService_RetryRefusesNonFailedStates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "done", domain.JobCompleted, time.Minute)
	f.seed(t, "running", domain.JobActive, 0)

	err := f.svc.RetryJob(ctx, domain.QueueThumbnail, "done")
	assert.ErrorIs(t, err, domain.ErrJobNotRetryable)

	err = f.svc.RetryJob(ctx, domain.QueueThumbnail, "running")
	assert.ErrorIs(t, err, domain.ErrJobNotRetryable)

	err = f.svc.RetryJob(ctx, domain.QueueThumbnail, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestService_RemoveRefusesActiveJob(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "running", domain.JobActive, 0)

	err := f.svc.RemoveJob(ctx, domain.QueueThumbnail, "running")
	assert.ErrorIs(t, err, domain.ErrJobActive)

	// Still there.
	_, err = f.svc.GetJob(ctx, domain.QueueThumbnail, "running")
	assert.NoError(t, err)
}

func TestService_RemoveDeletesJob(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "j-1", domain.JobFailed, time.Minute)

	require.NoError(t, f.svc.RemoveJob(ctx, domain.QueueThumbnail, "j-1"))

	_, err := f.svc.GetJob(ctx, domain.QueueThumbnail, "j-1")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestService_CleanRemovesExactlyOldTerminalJobs(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// 5 terminal jobs outside the grace window.
	for i := range 5 {
		f.seed(t, fmt.Sprintf("old-%d", i), domain.JobCompleted, 2*time.Hour)
	}
	// Recent terminal and non-terminal jobs must survive.
	f.seed(t, "recent", domain.JobFailed, time.Minute)
	f.seed(t, "waiting", domain.JobWaiting, 0)

	removed, err := f.svc.CleanQueue(ctx, domain.QueueThumbnail, time.Hour, 100)
	require.NoError(t, err)
	assert.Equal(t, 5, removed)

	_, total, err := f.svc.ListJobs(ctx, domain.QueueThumbnail, domain.ListJobsFilter{State: "all", Page: 1, Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestService_CleanHonorsLimit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for i := range 5 {
		f.seed(t, fmt.Sprintf("old-%d", i), domain.JobCompleted, 2*time.Hour)
	}

	removed, err := f.svc.CleanQueue(ctx, domain.QueueThumbnail, time.Hour, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestService_ListJobsPaginationAndFilter(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for i := range 7 {
		f.seed(t, fmt.Sprintf("f-%d", i), domain.JobFailed, time.Minute)
	}
	f.seed(t, "w-1", domain.JobWaiting, 0)

	jobs, total, err := f.svc.ListJobs(ctx, domain.QueueThumbnail, domain.ListJobsFilter{State: "failed", Page: 2, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Len(t, jobs, 2)

	_, _, err = f.svc.ListJobs(ctx, domain.QueueThumbnail, domain.ListJobsFilter{State: "bogus", Page: 1, Limit: 5})
	assert.ErrorIs(t, err, domain.ErrInvalidStateFilter)

	_, _, err = f.svc.ListJobs(ctx, "no-such-queue", domain.ListJobsFilter{State: "all", Page: 1, Limit: 5})
	assert.ErrorIs(t, err, domain.ErrQueueNotFound)
}

func TestService_ListQueuesReportsCountsAndPause(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "w-1", domain.JobWaiting, 0)
	f.seed(t, "f-1", domain.JobFailed, time.Minute)

	require.NoError(t, f.svc.PauseQueue(ctx, domain.QueueThumbnail))

	queues, err := f.svc.ListQueues(ctx)
	require.NoError(t, err)
	require.Len(t, queues, 1)

	q := queues[0]
	assert.Equal(t, domain.QueueThumbnail, q.Name)
	assert.True(t, q.Paused)
	assert.Equal(t, 1, q.Counts.Waiting)
	assert.Equal(t, 1, q.Counts.Failed)

	require.NoError(t, f.svc.ResumeQueue(ctx, domain.QueueThumbnail))
	queues, err = f.svc.ListQueues(ctx)
	require.NoError(t, err)
	assert.False(t, queues[0].Paused)
}

func TestService_PauseUnknownQueue(t *testing.T) {
	f := setup(t)
	err := f.svc.PauseQueue(context.Background(), "no-such-queue")
	assert.ErrorIs(t, err, domain.ErrQueueNotFound)
}
