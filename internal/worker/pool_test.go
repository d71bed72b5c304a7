package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/background"
	"github.com/courtbook/relay/internal/broker"
	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/jobstore"
	"github.com/courtbook/relay/internal/payload"
	"github.com/courtbook/relay/internal/queue"
	"github.com/courtbook/relay/internal/worker"
)

type fixture struct {
	broker *broker.Broker
	store  *jobstore.MockStore
	reg    *queue.Registry
	events *worker.Events
	pool   *worker.Pool
	cancel context.CancelFunc
}

func newFixture(t *testing.T, lease time.Duration, cfg queue.Config) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := broker.New(client, lease)
	store := jobstore.NewMockStore()
	logger := zap.NewNop()

	reg := queue.NewRegistry(b, store, logger)
	reg.Register(cfg)

	events := worker.NewEvents(background.NewRunner(logger))
	pool := worker.NewPool(reg, b, store, events, logger, worker.MetricHooks{}, worker.Options{
		LeaseTimeout:  lease,
		PollInterval:  5 * time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
	})
	return &fixture{broker: b, store: store, reg: reg, events: events, pool: pool}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		f.pool.Wait()
	})
}

func waitForState(t *testing.T, f *fixture, queueName, id string, want domain.JobState) *domain.Job {
	t.Helper()
	var got *domain.Job
	require.Eventually(t, func() bool {
		j, err := f.store.Get(context.Background(), queueName, id)
		if err != nil {
			return false
		}
		got = j
		return j.State == want
	}, 3*time.Second, 5*time.Millisecond, "job never reached state %s", want)
	return got
}

func thumbCfg() queue.Config {
	return queue.Config{
		Name:        domain.QueueThumbnail,
		Concurrency: 2,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}
}

func thumbPayload() *payload.Thumbnail {
	return &payload.Thumbnail{ListingID: "lst-1", SourceKey: "media/lst-1/court.jpg", Width: 320}
}

func TestPool_CompletesJob(t *testing.T) {
	f := newFixture(t, time.Minute, thumbCfg())

	var calls atomic.Int32
	f.pool.RegisterHandler(domain.QueueThumbnail, func(_ context.Context, _ domain.Job, p payload.Payload) (json.RawMessage, error) {
		tp, ok := p.(*payload.Thumbnail)
		require.True(t, ok)
		assert.Equal(t, "lst-1", tp.ListingID)
		calls.Add(1)
		return json.RawMessage(`{"thumb_key":"thumbs/lst-1/court.jpg"}`), nil
	})
	f.start(t)

	id, err := f.reg.Enqueue(context.Background(), domain.QueueThumbnail, thumbPayload())
	require.NoError(t, err)

	job := waitForState(t, f, domain.QueueThumbnail, id, domain.JobCompleted)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.JSONEq(t, `{"thumb_key":"thumbs/lst-1/court.jpg"}`, string(job.Result))
	assert.NotNil(t, job.FinishedAt)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPool_RetriesWithBackoffThenFailsTerminally(t *testing.T) {
	f := newFixture(t, time.Minute, thumbCfg())

	var calls atomic.Int32
	f.pool.RegisterHandler(domain.QueueThumbnail, func(context.Context, domain.Job, payload.Payload) (json.RawMessage, error) {
		calls.Add(1)
		return nil, errors.New("object store unavailable")
	})

	var failed atomic.Int32
	f.events.SubscribeFailed(domain.QueueThumbnail, func(context.Context, worker.FailedEvent) error {
		failed.Add(1)
		return nil
	})
	f.start(t)

	id, err := f.reg.Enqueue(context.Background(), domain.QueueThumbnail, thumbPayload())
	require.NoError(t, err)

	job := waitForState(t, f, domain.QueueThumbnail, id, domain.JobFailed)
	assert.Equal(t, job.MaxAttempts, job.AttemptsMade, "attempts_made must stop at max_attempts")
	assert.EqualValues(t, 3, calls.Load())
	require.NotNil(t, job.FailureReason)
	assert.Contains(t, *job.FailureReason, "object store unavailable")

	require.Eventually(t, func() bool { return failed.Load() == 1 },
		time.Second, 5*time.Millisecond, "terminal failure must publish exactly one event")
}

func TestPool_TerminalErrorSkipsRemainingAttempts(t *testing.T) {
	f := newFixture(t, time.Minute, thumbCfg())

	var calls atomic.Int32
	f.pool.RegisterHandler(domain.QueueThumbnail, func(context.Context, domain.Job, payload.Payload) (json.RawMessage, error) {
		calls.Add(1)
		return nil, domain.Terminal(errors.New("source image corrupt"))
	})
	f.start(t)

	id, err := f.reg.Enqueue(context.Background(), domain.QueueThumbnail, thumbPayload())
	require.NoError(t, err)

	job := waitForState(t, f, domain.QueueThumbnail, id, domain.JobFailed)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPool_MalformedPayloadFailsWithoutHandlerCrash(t *testing.T) {
	f := newFixture(t, time.Minute, thumbCfg())

	var calls atomic.Int32
	f.pool.RegisterHandler(domain.QueueThumbnail, func(context.Context, domain.Job, payload.Payload) (json.RawMessage, error) {
		calls.Add(1)
		return nil, nil
	})
	f.start(t)

	// Bypass the registry's enqueue-time validation, as a buggy or older
	// producer would.
	ctx := context.Background()
	job := &domain.Job{
		ID:          "bad-payload",
		Queue:       domain.QueueThumbnail,
		Payload:     json.RawMessage(`{"listing_id":""}`),
		State:       domain.JobWaiting,
		Priority:    domain.PriorityMedium,
		MaxAttempts: 3,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, f.store.Create(ctx, job))
	require.NoError(t, f.broker.Enqueue(ctx, domain.QueueThumbnail, job.ID, job.Priority, time.Time{}))

	got := waitForState(t, f, domain.QueueThumbnail, job.ID, domain.JobFailed)
	assert.Equal(t, 1, got.AttemptsMade, "validation failures must never be retried")
	require.NotNil(t, got.FailureReason)
	assert.Contains(t, *got.FailureReason, "invalid")
	assert.EqualValues(t, 0, calls.Load(), "handler must not see a malformed payload")
}

func TestPool_PauseHaltsNewStarts(t *testing.T) {
	f := newFixture(t, time.Minute, thumbCfg())

	f.pool.RegisterHandler(domain.QueueThumbnail, func(context.Context, domain.Job, payload.Payload) (json.RawMessage, error) {
		return nil, nil
	})
	f.start(t)

	ctx := context.Background()
	require.NoError(t, f.reg.Pause(ctx, domain.QueueThumbnail))

	id, err := f.reg.Enqueue(ctx, domain.QueueThumbnail, thumbPayload())
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	j, err := f.store.Get(ctx, domain.QueueThumbnail, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobWaiting, j.State, "no waiting job may start while paused")

	require.NoError(t, f.reg.Resume(ctx, domain.QueueThumbnail))
	waitForState(t, f, domain.QueueThumbnail, id, domain.JobCompleted)
}

func TestPool_DelayedJobRunsAfterPromotion(t *testing.T) {
	f := newFixture(t, time.Minute, thumbCfg())

	f.pool.RegisterHandler(domain.QueueThumbnail, func(context.Context, domain.Job, payload.Payload) (json.RawMessage, error) {
		return nil, nil
	})
	f.start(t)

	id, err := f.reg.Enqueue(context.Background(), domain.QueueThumbnail, thumbPayload(),
		queue.WithDelay(50*time.Millisecond))
	require.NoError(t, err)

	j, err := f.store.Get(context.Background(), domain.QueueThumbnail, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDelayed, j.State)

	waitForState(t, f, domain.QueueThumbnail, id, domain.JobCompleted)
}

func TestPool_ReclaimsExpiredLease(t *testing.T) {
	// No handler registered: only the sweeper runs, standing in for a
	// worker that crashed while holding the lease.
	f := newFixture(t, 20*time.Millisecond, thumbCfg())
	f.start(t)

	ctx := context.Background()
	id, err := f.reg.Enqueue(ctx, domain.QueueThumbnail, thumbPayload())
	require.NoError(t, err)

	leased, err := f.broker.Dequeue(ctx, domain.QueueThumbnail)
	require.NoError(t, err)
	require.Equal(t, id, leased)
	_, err = f.store.MarkActive(ctx, id, time.Now().UTC())
	require.NoError(t, err)

	// Lease expires; the sweeper hands the job back to waiting.
	waitForState(t, f, domain.QueueThumbnail, id, domain.JobWaiting)

	again, err := f.broker.Dequeue(ctx, domain.QueueThumbnail)
	require.NoError(t, err)
	assert.Equal(t, id, again, "reclaimed job must be leasable again")
}

func TestPool_SweeperNeverResurrectsSettledJob(t *testing.T) {
	// No handler: only the sweeper runs. The job completes normally but
	// its ack is lost, so the lease entry outlives finalization.
	f := newFixture(t, 20*time.Millisecond, thumbCfg())
	f.start(t)

	ctx := context.Background()
	id, err := f.reg.Enqueue(ctx, domain.QueueThumbnail, thumbPayload())
	require.NoError(t, err)

	leased, err := f.broker.Dequeue(ctx, domain.QueueThumbnail)
	require.NoError(t, err)
	require.Equal(t, id, leased)
	_, err = f.store.MarkActive(ctx, id, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, f.store.MarkCompleted(ctx, id, json.RawMessage(`{}`), time.Now().UTC()))

	// Give the sweeper several ticks past the lease deadline.
	time.Sleep(150 * time.Millisecond)

	j, err := f.store.Get(ctx, domain.QueueThumbnail, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, j.State, "terminal state must be final")
	assert.Equal(t, 1, j.AttemptsMade)

	again, err := f.broker.Dequeue(ctx, domain.QueueThumbnail)
	require.NoError(t, err)
	assert.Empty(t, again, "settled job must not be leasable again")
}

func TestPool_StalledFinalAttemptFailsTerminally(t *testing.T) {
	cfg := thumbCfg()
	cfg.MaxAttempts = 1
	f := newFixture(t, 20*time.Millisecond, cfg)

	var failed atomic.Int32
	f.events.SubscribeFailed(domain.QueueThumbnail, func(context.Context, worker.FailedEvent) error {
		failed.Add(1)
		return nil
	})
	f.start(t)

	ctx := context.Background()
	id, err := f.reg.Enqueue(ctx, domain.QueueThumbnail, thumbPayload())
	require.NoError(t, err)

	leased, err := f.broker.Dequeue(ctx, domain.QueueThumbnail)
	require.NoError(t, err)
	require.Equal(t, id, leased)
	_, err = f.store.MarkActive(ctx, id, time.Now().UTC())
	require.NoError(t, err)

	// Re-leasing would push attempts past the budget, so the sweeper
	// must settle the job instead of handing it back.
	job := waitForState(t, f, domain.QueueThumbnail, id, domain.JobFailed)
	assert.Equal(t, 1, job.AttemptsMade, "attempts_made must stop at max_attempts")
	require.NotNil(t, job.FailureReason)
	assert.Contains(t, *job.FailureReason, "lease expired")

	require.Eventually(t, func() bool { return failed.Load() == 1 },
		time.Second, 5*time.Millisecond, "crash-stalled terminal failure must publish its event")

	again, err := f.broker.Dequeue(ctx, domain.QueueThumbnail)
	require.NoError(t, err)
	assert.Empty(t, again)
}
