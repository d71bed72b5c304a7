// Package broker keeps the ordering side of the durable queue in Redis:
// per-queue ready lists split by priority, a delayed sorted set, and an
// in-flight sorted set scored by lease deadline. The authoritative job
// rows live in Postgres (internal/jobstore); the broker only moves IDs.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/courtbook/relay/internal/config"
	"github.com/courtbook/relay/internal/domain"
)

// priorities in lease order: high is always popped before medium and low.
var priorities = []domain.Priority{domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow}

// Broker coordinates ready, delayed, and in-flight job IDs in Redis.
type Broker struct {
	client *redis.Client
	lease  time.Duration
}

// Connect builds a Redis client from config and verifies connectivity.
func Connect(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// New wraps an existing client. lease is the visibility window granted on
// every dequeue; a job not acked within it becomes reclaimable.
func New(client *redis.Client, lease time.Duration) *Broker {
	if lease == 0 {
		lease = 60 * time.Second
	}
	return &Broker{client: client, lease: lease}
}

func readyKey(queue string, p domain.Priority) string {
	return fmt.Sprintf("relay:%s:ready:%s", queue, p)
}

func delayedKey(queue string) string  { return "relay:" + queue + ":delayed" }
func inflightKey(queue string) string { return "relay:" + queue + ":inflight" }
func pausedKey(queue string) string   { return "relay:" + queue + ":paused" }
func prioKey(queue string) string     { return "relay:" + queue + ":prio" }

// Enqueue makes a job ID eligible for lease. A future runAt places it in
// the delayed set instead of a ready list. The job's priority is recorded
// so delayed promotion and stalled reclaim return it to the right bucket.
func (b *Broker) Enqueue(ctx context.Context, queue, jobID string, prio domain.Priority, runAt time.Time) error {
	if !prio.IsValid() {
		prio = domain.PriorityMedium
	}
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, prioKey(queue), jobID, string(prio))
	if runAt.After(time.Now()) {
		pipe.ZAdd(ctx, delayedKey(queue), redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	} else {
		pipe.RPush(ctx, readyKey(queue, prio), jobID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %s on %s: %w", jobID, queue, err)
	}
	return nil
}

// dequeueScript pops the first ID across the ready lists (passed in
// priority order) and records it in the in-flight set in one round trip,
// so no two workers can lease the same job.
var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local job = redis.call('LPOP', KEYS[i])
  if job then
    redis.call('ZADD', inflight, ARGV[1], job)
    return job
  end
end
return nil
`)

// Dequeue leases the next eligible job ID, highest priority first.
// It returns "" when every ready list is empty; it never blocks.
func (b *Broker) Dequeue(ctx context.Context, queue string) (string, error) {
	keys := make([]string, 0, len(priorities)+1)
	for _, p := range priorities {
		keys = append(keys, readyKey(queue, p))
	}
	keys = append(keys, inflightKey(queue))

	res, err := dequeueScript.Run(ctx, b.client, keys, time.Now().Add(b.lease).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeue from %s: %w", queue, err)
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (b *Broker) ExtendLease(ctx context.Context, queue, jobID string, extension time.Duration) error {
	return b.client.ZAdd(ctx, inflightKey(queue), redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack releases a finished job from in-flight tracking.
func (b *Broker) Ack(ctx context.Context, queue, jobID string) error {
	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey(queue), jobID)
	pipe.HDel(ctx, prioKey(queue), jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteDelayed moves due delayed jobs into their ready lists and
// returns the promoted IDs.
func (b *Broker) PromoteDelayed(ctx context.Context, queue string, now time.Time, limit int64) ([]string, error) {
	return b.moveDue(ctx, queue, delayedKey(queue), now, limit)
}

// ReclaimExpired re-queues jobs whose lease deadline has passed and
// returns their IDs so the caller can record the stall.
func (b *Broker) ReclaimExpired(ctx context.Context, queue string, now time.Time, limit int64) ([]string, error) {
	return b.moveDue(ctx, queue, inflightKey(queue), now, limit)
}

func (b *Broker) moveDue(ctx context.Context, queue, fromKey string, now time.Time, limit int64) ([]string, error) {
	ids, err := b.client.ZRangeByScore(ctx, fromKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := b.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, fromKey, id)
		pipe.RPush(ctx, readyKey(queue, b.priorityOf(ctx, queue, id)), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func (b *Broker) priorityOf(ctx context.Context, queue, jobID string) domain.Priority {
	v, err := b.client.HGet(ctx, prioKey(queue), jobID).Result()
	if err != nil || !domain.Priority(v).IsValid() {
		return domain.PriorityMedium
	}
	return domain.Priority(v)
}

// Remove drops a job ID from every broker structure. In-flight entries
// are left alone by callers (the admin surface refuses to remove active
// jobs), but removing here too keeps the call safe against races.
func (b *Broker) Remove(ctx context.Context, queue, jobID string) error {
	pipe := b.client.TxPipeline()
	for _, p := range priorities {
		pipe.LRem(ctx, readyKey(queue, p), 0, jobID)
	}
	pipe.ZRem(ctx, delayedKey(queue), jobID)
	pipe.ZRem(ctx, inflightKey(queue), jobID)
	pipe.HDel(ctx, prioKey(queue), jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// Pause stops lease of new jobs from the queue. In-flight jobs finish.
func (b *Broker) Pause(ctx context.Context, queue string) error {
	return b.client.Set(ctx, pausedKey(queue), "1", 0).Err()
}

// Resume re-opens the queue for lease.
func (b *Broker) Resume(ctx context.Context, queue string) error {
	return b.client.Del(ctx, pausedKey(queue)).Err()
}

// IsPaused reports the queue's intake flag.
func (b *Broker) IsPaused(ctx context.Context, queue string) (bool, error) {
	_, err := b.client.Get(ctx, pausedKey(queue)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReadyDepth returns the total length of the queue's ready lists.
func (b *Broker) ReadyDepth(ctx context.Context, queue string) (int64, error) {
	pipe := b.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(priorities))
	for _, p := range priorities {
		cmds = append(cmds, pipe.LLen(ctx, readyKey(queue, p)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}
