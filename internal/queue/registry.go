// Package queue owns the explicit registry of durable queues. The
// registry is created at process start, handed to the worker pool and
// the admin surface, and is the only way producers enqueue jobs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/broker"
	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/jobstore"
	"github.com/courtbook/relay/internal/payload"
)

// Config describes one registered queue.
type Config struct {
	Name        string
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Registry maps queue names to their configuration and fronts the
// broker + store pair for producers.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]Config
	order  []string

	broker *broker.Broker
	store  jobstore.Store
	logger *zap.Logger
}

func NewRegistry(b *broker.Broker, store jobstore.Store, logger *zap.Logger) *Registry {
	return &Registry{
		queues: make(map[string]Config),
		broker: b,
		store:  store,
		logger: logger,
	}
}

// Register adds a queue. Registering the same name twice replaces the
// configuration but keeps its position.
func (r *Registry) Register(cfg Config) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Minute
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.queues[cfg.Name]; !exists {
		r.order = append(r.order, cfg.Name)
	}
	r.queues[cfg.Name] = cfg
}

// Lookup returns the configuration for a queue name.
func (r *Registry) Lookup(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.queues[name]
	return cfg, ok
}

// Configs returns every registered queue in registration order.
func (r *Registry) Configs() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Config, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.queues[name])
	}
	return out
}

// Option tunes a single enqueue.
type Option func(*enqueueOpts)

type enqueueOpts struct {
	priority    domain.Priority
	delay       time.Duration
	maxAttempts int
}

// WithPriority overrides the default medium priority.
func WithPriority(p domain.Priority) Option {
	return func(o *enqueueOpts) { o.priority = p }
}

// WithDelay defers the job's first execution.
func WithDelay(d time.Duration) Option {
	return func(o *enqueueOpts) { o.delay = d }
}

// WithMaxAttempts overrides the queue's attempt budget for this job.
func WithMaxAttempts(n int) Option {
	return func(o *enqueueOpts) { o.maxAttempts = n }
}

// Enqueue persists a job row and makes its ID leasable. Failures
// propagate to the caller, who decides between retry and drop.
func (r *Registry) Enqueue(ctx context.Context, queueName string, p payload.Payload, opts ...Option) (string, error) {
	cfg, ok := r.Lookup(queueName)
	if !ok {
		return "", domain.ErrQueueNotFound
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	o := enqueueOpts{priority: domain.PriorityMedium, maxAttempts: cfg.MaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:          uuid.New().String(),
		Queue:       queueName,
		Payload:     raw,
		State:       domain.JobWaiting,
		Priority:    o.priority,
		MaxAttempts: o.maxAttempts,
		CreatedAt:   now,
	}

	runAt := now
	if o.delay > 0 {
		runAt = now.Add(o.delay)
		job.State = domain.JobDelayed
		job.NextRunAt = &runAt
	}

	if err := r.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}
	if err := r.broker.Enqueue(ctx, queueName, job.ID, o.priority, runAt); err != nil {
		return "", fmt.Errorf("broker enqueue: %w", err)
	}

	r.logger.Debug("job enqueued",
		zap.String("queue", queueName),
		zap.String("job_id", job.ID),
		zap.String("priority", string(o.priority)),
		zap.Duration("delay", o.delay),
	)
	return job.ID, nil
}

// Pause halts new job starts on the queue; in-flight jobs finish.
func (r *Registry) Pause(ctx context.Context, name string) error {
	if _, ok := r.Lookup(name); !ok {
		return domain.ErrQueueNotFound
	}
	return r.broker.Pause(ctx, name)
}

// Resume re-opens the queue for lease.
func (r *Registry) Resume(ctx context.Context, name string) error {
	if _, ok := r.Lookup(name); !ok {
		return domain.ErrQueueNotFound
	}
	return r.broker.Resume(ctx, name)
}
