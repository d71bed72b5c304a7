package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/broker"
	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/jobstore"
	"github.com/courtbook/relay/internal/payload"
	"github.com/courtbook/relay/internal/queue"
)

// Handler executes one job. The decoded payload has already passed
// validation; handlers type-assert it to their concrete kind. The result
// is stored on the job row when non-nil. Handlers must be idempotent:
// delivery is at-least-once, and a stalled job is re-run from scratch.
type Handler func(ctx context.Context, job domain.Job, p payload.Payload) (json.RawMessage, error)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the pool constructor signature clean.
type MetricHooks struct {
	OnCompleted func(queue string, duration time.Duration)
	OnFailed    func(queue string)
	OnRetried   func(queue string)
	OnStalled   func(queue string)
	OnDepth     func(queue string, depth int64)
}

func (h *MetricHooks) fillNops() {
	if h.OnCompleted == nil {
		h.OnCompleted = func(string, time.Duration) {}
	}
	if h.OnFailed == nil {
		h.OnFailed = func(string) {}
	}
	if h.OnRetried == nil {
		h.OnRetried = func(string) {}
	}
	if h.OnStalled == nil {
		h.OnStalled = func(string) {}
	}
	if h.OnDepth == nil {
		h.OnDepth = func(string, int64) {}
	}
}

// Options tunes loop timing; zero values get defaults.
type Options struct {
	LeaseTimeout  time.Duration
	PollInterval  time.Duration
	SweepInterval time.Duration
}

// Pool runs every registered queue: Concurrency executor slots per
// queue plus one sweeper goroutine that promotes due delayed jobs and
// reclaims expired leases. Producers and workers share no memory; the
// broker's lease is the only synchronization point.
type Pool struct {
	reg      *queue.Registry
	broker   *broker.Broker
	store    jobstore.Store
	events   *Events
	handlers map[string]Handler
	hooks    MetricHooks
	opts     Options
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewPool(
	reg *queue.Registry,
	b *broker.Broker,
	store jobstore.Store,
	events *Events,
	logger *zap.Logger,
	hooks MetricHooks,
	opts Options,
) *Pool {
	hooks.fillNops()
	if opts.LeaseTimeout == 0 {
		opts.LeaseTimeout = 60 * time.Second
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = 2 * time.Second
	}
	return &Pool{
		reg:      reg,
		broker:   b,
		store:    store,
		events:   events,
		handlers: make(map[string]Handler),
		hooks:    hooks,
		opts:     opts,
		logger:   logger,
	}
}

// RegisterHandler binds a handler to a queue. Queues without a handler
// are swept but never leased from.
func (p *Pool) RegisterHandler(queueName string, h Handler) {
	p.handlers[queueName] = h
}

// Start launches all executor slots and sweepers. Cancelling ctx
// triggers a graceful stop; call Wait afterwards.
func (p *Pool) Start(ctx context.Context) {
	for _, cfg := range p.reg.Configs() {
		cfg := cfg

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.sweep(ctx, cfg)
		}()

		if _, ok := p.handlers[cfg.Name]; !ok {
			p.logger.Warn("queue has no handler, executors not started",
				zap.String("queue", cfg.Name))
			continue
		}
		for i := 0; i < cfg.Concurrency; i++ {
			p.wg.Add(1)
			go func(slot int) {
				defer p.wg.Done()
				p.runLoop(ctx, cfg, slot)
			}(i)
		}
	}
}

// Wait blocks until every goroutine has returned after ctx is cancelled.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runLoop(ctx context.Context, cfg queue.Config, slot int) {
	log := p.logger.With(zap.String("queue", cfg.Name), zap.Int("slot", slot))
	log.Info("worker started")

	for {
		if ctx.Err() != nil {
			log.Info("worker stopping")
			return
		}

		paused, err := p.broker.IsPaused(ctx, cfg.Name)
		if err != nil {
			log.Error("pause check failed", zap.Error(err))
			sleep(ctx, p.opts.PollInterval)
			continue
		}
		if paused {
			sleep(ctx, p.opts.PollInterval)
			continue
		}

		jobID, err := p.broker.Dequeue(ctx, cfg.Name)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("dequeue failed", zap.Error(err))
			}
			sleep(ctx, p.opts.PollInterval)
			continue
		}
		if jobID == "" {
			sleep(ctx, p.opts.PollInterval)
			continue
		}

		p.process(ctx, cfg, jobID, log)
	}
}

func (p *Pool) process(ctx context.Context, cfg queue.Config, jobID string, log *zap.Logger) {
	start := time.Now()
	log = log.With(zap.String("job_id", jobID))

	// Finalization writes must land even when ctx was cancelled mid-run.
	finCtx := context.WithoutCancel(ctx)

	job, err := p.store.Get(finCtx, cfg.Name, jobID)
	if err != nil {
		// Removed via the admin surface between enqueue and lease.
		_ = p.broker.Ack(finCtx, cfg.Name, jobID)
		log.Debug("leased job no longer exists", zap.Error(err))
		return
	}

	job, err = p.store.MarkActive(finCtx, jobID, time.Now().UTC())
	if err != nil {
		_ = p.broker.Ack(finCtx, cfg.Name, jobID)
		log.Error("failed to mark job active", zap.Error(err))
		return
	}

	decoded, err := payload.Decode(cfg.Name, job.Payload)
	if err != nil {
		p.finishFailed(finCtx, cfg, *job, err, log)
		return
	}

	handler := p.handlers[cfg.Name]
	hctx, cancel := context.WithTimeout(ctx, p.opts.LeaseTimeout)
	result, err := handler(hctx, *job, decoded)
	cancel()

	if err != nil {
		log.Warn("handler failed",
			zap.Int("attempts_made", job.AttemptsMade),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Error(err))
		if domain.IsTerminal(err) || job.AttemptsMade >= job.MaxAttempts {
			p.finishFailed(finCtx, cfg, *job, err, log)
			return
		}
		p.scheduleRetry(finCtx, cfg, *job, err, log)
		return
	}

	if err := p.broker.Ack(finCtx, cfg.Name, jobID); err != nil {
		log.Error("ack failed", zap.Error(err))
	}
	if err := p.store.MarkCompleted(finCtx, jobID, result, time.Now().UTC()); err != nil {
		log.Error("failed to mark job completed", zap.Error(err))
		return
	}
	p.hooks.OnCompleted(cfg.Name, time.Since(start))
	log.Info("job completed", zap.Duration("elapsed", time.Since(start)))
}

func (p *Pool) finishFailed(ctx context.Context, cfg queue.Config, job domain.Job, cause error, log *zap.Logger) {
	if err := p.broker.Ack(ctx, cfg.Name, job.ID); err != nil {
		log.Error("ack failed", zap.Error(err))
	}
	if err := p.store.MarkFailed(ctx, job.ID, cause.Error(), time.Now().UTC()); err != nil {
		log.Error("failed to mark job failed", zap.Error(err))
		return
	}
	p.hooks.OnFailed(cfg.Name)
	log.Error("job failed terminally", zap.Error(cause))

	job.State = domain.JobFailed
	p.events.publishFailed(ctx, FailedEvent{Job: job, Reason: cause.Error()})
}

func (p *Pool) scheduleRetry(ctx context.Context, cfg queue.Config, job domain.Job, cause error, log *zap.Logger) {
	nextRun := time.Now().UTC().Add(backoff(cfg.BackoffBase, cfg.BackoffCap, job.AttemptsMade))

	if err := p.broker.Ack(ctx, cfg.Name, job.ID); err != nil {
		log.Error("ack failed", zap.Error(err))
	}
	if err := p.store.ScheduleRetry(ctx, job.ID, nextRun, cause.Error()); err != nil {
		log.Error("failed to schedule retry", zap.Error(err))
		return
	}
	if err := p.broker.Enqueue(ctx, cfg.Name, job.ID, job.Priority, nextRun); err != nil {
		log.Error("failed to re-enqueue for retry", zap.Error(err))
		return
	}
	p.hooks.OnRetried(cfg.Name)
	log.Info("retry scheduled", zap.Time("next_run_at", nextRun))
}

// sweep promotes due delayed jobs and reclaims expired leases for one
// queue. A reclaimed job passes through the stalled state before it is
// handed back to waiting, so the stall is observable from the admin API.
func (p *Pool) sweep(ctx context.Context, cfg queue.Config) {
	ticker := time.NewTicker(p.opts.SweepInterval)
	defer ticker.Stop()

	log := p.logger.With(zap.String("queue", cfg.Name))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		promoted, err := p.broker.PromoteDelayed(ctx, cfg.Name, now, 100)
		if err != nil && ctx.Err() == nil {
			log.Error("delayed promotion failed", zap.Error(err))
		}
		for _, id := range promoted {
			if err := p.store.MarkWaiting(ctx, id); err != nil {
				log.Error("failed to mark promoted job waiting",
					zap.String("job_id", id), zap.Error(err))
			}
		}

		reclaimed, err := p.broker.ReclaimExpired(ctx, cfg.Name, now, 100)
		if err != nil && ctx.Err() == nil {
			log.Error("lease reclaim failed", zap.Error(err))
		}
		for _, id := range reclaimed {
			stalled, err := p.store.MarkStalled(ctx, id)
			if err != nil {
				log.Error("failed to mark job stalled",
					zap.String("job_id", id), zap.Error(err))
				continue
			}
			if !stalled {
				// Finalization beat the lease deadline; the job is
				// already terminal. Drop the ready entry the reclaim
				// just re-created so it is never run again.
				if err := p.broker.Remove(ctx, cfg.Name, id); err != nil {
					log.Error("failed to drop settled job from broker",
						zap.String("job_id", id), zap.Error(err))
				}
				continue
			}

			job, err := p.store.Get(ctx, cfg.Name, id)
			if err != nil {
				log.Error("failed to load stalled job",
					zap.String("job_id", id), zap.Error(err))
				continue
			}
			if job.AttemptsMade >= job.MaxAttempts {
				// Stalled on its final attempt: another lease would
				// push attempts past the budget.
				if err := p.broker.Remove(ctx, cfg.Name, id); err != nil {
					log.Error("failed to drop exhausted job from broker",
						zap.String("job_id", id), zap.Error(err))
				}
				reason := "lease expired on final attempt"
				if err := p.store.MarkFailed(ctx, id, reason, time.Now().UTC()); err != nil {
					log.Error("failed to mark exhausted job failed",
						zap.String("job_id", id), zap.Error(err))
					continue
				}
				p.hooks.OnStalled(cfg.Name)
				p.hooks.OnFailed(cfg.Name)
				job.State = domain.JobFailed
				p.events.publishFailed(ctx, FailedEvent{Job: *job, Reason: reason})
				log.Error("stalled job failed terminally", zap.String("job_id", id))
				continue
			}

			if err := p.store.MarkWaiting(ctx, id); err != nil {
				log.Error("failed to requeue stalled job",
					zap.String("job_id", id), zap.Error(err))
				continue
			}
			p.hooks.OnStalled(cfg.Name)
			log.Warn("stalled job reclaimed", zap.String("job_id", id))
		}

		if depth, err := p.broker.ReadyDepth(ctx, cfg.Name); err == nil {
			p.hooks.OnDepth(cfg.Name, depth)
		}
	}
}

// backoff returns the delay after the n-th failed attempt:
// base × 2^(n−1) clamped to ceil, so the first retry waits exactly
// base and each later one doubles.
func backoff(base, ceil time.Duration, attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	shift := attemptsMade - 1
	if shift > 30 {
		return ceil
	}
	d := base << shift
	if d > ceil || d <= 0 {
		return ceil
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
