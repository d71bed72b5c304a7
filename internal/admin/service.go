// Package admin is the operational surface over the durable queues:
// inspection, retry, removal, pause/resume, and cleanup, exposed over
// chi routes in router.go.
package admin

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/broker"
	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/jobstore"
	"github.com/courtbook/relay/internal/queue"
)

// Service implements the queue admin operations.
type Service struct {
	registry *queue.Registry
	broker   *broker.Broker
	store    jobstore.Store
	logger   *zap.Logger
}

func NewService(registry *queue.Registry, b *broker.Broker, store jobstore.Store, logger *zap.Logger) *Service {
	return &Service{registry: registry, broker: b, store: store, logger: logger}
}

// ListQueues returns every registered queue with per-state counts and
// its pause flag, in registration order.
func (s *Service) ListQueues(ctx context.Context) ([]domain.QueueInfo, error) {
	cfgs := s.registry.Configs()
	out := make([]domain.QueueInfo, 0, len(cfgs))
	for _, cfg := range cfgs {
		counts, err := s.store.Counts(ctx, cfg.Name)
		if err != nil {
			return nil, err
		}
		paused, err := s.broker.IsPaused(ctx, cfg.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.QueueInfo{
			Name:        cfg.Name,
			Concurrency: cfg.Concurrency,
			Paused:      paused,
			Counts:      counts,
		})
	}
	return out, nil
}

// ListJobs returns one page of a queue's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, queueName string, f domain.ListJobsFilter) ([]*domain.Job, int, error) {
	if _, ok := s.registry.Lookup(queueName); !ok {
		return nil, 0, domain.ErrQueueNotFound
	}
	if err := f.Validate(); err != nil {
		return nil, 0, err
	}
	return s.store.List(ctx, queueName, f)
}

// GetJob returns one job row.
func (s *Service) GetJob(ctx context.Context, queueName, id string) (*domain.Job, error) {
	if _, ok := s.registry.Lookup(queueName); !ok {
		return nil, domain.ErrQueueNotFound
	}
	return s.store.Get(ctx, queueName, id)
}

// RetryJob re-enqueues a terminally failed job without resetting its
// attempt counter. Any other state, completed included, is refused.
func (s *Service) RetryJob(ctx context.Context, queueName, id string) error {
	job, err := s.GetJob(ctx, queueName, id)
	if err != nil {
		return err
	}
	if job.State != domain.JobFailed {
		return domain.ErrJobNotRetryable
	}

	if err := s.store.MarkWaiting(ctx, id); err != nil {
		return err
	}
	if err := s.broker.Enqueue(ctx, queueName, id, job.Priority, time.Time{}); err != nil {
		return err
	}
	s.logger.Info("job retried",
		zap.String("queue", queueName),
		zap.String("job_id", id),
		zap.Int("attempts_made", job.AttemptsMade),
	)
	return nil
}

// RemoveJob deletes a job row and its broker entries. Active jobs are
// refused; pause the queue and wait for the lease to settle first.
func (s *Service) RemoveJob(ctx context.Context, queueName, id string) error {
	job, err := s.GetJob(ctx, queueName, id)
	if err != nil {
		return err
	}
	if job.State == domain.JobActive {
		return domain.ErrJobActive
	}

	if err := s.broker.Remove(ctx, queueName, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, queueName, id)
}

// PauseQueue stops new job starts on the queue; in-flight jobs finish.
func (s *Service) PauseQueue(ctx context.Context, queueName string) error {
	return s.registry.Pause(ctx, queueName)
}

// ResumeQueue re-opens the queue for lease.
func (s *Service) ResumeQueue(ctx context.Context, queueName string) error {
	return s.registry.Resume(ctx, queueName)
}

// CleanQueue deletes up to limit terminal jobs that finished before the
// grace window and returns the exact number removed.
func (s *Service) CleanQueue(ctx context.Context, queueName string, grace time.Duration, limit int) (int, error) {
	if _, ok := s.registry.Lookup(queueName); !ok {
		return 0, domain.ErrQueueNotFound
	}
	olderThan := time.Now().UTC().Add(-grace)
	removed, err := s.store.Clean(ctx, queueName, olderThan, limit)
	if err != nil {
		return 0, err
	}
	s.logger.Info("queue cleaned",
		zap.String("queue", queueName),
		zap.Int("removed", removed),
		zap.Duration("grace", grace),
	)
	return removed, nil
}
