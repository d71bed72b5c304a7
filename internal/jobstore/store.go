package jobstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/courtbook/relay/internal/domain"
)

// Store defines all persistence operations for job rows.
// The pgx implementation is in pg_store.go; tests use a hand-written
// mock (mock_store.go). The store is the single source of truth for job
// state; the Redis broker only orders IDs.
type Store interface {
	Create(ctx context.Context, j *domain.Job) error
	Get(ctx context.Context, queue, id string) (*domain.Job, error)
	List(ctx context.Context, queue string, f domain.ListJobsFilter) ([]*domain.Job, int, error)
	Counts(ctx context.Context, queue string) (domain.StateCounts, error)

	// MarkActive transitions a job to active, increments attempts_made,
	// and returns the updated row. The increment happens here so that a
	// crash mid-handler still counts the attempt.
	MarkActive(ctx context.Context, id string, at time.Time) (*domain.Job, error)
	MarkCompleted(ctx context.Context, id string, result json.RawMessage, at time.Time) error
	// ScheduleRetry parks a failed attempt as delayed until nextRun.
	ScheduleRetry(ctx context.Context, id string, nextRun time.Time, reason string) error
	// MarkFailed records a terminal failure.
	MarkFailed(ctx context.Context, id string, reason string, at time.Time) error
	// MarkStalled flips an active job to stalled and reports whether it
	// did. False means finalization won the race and the job is already
	// terminal; callers must not requeue it.
	MarkStalled(ctx context.Context, id string) (bool, error)
	// MarkWaiting returns a job to the waiting state without touching
	// attempts_made; used for delayed promotion, stalled reclaim, and
	// the admin retry operation.
	MarkWaiting(ctx context.Context, id string) error

	Delete(ctx context.Context, queue, id string) error
	// Clean irreversibly deletes up to limit completed/failed jobs that
	// finished before olderThan and returns the exact count removed.
	Clean(ctx context.Context, queue string, olderThan time.Time, limit int) (int, error)
}
