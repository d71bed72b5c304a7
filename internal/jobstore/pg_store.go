package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtbook/relay/internal/domain"
)

const jobColumns = `id, queue, payload, state, priority, attempts_made, max_attempts,
	       failure_reason, result, created_at, processed_at, finished_at, next_run_at`

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Store backed by PostgreSQL.
func NewPgStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Create(ctx context.Context, j *domain.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs
			(id, queue, payload, state, priority, attempts_made, max_attempts, created_at, next_run_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		j.ID, j.Queue, j.Payload, j.State, j.Priority, j.AttemptsMade, j.MaxAttempts, j.CreatedAt, j.NextRunAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *pgStore) Get(ctx context.Context, queue, id string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs WHERE queue = $1 AND id = $2`, queue, id)

	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	return j, err
}

func (s *pgStore) List(ctx context.Context, queue string, f domain.ListJobsFilter) ([]*domain.Job, int, error) {
	if err := f.Validate(); err != nil {
		return nil, 0, err
	}

	where := " WHERE queue = $1"
	args := []any{queue}
	if f.State != "all" {
		args = append(args, f.State)
		where += " AND state = $2"
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	offset := (f.Page - 1) * f.Limit
	args = append(args, f.Limit, offset)
	query := fmt.Sprintf(`
		SELECT `+jobColumns+`
		FROM jobs%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	return jobs, total, err
}

func (s *pgStore) Counts(ctx context.Context, queue string) (domain.StateCounts, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM jobs WHERE queue = $1 GROUP BY state`, queue)
	if err != nil {
		return domain.StateCounts{}, fmt.Errorf("count jobs by state: %w", err)
	}
	defer rows.Close()

	var c domain.StateCounts
	for rows.Next() {
		var state domain.JobState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return domain.StateCounts{}, err
		}
		switch state {
		case domain.JobWaiting:
			c.Waiting = n
		case domain.JobActive:
			c.Active = n
		case domain.JobCompleted:
			c.Completed = n
		case domain.JobFailed:
			c.Failed = n
		case domain.JobDelayed:
			c.Delayed = n
		case domain.JobStalled:
			c.Stalled = n
		}
	}
	return c, rows.Err()
}

func (s *pgStore) MarkActive(ctx context.Context, id string, at time.Time) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET state = 'active', attempts_made = attempts_made + 1, processed_at = $1, next_run_at = NULL
		WHERE id = $2
		RETURNING `+jobColumns, at, id)

	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	return j, err
}

func (s *pgStore) MarkCompleted(ctx context.Context, id string, result json.RawMessage, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'completed', result = $1, finished_at = $2, failure_reason = NULL
		WHERE id = $3`, result, at, id)
	return err
}

func (s *pgStore) ScheduleRetry(ctx context.Context, id string, nextRun time.Time, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'delayed', next_run_at = $1, failure_reason = $2
		WHERE id = $3`, nextRun, reason, id)
	return err
}

func (s *pgStore) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'failed', failure_reason = $1, finished_at = $2, next_run_at = NULL
		WHERE id = $3`, reason, at, id)
	return err
}

func (s *pgStore) MarkStalled(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = 'stalled' WHERE id = $1 AND state = 'active'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *pgStore) MarkWaiting(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'waiting', next_run_at = NULL, finished_at = NULL
		WHERE id = $1`, id)
	return err
}

func (s *pgStore) Delete(ctx context.Context, queue, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE queue = $1 AND id = $2 AND state <> 'active'`, queue, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *pgStore) Clean(ctx context.Context, queue string, olderThan time.Time, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM jobs
			WHERE queue = $1
			  AND state IN ('completed', 'failed')
			  AND finished_at < $2
			ORDER BY finished_at ASC
			LIMIT $3
		)`, queue, olderThan, limit)
	if err != nil {
		return 0, fmt.Errorf("clean queue %s: %w", queue, err)
	}
	return int(tag.RowsAffected()), nil
}

// ---- helpers ----

func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID, &j.Queue, &j.Payload, &j.State, &j.Priority,
		&j.AttemptsMade, &j.MaxAttempts, &j.FailureReason, &j.Result,
		&j.CreatedAt, &j.ProcessedAt, &j.FinishedAt, &j.NextRunAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*domain.Job, error) {
	var result []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, rows.Err()
}
