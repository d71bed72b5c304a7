package jobstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/courtbook/relay/internal/domain"
)

// MockStore is a hand-written, in-memory implementation of Store used in
// unit tests. No mock-generation library needed.
type MockStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job

	// Optional error overrides — set in tests to simulate failure paths.
	CreateErr error
	GetErr    error
}

func NewMockStore() *MockStore {
	return &MockStore{jobs: make(map[string]*domain.Job)}
}

func (m *MockStore) Create(_ context.Context, j *domain.Job) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *j
	m.jobs[j.ID] = &clone
	return nil
}

func (m *MockStore) Get(_ context.Context, queue, id string) (*domain.Job, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok || j.Queue != queue {
		return nil, domain.ErrJobNotFound
	}
	clone := *j
	return &clone, nil
}

func (m *MockStore) List(_ context.Context, queue string, f domain.ListJobsFilter) ([]*domain.Job, int, error) {
	if err := f.Validate(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*domain.Job
	for _, j := range m.jobs {
		if j.Queue != queue {
			continue
		}
		if f.State != "all" && j.State != domain.JobState(f.State) {
			continue
		}
		clone := *j
		matched = append(matched, &clone)
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})

	total := len(matched)
	start := (f.Page - 1) * f.Limit
	if start >= total {
		return nil, total, nil
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *MockStore) Counts(_ context.Context, queue string) (domain.StateCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c domain.StateCounts
	for _, j := range m.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.State {
		case domain.JobWaiting:
			c.Waiting++
		case domain.JobActive:
			c.Active++
		case domain.JobCompleted:
			c.Completed++
		case domain.JobFailed:
			c.Failed++
		case domain.JobDelayed:
			c.Delayed++
		case domain.JobStalled:
			c.Stalled++
		}
	}
	return c, nil
}

func (m *MockStore) MarkActive(_ context.Context, id string, at time.Time) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	j.State = domain.JobActive
	j.AttemptsMade++
	j.ProcessedAt = &at
	j.NextRunAt = nil
	clone := *j
	return &clone, nil
}

func (m *MockStore) MarkCompleted(_ context.Context, id string, result json.RawMessage, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.State = domain.JobCompleted
		j.Result = result
		j.FinishedAt = &at
		j.FailureReason = nil
	}
	return nil
}

func (m *MockStore) ScheduleRetry(_ context.Context, id string, nextRun time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.State = domain.JobDelayed
		j.NextRunAt = &nextRun
		j.FailureReason = &reason
	}
	return nil
}

func (m *MockStore) MarkFailed(_ context.Context, id, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.State = domain.JobFailed
		j.FailureReason = &reason
		j.FinishedAt = &at
		j.NextRunAt = nil
	}
	return nil
}

func (m *MockStore) MarkStalled(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok && j.State == domain.JobActive {
		j.State = domain.JobStalled
		return true, nil
	}
	return false, nil
}

func (m *MockStore) MarkWaiting(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.State = domain.JobWaiting
		j.NextRunAt = nil
		j.FinishedAt = nil
	}
	return nil
}

func (m *MockStore) Delete(_ context.Context, queue, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Queue != queue || j.State == domain.JobActive {
		return domain.ErrJobNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *MockStore) Clean(_ context.Context, queue string, olderThan time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, j := range m.jobs {
		if removed >= limit {
			break
		}
		if j.Queue != queue || !j.State.Terminal() {
			continue
		}
		if j.FinishedAt != nil && j.FinishedAt.Before(olderThan) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed, nil
}
