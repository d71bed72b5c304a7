package domain

import (
	"encoding/json"
	"time"
)

// JobState tracks the lifecycle of a job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDelayed   JobState = "delayed"
	JobStalled   JobState = "stalled"
)

func (s JobState) IsValid() bool {
	switch s {
	case JobWaiting, JobActive, JobCompleted, JobFailed, JobDelayed, JobStalled:
		return true
	}
	return false
}

// Terminal reports whether a job in this state will never run again.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Priority controls ordering within a queue. High is leased first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Well-known queue names. One queue per workload kind; delivery queues
// are derived per channel via DeliveryQueue.
const (
	QueueMediaMove  = "media-move"
	QueueThumbnail  = "thumbnail"
	QueuePayoutBank = "payout-bank-update"
)

// DeliveryQueue returns the durable queue name carrying sends for one channel.
func DeliveryQueue(ch Channel) string {
	return "deliver-" + string(ch)
}

// Job is one unit of deferred work. Rows are owned by the job store;
// only workers and the admin surface mutate them after creation.
type Job struct {
	ID            string          `json:"id"`
	Queue         string          `json:"queue"`
	Payload       json.RawMessage `json:"payload"`
	State         JobState        `json:"state"`
	Priority      Priority        `json:"priority"`
	AttemptsMade  int             `json:"attempts_made"`
	MaxAttempts   int             `json:"max_attempts"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	NextRunAt     *time.Time      `json:"next_run_at,omitempty"`
}

// StateCounts is a per-queue snapshot of how many jobs sit in each state.
type StateCounts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Stalled   int `json:"stalled"`
}

// QueueInfo is the admin view of a registered queue.
type QueueInfo struct {
	Name        string      `json:"name"`
	Concurrency int         `json:"concurrency"`
	Paused      bool        `json:"paused"`
	Counts      StateCounts `json:"counts"`
}

// ListJobsFilter selects jobs for the admin listing.
// State is one of the JobState values or "all" (the union across states).
type ListJobsFilter struct {
	State string
	Page  int
	Limit int
}

func (f ListJobsFilter) Validate() error {
	if f.State != "all" && !JobState(f.State).IsValid() {
		return ErrInvalidStateFilter
	}
	return nil
}
