// Package domain provides domain models and business logic for the keyword research service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobState represents the lifecycle states of a single keyword research job.
// These values must match the database enum job_state.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateError      JobState = "error"
)

// IsTerminal returns true if the state will not change again.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateError
}

// CanTransitionTo reports whether a job in state s may move to next.
// The only legal path is pending -> processing -> completed|error.
func (s JobState) CanTransitionTo(next JobState) bool {
	switch s {
	case JobStatePending:
		return next == JobStateProcessing
	case JobStateProcessing:
		return next == JobStateCompleted || next == JobStateError
	default:
		return false
	}
}

// BatchStatus represents the lifecycle states of a batch run.
// These values must match the database enum batch_status.
type BatchStatus string

const (
	BatchStatusRunning    BatchStatus = "running"
	BatchStatusCancelling BatchStatus = "cancelling"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

// IsTerminal returns true if the batch has finished.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusCancelled
}

// SharedParams are the parameters applied to every job in a batch.
type SharedParams struct {
	ClientID string
	Country  string
	Language string
}

// Validate checks that every shared parameter is present.
func (p SharedParams) Validate() error {
	if p.ClientID == "" {
		return NewValidationError("client_id", "is required")
	}
	if p.Country == "" {
		return NewValidationError("country", "is required")
	}
	if p.Language == "" {
		return NewValidationError("language", "is required")
	}
	return nil
}

// Job is one keyword's end-to-end research workflow within a batch.
type Job struct {
	ID               uuid.UUID
	BatchID          uuid.UUID
	Position         int
	Keyword          string
	State            JobState
	TrackingRecordID string
	ResultCount      int
	ErrorMessage     string
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// NewJob creates a pending job for keyword at the given queue position.
func NewJob(batchID uuid.UUID, position int, keyword string) Job {
	return Job{
		ID:       uuid.New(),
		BatchID:  batchID,
		Position: position,
		Keyword:  keyword,
		State:    JobStatePending,
	}
}

// BatchCounts holds per-state job counts for a batch.
type BatchCounts struct {
	Pending          int
	Processing       int
	Completed        int
	Error            int
	TotalResultCount int
}

// Total returns the number of jobs counted in any state.
func (c BatchCounts) Total() int {
	return c.Pending + c.Processing + c.Completed + c.Error
}

// BatchSnapshot is a point-in-time view of a batch. It is always derived
// from the batch's jobs, never stored independently of them.
type BatchSnapshot struct {
	BatchID     uuid.UUID
	Params      SharedParams
	Status      BatchStatus
	Concurrency int
	Counts      BatchCounts
	Jobs        []Job
	CreatedAt   time.Time
	FinishedAt  *time.Time
}

// Done reports whether the batch has finished running.
func (s BatchSnapshot) Done() bool {
	return s.Status.IsTerminal()
}

// BatchRecord is the persisted form of a batch.
type BatchRecord struct {
	ID          uuid.UUID
	Params      SharedParams
	Status      BatchStatus
	Concurrency int
	JobCount    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  *time.Time
}
