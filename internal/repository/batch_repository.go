package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/keyword-research-service/internal/domain"
)

// BatchRepository persists keyword batches and the state of their jobs.
// Batches are scoped per client: reads take a clientID and never return
// another client's batch.
type BatchRepository interface {
	// CreateBatch inserts the batch row and all of its jobs atomically.
	// Returns domain.ErrAlreadyExists if the batch ID is taken.
	CreateBatch(ctx context.Context, batch domain.BatchRecord, jobs []domain.Job) error

	// UpdateJob writes the job's current state. Jobs already in a terminal
	// state are never overwritten.
	// Returns domain.ErrNotFound if no non-terminal job matches.
	UpdateJob(ctx context.Context, job domain.Job) error

	// FinishBatch records the batch's final status.
	// Returns domain.ErrNotFound if the batch does not exist.
	FinishBatch(ctx context.Context, batchID uuid.UUID, status domain.BatchStatus, finishedAt time.Time) error

	// GetBatch returns the batch with all jobs and counts derived from them.
	// Returns domain.ErrNotFound if no batch matches.
	GetBatch(ctx context.Context, clientID string, id uuid.UUID) (*domain.BatchSnapshot, error)

	// ListBatches returns the client's batches, newest first, with counts
	// but without jobs.
	ListBatches(ctx context.Context, clientID string, limit int) ([]domain.BatchSnapshot, error)

	// ListJobs returns a batch's jobs ordered by position.
	ListJobs(ctx context.Context, batchID uuid.UUID) ([]domain.Job, error)

	// AbandonRunning closes out batches left running by a previous process:
	// batches become cancelled and processing jobs become errors. Pending
	// jobs stay pending. It returns the number of batches closed.
	AbandonRunning(ctx context.Context, at time.Time) (int64, error)
}
