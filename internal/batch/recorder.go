package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/keyword-research-service/internal/domain"
)

// Store persists batch progress.
type Store interface {
	CreateBatch(ctx context.Context, batch domain.BatchRecord, jobs []domain.Job) error
	UpdateJob(ctx context.Context, job domain.Job) error
	FinishBatch(ctx context.Context, batchID uuid.UUID, status domain.BatchStatus, finishedAt time.Time) error
}

// Recorder is an Observer that writes every lifecycle change to a Store.
// Write failures are logged; the batch keeps running from memory.
type Recorder struct {
	store        Store
	writeTimeout time.Duration
	logger       zerolog.Logger
}

// NewRecorder creates a Recorder. Each write is bounded by writeTimeout
// when it is positive.
func NewRecorder(store Store, writeTimeout time.Duration, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:        store,
		writeTimeout: writeTimeout,
		logger:       logger.With().Str("component", "batch_recorder").Logger(),
	}
}

func (r *Recorder) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.writeTimeout > 0 {
		return context.WithTimeout(ctx, r.writeTimeout)
	}
	return context.WithCancel(ctx)
}

// BatchStarted inserts the batch and its pending jobs.
func (r *Recorder) BatchStarted(ctx context.Context, snapshot domain.BatchSnapshot) {
	ctx, cancel := r.writeCtx(ctx)
	defer cancel()

	record := domain.BatchRecord{
		ID:          snapshot.BatchID,
		Params:      snapshot.Params,
		Status:      snapshot.Status,
		Concurrency: snapshot.Concurrency,
		JobCount:    len(snapshot.Jobs),
		CreatedAt:   snapshot.CreatedAt,
		UpdatedAt:   snapshot.CreatedAt,
	}
	if err := r.store.CreateBatch(ctx, record, snapshot.Jobs); err != nil {
		r.logger.Error().Err(err).Str("batch_id", snapshot.BatchID.String()).Msg("failed to persist batch")
	}
}

// JobStarted persists the processing state.
func (r *Recorder) JobStarted(ctx context.Context, _ BatchRef, job domain.Job) {
	r.updateJob(ctx, job)
}

// JobFinished persists the terminal state.
func (r *Recorder) JobFinished(ctx context.Context, _ BatchRef, job domain.Job) {
	r.updateJob(ctx, job)
}

// BatchFinished persists the final batch status.
func (r *Recorder) BatchFinished(ctx context.Context, snapshot domain.BatchSnapshot) {
	ctx, cancel := r.writeCtx(ctx)
	defer cancel()

	finishedAt := time.Now()
	if snapshot.FinishedAt != nil {
		finishedAt = *snapshot.FinishedAt
	}
	if err := r.store.FinishBatch(ctx, snapshot.BatchID, snapshot.Status, finishedAt); err != nil {
		r.logger.Error().Err(err).Str("batch_id", snapshot.BatchID.String()).Msg("failed to persist batch status")
	}
}

func (r *Recorder) updateJob(ctx context.Context, job domain.Job) {
	ctx, cancel := r.writeCtx(ctx)
	defer cancel()

	if err := r.store.UpdateJob(ctx, job); err != nil {
		r.logger.Error().Err(err).
			Str("batch_id", job.BatchID.String()).
			Str("job_id", job.ID.String()).
			Str("state", string(job.State)).
			Msg("failed to persist job state")
	}
}
