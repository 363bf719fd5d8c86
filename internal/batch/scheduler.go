package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/keyword-research-service/internal/domain"
	"github.com/helixir/keyword-research-service/internal/observability"
)

// JobRunner runs one job to a terminal outcome.
type JobRunner interface {
	Execute(ctx context.Context, job domain.Job, params domain.SharedParams) Outcome
}

// Scheduler runs batches on a bounded pool of workers per batch.
type Scheduler struct {
	runner      JobRunner
	concurrency int
	observers   []Observer
	logger      zerolog.Logger
}

// NewScheduler creates a Scheduler that runs at most concurrency jobs of a
// batch at once. Values below 1 are treated as 1.
func NewScheduler(runner JobRunner, concurrency int, logger zerolog.Logger, observers ...Observer) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		runner:      runner,
		concurrency: concurrency,
		observers:   observers,
		logger:      logger.With().Str("component", "batch_scheduler").Logger(),
	}
}

// Concurrency returns the per-batch worker limit.
func (s *Scheduler) Concurrency() int {
	return s.concurrency
}

// Start begins processing jobs in order and returns immediately. The jobs
// must all be pending. Observers hear BatchStarted before any job starts,
// from the batch's own goroutine. Work continues after ctx is cancelled:
// only the returned handle's Cancel stops a batch, and only at dequeue.
func (s *Scheduler) Start(ctx context.Context, batchID uuid.UUID, params domain.SharedParams, jobs []domain.Job) *Handle {
	h := newHandle(batchID, params, s.concurrency, jobs)
	runCtx := observability.WithRequestContextFull(context.WithoutCancel(ctx), observability.RequestContext{
		ClientID: params.ClientID,
		BatchID:  batchID.String(),
	})
	logger := observability.WithBatchContext(s.logger, batchID.String(), params.ClientID)
	initial := h.Snapshot()

	go s.run(runCtx, h, initial, logger)

	return h
}

// run announces the batch, runs its workers to completion and closes the
// handle's done channel.
func (s *Scheduler) run(ctx context.Context, h *Handle, initial domain.BatchSnapshot, logger zerolog.Logger) {
	s.notify(logger, func(o Observer) { o.BatchStarted(ctx, initial) })

	workers := min(s.concurrency, len(initial.Jobs))
	logger.Info().Int("jobs", len(initial.Jobs)).Int("workers", workers).Msg("batch started")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.work(ctx, h, logger)
		}()
	}
	wg.Wait()

	snapshot := h.finish()
	s.notify(logger, func(o Observer) { o.BatchFinished(ctx, snapshot) })
	logger.Info().
		Str("status", string(snapshot.Status)).
		Int("completed", snapshot.Counts.Completed).
		Int("error", snapshot.Counts.Error).
		Int("pending", snapshot.Counts.Pending).
		Int("total_result_count", snapshot.Counts.TotalResultCount).
		Msg("batch finished")
	close(h.done)
}

// work is one worker's loop: dequeue, execute, record, repeat. It returns
// when the queue is empty or the batch was cancelled.
func (s *Scheduler) work(ctx context.Context, h *Handle, logger zerolog.Logger) {
	ref := BatchRef{ID: h.id, ClientID: h.params.ClientID}
	for {
		idx, job, ok := h.dequeue()
		if !ok {
			return
		}
		s.notify(logger, func(o Observer) { o.JobStarted(ctx, ref, job) })

		out := s.runner.Execute(ctx, job, h.params)

		finished := h.complete(idx, out)
		s.notify(logger, func(o Observer) { o.JobFinished(ctx, ref, finished) })
	}
}

// notify calls fn for every observer, containing observer panics.
func (s *Scheduler) notify(logger zerolog.Logger, fn func(Observer)) {
	for _, o := range s.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Interface("panic", r).Msg("batch observer panicked")
				}
			}()
			fn(o)
		}()
	}
}

// Handle controls and observes one running batch.
type Handle struct {
	id          uuid.UUID
	params      domain.SharedParams
	concurrency int
	createdAt   time.Time
	done        chan struct{}

	mu         sync.Mutex
	jobs       []domain.Job
	next       int
	cancelled  bool
	finished   bool
	finishedAt *time.Time
}

func newHandle(id uuid.UUID, params domain.SharedParams, concurrency int, jobs []domain.Job) *Handle {
	owned := make([]domain.Job, len(jobs))
	copy(owned, jobs)
	return &Handle{
		id:          id,
		params:      params,
		concurrency: concurrency,
		createdAt:   time.Now(),
		done:        make(chan struct{}),
		jobs:        owned,
	}
}

// ID returns the batch ID.
func (h *Handle) ID() uuid.UUID { return h.id }

// Params returns the batch's shared parameters.
func (h *Handle) Params() domain.SharedParams { return h.params }

// CreatedAt returns when the batch was started.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// Done is closed once every worker has stopped and observers have been
// told the batch finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the batch is done or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops workers from dequeuing further jobs. Jobs already dequeued
// run to completion. It reports whether this call cancelled the batch; it
// returns false when the batch was already cancelled or has finished.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled || h.finished {
		return false
	}
	h.cancelled = true
	return true
}

// Cancelled reports whether Cancel has taken effect.
func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Snapshot returns a consistent copy of the batch's current state.
func (h *Handle) Snapshot() domain.BatchSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Handle) snapshotLocked() domain.BatchSnapshot {
	jobs := make([]domain.Job, len(h.jobs))
	copy(jobs, h.jobs)
	return domain.BatchSnapshot{
		BatchID:     h.id,
		Params:      h.params,
		Status:      h.statusLocked(),
		Concurrency: h.concurrency,
		Counts:      Aggregate(jobs),
		Jobs:        jobs,
		CreatedAt:   h.createdAt,
		FinishedAt:  h.finishedAt,
	}
}

func (h *Handle) statusLocked() domain.BatchStatus {
	switch {
	case h.finished && h.cancelled:
		return domain.BatchStatusCancelled
	case h.finished:
		return domain.BatchStatusCompleted
	case h.cancelled:
		return domain.BatchStatusCancelling
	default:
		return domain.BatchStatusRunning
	}
}

// dequeue hands out the next pending job and marks it processing. The
// cancellation check and the dequeue happen under the same lock as Cancel,
// so no job is dequeued after Cancel returns.
func (h *Handle) dequeue() (int, domain.Job, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled || h.next >= len(h.jobs) {
		return -1, domain.Job{}, false
	}
	idx := h.next
	h.next++

	now := time.Now()
	h.jobs[idx].State = domain.JobStateProcessing
	h.jobs[idx].StartedAt = &now
	return idx, h.jobs[idx], true
}

// complete applies a job's outcome and returns a copy of the updated job.
// Outcomes that are not terminal are recorded as errors so that no job is
// left processing.
func (h *Handle) complete(idx int, out Outcome) domain.Job {
	h.mu.Lock()
	defer h.mu.Unlock()

	job := &h.jobs[idx]
	state := out.State
	if !job.State.CanTransitionTo(state) {
		state = domain.JobStateError
		if out.ErrorMessage == "" {
			out.ErrorMessage = "job ended in an invalid state: " + string(out.State)
		}
	}

	now := time.Now()
	job.State = state
	job.TrackingRecordID = out.TrackingRecordID
	job.CompletedAt = &now
	if state == domain.JobStateCompleted {
		job.ResultCount = out.ResultCount
		job.ErrorMessage = ""
	} else {
		job.ResultCount = 0
		job.ErrorMessage = out.ErrorMessage
	}
	return *job
}

// finish marks the batch finished and returns its final snapshot.
func (h *Handle) finish() domain.BatchSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.finished = true
	h.finishedAt = &now
	return h.snapshotLocked()
}

// Finished reports whether the batch has finished.
func (h *Handle) Finished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finished
}

// FinishedAt returns when the batch finished, or nil while it runs.
func (h *Handle) FinishedAt() *time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finishedAt
}
