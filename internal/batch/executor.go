package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/keyword-research-service/internal/domain"
	"github.com/helixir/keyword-research-service/internal/observability"
)

// Steps of the job workflow, used in failure metrics and logs.
const (
	StepCreateRecord = "create_record"
	StepRunResearch  = "run_research"
	StepPatchRecord  = "patch_record"
	StepInternal     = "internal"
)

// Fallback messages used when the research API gives none.
const (
	msgCreateFailed = "failed to create tracking record"
	msgRunFailed    = "research action failed"
	msgRunTimedOut  = "research action timed out"
)

// RemoteClient is the subset of the research API a job uses.
type RemoteClient interface {
	CreateTrackingRecord(ctx context.Context, keyword string, params domain.SharedParams) (string, error)
	RunResearchAction(ctx context.Context, keyword string, params domain.SharedParams, recordID string) ([]domain.ResearchItem, error)
	PatchTrackingRecord(ctx context.Context, recordID, status string, itemCount int) error
}

// Outcome is the terminal result of one job.
type Outcome struct {
	State            domain.JobState
	TrackingRecordID string
	ResultCount      int
	ErrorMessage     string
	// FailedStep names the step that failed; empty on success.
	FailedStep string
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// RunTimeout bounds the research action call (0 = no extra bound).
	RunTimeout time.Duration
}

// Executor runs the three-step workflow of a single job.
type Executor struct {
	client     RemoteClient
	runTimeout time.Duration
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewExecutor creates an Executor. metrics may be nil.
func NewExecutor(client RemoteClient, cfg ExecutorConfig, metrics *observability.Metrics, logger zerolog.Logger) *Executor {
	return &Executor{
		client:     client,
		runTimeout: cfg.RunTimeout,
		metrics:    metrics,
		logger:     logger.With().Str("component", "job_executor").Logger(),
	}
}

// Execute runs job to a terminal state and never returns a processing
// outcome. Steps run strictly in order and each runs only if the previous
// one succeeded. A failed status patch does not fail the job.
func (e *Executor) Execute(ctx context.Context, job domain.Job, params domain.SharedParams) (out Outcome) {
	start := time.Now()
	logger := observability.WithJobContext(observability.LoggerFromContext(ctx, e.logger), job.ID.String(), job.Keyword)

	if e.metrics != nil {
		e.metrics.RecordJobStarted()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("job panicked")
			out = Outcome{
				State:            domain.JobStateError,
				TrackingRecordID: out.TrackingRecordID,
				ErrorMessage:     fmt.Sprintf("internal error: %v", r),
				FailedStep:       StepInternal,
			}
		}
		e.record(logger, out, time.Since(start))
	}()

	recordID, err := e.client.CreateTrackingRecord(ctx, job.Keyword, params)
	if err != nil {
		return failed(StepCreateRecord, "", domain.RemoteMessage(err, msgCreateFailed), err, logger)
	}
	if recordID == "" {
		return failed(StepCreateRecord, "", msgCreateFailed, domain.ErrMissingRecordID, logger)
	}
	out.TrackingRecordID = recordID
	logger = observability.WithRecordContext(logger, recordID)

	items, err := e.run(ctx, job.Keyword, params, recordID)
	if err != nil {
		msg := domain.RemoteMessage(err, msgRunFailed)
		if errors.Is(err, context.DeadlineExceeded) {
			msg = msgRunTimedOut
		}
		return failed(StepRunResearch, recordID, msg, err, logger)
	}
	if len(items) == 0 {
		return failed(StepRunResearch, recordID, domain.ErrNoResults.Error(), domain.ErrNoResults, logger)
	}

	if err := e.client.PatchTrackingRecord(ctx, recordID, domain.RecordStatusDiscovered, len(items)); err != nil {
		logger.Warn().Err(err).Msg("tracking record status patch failed, keeping job completed")
		if e.metrics != nil {
			e.metrics.RecordPatchFailed()
		}
	}

	return Outcome{
		State:            domain.JobStateCompleted,
		TrackingRecordID: recordID,
		ResultCount:      len(items),
	}
}

func (e *Executor) run(ctx context.Context, keyword string, params domain.SharedParams, recordID string) ([]domain.ResearchItem, error) {
	if e.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.runTimeout)
		defer cancel()
	}
	return e.client.RunResearchAction(ctx, keyword, params, recordID)
}

func failed(step, recordID, message string, err error, logger zerolog.Logger) Outcome {
	logger.Warn().Err(err).Str("step", step).Msg("job failed")
	return Outcome{
		State:            domain.JobStateError,
		TrackingRecordID: recordID,
		ErrorMessage:     message,
		FailedStep:       step,
	}
}

func (e *Executor) record(logger zerolog.Logger, out Outcome, elapsed time.Duration) {
	if out.State == domain.JobStateCompleted {
		logger.Info().Int("result_count", out.ResultCount).Dur("duration", elapsed).Msg("job completed")
	}
	if e.metrics == nil {
		return
	}
	if out.State == domain.JobStateCompleted {
		e.metrics.RecordJobCompleted(out.ResultCount, elapsed.Seconds())
	} else {
		e.metrics.RecordJobFailed(out.FailedStep, elapsed.Seconds())
	}
}
