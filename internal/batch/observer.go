package batch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/keyword-research-service/internal/domain"
	"github.com/helixir/keyword-research-service/internal/observability"
)

// BatchRef identifies the batch a job event belongs to.
type BatchRef struct {
	ID       uuid.UUID
	ClientID string
}

// Observer is notified of batch and job lifecycle changes. Calls for one
// batch arrive from its worker goroutines, so implementations must be safe
// for concurrent use. BatchStarted is delivered before any job starts and
// BatchFinished after every job event. Observers cannot influence job
// outcomes; they should log their own failures.
type Observer interface {
	BatchStarted(ctx context.Context, snapshot domain.BatchSnapshot)
	JobStarted(ctx context.Context, ref BatchRef, job domain.Job)
	JobFinished(ctx context.Context, ref BatchRef, job domain.Job)
	BatchFinished(ctx context.Context, snapshot domain.BatchSnapshot)
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// some of the methods.
type NopObserver struct{}

func (NopObserver) BatchStarted(context.Context, domain.BatchSnapshot)  {}
func (NopObserver) JobStarted(context.Context, BatchRef, domain.Job)    {}
func (NopObserver) JobFinished(context.Context, BatchRef, domain.Job)   {}
func (NopObserver) BatchFinished(context.Context, domain.BatchSnapshot) {}

// MetricsObserver records batch-level metrics.
type MetricsObserver struct {
	NopObserver
	metrics *observability.Metrics
}

// NewMetricsObserver creates a MetricsObserver.
func NewMetricsObserver(metrics *observability.Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: metrics}
}

// BatchStarted records the batch submission and its size.
func (o *MetricsObserver) BatchStarted(_ context.Context, snapshot domain.BatchSnapshot) {
	o.metrics.RecordBatchSubmitted(len(snapshot.Jobs))
}

// BatchFinished records the batch outcome and duration.
func (o *MetricsObserver) BatchFinished(_ context.Context, snapshot domain.BatchSnapshot) {
	end := time.Now()
	if snapshot.FinishedAt != nil {
		end = *snapshot.FinishedAt
	}
	o.metrics.RecordBatchFinished(snapshot.Status == domain.BatchStatusCancelled, end.Sub(snapshot.CreatedAt).Seconds())
}
