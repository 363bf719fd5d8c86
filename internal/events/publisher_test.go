package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/keyword-research-service/internal/batch"
	"github.com/helixir/keyword-research-service/internal/domain"
	"github.com/helixir/keyword-research-service/internal/observability"
)

// MockWriter is a mock implementation of messageWriter for testing.
type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestPublisher_JobFinished(t *testing.T) {
	writer := new(MockWriter)
	p := newPublisher(writer, PublisherConfig{ServiceName: "test-service"}, nil, zerolog.Nop())

	ref := batch.BatchRef{ID: uuid.New(), ClientID: "client-1"}
	job := domain.NewJob(ref.ID, 0, "running shoes")
	job.State = domain.JobStateCompleted
	job.TrackingRecordID = "rec-1"
	job.ResultCount = 12

	var captured kafka.Message
	writer.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		return len(msgs) == 1
	})).Run(func(args mock.Arguments) {
		captured = args.Get(1).([]kafka.Message)[0]
	}).Return(nil)

	ctx := observability.WithRequestID(context.Background(), "req-123")
	p.JobFinished(ctx, ref, job)

	writer.AssertExpectations(t)
	assert.Equal(t, ref.ID.String(), string(captured.Key))
	assert.Equal(t, domain.EventTypeJobFinished, header(captured, HeaderEventType))
	assert.Equal(t, "client-1", header(captured, HeaderClientID))
	assert.Equal(t, "test-service", header(captured, HeaderSource))

	var body message
	require.NoError(t, json.Unmarshal(captured.Value, &body))
	assert.NotEmpty(t, body.EventID)
	assert.Equal(t, "keyword_batch", body.AggregateType)
	assert.Equal(t, ref.ID.String(), body.AggregateID)
	assert.Equal(t, "req-123", body.CorrelationID)

	var payload domain.JobFinishedPayload
	require.NoError(t, json.Unmarshal(body.Payload, &payload))
	assert.Equal(t, job.ID, payload.JobID)
	assert.Equal(t, domain.JobStateCompleted, payload.State)
	assert.Equal(t, 12, payload.ResultCount)
	assert.Equal(t, "rec-1", payload.TrackingRecordID)
}

func TestPublisher_BatchLifecycle(t *testing.T) {
	writer := new(MockWriter)
	p := newPublisher(writer, PublisherConfig{}, nil, zerolog.Nop())

	var types []string
	writer.On("WriteMessages", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		for _, msg := range args.Get(1).([]kafka.Message) {
			types = append(types, header(msg, HeaderEventType))
		}
	}).Return(nil)

	id := uuid.New()
	created := time.Now().Add(-time.Second)
	finished := time.Now()
	snapshot := domain.BatchSnapshot{
		BatchID:   id,
		Params:    domain.SharedParams{ClientID: "client-1", Country: "US", Language: "en"},
		Status:    domain.BatchStatusRunning,
		Jobs:      []domain.Job{domain.NewJob(id, 0, "a"), domain.NewJob(id, 1, "b")},
		CreatedAt: created,
	}

	p.BatchStarted(context.Background(), snapshot)
	snapshot.Status = domain.BatchStatusCompleted
	snapshot.FinishedAt = &finished
	p.BatchFinished(context.Background(), snapshot)

	assert.Equal(t, []string{domain.EventTypeBatchSubmitted, domain.EventTypeBatchFinished}, types)
}

func TestPublisher_WriteFailureIsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWithRegistry("test", reg)

	writer := new(MockWriter)
	writer.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))
	p := newPublisher(writer, PublisherConfig{WriteTimeout: time.Second}, metrics, zerolog.Nop())

	ref := batch.BatchRef{ID: uuid.New(), ClientID: "client-1"}
	assert.NotPanics(t, func() {
		p.JobStarted(context.Background(), ref, domain.NewJob(ref.ID, 0, "a"))
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.EventsPublished.WithLabelValues(domain.EventTypeJobStarted, "failure")))
}

func TestPublisher_Close(t *testing.T) {
	writer := new(MockWriter)
	writer.On("Close").Return(nil)
	p := newPublisher(writer, PublisherConfig{}, nil, zerolog.Nop())

	assert.NoError(t, p.Close())
	writer.AssertExpectations(t)
}
