package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/keyword-research-service/internal/batch"
	"github.com/helixir/keyword-research-service/internal/domain"
	"github.com/helixir/keyword-research-service/internal/observability"
)

// Header names set on every published message.
const (
	HeaderEventType = "event_type"
	HeaderClientID  = "client_id"
	HeaderSource    = "source"
)

const defaultServiceName = "keyword-research-service"

// messageWriter is the subset of *kafka.Writer used by Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	// WriteTimeout bounds each publish (default 5s).
	WriteTimeout time.Duration
	// ServiceName is set as the source header.
	ServiceName string
}

// message is the JSON body of a published event.
type message struct {
	EventID       string          `json:"event_id"`
	EventVersion  int             `json:"event_version"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	ClientID      string          `json:"client_id"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Publisher publishes batch lifecycle events to Kafka. It implements
// batch.Observer; publish failures are logged and counted, never returned.
type Publisher struct {
	writer       messageWriter
	source       string
	writeTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

var _ batch.Observer = (*Publisher)(nil)

// NewPublisher creates a Publisher backed by a kafka.Writer.
func NewPublisher(cfg PublisherConfig, metrics *observability.Metrics, logger zerolog.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return newPublisher(writer, cfg, metrics, logger)
}

func newPublisher(writer messageWriter, cfg PublisherConfig, metrics *observability.Metrics, logger zerolog.Logger) *Publisher {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Publisher{
		writer:       writer,
		source:       cfg.ServiceName,
		writeTimeout: cfg.WriteTimeout,
		metrics:      metrics,
		logger:       logger.With().Str("component", "event_publisher").Logger(),
	}
}

// BatchStarted publishes keyword_batch.submitted.
func (p *Publisher) BatchStarted(ctx context.Context, snapshot domain.BatchSnapshot) {
	keywords := make([]string, len(snapshot.Jobs))
	for i, job := range snapshot.Jobs {
		keywords[i] = job.Keyword
	}
	p.publish(ctx, domain.EventTypeBatchSubmitted, snapshot.BatchID.String(), snapshot.Params.ClientID, domain.BatchSubmittedPayload{
		BatchID:     snapshot.BatchID,
		ClientID:    snapshot.Params.ClientID,
		Country:     snapshot.Params.Country,
		Language:    snapshot.Params.Language,
		Keywords:    keywords,
		Concurrency: snapshot.Concurrency,
	})
}

// JobStarted publishes keyword_batch.job_started.
func (p *Publisher) JobStarted(ctx context.Context, ref batch.BatchRef, job domain.Job) {
	p.publish(ctx, domain.EventTypeJobStarted, ref.ID.String(), ref.ClientID, domain.JobStartedPayload{
		BatchID: ref.ID,
		JobID:   job.ID,
		Keyword: job.Keyword,
	})
}

// JobFinished publishes keyword_batch.job_finished.
func (p *Publisher) JobFinished(ctx context.Context, ref batch.BatchRef, job domain.Job) {
	p.publish(ctx, domain.EventTypeJobFinished, ref.ID.String(), ref.ClientID, domain.JobFinishedPayload{
		BatchID:          ref.ID,
		JobID:            job.ID,
		Keyword:          job.Keyword,
		State:            job.State,
		TrackingRecordID: job.TrackingRecordID,
		ResultCount:      job.ResultCount,
		ErrorMessage:     job.ErrorMessage,
	})
}

// BatchFinished publishes keyword_batch.finished.
func (p *Publisher) BatchFinished(ctx context.Context, snapshot domain.BatchSnapshot) {
	var duration time.Duration
	if snapshot.FinishedAt != nil {
		duration = snapshot.FinishedAt.Sub(snapshot.CreatedAt)
	}
	p.publish(ctx, domain.EventTypeBatchFinished, snapshot.BatchID.String(), snapshot.Params.ClientID, domain.BatchFinishedPayload{
		BatchID:          snapshot.BatchID,
		ClientID:         snapshot.Params.ClientID,
		Status:           snapshot.Status,
		Pending:          snapshot.Counts.Pending,
		Completed:        snapshot.Counts.Completed,
		Error:            snapshot.Counts.Error,
		TotalResultCount: snapshot.Counts.TotalResultCount,
		Duration:         duration,
	})
}

func (p *Publisher) publish(ctx context.Context, eventType, batchID, clientID string, payload interface{}) {
	err := p.write(ctx, eventType, batchID, clientID, payload)
	if p.metrics != nil {
		p.metrics.RecordEventPublished(eventType, err)
	}
	if err != nil {
		p.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("batch_id", batchID).
			Msg("failed to publish event")
	}
}

func (p *Publisher) write(ctx context.Context, eventType, batchID, clientID string, payload interface{}) error {
	event, err := domain.NewEvent(eventType, batchID, clientID, payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	body, err := json.Marshal(message{
		EventID:       event.EventID,
		EventVersion:  event.EventVersion,
		EventType:     event.EventType,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		ClientID:      event.ClientID,
		Source:        p.source,
		CorrelationID: observability.RequestIDFromContext(ctx),
		Payload:       event.Payload,
		CreatedAt:     event.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(batchID),
		Value: body,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(eventType)},
			{Key: HeaderClientID, Value: []byte(clientID)},
			{Key: HeaderSource, Value: []byte(p.source)},
		},
		Time: event.CreatedAt,
	})
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	p.logger.Info().Msg("closing event publisher")
	return p.writer.Close()
}
