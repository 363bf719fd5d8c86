package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for batch lifecycle events.
const (
	EventTypeBatchSubmitted = "keyword_batch.submitted"
	EventTypeBatchFinished  = "keyword_batch.finished"
	EventTypeJobStarted     = "keyword_batch.job_started"
	EventTypeJobFinished    = "keyword_batch.job_finished"
)

// Event is a lifecycle event published to downstream consumers.
type Event struct {
	EventID       string
	EventVersion  int
	AggregateID   string
	AggregateType string
	EventType     string
	ClientID      string
	Payload       []byte
	CreatedAt     time.Time
}

// NewEvent creates a new event with the given parameters.
// The payload is JSON-serialized automatically.
func NewEvent(eventType, aggregateID, clientID string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		AggregateID:   aggregateID,
		AggregateType: "keyword_batch",
		EventType:     eventType,
		ClientID:      clientID,
		Payload:       payloadBytes,
		CreatedAt:     time.Now(),
	}, nil
}

// BatchSubmittedPayload is the payload for keyword_batch.submitted events.
type BatchSubmittedPayload struct {
	BatchID     uuid.UUID `json:"batch_id"`
	ClientID    string    `json:"client_id"`
	Country     string    `json:"country"`
	Language    string    `json:"language"`
	Keywords    []string  `json:"keywords"`
	Concurrency int       `json:"concurrency"`
}

// BatchFinishedPayload is the payload for keyword_batch.finished events.
type BatchFinishedPayload struct {
	BatchID          uuid.UUID     `json:"batch_id"`
	ClientID         string        `json:"client_id"`
	Status           BatchStatus   `json:"status"`
	Pending          int           `json:"pending"`
	Completed        int           `json:"completed"`
	Error            int           `json:"error"`
	TotalResultCount int           `json:"total_result_count"`
	Duration         time.Duration `json:"duration_ns"`
}

// JobStartedPayload is the payload for keyword_batch.job_started events.
type JobStartedPayload struct {
	BatchID uuid.UUID `json:"batch_id"`
	JobID   uuid.UUID `json:"job_id"`
	Keyword string    `json:"keyword"`
}

// JobFinishedPayload is the payload for keyword_batch.job_finished events.
type JobFinishedPayload struct {
	BatchID          uuid.UUID `json:"batch_id"`
	JobID            uuid.UUID `json:"job_id"`
	Keyword          string    `json:"keyword"`
	State            JobState  `json:"state"`
	TrackingRecordID string    `json:"tracking_record_id,omitempty"`
	ResultCount      int       `json:"result_count"`
	ErrorMessage     string    `json:"error_message,omitempty"`
}
