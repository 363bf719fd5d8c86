package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/keyword-research-service/internal/domain"
)

// CommandCancel asks for a running batch to stop dequeuing jobs.
const CommandCancel = "cancel"

// Command is a batch command consumed from Kafka.
type Command struct {
	Command  string    `json:"command"`
	ClientID string    `json:"client_id"`
	BatchID  uuid.UUID `json:"batch_id"`
}

// Canceller cancels batches. *batch.Manager satisfies it.
type Canceller interface {
	Cancel(clientID string, id uuid.UUID) (domain.BatchSnapshot, error)
}

// messageReader is the subset of *kafka.Reader used by CommandListener.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ListenerConfig holds configuration for the command listener.
type ListenerConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic for batch commands.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

const (
	minReadBackoff = 100 * time.Millisecond
	maxReadBackoff = 5 * time.Second
)

// CommandListener consumes batch commands from Kafka and applies them.
type CommandListener struct {
	reader    messageReader
	canceller Canceller
	logger    zerolog.Logger

	// Read failures are retried after a delay that doubles from minBackoff
	// up to maxBackoff and resets after a successful read.
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewCommandListener creates a new command listener.
func NewCommandListener(cfg ListenerConfig, canceller Canceller, logger zerolog.Logger) *CommandListener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newCommandListener(reader, canceller, logger)
}

func newCommandListener(reader messageReader, canceller Canceller, logger zerolog.Logger) *CommandListener {
	return &CommandListener{
		reader:     reader,
		canceller:  canceller,
		logger:     logger.With().Str("component", "command_listener").Logger(),
		minBackoff: minReadBackoff,
		maxBackoff: maxReadBackoff,
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *CommandListener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting command listener")

	backoff := l.minBackoff
	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("command listener stopped via context cancellation")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				l.logger.Info().Msg("command listener stopped, reader closed")
				return nil
			}
			l.logger.Error().Err(err).Dur("retry_in", backoff).Msg("failed to read message from Kafka")
			select {
			case <-ctx.Done():
				l.logger.Info().Msg("command listener stopped via context cancellation")
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, l.maxBackoff)
			continue
		}
		backoff = l.minBackoff

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received batch command")

		var cmd Command
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			l.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("failed to unmarshal batch command")
			continue
		}

		if err := l.handle(cmd); err != nil {
			l.logger.Error().Err(err).
				Str("command", cmd.Command).
				Str("client_id", cmd.ClientID).
				Str("batch_id", cmd.BatchID.String()).
				Msg("failed to handle batch command")
		}
	}
}

func (l *CommandListener) handle(cmd Command) error {
	switch cmd.Command {
	case CommandCancel:
		snapshot, err := l.canceller.Cancel(cmd.ClientID, cmd.BatchID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				l.logger.Warn().
					Str("client_id", cmd.ClientID).
					Str("batch_id", cmd.BatchID.String()).
					Msg("cancel command for unknown batch")
				return nil
			}
			return fmt.Errorf("cancel batch: %w", err)
		}
		l.logger.Info().
			Str("batch_id", cmd.BatchID.String()).
			Str("status", string(snapshot.Status)).
			Msg("batch cancelled by command")
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
}

// Close closes the Kafka reader.
func (l *CommandListener) Close() error {
	l.logger.Info().Msg("closing command listener")
	return l.reader.Close()
}
