package eventual

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/keyword-research-service/internal/domain"
	"github.com/helixir/keyword-research-service/internal/observability"
)

// ResultSource reads one result set of a tracking record.
type ResultSource interface {
	ReadResult(ctx context.Context, recordID string, kind domain.ResultKind) (domain.ReadResult, error)
}

// Config holds attempt budgets per result kind.
type Config struct {
	PrimaryAttempts int
	RawAttempts     int
	Delay           time.Duration
}

// DefaultConfig returns the standard budgets: five primary attempts and
// three raw attempts, 1.5s apart.
func DefaultConfig() Config {
	return Config{
		PrimaryAttempts: 5,
		RawAttempts:     3,
		Delay:           1500 * time.Millisecond,
	}
}

// Outcome is the result of a retrying read.
type Outcome struct {
	Result domain.ReadResult
	// Ready is true when the read returned items. When false the empty
	// result is inconclusive: the backend may still be producing it.
	Ready    bool
	Attempts int
}

// Reader reads tracking record results with the retry policy of their kind.
type Reader struct {
	source  ResultSource
	cfg     Config
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewReader creates a Reader. metrics may be nil.
func NewReader(source ResultSource, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Reader {
	return &Reader{
		source:  source,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With().Str("component", "eventual_reader").Logger(),
	}
}

// Policy returns the retry policy used for kind.
func (r *Reader) Policy(kind domain.ResultKind) Policy[domain.ReadResult] {
	attempts := r.cfg.PrimaryAttempts
	if kind == domain.ResultKindRaw {
		attempts = r.cfg.RawAttempts
	}
	return Policy[domain.ReadResult]{
		MaxAttempts: attempts,
		Delay:       r.cfg.Delay,
		IsReady:     domain.ReadResult.HasItems,
	}
}

// Read reads a result set, retrying while it is absent or empty.
func (r *Reader) Read(ctx context.Context, recordID string, kind domain.ResultKind) (Outcome, error) {
	read := func(ctx context.Context) (domain.ReadResult, error) {
		res, err := r.source.ReadResult(ctx, recordID, kind)
		if err != nil {
			r.logger.Debug().Err(err).Str("tracking_record_id", recordID).Str("kind", string(kind)).Msg("result read failed, will retry")
		}
		return res, err
	}

	res, attempts, err := ReadWithRetry(ctx, read, r.Policy(kind))
	if err != nil {
		return Outcome{Result: res, Attempts: attempts}, err
	}

	out := Outcome{Result: res, Ready: res.HasItems(), Attempts: attempts}
	if r.metrics != nil {
		r.metrics.RecordEventualRead(string(kind), out.Ready, attempts)
	}
	if !out.Ready {
		r.logger.Info().
			Str("tracking_record_id", recordID).
			Str("kind", string(kind)).
			Int("attempts", attempts).
			Msg("result still unavailable after retries")
	}
	return out, nil
}
