package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/keyword-research-service/internal/batch"
	"github.com/helixir/keyword-research-service/internal/domain"
)

// txBeginner is an interface for types that can begin a transaction (e.g., *pgxpool.Pool, *database.DB).
// Multi-statement writes open their own transaction when the underlying
// DBTX is a pool rather than an existing transaction.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation = "23505" // unique_violation
)

// abandonedJobMessage is the error recorded for jobs that were processing
// when the service stopped.
const abandonedJobMessage = "interrupted by service restart"

// jobColumnsPerRow is the number of placeholders per job in the bulk insert.
const jobColumnsPerRow = 6

// Compile-time interface verification.
var (
	_ BatchRepository = (*PgBatchRepository)(nil)
	_ batch.Store     = (*PgBatchRepository)(nil)
	_ batch.History   = (*PgBatchRepository)(nil)
)

// PgBatchRepository is a PostgreSQL implementation of BatchRepository.
type PgBatchRepository struct {
	db DBTX
}

// NewPgBatchRepository creates a new PostgreSQL batch repository.
func NewPgBatchRepository(db DBTX) *PgBatchRepository {
	return &PgBatchRepository{db: db}
}

// inTx runs fn in a transaction when the repository holds a pool, or
// directly when it already runs inside one.
func (r *PgBatchRepository) inTx(ctx context.Context, fn func(repo *PgBatchRepository) error) error {
	beginner, ok := r.db.(txBeginner)
	if !ok {
		return fn(r)
	}

	tx, err := beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PgBatchRepository{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateBatch inserts the batch row and all of its jobs atomically.
func (r *PgBatchRepository) CreateBatch(ctx context.Context, b domain.BatchRecord, jobs []domain.Job) error {
	if b.ID == uuid.Nil {
		return domain.NewValidationError("id", "batch ID is required")
	}
	if b.Params.ClientID == "" {
		return domain.NewValidationError("client_id", "client ID is required")
	}
	if len(jobs) == 0 {
		return domain.NewValidationError("jobs", "at least one job is required")
	}

	return r.inTx(ctx, func(repo *PgBatchRepository) error {
		if err := repo.insertBatch(ctx, b); err != nil {
			return err
		}
		return repo.insertJobs(ctx, b.ID, b.CreatedAt, jobs)
	})
}

func (r *PgBatchRepository) insertBatch(ctx context.Context, b domain.BatchRecord) error {
	query := `
		INSERT INTO keyword_batches (
			id, client_id, country, language, status,
			concurrency, job_count, created_at, updated_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		b.ID, b.Params.ClientID, b.Params.Country, b.Params.Language, b.Status,
		b.Concurrency, b.JobCount, b.CreatedAt, b.UpdatedAt, b.FinishedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("batch", b.ID.String())
		}
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

func (r *PgBatchRepository) insertJobs(ctx context.Context, batchID uuid.UUID, now time.Time, jobs []domain.Job) error {
	valueStrings := make([]string, 0, len(jobs))
	args := make([]interface{}, 0, len(jobs)*jobColumnsPerRow)

	for i, job := range jobs {
		base := i * jobColumnsPerRow
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, job.ID, batchID, job.Position, job.Keyword, job.State, now)
	}

	query := fmt.Sprintf(`
		INSERT INTO keyword_batch_jobs (id, batch_id, position, keyword, state, updated_at)
		VALUES %s`, strings.Join(valueStrings, ", "))

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create batch jobs: %w", err)
	}
	return nil
}

// UpdateJob writes the job's current state unless it is already terminal.
func (r *PgBatchRepository) UpdateJob(ctx context.Context, job domain.Job) error {
	query := `
		UPDATE keyword_batch_jobs SET
			state = $1,
			tracking_record_id = $2,
			result_count = $3,
			error_message = $4,
			started_at = $5,
			completed_at = $6,
			updated_at = $7
		WHERE id = $8 AND batch_id = $9
			AND state IN ('pending', 'processing')`

	tag, err := r.db.Exec(ctx, query,
		job.State,
		nullString(job.TrackingRecordID),
		job.ResultCount,
		nullString(job.ErrorMessage),
		job.StartedAt,
		job.CompletedAt,
		time.Now().UTC(),
		job.ID, job.BatchID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("job", job.ID.String())
	}
	return nil
}

// FinishBatch records the batch's final status.
func (r *PgBatchRepository) FinishBatch(ctx context.Context, batchID uuid.UUID, status domain.BatchStatus, finishedAt time.Time) error {
	query := `
		UPDATE keyword_batches
		SET status = $1, finished_at = $2, updated_at = $3
		WHERE id = $4`

	tag, err := r.db.Exec(ctx, query, status, finishedAt, time.Now().UTC(), batchID)
	if err != nil {
		return fmt.Errorf("failed to finish batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("batch", batchID.String())
	}
	return nil
}

// GetBatch returns the batch with its jobs and derived counts.
func (r *PgBatchRepository) GetBatch(ctx context.Context, clientID string, id uuid.UUID) (*domain.BatchSnapshot, error) {
	query := `
		SELECT id, client_id, country, language, status,
			concurrency, job_count, created_at, updated_at, finished_at
		FROM keyword_batches
		WHERE id = $1 AND client_id = $2`

	record, err := scanBatchRecord(r.db.QueryRow(ctx, query, id, clientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("batch", id.String())
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	jobs, err := r.ListJobs(ctx, id)
	if err != nil {
		return nil, err
	}

	return &domain.BatchSnapshot{
		BatchID:     record.ID,
		Params:      record.Params,
		Status:      record.Status,
		Concurrency: record.Concurrency,
		Counts:      batch.Aggregate(jobs),
		Jobs:        jobs,
		CreatedAt:   record.CreatedAt,
		FinishedAt:  record.FinishedAt,
	}, nil
}

// ListBatches returns the client's batches, newest first, with counts.
func (r *PgBatchRepository) ListBatches(ctx context.Context, clientID string, limit int) ([]domain.BatchSnapshot, error) {
	offset := 0
	applyPaginationDefaults(&limit, &offset)

	query := `
		SELECT b.id, b.client_id, b.country, b.language, b.status,
			b.concurrency, b.created_at, b.finished_at,
			COUNT(j.id) FILTER (WHERE j.state = 'pending'),
			COUNT(j.id) FILTER (WHERE j.state = 'processing'),
			COUNT(j.id) FILTER (WHERE j.state = 'completed'),
			COUNT(j.id) FILTER (WHERE j.state = 'error'),
			COALESCE(SUM(j.result_count) FILTER (WHERE j.state = 'completed'), 0)
		FROM keyword_batches b
		LEFT JOIN keyword_batch_jobs j ON j.batch_id = b.id
		WHERE b.client_id = $1
		GROUP BY b.id
		ORDER BY b.created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	snapshots := make([]domain.BatchSnapshot, 0)
	for rows.Next() {
		var s domain.BatchSnapshot
		if err := rows.Scan(
			&s.BatchID, &s.Params.ClientID, &s.Params.Country, &s.Params.Language, &s.Status,
			&s.Concurrency, &s.CreatedAt, &s.FinishedAt,
			&s.Counts.Pending, &s.Counts.Processing, &s.Counts.Completed, &s.Counts.Error,
			&s.Counts.TotalResultCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		snapshots = append(snapshots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batches: %w", err)
	}

	return snapshots, nil
}

// ListJobs returns a batch's jobs ordered by position.
func (r *PgBatchRepository) ListJobs(ctx context.Context, batchID uuid.UUID) ([]domain.Job, error) {
	query := `
		SELECT id, batch_id, position, keyword, state,
			tracking_record_id, result_count, error_message, started_at, completed_at
		FROM keyword_batch_jobs
		WHERE batch_id = $1
		ORDER BY position`

	rows, err := r.db.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// AbandonRunning closes out batches left running by a previous process.
func (r *PgBatchRepository) AbandonRunning(ctx context.Context, at time.Time) (int64, error) {
	var closed int64
	err := r.inTx(ctx, func(repo *PgBatchRepository) error {
		jobQuery := `
			UPDATE keyword_batch_jobs j SET
				state = 'error',
				error_message = $1,
				completed_at = $2,
				updated_at = $2
			FROM keyword_batches b
			WHERE j.batch_id = b.id
				AND b.status IN ('running', 'cancelling')
				AND j.state = 'processing'`
		if _, err := repo.db.Exec(ctx, jobQuery, abandonedJobMessage, at); err != nil {
			return fmt.Errorf("failed to abandon jobs: %w", err)
		}

		batchQuery := `
			UPDATE keyword_batches
			SET status = 'cancelled', finished_at = $1, updated_at = $1
			WHERE status IN ('running', 'cancelling')`
		tag, err := repo.db.Exec(ctx, batchQuery, at)
		if err != nil {
			return fmt.Errorf("failed to abandon batches: %w", err)
		}
		closed = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return closed, nil
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

func scanBatchRecord(row pgx.Row) (*domain.BatchRecord, error) {
	var b domain.BatchRecord
	if err := row.Scan(
		&b.ID, &b.Params.ClientID, &b.Params.Country, &b.Params.Language, &b.Status,
		&b.Concurrency, &b.JobCount, &b.CreatedAt, &b.UpdatedAt, &b.FinishedAt,
	); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanJob(rows pgx.Rows) (domain.Job, error) {
	var (
		job              domain.Job
		trackingRecordID *string
		errorMessage     *string
	)
	if err := rows.Scan(
		&job.ID, &job.BatchID, &job.Position, &job.Keyword, &job.State,
		&trackingRecordID, &job.ResultCount, &errorMessage, &job.StartedAt, &job.CompletedAt,
	); err != nil {
		return domain.Job{}, err
	}
	if trackingRecordID != nil {
		job.TrackingRecordID = *trackingRecordID
	}
	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}
	return job, nil
}

// nullString converts an empty string to a nil pointer for nullable columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
