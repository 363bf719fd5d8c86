// Package repository provides the PostgreSQL audit trail for keyword batches.
//
// # Overview
//
// BatchRepository stores every batch together with the state of each of its
// jobs. The batch scheduler writes through it as jobs progress, and the API
// reads from it once a batch has been pruned from memory or the service has
// restarted. Batches found running at startup are closed out, never resumed.
//
// # Thread Safety
//
// All repository implementations are safe for concurrent use by multiple goroutines.
// The underlying pgxpool handles connection pooling and synchronization.
//
// # Error Handling
//
// All methods return domain-specific errors from the domain package.
// Database errors are wrapped with context using fmt.Errorf with %w.
// Common errors include:
//
//   - domain.ErrNotFound: Resource does not exist
//   - domain.ErrAlreadyExists: Unique constraint violation
//   - domain.ErrInvalidInput: Invalid parameters provided
//
// # Usage Pattern
//
//	db, _ := database.New(ctx, cfg, logger)
//	batchRepo := repository.NewPgBatchRepository(db)
package repository

import (
	"github.com/helixir/keyword-research-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
// Pass a pgx.Tx instead of the pool to run repository calls inside a
// caller-owned transaction.
type DBTX = database.DBTX

// Pagination defaults and limits.
const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// applyPaginationDefaults normalizes limit and offset values for list queries.
// It clamps limit to [1, maxFilterLimit] and ensures offset >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}
