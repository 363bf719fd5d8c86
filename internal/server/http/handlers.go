package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/keyword-research-service/internal/domain"
	"github.com/helixir/keyword-research-service/internal/observability"
)

const (
	maxRequestBodySize   = 1 << 20 // 1 MB limit for request bodies
	maxIdempotencyKeyLen = 255
	maxRecordIDLength    = 128
	readinessTimeout     = 2 * time.Second
	idempotencyHeader    = "Idempotency-Key"
)

// submitBatchRequest is the JSON request body for submitting a keyword batch.
// Blank and duplicate keywords are accepted here and dropped by the manager.
type submitBatchRequest struct {
	Keywords []string `json:"keywords" validate:"required,min=1,max=1000,dive,max=256"`
	Country  string   `json:"country" validate:"required,max=64"`
	Language string   `json:"language" validate:"required,max=64"`
}

// submitBatch handles POST /keyword-batches.
func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := observability.ClientIDFromContext(ctx)

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req submitBatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	req.Country = strings.TrimSpace(req.Country)
	req.Language = strings.TrimSpace(req.Language)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	params := domain.SharedParams{ClientID: clientID, Country: req.Country, Language: req.Language}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key != "" && s.idempotency != nil {
		if len(key) > maxIdempotencyKeyLen {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be at most %d characters", idempotencyHeader, maxIdempotencyKeyLen))
			return
		}
		res, err := s.idempotency.Reserve(ctx, clientID, key)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !res.Reserved {
			existing, err := s.batches.Get(ctx, clientID, res.BatchID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			if s.metrics != nil {
				s.metrics.RecordIdempotentReplay()
			}
			writeJSON(w, http.StatusOK, snapshotToResponse(existing))
			return
		}
	} else {
		key = ""
	}

	h, err := s.batches.SubmitBatch(ctx, req.Keywords, params)
	if err != nil {
		if key != "" {
			if relErr := s.idempotency.Release(ctx, clientID, key); relErr != nil {
				s.logger.Warn().Err(relErr).Str("client_id", clientID).Msg("failed to release idempotency key")
			}
		}
		writeDomainError(w, err)
		return
	}

	if key != "" {
		if err := s.idempotency.Commit(ctx, clientID, key, h.ID()); err != nil {
			s.logger.Warn().Err(err).Str("batch_id", h.ID().String()).Msg("failed to commit idempotency key")
		}
	}

	writeJSON(w, http.StatusAccepted, snapshotToResponse(h.Snapshot()))
}

// getBatch handles GET /keyword-batches/{batchID}.
func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := observability.ClientIDFromContext(ctx)

	batchID, ok := parseUUID(w, chi.URLParam(r, "batchID"), "batch_id")
	if !ok {
		return
	}

	snapshot, err := s.batches.Get(ctx, clientID, batchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshotToResponse(snapshot))
}

// listBatches handles GET /keyword-batches.
func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := observability.ClientIDFromContext(ctx)

	snapshots, err := s.batches.List(ctx, clientID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	batches := make([]batchResponse, len(snapshots))
	for i, snapshot := range snapshots {
		batches[i] = snapshotToResponse(snapshot)
	}

	writeJSON(w, http.StatusOK, listBatchesResponse{
		Batches:    batches,
		TotalCount: len(batches),
	})
}

// cancelBatch handles DELETE /keyword-batches/{batchID}.
// Jobs already in flight run to completion; pending jobs are never started.
func (s *Server) cancelBatch(w http.ResponseWriter, r *http.Request) {
	clientID := observability.ClientIDFromContext(r.Context())

	batchID, ok := parseUUID(w, chi.URLParam(r, "batchID"), "batch_id")
	if !ok {
		return
	}

	snapshot, err := s.batches.Cancel(clientID, batchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, snapshotToResponse(snapshot))
}

// getRecordKeywords handles GET /tracking-records/{recordID}/keywords.
func (s *Server) getRecordKeywords(w http.ResponseWriter, r *http.Request) {
	recordID := strings.TrimSpace(chi.URLParam(r, "recordID"))
	if recordID == "" || len(recordID) > maxRecordIDLength {
		writeError(w, http.StatusBadRequest, "record_id is invalid")
		return
	}

	kind := domain.ResultKindPrimary
	if k := r.URL.Query().Get("kind"); k != "" {
		kind = domain.ResultKind(k)
		if !kind.IsValid() {
			writeError(w, http.StatusBadRequest, "kind must be one of: primary, raw")
			return
		}
	}

	out, err := s.records.Read(r.Context(), recordID, kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcomeToResponse(recordID, kind, out))
}

// writeDomainError maps domain errors to appropriate HTTP status codes and
// writes a JSON error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var apiErr *domain.ExternalAPIError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrTooManyBatches):
		writeError(w, http.StatusTooManyRequests, "too many active batches")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, "upstream research service error")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// validationMessage turns a validator error into a client-facing message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "max":
		if fe.Kind().String() == "slice" {
			return fmt.Sprintf("%s must have at most %s entries", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}
