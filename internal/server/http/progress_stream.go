package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/keyword-research-service/internal/domain"
	"github.com/helixir/keyword-research-service/internal/observability"
)

const (
	// sseQueryInterval is how often a live batch is sampled.
	sseQueryInterval = time.Second
	// sseMaxDuration is the maximum time an SSE stream may remain open.
	sseMaxDuration = time.Hour
)

// SSE event types.
const (
	sseEventStarted  = "stream_started"
	sseEventProgress = "progress_update"
	sseEventFinished = "completed"
	sseEventTimeout  = "timeout"
	sseEventShutdown = "server_shutdown"
)

// sseEvent represents an event sent via SSE.
type sseEvent struct {
	EventType string        `json:"event_type"`
	BatchID   string        `json:"batch_id"`
	Status    string        `json:"status"`
	Batch     batchResponse `json:"batch"`
	Timestamp time.Time     `json:"timestamp"`
}

// streamProgress handles GET /keyword-batches/{batchID}/progress (SSE).
// A progress event is sent whenever the batch's counts change, and the
// stream ends with a completed event once the batch finishes.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	clientID := observability.ClientIDFromContext(r.Context())

	batchID, ok := parseUUID(w, chi.URLParam(r, "batchID"), "batch_id")
	if !ok {
		return
	}

	h, handleErr := s.batches.Handle(clientID, batchID)
	var stored domain.BatchSnapshot
	if handleErr != nil {
		// Not live any more; a stored batch is always finished.
		var err error
		stored, err = s.batches.Get(r.Context(), clientID, batchID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if h == nil {
		sendSSEEvent(w, flusher, newSSEEvent(sseEventFinished, stored))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	last := h.Snapshot()
	sendSSEEvent(w, flusher, newSSEEvent(sseEventStarted, last))

	deadlineTimer := time.NewTimer(s.progressMaxAge)
	defer deadlineTimer.Stop()
	ticker := time.NewTicker(s.progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.closing:
			sendSSEEvent(w, flusher, newSSEEvent(sseEventShutdown, h.Snapshot()))
			return

		case <-deadlineTimer.C:
			sendSSEEvent(w, flusher, newSSEEvent(sseEventTimeout, h.Snapshot()))
			return

		case <-h.Done():
			sendSSEEvent(w, flusher, newSSEEvent(sseEventFinished, h.Snapshot()))
			return

		case <-ticker.C:
			current := h.Snapshot()
			if current.Counts == last.Counts && current.Status == last.Status {
				continue
			}
			last = current
			sendSSEEvent(w, flusher, newSSEEvent(sseEventProgress, current))
		}
	}
}

func newSSEEvent(eventType string, snapshot domain.BatchSnapshot) sseEvent {
	return sseEvent{
		EventType: eventType,
		BatchID:   snapshot.BatchID.String(),
		Status:    string(snapshot.Status),
		Batch:     snapshotToResponse(snapshot),
		Timestamp: time.Now(),
	}
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event sseEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
	flusher.Flush()
}
