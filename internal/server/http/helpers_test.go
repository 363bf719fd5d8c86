package httpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/helixir/keyword-research-service/internal/batch"
	"github.com/helixir/keyword-research-service/internal/domain"
	"github.com/helixir/keyword-research-service/internal/eventual"
	"github.com/helixir/keyword-research-service/internal/idempotency"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// stubRunner completes every job unless its keyword is listed in fail.
// When gate is set, every job blocks until the gate is closed.
type stubRunner struct {
	gate    chan struct{}
	started chan string
	fail    map[string]bool
}

func (r *stubRunner) Execute(_ context.Context, job domain.Job, _ domain.SharedParams) batch.Outcome {
	if r.started != nil {
		r.started <- job.Keyword
	}
	if r.gate != nil {
		<-r.gate
	}
	if r.fail[job.Keyword] {
		return batch.Outcome{State: domain.JobStateError, ErrorMessage: "research action failed", FailedStep: "run"}
	}
	return batch.Outcome{State: domain.JobStateCompleted, TrackingRecordID: "rec-" + job.Keyword, ResultCount: 2}
}

type stubRecords struct {
	readFn func(ctx context.Context, recordID string, kind domain.ResultKind) (eventual.Outcome, error)
}

func (s *stubRecords) Read(ctx context.Context, recordID string, kind domain.ResultKind) (eventual.Outcome, error) {
	if s.readFn != nil {
		return s.readFn(ctx, recordID, kind)
	}
	return eventual.Outcome{}, nil
}

type stubHistory struct {
	batches map[uuid.UUID]domain.BatchSnapshot
}

func (h *stubHistory) GetBatch(_ context.Context, clientID string, id uuid.UUID) (*domain.BatchSnapshot, error) {
	s, ok := h.batches[id]
	if !ok || s.Params.ClientID != clientID {
		return nil, domain.NewNotFoundError("batch", id.String())
	}
	return &s, nil
}

func (h *stubHistory) ListBatches(_ context.Context, clientID string, _ int) ([]domain.BatchSnapshot, error) {
	var out []domain.BatchSnapshot
	for _, s := range h.batches {
		if s.Params.ClientID == clientID {
			out = append(out, s)
		}
	}
	return out, nil
}

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) Ping(ctx context.Context) error { return f(ctx) }

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

type testEnv struct {
	server  *Server
	manager *batch.Manager
	runner  *stubRunner
	records *stubRecords
}

type testOption func(*testSetup)

type testSetup struct {
	concurrency int
	managerCfg  batch.ManagerConfig
	history     batch.History
	deps        Dependencies
	logger      zerolog.Logger
}

func withConcurrency(n int) testOption {
	return func(s *testSetup) { s.concurrency = n }
}

func withManagerConfig(cfg batch.ManagerConfig) testOption {
	return func(s *testSetup) { s.managerCfg = cfg }
}

func withHistory(h batch.History) testOption {
	return func(s *testSetup) { s.history = h }
}

func withChecks(checks map[string]HealthChecker) testOption {
	return func(s *testSetup) { s.deps.Checks = checks }
}

func withLogger(l zerolog.Logger) testOption {
	return func(s *testSetup) { s.logger = l }
}

func withRedisIdempotency(t *testing.T) testOption {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return func(s *testSetup) {
		s.deps.Idempotency = idempotency.NewRedisStore(client, time.Hour)
	}
}

// newTestEnv builds a Server backed by a real batch.Manager whose jobs are
// executed by runner.
func newTestEnv(t *testing.T, runner *stubRunner, opts ...testOption) *testEnv {
	t.Helper()
	setup := testSetup{
		concurrency: 3,
		managerCfg:  batch.ManagerConfig{MaxJobs: 100},
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&setup)
	}

	scheduler := batch.NewScheduler(runner, setup.concurrency, zerolog.Nop())
	manager := batch.NewManager(scheduler, setup.history, setup.managerCfg, zerolog.Nop())
	records := &stubRecords{}

	deps := setup.deps
	deps.Batches = manager
	deps.Records = records

	srv := NewServer(Config{Address: "127.0.0.1:0"}, deps, setup.logger)
	srv.progressInterval = 5 * time.Millisecond

	t.Cleanup(func() {
		manager.CancelAll()
		if runner.gate != nil {
			select {
			case <-runner.gate:
			default:
				close(runner.gate)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Wait(ctx)
	})

	return &testEnv{server: srv, manager: manager, runner: runner, records: records}
}

// serveHTTP dispatches a request through the test server's router and returns the recorder.
func serveHTTP(s *Server, r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, r)
	return rr
}

// buildPath returns the full API path for a keyword batch endpoint.
func buildPath(clientID, suffix string) string {
	return "/api/v1/clients/" + clientID + "/keyword-batches" + suffix
}

func newSubmitRequest(t *testing.T, clientID string, body interface{}) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, buildPath(clientID, ""), bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// decodeJSON decodes a JSON response body into the given target.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(target), "failed to decode response body")
}

// submit posts a batch and returns the decoded 202 response.
func submit(t *testing.T, env *testEnv, clientID string, keywords ...string) batchResponse {
	t.Helper()
	rr := serveHTTP(env.server, newSubmitRequest(t, clientID, map[string]interface{}{
		"keywords": keywords,
		"country":  "US",
		"language": "en",
	}))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var resp batchResponse
	decodeJSON(t, rr, &resp)
	return resp
}

// waitBatch blocks until the batch has finished.
func waitBatch(t *testing.T, env *testEnv, clientID, batchID string) {
	t.Helper()
	h, err := env.manager.Handle(clientID, uuid.MustParse(batchID))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job to start")
		return ""
	}
}

type parsedSSEEvent struct {
	eventType string
	data      string
}

// parseSSEEvents splits an SSE body into events.
func parseSSEEvents(t *testing.T, body string) []parsedSSEEvent {
	t.Helper()
	var events []parsedSSEEvent
	var current parsedSSEEvent

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current.eventType != "" || current.data != "" {
				events = append(events, current)
				current = parsedSSEEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event: ") {
			current.eventType = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			current.data = strings.TrimPrefix(line, "data: ")
		}
	}

	if current.eventType != "" || current.data != "" {
		events = append(events, current)
	}

	return events
}

// syncBuffer is a bytes.Buffer safe for use as a log sink from handlers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
