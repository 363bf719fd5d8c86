package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/keyword-research-service/internal/domain"
	"github.com/helixir/keyword-research-service/internal/observability"
)

var testParams = domain.SharedParams{ClientID: "client-1", Country: "US", Language: "en"}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *observability.Metrics) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	metrics := observability.NewMetricsWithRegistry("test", prometheus.NewRegistry())
	client, err := NewClient(Config{
		BaseURL:    server.URL + "/api/",
		APIKey:     "key-1",
		Timeout:    5 * time.Second,
		RunTimeout: 5 * time.Second,
		RateLimit:  1000,
		Burst:      100,
		MaxRetries: 2,
		RetryDelay: 5 * time.Millisecond,
	}, metrics, zerolog.Nop())
	require.NoError(t, err)
	return client, metrics
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, data interface{}, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": success,
		"data":    data,
		"error":   errMsg,
	})
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not-a-url"}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestClient_CreateTrackingRecord(t *testing.T) {
	t.Run("returns the record id", func(t *testing.T) {
		var got createRecordRequest
		client, metrics := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/keyword-research/records", r.URL.Path)
			assert.Equal(t, "key-1", r.Header.Get("X-API-Key"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			writeEnvelope(w, http.StatusCreated, true, map[string]string{"id": "rec-1"}, "")
		})

		id, err := client.CreateTrackingRecord(context.Background(), "shoes", testParams)
		require.NoError(t, err)

		assert.Equal(t, "rec-1", id)
		assert.Equal(t, createRecordRequest{Keyword: "shoes", ClientID: "client-1", Country: "US", Language: "en"}, got)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RemoteRequestsTotal.WithLabelValues(OpCreateRecord)))
	})

	t.Run("missing id is an error", func(t *testing.T) {
		client, metrics := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, true, map[string]string{}, "")
		})

		_, err := client.CreateTrackingRecord(context.Background(), "shoes", testParams)
		assert.ErrorIs(t, err, domain.ErrMissingRecordID)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RemoteRequestsFailed.WithLabelValues(OpCreateRecord, "missing_id")))
	})

	t.Run("success=false carries the remote message", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, false, nil, "client quota exceeded")
		})

		_, err := client.CreateTrackingRecord(context.Background(), "shoes", testParams)
		require.Error(t, err)
		assert.Equal(t, "client quota exceeded", domain.RemoteMessage(err, ""))
	})

	t.Run("is not retried on 503", func(t *testing.T) {
		var calls atomic.Int32
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeEnvelope(w, http.StatusServiceUnavailable, false, nil, "busy")
		})

		_, err := client.CreateTrackingRecord(context.Background(), "shoes", testParams)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestErrorFromResponse_BoundsMessage(t *testing.T) {
	t.Run("long plain text body is truncated", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(strings.Repeat("é", 100_000)))
		})

		_, err := client.CreateTrackingRecord(context.Background(), "shoes", testParams)
		require.Error(t, err)
		msg := domain.RemoteMessage(err, "")
		assert.LessOrEqual(t, len(msg), maxMessageBytes+len("..."))
		assert.True(t, strings.HasSuffix(msg, "..."))
		assert.True(t, utf8.ValidString(msg))
	})

	t.Run("empty body falls back to the status text", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := client.CreateTrackingRecord(context.Background(), "shoes", testParams)
		require.Error(t, err)
		assert.Equal(t, http.StatusText(http.StatusBadGateway), domain.RemoteMessage(err, ""))
	})

	t.Run("short envelope message is kept", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusBadRequest, false, nil, "  keyword too long ")
		})

		_, err := client.CreateTrackingRecord(context.Background(), "shoes", testParams)
		require.Error(t, err)
		assert.Equal(t, "keyword too long", domain.RemoteMessage(err, ""))
	})
}

func TestClient_RunResearchAction(t *testing.T) {
	t.Run("returns items", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/keyword-research/records/rec-1/run", r.URL.Path)
			writeEnvelope(w, http.StatusOK, true, map[string]interface{}{
				"items": []map[string]interface{}{
					{"keyword": "running shoes", "search_volume": 1200, "competition": 0.4, "cpc": 1.25, "keyword_difficulty": 33},
					{"keyword": "", "search_volume": 5},
					{"keyword": "trail shoes", "search_volume": 300},
				},
			}, "")
		})

		items, err := client.RunResearchAction(context.Background(), "shoes", testParams, "rec-1")
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "running shoes", items[0].Keyword)
		assert.Equal(t, int64(1200), items[0].SearchVolume)
		assert.Equal(t, 33, items[0].Difficulty)
	})

	t.Run("empty items is not an error at this layer", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, true, map[string]interface{}{"items": []interface{}{}}, "")
		})

		items, err := client.RunResearchAction(context.Background(), "shoes", testParams, "rec-1")
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("times out", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer server.Close()
		defer close(release)

		client, err := NewClient(Config{BaseURL: server.URL, RunTimeout: 50 * time.Millisecond, RateLimit: 100, Burst: 10}, nil, zerolog.Nop())
		require.NoError(t, err)

		_, err = client.RunResearchAction(context.Background(), "shoes", testParams, "rec-1")
		assert.Error(t, err)
	})
}

func TestClient_PatchTrackingRecord(t *testing.T) {
	t.Run("sends status and count", func(t *testing.T) {
		var got patchRecordRequest
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPatch, r.Method)
			assert.Equal(t, "/api/keyword-research/records/rec-1", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			writeEnvelope(w, http.StatusOK, true, nil, "")
		})

		err := client.PatchTrackingRecord(context.Background(), "rec-1", domain.RecordStatusDiscovered, 7)
		require.NoError(t, err)
		assert.Equal(t, patchRecordRequest{Status: "discovered", ItemCount: 7}, got)
	})

	t.Run("is retried on 500", func(t *testing.T) {
		var calls atomic.Int32
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			writeEnvelope(w, http.StatusOK, true, nil, "")
		})

		require.NoError(t, client.PatchTrackingRecord(context.Background(), "rec-1", "discovered", 1))
		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestClient_ReadResult(t *testing.T) {
	t.Run("404 is not found, not an error", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "raw", r.URL.Query().Get("kind"))
			writeEnvelope(w, http.StatusNotFound, false, nil, "not ready")
		})

		res, err := client.ReadResult(context.Background(), "rec-1", domain.ResultKindRaw)
		require.NoError(t, err)
		assert.False(t, res.Found)
	})

	t.Run("returns items", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/keyword-research/records/rec-1/keywords", r.URL.Path)
			writeEnvelope(w, http.StatusOK, true, map[string]interface{}{
				"items": []map[string]interface{}{{"keyword": "a"}},
			}, "")
		})

		res, err := client.ReadResult(context.Background(), "rec-1", domain.ResultKindPrimary)
		require.NoError(t, err)
		assert.True(t, res.HasItems())
	})

	t.Run("malformed body is an error", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("<html>"))
		})

		_, err := client.ReadResult(context.Background(), "rec-1", domain.ResultKindPrimary)
		assert.Error(t, err)
	})
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "rate_limited", classify(domain.NewRateLimitError("research", time.Second)))
	assert.Equal(t, "timeout", classify(context.DeadlineExceeded))
	assert.Equal(t, "http_502", classify(domain.NewExternalAPIError("research", 502, "", nil)))
	assert.Equal(t, "rejected", classify(domain.NewExternalAPIError("research", 200, "no", nil)))
	assert.Equal(t, "transport", classify(assert.AnError))
}
