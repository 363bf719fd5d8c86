package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/keyword-research-service/internal/domain"
	"github.com/helixir/keyword-research-service/internal/observability"
)

const (
	sourceName   = "research"
	apiKeyHeader = "X-API-Key"
)

// Operation names used in metrics and logs.
const (
	OpCreateRecord = "create_record"
	OpRunResearch  = "run_research"
	OpPatchRecord  = "patch_record"
	OpReadResult   = "read_result"
)

// Config configures a research API client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RunTimeout time.Duration
	RateLimit  float64
	Burst      int
	MaxRetries int
	RetryDelay time.Duration
}

// Client talks to the remote keyword research API. Create and run calls are
// sent once; patch and read calls are retried on transient failures. All
// calls share one rate limiter.
type Client struct {
	baseURL string
	http    *HTTPClient
	runHTTP *HTTPClient
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewClient creates a research API client. metrics may be nil.
func NewClient(cfg Config, metrics *observability.Metrics, logger zerolog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid research base URL %q", cfg.BaseURL)
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = 300 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst == 0 {
		cfg.Burst = 5
	}

	limiter := NewRateLimiter(cfg.RateLimit, cfg.Burst)
	httpCfg := HTTPClientConfig{
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
		APIKey:       cfg.APIKey,
		APIKeyHeader: apiKeyHeader,
	}
	runCfg := httpCfg
	runCfg.Timeout = cfg.RunTimeout

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    NewHTTPClient(httpCfg, limiter),
		runHTTP: NewHTTPClient(runCfg, limiter),
		metrics: metrics,
		logger:  logger.With().Str("component", "research_client").Logger(),
	}, nil
}

// CreateTrackingRecord creates the remote record that tracks one keyword's
// research and returns its identifier.
func (c *Client) CreateTrackingRecord(ctx context.Context, keyword string, params domain.SharedParams) (string, error) {
	body := createRecordRequest{
		Keyword:  keyword,
		ClientID: params.ClientID,
		Country:  params.Country,
		Language: params.Language,
	}

	var data createRecordData
	err := c.call(ctx, OpCreateRecord, c.http.DoOnce, http.MethodPost, c.recordsURL(), body, &data)
	if err != nil {
		return "", fmt.Errorf("create tracking record: %w", err)
	}
	if data.ID == "" {
		c.recordFailure(OpCreateRecord, domain.ErrMissingRecordID)
		return "", fmt.Errorf("create tracking record: %w", domain.ErrMissingRecordID)
	}
	return data.ID, nil
}

// RunResearchAction runs the research pipeline for a tracking record and
// returns the items it produced. The call blocks until the pipeline answers
// or the run timeout elapses. An empty slice is not an error here.
func (c *Client) RunResearchAction(ctx context.Context, keyword string, params domain.SharedParams, recordID string) ([]domain.ResearchItem, error) {
	body := runActionRequest{
		Keyword:  keyword,
		Country:  params.Country,
		Language: params.Language,
	}

	var data itemsData
	err := c.call(ctx, OpRunResearch, c.runHTTP.DoOnce, http.MethodPost, c.recordURL(recordID)+"/run", body, &data)
	if err != nil {
		return nil, fmt.Errorf("run research action: %w", err)
	}
	return toDomain(data.Items), nil
}

// PatchTrackingRecord writes the status label and item count to a record.
func (c *Client) PatchTrackingRecord(ctx context.Context, recordID, status string, itemCount int) error {
	body := patchRecordRequest{
		Status:    status,
		ItemCount: itemCount,
	}
	if err := c.call(ctx, OpPatchRecord, c.http.Do, http.MethodPatch, c.recordURL(recordID), body, nil); err != nil {
		return fmt.Errorf("patch tracking record: %w", err)
	}
	return nil
}

// ReadResult reads one result set of a tracking record. A record or result
// set the backend has not produced yet is reported as Found=false, not as an
// error.
func (c *Client) ReadResult(ctx context.Context, recordID string, kind domain.ResultKind) (domain.ReadResult, error) {
	u := c.recordURL(recordID) + "/keywords?" + url.Values{"kind": {string(kind)}}.Encode()

	var data itemsData
	err := c.call(ctx, OpReadResult, c.http.Do, http.MethodGet, u, nil, &data)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ReadResult{Found: false}, nil
		}
		return domain.ReadResult{}, fmt.Errorf("read result: %w", err)
	}
	return domain.ReadResult{Found: true, Items: toDomain(data.Items)}, nil
}

func (c *Client) recordsURL() string {
	return c.baseURL + "/keyword-research/records"
}

func (c *Client) recordURL(recordID string) string {
	return c.recordsURL() + "/" + url.PathEscape(recordID)
}

type doFunc func(*http.Request) (*http.Response, error)

// call performs one API call: it encodes body, sends the request through do,
// validates the envelope, and decodes its data into out when out is non-nil.
func (c *Client) call(ctx context.Context, op string, do doFunc, method, target string, body, out interface{}) error {
	start := time.Now()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, target, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	}
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := do(req)
	if err != nil {
		c.recordFailure(op, err)
		return err
	}
	defer resp.Body.Close()

	data, err := decodeEnvelope(resp)
	if c.metrics != nil {
		c.metrics.RecordRemoteRequest(op, time.Since(start).Seconds())
	}
	if err != nil {
		if resp.StatusCode != http.StatusNotFound {
			c.recordFailure(op, err)
		}
		return err
	}
	if out == nil {
		return nil
	}
	return decodeData(data, out)
}

func (c *Client) recordFailure(op string, err error) {
	errType := classify(err)
	c.logger.Debug().Err(err).Str("operation", op).Str("error_type", errType).Msg("research API call failed")
	if c.metrics == nil {
		return
	}
	if errType == "rate_limited" {
		c.metrics.RecordRemoteRateLimited()
	}
	c.metrics.RecordRemoteRequestFailed(op, errType)
}

// classify maps an error to a low-cardinality label.
func classify(err error) string {
	var apiErr *domain.ExternalAPIError
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, domain.ErrMissingRecordID):
		return "missing_id"
	case errors.As(err, &apiErr):
		if apiErr.StatusCode >= 200 && apiErr.StatusCode < 300 {
			return "rejected"
		}
		return fmt.Sprintf("http_%d", apiErr.StatusCode)
	default:
		return "transport"
	}
}
