package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	clientIDKey  contextKey = "client_id"
	batchIDKey   contextKey = "batch_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithClientID adds the client ID to the context.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientIDFromContext retrieves the client ID from context.
func ClientIDFromContext(ctx context.Context) string {
	return stringValue(ctx, clientIDKey)
}

// WithBatchID adds the batch ID to the context.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchIDKey, batchID)
}

// BatchIDFromContext retrieves the batch ID from context.
func BatchIDFromContext(ctx context.Context) string {
	return stringValue(ctx, batchIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RequestContext contains the identifiers carried through a request.
type RequestContext struct {
	RequestID string
	ClientID  string
	BatchID   string
}

// WithRequestContextFull adds every non-empty identifier to the context.
func WithRequestContextFull(ctx context.Context, rc RequestContext) context.Context {
	if rc.RequestID != "" {
		ctx = WithRequestID(ctx, rc.RequestID)
	}
	if rc.ClientID != "" {
		ctx = WithClientID(ctx, rc.ClientID)
	}
	if rc.BatchID != "" {
		ctx = WithBatchID(ctx, rc.BatchID)
	}
	return ctx
}

// RequestContextFromContext extracts all identifiers from the context.
func RequestContextFromContext(ctx context.Context) RequestContext {
	return RequestContext{
		RequestID: RequestIDFromContext(ctx),
		ClientID:  ClientIDFromContext(ctx),
		BatchID:   BatchIDFromContext(ctx),
	}
}

// LoggerFromContext decorates logger with whatever identifiers ctx carries.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	rc := RequestContextFromContext(ctx)
	lc := logger.With()
	if rc.RequestID != "" {
		lc = lc.Str("request_id", rc.RequestID)
	}
	if rc.ClientID != "" {
		lc = lc.Str("client_id", rc.ClientID)
	}
	if rc.BatchID != "" {
		lc = lc.Str("batch_id", rc.BatchID)
	}
	return lc.Logger()
}
