package log

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const requestContextKey contextKey = "corva_request_context"

// RequestContext carries per-request tracing data through the call chain.
type RequestContext struct {
	RequestID string
	UserID    string
	StartTime time.Time
}

// GenerateRequestID returns the first 12 hex characters of a random UUID.
func GenerateRequestID() string {
	id := uuid.New()
	return id.String()[:8] + id.String()[9:13]
}

// WithRequestContext stores a fresh RequestContext in ctx.
func WithRequestContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestContextKey, &RequestContext{
		RequestID: requestID,
		StartTime: time.Now(),
	})
}

// GetRequestContext returns the RequestContext stored in ctx or an empty
// one with RequestID "unknown".
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx != nil {
		if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{RequestID: "unknown"}
}

func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// SetUserID records the authenticated user on the request context so that
// the access log can report it.
func SetUserID(ctx context.Context, userID string) {
	GetRequestContext(ctx).UserID = userID
}

// GetElapsedTime returns milliseconds since the request started.
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
