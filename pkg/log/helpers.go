package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper extends log.Helper with category methods. Each one tags the
// entry with a "type" field that the console encoder maps to an emoji.
type LogHelper struct {
	*log.Helper
}

// NewLogHelper creates a category-aware helper.
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{Helper: log.NewHelper(logger)}
}

func withType(msg, logType string, kvs []interface{}) []interface{} {
	all := make([]interface{}, 0, len(kvs)+4)
	all = append(all, "msg", msg)
	all = append(all, kvs...)
	return append(all, "type", logType)
}

// OAuth logs authorization flow events.
func (h *LogHelper) OAuth(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "oauth", kvs)...)
}

// Token logs token refresh events.
func (h *LogHelper) Token(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "token", kvs)...)
}

// TokenFailure logs a failed token operation at warn level.
func (h *LogHelper) TokenFailure(msg string, kvs ...interface{}) {
	h.Warnw(withType(msg, "token", kvs)...)
}

// Sync logs availability pull events.
func (h *LogHelper) Sync(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "sync", kvs)...)
}

// Provider logs outbound provider API calls at debug level.
func (h *LogHelper) Provider(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "provider", kvs)...)
}

// OTP logs one-time code issuance and redemption.
func (h *LogHelper) OTP(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "otp", kvs)...)
}

// Auth logs authentication failures.
func (h *LogHelper) Auth(msg string, kvs ...interface{}) {
	h.Warnw(withType(msg, "auth", kvs)...)
}

func (h *LogHelper) Database(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "database", kvs)...)
}

func (h *LogHelper) Redis(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "redis", kvs)...)
}

func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "scheduler", kvs)...)
}

func (h *LogHelper) Audit(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "audit", kvs)...)
}

func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "startup", kvs)...)
}

// Request logs a completed HTTP request with the request id from ctx.
func (h *LogHelper) Request(ctx context.Context, method, path string, status int, durationMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, path, status, durationMs)
	all := withType(msg, "request", kvs)
	all = append(all,
		"request_id", reqCtx.RequestID,
		"method", method,
		"path", path,
		"status", status,
		"duration_ms", durationMs,
	)
	if reqCtx.UserID != "" {
		all = append(all, "user_id", reqCtx.UserID)
	}

	switch {
	case status >= 500:
		h.Errorw(all...)
	case status >= 400:
		h.Warnw(all...)
	default:
		h.Infow(all...)
	}
}
