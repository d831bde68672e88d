package biz

import (
	"context"

	"Corva/internal/data"
	"Corva/pkg/oauth"
)

// AuditLogger records credential lifecycle events. Implementations must not
// block the caller.
type AuditLogger interface {
	LogCredentialEvent(ctx context.Context, userID string, provider oauth.ProviderType, action data.AuditAction, details map[string]interface{})
}
