// Package biz contains business logic layer implementations.
// This layer holds the token lifecycle, connection, availability pull and
// one-time code use cases.
package biz

import (
	"Corva/internal/data"
	"Corva/pkg/oauth"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewTokenUsecase,
	NewConnectionUsecase,
	NewSyncUsecase,
	NewOneTimeCodeUsecase,
	NewRateLimiterUseCase,
	NewOAuthRefreshTask,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(CredentialRepo), new(*data.CredentialRepo)),
	wire.Bind(new(SlotRepo), new(*data.SlotRepo)),
	wire.Bind(new(OneTimeCodeRepo), new(*data.OneTimeCodeRepo)),
	wire.Bind(new(RateLimitRepo), new(*data.RateLimitRepo)),
	wire.Bind(new(AuditLogger), new(*data.AuditLoggerImpl)),
	wire.Bind(new(ProviderRegistry), new(*oauth.Manager)),
)
