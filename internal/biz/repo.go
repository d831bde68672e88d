package biz

import (
	"context"
	"time"

	"Corva/internal/data"
	"Corva/pkg/oauth"
)

// CredentialRepo defines the credential repository interface.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
// Implementation is in data layer (data.CredentialRepo).
type CredentialRepo interface {
	GetCredential(ctx context.Context, userID string, provider oauth.ProviderType) (*data.Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]*data.Credential, error)
	UpsertCredential(ctx context.Context, cred *data.Credential) error
	UpdateToken(ctx context.Context, id int64, upd *data.TokenUpdate) error
	UpdateStatus(ctx context.Context, id int64, status data.CredentialStatus) error
	DeleteCredential(ctx context.Context, userID string, provider oauth.ProviderType) (bool, error)
	ListExpiring(ctx context.Context, threshold time.Time) ([]*data.Credential, error)
}

// SlotRepo persists synced availability slots (data.SlotRepo).
type SlotRepo interface {
	ReplaceRange(ctx context.Context, userID string, provider oauth.ProviderType, start, end time.Time, slots []*data.SyncedSlot) (int, error)
	MergeByExternalID(ctx context.Context, userID string, provider oauth.ProviderType, slots []*data.SyncedSlot) (int, error)
	ListRange(ctx context.Context, userID string, provider oauth.ProviderType, start, end time.Time) ([]*data.SyncedSlot, error)
}

// OneTimeCodeRepo stores single-use codes with expiry (data.OneTimeCodeRepo).
type OneTimeCodeRepo interface {
	Save(ctx context.Context, code, userID string, ttl time.Duration) error
	Redeem(ctx context.Context, code string) (string, error)
}

// ProviderRegistry resolves provider adapters and runs the redirect flow.
// Implemented by oauth.Manager.
type ProviderRegistry interface {
	Get(t oauth.ProviderType) (oauth.Provider, error)
	Types() []oauth.ProviderType
	BeginAuth(ctx context.Context, t oauth.ProviderType, userID, returnURL string) (string, error)
	CompleteAuth(ctx context.Context, t oauth.ProviderType, state, code string) (*oauth.PendingAuth, *oauth.Token, error)
}
