package biz

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"Corva/internal/conf"
	"Corva/internal/data"
	"Corva/pkg/crypto"
	pkglog "Corva/pkg/log"
	"Corva/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
)

// DeepLinkScheme is the native app scheme accepted as an OAuth return target.
const DeepLinkScheme = "corva://"

var (
	ErrInvalidReturnURL = errors.New("return url is not allowed")
	// ErrInvalidState covers unknown, expired, reused and cross-provider
	// OAuth states.
	ErrInvalidState = errors.New("invalid or expired oauth state")
)

// DisconnectResult is the outcome of Disconnect.
type DisconnectResult string

const (
	DisconnectSuccess DisconnectResult = "success"
	// DisconnectPartial means the remote revoke failed but the local
	// credential is gone.
	DisconnectPartial DisconnectResult = "partial"
)

// ConnectionStatus describes one provider connection. A missing or
// unreadable credential renders as Connected=false.
type ConnectionStatus struct {
	Connected    bool       `json:"connected"`
	Status       string     `json:"status,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	AccountID    string     `json:"accountId,omitempty"`
	LocationID   string     `json:"locationId,omitempty"`
	MerchantName string     `json:"merchantName,omitempty"`
}

// ConnectionUsecase drives connect, status and disconnect for provider
// credentials.
type ConnectionUsecase struct {
	repo      CredentialRepo
	providers ProviderRegistry
	counters  RateLimitRepo
	audit     AuditLogger
	crypto    *crypto.AESCrypto
	appURL    string
	log       *pkglog.LogHelper
}

func NewConnectionUsecase(
	repo CredentialRepo,
	providers ProviderRegistry,
	counters RateLimitRepo,
	audit AuditLogger,
	crypto *crypto.AESCrypto,
	c *conf.Sync,
	logger log.Logger,
) *ConnectionUsecase {
	uc := &ConnectionUsecase{
		repo:      repo,
		providers: providers,
		counters:  counters,
		audit:     audit,
		crypto:    crypto,
		log:       pkglog.NewLogHelper(logger),
	}
	if c != nil {
		uc.appURL = strings.TrimRight(c.AppUrl, "/")
	}
	return uc
}

// Authorize starts the redirect flow and returns the provider consent URL.
func (uc *ConnectionUsecase) Authorize(ctx context.Context, userID string, provider oauth.ProviderType, returnURL string) (string, error) {
	target, err := uc.resolveReturnURL(returnURL)
	if err != nil {
		return "", err
	}
	authURL, err := uc.providers.BeginAuth(ctx, provider, userID, target)
	if err != nil {
		return "", err
	}
	uc.log.OAuth("authorization started", "user_id", userID, "provider", provider)
	return authURL, nil
}

// resolveReturnURL accepts app-relative paths, absolute URLs under the app
// URL and native deep links. An empty value means the app root.
func (uc *ConnectionUsecase) resolveReturnURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		if uc.appURL == "" {
			return "/", nil
		}
		return uc.appURL + "/", nil
	case strings.HasPrefix(raw, DeepLinkScheme):
		return raw, nil
	case strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//"):
		return uc.appURL + raw, nil
	case uc.appURL != "" && (raw == uc.appURL || strings.HasPrefix(raw, uc.appURL+"/")):
		return raw, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReturnURL, raw)
}

// Callback completes the redirect flow and returns where to send the
// browser. An unusable state is the only error; exchange and storage
// failures are logged and reported to the app through an error query
// parameter on the returned URL.
func (uc *ConnectionUsecase) Callback(ctx context.Context, provider oauth.ProviderType, state, code string) (string, error) {
	pending, tok, err := uc.providers.CompleteAuth(ctx, provider, state, code)
	switch {
	case errors.Is(err, oauth.ErrStateNotFound), errors.Is(err, oauth.ErrStateMismatch):
		uc.log.Auth("oauth callback rejected", "provider", provider, "error", err)
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	case err != nil:
		if pending == nil {
			return "", err
		}
		uc.log.Errorw("msg", "authorization code exchange failed", "user_id", pending.UserID, "provider", provider, "error", err, "type", "oauth")
		return withQuery(pending.ReturnURL, "error", "connect_failed", "provider", string(provider)), nil
	}

	if err := uc.save(ctx, pending.UserID, provider, tok); err != nil {
		uc.log.Errorw("msg", "failed to store credential", "user_id", pending.UserID, "provider", provider, "error", err, "type", "oauth")
		return withQuery(pending.ReturnURL, "error", "connect_failed", "provider", string(provider)), nil
	}

	uc.log.OAuth("provider connected", "user_id", pending.UserID, "provider", provider, "account_id", tok.AccountID)
	return withQuery(pending.ReturnURL, "connected", string(provider)), nil
}

func (uc *ConnectionUsecase) save(ctx context.Context, userID string, provider oauth.ProviderType, tok *oauth.Token) error {
	accessEnc, err := uc.crypto.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEnc, err := uc.crypto.Encrypt(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	cred := &data.Credential{
		UserID:                userID,
		Provider:              provider,
		AccessTokenEncrypted:  accessEnc,
		RefreshTokenEncrypted: refreshEnc,
		AccountID:             tok.AccountID,
		Status:                data.CredentialActive,
	}
	if !tok.ExpiresAt.IsZero() {
		expiresAt := tok.ExpiresAt.UTC()
		cred.ExpiresAt = &expiresAt
	}
	if tok.Metadata != nil && !tok.Metadata.IsEmpty() {
		if err := tok.Metadata.Validate(); err != nil {
			uc.log.Warnw("msg", "dropping invalid provider metadata", "user_id", userID, "provider", provider,
				"metadata", tok.Metadata.MaskSensitive().String(), "error", err, "type", "oauth")
		} else {
			meta := tok.Metadata.String()
			cred.Metadata = &meta
		}
	}

	if err := uc.repo.UpsertCredential(ctx, cred); err != nil {
		return err
	}

	// A new grant starts with a clean failure history.
	if err := uc.counters.Reset(ctx, refreshFailureKey(userID, provider)); err != nil {
		uc.log.Warnw("msg", "failed to reset refresh failure counter", "user_id", userID, "provider", provider, "error", err, "type", "redis")
	}
	uc.audit.LogCredentialEvent(ctx, userID, provider, data.AuditActionConnect, map[string]interface{}{
		"account_id": tok.AccountID,
	})
	return nil
}

// Status reports whether the user is connected to provider.
func (uc *ConnectionUsecase) Status(ctx context.Context, userID string, provider oauth.ProviderType) *ConnectionStatus {
	cred, err := uc.repo.GetCredential(ctx, userID, provider)
	if err != nil {
		if !errors.Is(err, data.ErrCredentialNotFound) {
			uc.log.Warnw("msg", "connection status unavailable", "user_id", userID, "provider", provider, "error", err, "type", "database")
		}
		return &ConnectionStatus{Connected: false}
	}
	status := &ConnectionStatus{
		Connected: true,
		Status:    string(cred.Status),
		ExpiresAt: cred.ExpiresAt,
		AccountID: cred.AccountID,
	}
	if meta, err := cred.ParsedMetadata(); err != nil {
		uc.log.Warnw("msg", "unreadable credential metadata", "user_id", userID, "provider", provider, "error", err, "type", "database")
	} else {
		status.LocationID = meta.LocationID
		status.MerchantName = meta.MerchantName
	}
	return status
}

// Disconnect revokes the remote grant when it can and always deletes the
// local credential. Only a failed local read or delete is an error.
func (uc *ConnectionUsecase) Disconnect(ctx context.Context, userID string, provider oauth.ProviderType) (DisconnectResult, error) {
	cred, err := uc.repo.GetCredential(ctx, userID, provider)
	if errors.Is(err, data.ErrCredentialNotFound) {
		uc.log.OAuth("disconnect on missing credential", "user_id", userID, "provider", provider)
		return DisconnectSuccess, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}

	revokeErr := uc.revoke(ctx, cred)
	if revokeErr != nil {
		uc.log.Warnw("msg", "remote revoke failed, deleting local credential anyway", "user_id", userID, "provider", provider, "error", revokeErr, "type", "oauth")
	}

	if _, err := uc.repo.DeleteCredential(ctx, userID, provider); err != nil {
		return "", err
	}
	if err := uc.counters.Reset(ctx, refreshFailureKey(userID, provider)); err != nil {
		uc.log.Warnw("msg", "failed to reset refresh failure counter", "user_id", userID, "provider", provider, "error", err, "type", "redis")
	}

	result := DisconnectSuccess
	if revokeErr != nil {
		result = DisconnectPartial
	}
	uc.audit.LogCredentialEvent(ctx, userID, provider, data.AuditActionDisconnect, map[string]interface{}{
		"result": string(result),
	})
	uc.log.OAuth("provider disconnected", "user_id", userID, "provider", provider, "result", result)
	return result, nil
}

func (uc *ConnectionUsecase) revoke(ctx context.Context, cred *data.Credential) error {
	p, err := uc.providers.Get(cred.Provider)
	if err != nil {
		return err
	}
	token, err := uc.crypto.Decrypt(cred.AccessTokenEncrypted)
	if err != nil {
		return fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if err := p.Revoke(ctx, token); err != nil && !errors.Is(err, oauth.ErrRevokeUnsupported) {
		return err
	}
	return nil
}

// withQuery appends key/value pairs to target, keeping any existing query.
func withQuery(target string, kv ...string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	u.RawQuery = q.Encode()
	return u.String()
}
