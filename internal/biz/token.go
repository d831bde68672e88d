package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Corva/internal/conf"
	"Corva/internal/data"
	"Corva/pkg/crypto"
	pkglog "Corva/pkg/log"
	"Corva/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/singleflight"
)

const (
	// RefreshFailureKeyPrefix namespaces consecutive refresh failure
	// counters: refresh_failure:{user}:{provider}
	RefreshFailureKeyPrefix = "refresh_failure:"

	refreshFailureWindow = 30 * time.Minute
	maxRefreshFailures   = 3
	defaultRefreshSkew   = 60 * time.Second
	refreshTimeout       = 30 * time.Second
)

var (
	// ErrNotConnected means the user has no credential for the provider.
	ErrNotConnected = errors.New("provider not connected")
	// ErrReconnectRequired means refresh failed too often and the user must
	// go through the authorization flow again.
	ErrReconnectRequired = errors.New("provider connection requires reconnect")
	// ErrNoRefreshToken means the stored token expired and cannot be renewed.
	ErrNoRefreshToken = errors.New("credential has no refresh token")
)

func refreshFailureKey(userID string, provider oauth.ProviderType) string {
	return RefreshFailureKeyPrefix + userID + ":" + string(provider)
}

// TokenUsecase hands out valid provider access tokens, refreshing and
// persisting them when the stored one is expired. Concurrent refreshes of
// the same (user, provider) inside this process share one provider call.
type TokenUsecase struct {
	repo      CredentialRepo
	providers ProviderRegistry
	counters  RateLimitRepo
	audit     AuditLogger
	crypto    *crypto.AESCrypto
	skew      time.Duration
	group     singleflight.Group
	now       func() time.Time
	log       *pkglog.LogHelper
}

func NewTokenUsecase(
	repo CredentialRepo,
	providers ProviderRegistry,
	counters RateLimitRepo,
	audit AuditLogger,
	crypto *crypto.AESCrypto,
	c *conf.Sync,
	logger log.Logger,
) *TokenUsecase {
	skew := defaultRefreshSkew
	if c != nil && c.RefreshSkew != nil {
		skew = c.RefreshSkew.AsDuration()
	}
	return &TokenUsecase{
		repo:      repo,
		providers: providers,
		counters:  counters,
		audit:     audit,
		crypto:    crypto,
		skew:      skew,
		now:       time.Now,
		log:       pkglog.NewLogHelper(logger),
	}
}

// GetValidToken returns a usable access token, or ok=false when the user is
// not connected or the token could not be refreshed. Failures are logged,
// never returned.
func (uc *TokenUsecase) GetValidToken(ctx context.Context, userID string, provider oauth.ProviderType) (string, bool) {
	token, err := uc.ValidToken(ctx, userID, provider)
	if err != nil {
		if !errors.Is(err, ErrNotConnected) {
			uc.log.TokenFailure("token unavailable", "user_id", userID, "provider", provider, "error", err)
		}
		return "", false
	}
	return token, true
}

// ValidToken is GetValidToken with the reason for a missing token.
func (uc *TokenUsecase) ValidToken(ctx context.Context, userID string, provider oauth.ProviderType) (string, error) {
	return uc.tokenWithin(ctx, userID, provider, uc.skew)
}

// RefreshIfExpiring refreshes the credential when it expires within ahead.
// Used by the background refresh task.
func (uc *TokenUsecase) RefreshIfExpiring(ctx context.Context, userID string, provider oauth.ProviderType, ahead time.Duration) error {
	_, err := uc.tokenWithin(ctx, userID, provider, ahead)
	return err
}

func (uc *TokenUsecase) tokenWithin(ctx context.Context, userID string, provider oauth.ProviderType, skew time.Duration) (string, error) {
	cred, err := uc.load(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if !cred.Expired(uc.now(), skew) {
		return uc.decryptAccess(cred)
	}

	// The flight outlives a cancelled caller so a started refresh is
	// always persisted.
	v, err, shared := uc.group.Do(userID+":"+string(provider), func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return uc.refresh(fctx, userID, provider, skew)
	})
	if err != nil {
		return "", err
	}
	if shared {
		uc.log.Debugw("msg", "joined in-flight refresh", "user_id", userID, "provider", provider, "type", "token")
	}
	return v.(string), nil
}

func (uc *TokenUsecase) load(ctx context.Context, userID string, provider oauth.ProviderType) (*data.Credential, error) {
	cred, err := uc.repo.GetCredential(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, data.ErrCredentialNotFound) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred.Status == data.CredentialReconnectRequired {
		return nil, ErrReconnectRequired
	}
	return cred, nil
}

func (uc *TokenUsecase) decryptAccess(cred *data.Credential) (string, error) {
	token, err := uc.crypto.Decrypt(cred.AccessTokenEncrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return token, nil
}

// refresh runs inside the single flight. It re-reads the row first: another
// flight or process may have refreshed it already.
func (uc *TokenUsecase) refresh(ctx context.Context, userID string, provider oauth.ProviderType, skew time.Duration) (string, error) {
	cred, err := uc.load(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if !cred.Expired(uc.now(), skew) {
		return uc.decryptAccess(cred)
	}

	refreshToken, err := uc.crypto.Decrypt(cred.RefreshTokenEncrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	if refreshToken == "" {
		uc.recordFailure(ctx, cred, ErrNoRefreshToken)
		return "", ErrNoRefreshToken
	}

	p, err := uc.providers.Get(provider)
	if err != nil {
		return "", err
	}

	tok, err := p.RefreshToken(ctx, refreshToken)
	if err != nil {
		uc.recordFailure(ctx, cred, err)
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	upd := &data.TokenUpdate{}
	if upd.AccessTokenEncrypted, err = uc.crypto.Encrypt(tok.AccessToken); err != nil {
		return "", fmt.Errorf("failed to encrypt new access token: %w", err)
	}
	if tok.RefreshToken != "" {
		if upd.RefreshTokenEncrypted, err = uc.crypto.Encrypt(tok.RefreshToken); err != nil {
			return "", fmt.Errorf("failed to encrypt new refresh token: %w", err)
		}
	}
	if !tok.ExpiresAt.IsZero() {
		expiresAt := tok.ExpiresAt.UTC()
		upd.ExpiresAt = &expiresAt
	}

	// The provider already rotated the token; hand it out even when the
	// write fails so this request still succeeds.
	if err := uc.repo.UpdateToken(ctx, cred.ID, upd); err != nil {
		uc.log.Errorw("msg", "failed to persist refreshed token", "user_id", userID, "provider", provider, "error", err, "type", "token")
	}

	if err := uc.counters.Reset(ctx, refreshFailureKey(userID, provider)); err != nil {
		uc.log.Warnw("msg", "failed to reset refresh failure counter", "user_id", userID, "provider", provider, "error", err, "type", "redis")
	}
	uc.audit.LogCredentialEvent(ctx, userID, provider, data.AuditActionRefresh, map[string]interface{}{
		"expires_at": upd.ExpiresAt,
		"rotated":    tok.RefreshToken != "",
	})
	uc.log.Token("token refreshed", "user_id", userID, "provider", provider, "expires_at", upd.ExpiresAt)

	return tok.AccessToken, nil
}

// recordFailure counts consecutive failures; the credential is flagged for
// reconnect once the count reaches maxRefreshFailures. The row is kept.
func (uc *TokenUsecase) recordFailure(ctx context.Context, cred *data.Credential, cause error) {
	count, err := uc.counters.Increment(ctx, refreshFailureKey(cred.UserID, cred.Provider), refreshFailureWindow)
	if err != nil {
		uc.log.Warnw("msg", "failed to count refresh failure", "user_id", cred.UserID, "provider", cred.Provider, "error", err, "type", "redis")
	}

	uc.log.TokenFailure("token refresh failed", "user_id", cred.UserID, "provider", cred.Provider, "attempt", count, "error", cause)
	uc.audit.LogCredentialEvent(ctx, cred.UserID, cred.Provider, data.AuditActionRefreshFailed, map[string]interface{}{
		"attempt": count,
		"error":   cause.Error(),
	})

	if count < maxRefreshFailures {
		return
	}
	if err := uc.repo.UpdateStatus(ctx, cred.ID, data.CredentialReconnectRequired); err != nil {
		uc.log.Errorw("msg", "failed to flag credential for reconnect", "credential_id", cred.ID, "error", err, "type", "token")
		return
	}
	uc.audit.LogCredentialEvent(ctx, cred.UserID, cred.Provider, data.AuditActionReconnectRequired, map[string]interface{}{
		"failures": count,
	})
	uc.log.TokenFailure("credential requires reconnect", "user_id", cred.UserID, "provider", cred.Provider, "failures", count)
}
