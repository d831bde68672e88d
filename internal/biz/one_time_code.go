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

	"github.com/go-kratos/kratos/v2/log"
)

const (
	// IssueKeyPrefix namespaces per-user issuance counters: otc_issue:{user}
	IssueKeyPrefix  = "otc_issue:"
	// VerifyKeyPrefix namespaces per-client redemption counters: otc_verify:{client}
	VerifyKeyPrefix = "otc_verify:"

	defaultWebTokenTTL  = 5 * time.Minute
	defaultOTPTTL       = 10 * time.Minute
	defaultIssueLimit   = 5
	defaultIssueWindow  = time.Minute
	defaultVerifyLimit  = 10
	defaultVerifyWindow = 10 * time.Minute

	webTokenBytes = 32
	otpDigits     = 6
	maxCollisions = 3
)

// ErrCodeNotFound covers unknown, expired and already redeemed codes.
var ErrCodeNotFound = errors.New("code not found or already used")

// IssuedCode is a freshly stored one-time code.
type IssuedCode struct {
	Code      string
	ExpiresIn time.Duration
}

// OneTimeCodeUsecase hands identity across the web/native boundary with
// short-lived single-use codes.
type OneTimeCodeUsecase struct {
	repo         OneTimeCodeRepo
	limiter      *RateLimiterUseCase
	webTokenTTL  time.Duration
	otpTTL       time.Duration
	issueLimit   int32
	issueWindow  time.Duration
	verifyLimit  int32
	verifyWindow time.Duration
	log          *pkglog.LogHelper
}

func NewOneTimeCodeUsecase(repo OneTimeCodeRepo, limiter *RateLimiterUseCase, c *conf.Otp, logger log.Logger) *OneTimeCodeUsecase {
	uc := &OneTimeCodeUsecase{
		repo:         repo,
		limiter:      limiter,
		webTokenTTL:  defaultWebTokenTTL,
		otpTTL:       defaultOTPTTL,
		issueLimit:   defaultIssueLimit,
		issueWindow:  defaultIssueWindow,
		verifyLimit:  defaultVerifyLimit,
		verifyWindow: defaultVerifyWindow,
		log:          pkglog.NewLogHelper(logger),
	}
	if c != nil {
		if c.WebTokenTtl != nil {
			uc.webTokenTTL = c.WebTokenTtl.AsDuration()
		}
		if c.OtpTtl != nil {
			uc.otpTTL = c.OtpTtl.AsDuration()
		}
		if c.IssueLimit > 0 {
			uc.issueLimit = c.IssueLimit
		}
		if c.IssueWindow != nil {
			uc.issueWindow = c.IssueWindow.AsDuration()
		}
		if c.VerifyLimit > 0 {
			uc.verifyLimit = c.VerifyLimit
		}
		if c.VerifyWindow != nil {
			uc.verifyWindow = c.VerifyWindow.AsDuration()
		}
	}
	return uc
}

// IssueWebToken issues a URL-safe random token for deep link handoff.
func (uc *OneTimeCodeUsecase) IssueWebToken(ctx context.Context, userID string) (*IssuedCode, error) {
	return uc.issue(ctx, userID, "web_token", uc.webTokenTTL, func() (string, error) {
		return crypto.RandomToken(webTokenBytes)
	})
}

// IssueOTP issues a numeric code a user can type in.
func (uc *OneTimeCodeUsecase) IssueOTP(ctx context.Context, userID string) (*IssuedCode, error) {
	return uc.issue(ctx, userID, "otp", uc.otpTTL, func() (string, error) {
		return crypto.RandomDigits(otpDigits)
	})
}

func (uc *OneTimeCodeUsecase) issue(ctx context.Context, userID, kind string, ttl time.Duration, gen func() (string, error)) (*IssuedCode, error) {
	if err := uc.limiter.Allow(ctx, IssueKeyPrefix+userID, uc.issueLimit, uc.issueWindow); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxCollisions; attempt++ {
		code, err := gen()
		if err != nil {
			return nil, fmt.Errorf("failed to generate code: %w", err)
		}
		err = uc.repo.Save(ctx, code, userID, ttl)
		if errors.Is(err, data.ErrCodeExists) {
			uc.log.Debugw("msg", "one-time code collision, regenerating", "kind", kind, "attempt", attempt, "type", "otp")
			continue
		}
		if err != nil {
			return nil, err
		}
		uc.log.OTP("one-time code issued", "user_id", userID, "kind", kind, "ttl", ttl)
		return &IssuedCode{Code: code, ExpiresIn: ttl}, nil
	}
	return nil, fmt.Errorf("failed to issue %s: %w", kind, data.ErrCodeExists)
}

// Redeem consumes code and returns the user it was issued for. A code
// resolves at most once. Every attempt counts against client's verify
// budget before the lookup.
func (uc *OneTimeCodeUsecase) Redeem(ctx context.Context, code, client string) (string, error) {
	if client == "" {
		client = "unknown"
	}
	if err := uc.limiter.Allow(ctx, VerifyKeyPrefix+client, uc.verifyLimit, uc.verifyWindow); err != nil {
		uc.log.OTP("one-time code verify throttled", "client", client)
		return "", err
	}

	userID, err := uc.repo.Redeem(ctx, code)
	if errors.Is(err, data.ErrCodeNotFound) {
		uc.log.OTP("one-time code rejected", "client", client)
		return "", ErrCodeNotFound
	}
	if err != nil {
		return "", err
	}
	uc.log.OTP("one-time code redeemed", "user_id", userID)
	return userID, nil
}
