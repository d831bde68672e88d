package biz

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"Corva/internal/conf"
	pkglog "Corva/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRefreshAhead   = 30 * time.Minute
	defaultRefreshWorkers = 5
)

// OAuthRefreshTask refreshes credentials shortly before they expire so
// interactive requests rarely pay for a refresh.
type OAuthRefreshTask struct {
	repo    CredentialRepo
	tokens  *TokenUsecase
	ahead   time.Duration
	workers int
	now     func() time.Time
	logger  *pkglog.LogHelper
}

func NewOAuthRefreshTask(repo CredentialRepo, tokens *TokenUsecase, c *conf.Sync, logger log.Logger) *OAuthRefreshTask {
	t := &OAuthRefreshTask{
		repo:    repo,
		tokens:  tokens,
		ahead:   defaultRefreshAhead,
		workers: defaultRefreshWorkers,
		now:     time.Now,
		logger:  pkglog.NewLogHelper(logger),
	}
	if c != nil {
		if c.RefreshAhead != nil {
			t.ahead = c.RefreshAhead.AsDuration()
		}
		if c.RefreshWorkers > 0 {
			t.workers = int(c.RefreshWorkers)
		}
	}
	return t
}

// RefreshExpiringTokens refreshes every active credential expiring within
// the look-ahead window. Individual failures are counted, not returned.
func (t *OAuthRefreshTask) RefreshExpiringTokens(ctx context.Context) error {
	creds, err := t.repo.ListExpiring(ctx, t.now().Add(t.ahead))
	if err != nil {
		return fmt.Errorf("failed to list expiring credentials: %w", err)
	}

	if len(creds) == 0 {
		t.logger.Scheduler("no credentials need token refresh")
		return nil
	}

	t.logger.Scheduler("refreshing expiring credentials", "count", len(creds), "ahead", t.ahead)

	var successCount, errorCount atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for _, cred := range creds {
		g.Go(func() error {
			if err := t.tokens.RefreshIfExpiring(gctx, cred.UserID, cred.Provider, t.ahead); err != nil {
				t.logger.Errorw("msg", "failed to refresh credential",
					"credential_id", cred.ID,
					"user_id", cred.UserID,
					"provider", cred.Provider,
					"error", err,
					"type", "scheduler")
				errorCount.Add(1)
				return nil
			}
			successCount.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	t.logger.Scheduler("token refresh task completed",
		"total", len(creds),
		"success", successCount.Load(),
		"error", errorCount.Load())
	return nil
}
