package main

import (
	"context"
	"time"

	"Corva/internal/biz"
	"Corva/internal/conf"
	pkglog "Corva/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

const (
	defaultRefreshCron = "0 */15 * * * *"
	refreshPassTimeout = 10 * time.Minute
)

// newTokenRefreshCron schedules the proactive token refresh pass. The
// expression has six fields, seconds first. The cron is not started here.
func newTokenRefreshCron(task *biz.OAuthRefreshTask, sc *conf.Sync, logger log.Logger) (*cron.Cron, error) {
	helper := pkglog.NewLogHelper(logger)

	expr := defaultRefreshCron
	if sc != nil && sc.RefreshCron != "" {
		expr = sc.RefreshCron
	}

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshPassTimeout)
		defer cancel()

		if err := task.RefreshExpiringTokens(ctx); err != nil {
			helper.Errorw("msg", "token refresh pass failed", "error", err, "type", "scheduler")
		}
	})
	if err != nil {
		helper.Errorw("msg", "failed to register token refresh cron job", "expr", expr, "error", err, "type", "scheduler")
		return nil, err
	}

	helper.Scheduler("token refresh cron job registered", "expr", expr)
	return c, nil
}
