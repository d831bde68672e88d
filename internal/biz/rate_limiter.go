package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// RateLimiterUseCase implements fixed-window rate limiting on Redis counters.
type RateLimiterUseCase struct {
	repo   RateLimitRepo
	logger *log.Helper
}

// NewRateLimiterUseCase creates a new rate limiter use case.
func NewRateLimiterUseCase(repo RateLimitRepo, logger log.Logger) *RateLimiterUseCase {
	return &RateLimiterUseCase{
		repo:   repo,
		logger: log.NewHelper(logger),
	}
}

// RateLimitExceededError represents a rate limit exceeded error with retry information.
type RateLimitExceededError struct {
	Key          string
	CurrentCount int64
	Limit        int32
	RetryAfter   time.Duration
}

// Error implements the error interface.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s current=%d limit=%d retry_after=%ds",
		e.Key, e.CurrentCount, e.Limit, int64(e.RetryAfter.Seconds()))
}

// Allow counts one hit on key and rejects it once the window holds more
// than limit hits.
// Redis degradation: on Redis failure, logs warning and allows request.
func (uc *RateLimiterUseCase) Allow(ctx context.Context, key string, limit int32, window time.Duration) error {
	if limit <= 0 {
		// No limit configured, allow request
		return nil
	}

	count, err := uc.repo.Increment(ctx, key, window)
	if err != nil {
		uc.logger.Warnw("msg", "rate limit counter unavailable, allowing request", "key", key, "error", err, "type", "redis")
		return nil
	}

	if count > int64(limit) {
		uc.logger.Warnw("msg", "rate limit exceeded", "key", key, "current", count, "limit", limit)
		return &RateLimitExceededError{
			Key:          key,
			CurrentCount: count,
			Limit:        limit,
			RetryAfter:   window,
		}
	}
	return nil
}
