package data

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// RateLimitRepo implements biz.CounterRepo with fixed-window Redis counters.
// It backs one-time code issuance limits and refresh failure counting.
type RateLimitRepo struct {
	data   *Data
	logger *log.Helper
}

func NewRateLimitRepo(data *Data, logger log.Logger) *RateLimitRepo {
	return &RateLimitRepo{
		data:   data,
		logger: log.NewHelper(logger),
	}
}

// Increment increments key and returns the new count. The window starts at
// the first increment: the expiry is set only when the counter is created.
func (r *RateLimitRepo) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if r.data.rdb == nil {
		return 0, errRedisUnavailable
	}

	count, err := r.data.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}

	if count == 1 {
		if err := r.data.rdb.Expire(ctx, key, window).Err(); err != nil {
			// The counter still counts; it just may outlive its window.
			r.logger.Warnw("msg", "failed to set counter expiration", "key", key, "error", err, "type", "redis")
		}
	}

	return count, nil
}

// Count returns the current value of key, 0 when absent.
func (r *RateLimitRepo) Count(ctx context.Context, key string) (int64, error) {
	if r.data.rdb == nil {
		return 0, errRedisUnavailable
	}

	val, err := r.data.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return n, nil
}

// Reset deletes key.
func (r *RateLimitRepo) Reset(ctx context.Context, key string) error {
	if r.data.rdb == nil {
		return errRedisUnavailable
	}
	if err := r.data.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to reset %s: %w", key, err)
	}
	return nil
}
