package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// OneTimeCodeKeyPrefix namespaces one-time codes: otc:{code}
const OneTimeCodeKeyPrefix = "otc:"

var (
	// ErrCodeNotFound covers unknown, expired and already redeemed codes.
	ErrCodeNotFound = errors.New("one-time code not found")
	// ErrCodeExists is returned when a freshly generated code collides with a
	// live one.
	ErrCodeExists = errors.New("one-time code already exists")
)

var errRedisUnavailable = errors.New("redis client is nil")

// OneTimeCodeRepo implements biz.OneTimeCodeRepo on Redis.
type OneTimeCodeRepo struct {
	data   *Data
	logger *log.Helper
}

func NewOneTimeCodeRepo(data *Data, logger log.Logger) *OneTimeCodeRepo {
	return &OneTimeCodeRepo{
		data:   data,
		logger: log.NewHelper(logger),
	}
}

// Save stores code -> userID for ttl. It never overwrites a live code.
func (r *OneTimeCodeRepo) Save(ctx context.Context, code, userID string, ttl time.Duration) error {
	if r.data.rdb == nil {
		return errRedisUnavailable
	}

	ok, err := r.data.rdb.SetNX(ctx, OneTimeCodeKeyPrefix+code, userID, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save one-time code: %w", err)
	}
	if !ok {
		return ErrCodeExists
	}
	return nil
}

// Redeem returns the user id stored under code and deletes it in the same
// command, so a code resolves at most once.
func (r *OneTimeCodeRepo) Redeem(ctx context.Context, code string) (string, error) {
	if r.data.rdb == nil {
		return "", errRedisUnavailable
	}

	userID, err := r.data.rdb.GetDel(ctx, OneTimeCodeKeyPrefix+code).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCodeNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to redeem one-time code: %w", err)
	}
	return userID, nil
}
