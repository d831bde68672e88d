// Package data provides data access layer implementations.
// It handles database connections and data persistence.
package data

import (
	"Corva/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
	NewCredentialRepo,
	NewSlotRepo,
	NewOneTimeCodeRepo,
	NewRateLimitRepo,
	NewAuditLogger,
)

// Data contains all data layer dependencies.
type Data struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewData creates a new Data instance with all data layer dependencies.
// A nil Redis client does not prevent startup; Redis-backed operations fail
// individually instead.
func NewData(_ *conf.Data, logger log.Logger, db *gorm.DB, rdb *redis.Client) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, one-time codes and OAuth state will be unavailable")
	}

	d := &Data{
		db:  db,
		rdb: rdb,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// MySQL and Redis are closed by their own constructors' cleanups.
	}

	return d, cleanup, nil
}

// DB returns the GORM handle.
func (d *Data) DB() *gorm.DB {
	return d.db
}

// RedisClient returns the Redis client for advanced operations.
func (d *Data) RedisClient() *redis.Client {
	return d.rdb
}
