package data

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneTimeCode_SaveAndRedeemOnce(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	repo := NewOneTimeCodeRepo(&Data{rdb: rdb}, log.DefaultLogger)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "123456", "user-1", 10*time.Minute))
	assert.Equal(t, 10*time.Minute, mr.TTL(OneTimeCodeKeyPrefix+"123456"))

	userID, err := repo.Redeem(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = repo.Redeem(ctx, "123456")
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestOneTimeCode_Expired(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	repo := NewOneTimeCodeRepo(&Data{rdb: rdb}, log.DefaultLogger)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "tok", "user-1", 5*time.Minute))
	mr.FastForward(5*time.Minute + time.Second)

	_, err := repo.Redeem(ctx, "tok")
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestOneTimeCode_SaveDoesNotOverwrite(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	repo := NewOneTimeCodeRepo(&Data{rdb: rdb}, log.DefaultLogger)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "000001", "user-1", time.Minute))
	assert.ErrorIs(t, repo.Save(ctx, "000001", "user-2", time.Minute), ErrCodeExists)

	userID, err := repo.Redeem(ctx, "000001")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestOneTimeCode_ConcurrentRedeem(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	repo := NewOneTimeCodeRepo(&Data{rdb: rdb}, log.DefaultLogger)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, "race", "user-1", time.Minute))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Redeem(ctx, "race"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}
