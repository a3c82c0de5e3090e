package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/splitledger/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNilLimiterAllows(t *testing.T) {
	limiter := NewAPILimiter(nil, config.Config{RateLimit: config.RateLimitConfig{APIRate: 1, APIBurst: 1}}, zap.NewNop())
	assert.Nil(t, limiter)

	ok, retry := limiter.Allow(context.Background(), "127.0.0.1")
	assert.True(t, ok)
	assert.Zero(t, retry)
}

func TestNilLockerRefuses(t *testing.T) {
	var locker *Locker
	ran, err := locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return nil })
	assert.False(t, ran)
	assert.ErrorIs(t, err, ErrLockerUnavailable)
}

func TestLimitTTL(t *testing.T) {
	assert.Equal(t, 4*time.Second, Limit{Rate: 20, Burst: 40}.ttl())
	assert.Equal(t, time.Second, Limit{Rate: 100, Burst: 1}.ttl())
	assert.Equal(t, time.Second, Limit{}.ttl())
}

func TestTakeRejectsBadArguments(t *testing.T) {
	var bucket *TokenBucket
	_, err := bucket.Take(context.Background(), "k", Limit{Rate: 1, Burst: 1}, 1)
	assert.ErrorIs(t, err, errBucketUnconfigured)

	bucket = NewTokenBucket(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	_, err = bucket.Take(context.Background(), "", Limit{Rate: 1, Burst: 1}, 1)
	assert.ErrorIs(t, err, errBucketArgs)
	_, err = bucket.Take(context.Background(), "k", Limit{Rate: 0, Burst: 1}, 1)
	assert.ErrorIs(t, err, errBucketArgs)
}
