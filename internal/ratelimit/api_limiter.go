package ratelimit

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/splitledger/internal/config"
	"go.uber.org/zap"
)

const apiKeyPrefix = "splitledger:api:"

// APILimiter throttles read API clients. A nil limiter allows everything.
type APILimiter struct {
	bucket *TokenBucket
	limit  Limit
	log    *zap.Logger
}

func NewAPILimiter(client *redis.Client, cfg config.Config, log *zap.Logger) *APILimiter {
	limit := Limit{Rate: cfg.RateLimit.APIRate, Burst: cfg.RateLimit.APIBurst}
	if client == nil || !limit.valid() {
		return nil
	}
	return &APILimiter{
		bucket: NewTokenBucket(client),
		limit:  limit,
		log:    log.Named("ratelimit"),
	}
}

// Allow fails open when Redis is unavailable.
func (l *APILimiter) Allow(ctx context.Context, clientKey string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	decision, err := l.bucket.Take(ctx, apiKeyPrefix+strings.TrimSpace(clientKey), l.limit, 1)
	if err != nil {
		l.log.Debug("rate limiter unavailable, allowing request", zap.Error(err))
		return true, 0
	}
	return decision.Allowed, decision.RetryAfter
}
