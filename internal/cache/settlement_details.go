package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"go.uber.org/zap"
)

const (
	defaultDetailsTTL   = 10 * time.Minute
	defaultDetailsRedis = 24 * time.Hour
	detailsKeyPrefix    = "splitledger:settlement_details:"
)

// SettlementDetailsCache keeps gateway fee lookups in process memory and,
// when Redis is configured, shares them across replicas. Only fee-known
// details are stored since those no longer change at the gateway.
type SettlementDetailsCache struct {
	local    *TTLCache[string, domain.SettlementDetails]
	redis    *redis.Client
	log      *zap.Logger
	localTTL time.Duration
	redisTTL time.Duration
}

func NewSettlementDetailsCache(client *redis.Client, log *zap.Logger) *SettlementDetailsCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettlementDetailsCache{
		local:    NewTTLCache[string, domain.SettlementDetails](),
		redis:    client,
		log:      log.Named("cache.settlement_details"),
		localTTL: defaultDetailsTTL,
		redisTTL: defaultDetailsRedis,
	}
}

func (c *SettlementDetailsCache) Get(ctx context.Context, provider, ref string) (*domain.SettlementDetails, bool) {
	key := cacheKey(provider, ref)
	if key == "" {
		return nil, false
	}
	if details, ok := c.local.Get(key); ok {
		return &details, true
	}
	if c.redis == nil {
		return nil, false
	}

	raw, err := c.redis.Get(ctx, detailsKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var details domain.SettlementDetails
	if err := json.Unmarshal(raw, &details); err != nil || !details.FeeKnown {
		return nil, false
	}
	c.local.Set(key, details, c.localTTL)
	return &details, true
}

func (c *SettlementDetailsCache) Set(ctx context.Context, provider, ref string, details *domain.SettlementDetails) {
	key := cacheKey(provider, ref)
	if key == "" || details == nil || !details.FeeKnown {
		return
	}
	c.local.Set(key, *details, c.localTTL)
	if c.redis == nil {
		return
	}

	raw, err := json.Marshal(details)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, detailsKeyPrefix+key, raw, c.redisTTL).Err(); err != nil {
		c.log.Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			return ""
		}
		values = append(values, trimmed)
	}
	return strings.Join(values, "|")
}
