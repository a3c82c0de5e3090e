package cache

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type detailsParams struct {
	fx.In

	Redis *redis.Client `optional:"true"`
	Log   *zap.Logger
}

func provideDetailsCache(p detailsParams) domain.DetailsCache {
	return NewSettlementDetailsCache(p.Redis, p.Log)
}

var Module = fx.Module("cache",
	fx.Provide(provideDetailsCache),
)
