package feeconfig

import (
	"github.com/smallbiznis/splitledger/internal/feeconfig/repository"
	"github.com/smallbiznis/splitledger/internal/feeconfig/service"
	"go.uber.org/fx"
)

var Module = fx.Module("feeconfig.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
