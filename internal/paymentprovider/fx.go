package paymentprovider

import (
	"github.com/smallbiznis/splitledger/internal/paymentprovider/repository"
	"github.com/smallbiznis/splitledger/internal/paymentprovider/service"
	"go.uber.org/fx"
)

// Module stores per-organization gateway credentials. It needs a
// domain.Catalog, which the settlement module supplies from its adapter
// registry.
var Module = fx.Module("paymentprovider",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
