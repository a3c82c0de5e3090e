package settlement

import (
	paymentproviderdomain "github.com/smallbiznis/splitledger/internal/paymentprovider/domain"
	"github.com/smallbiznis/splitledger/internal/settlement/adapters"
	"github.com/smallbiznis/splitledger/internal/settlement/adapters/adyen"
	"github.com/smallbiznis/splitledger/internal/settlement/adapters/braintree"
	"github.com/smallbiznis/splitledger/internal/settlement/adapters/stripe"
	"github.com/smallbiznis/splitledger/internal/settlement/repository"
	"github.com/smallbiznis/splitledger/internal/settlement/service"
	"github.com/smallbiznis/splitledger/internal/settlement/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement",
	fx.Provide(repository.Provide),
	fx.Provide(
		fx.Annotate(stripe.NewFactory, fx.ResultTags(`group:"settlement_adapters"`)),
		fx.Annotate(adyen.NewFactory, fx.ResultTags(`group:"settlement_adapters"`)),
		fx.Annotate(braintree.NewFactory, fx.ResultTags(`group:"settlement_adapters"`)),
	),
	fx.Provide(adapters.NewRegistry),
	fx.Provide(func(r *adapters.Registry) paymentproviderdomain.Catalog { return r }),
	fx.Provide(adapters.NewResolver),
	fx.Provide(service.NewTriage),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewService),
)
