package adapters

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	paymentproviderdomain "github.com/smallbiznis/splitledger/internal/paymentprovider/domain"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
)

// Resolver builds gateway clients from an organization's active provider
// credentials.
type Resolver struct {
	providers paymentproviderdomain.Service
	registry  *Registry
}

func NewResolver(providers paymentproviderdomain.Service, registry *Registry) domain.GatewayResolver {
	return &Resolver{providers: providers, registry: registry}
}

func (r *Resolver) GatewayFor(ctx context.Context, orgID snowflake.ID, provider string) (domain.Gateway, error) {
	cfg, err := r.providers.GetActive(ctx, orgID, provider)
	if err != nil {
		if errors.Is(err, paymentproviderdomain.ErrNotFound) {
			return nil, domain.ErrProviderNotFound
		}
		return nil, err
	}
	return r.registry.NewAdapter(domain.AdapterConfig{
		OrgID:    cfg.OrgID,
		Provider: cfg.Provider,
		Config:   cfg.Config,
	})
}
