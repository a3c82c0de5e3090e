// Package adapters maps gateway names to the adapters that verify and
// normalize their webhook deliveries.
package adapters

import (
	"fmt"
	"slices"
	"strings"

	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"go.uber.org/fx"
)

type RegistryParams struct {
	fx.In

	Factories []domain.AdapterFactory `group:"settlement_adapters"`
}

// Registry holds one factory per gateway. It doubles as the provider catalog
// so organizations can only store credentials for gateways the ledger speaks.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(p RegistryParams) (*Registry, error) {
	return NewRegistryFrom(p.Factories...)
}

func NewRegistryFrom(factories ...domain.AdapterFactory) (*Registry, error) {
	r := &Registry{factories: make(map[string]domain.AdapterFactory, len(factories))}
	for _, f := range factories {
		if f == nil {
			continue
		}
		name := normalize(f.Provider())
		if name == "" {
			return nil, fmt.Errorf("adapter factory without provider name")
		}
		if _, dup := r.factories[name]; dup {
			return nil, fmt.Errorf("duplicate adapter factory for %q", name)
		}
		r.factories[name] = f
	}
	return r, nil
}

func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

func (r *Registry) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	factory, ok := r.factories[normalize(cfg.Provider)]
	if !ok {
		return nil, domain.ErrInvalidProvider
	}
	adapter, err := factory.NewAdapter(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return adapter, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
