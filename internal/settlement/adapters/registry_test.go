package adapters

import (
	"context"
	"net/http"
	"testing"

	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedFactory struct {
	name string
	err  error
}

func (f namedFactory) Provider() string { return f.name }

func (f namedFactory) NewAdapter(domain.AdapterConfig) (domain.Adapter, error) {
	if f.err != nil {
		return nil, f.err
	}
	return noopAdapter{}, nil
}

type noopAdapter struct{}

func (noopAdapter) Verify(context.Context, []byte, http.Header) error { return nil }
func (noopAdapter) Normalize(context.Context, []byte) (*domain.SettlementEvent, error) {
	return nil, nil
}
func (noopAdapter) RetrieveSettlementDetails(context.Context, string) (*domain.SettlementDetails, error) {
	return nil, nil
}

func TestRegistryProviders(t *testing.T) {
	registry, err := NewRegistryFrom(namedFactory{name: "Stripe"}, namedFactory{name: "adyen"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"adyen", "stripe"}, registry.Providers())
	assert.True(t, registry.ProviderExists(" STRIPE "))
	assert.False(t, registry.ProviderExists("paypal"))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistryFrom(namedFactory{name: "stripe"}, namedFactory{name: "STRIPE"})
	assert.Error(t, err)
}

func TestRegistryNewAdapter(t *testing.T) {
	registry, err := NewRegistryFrom(namedFactory{name: "stripe"}, namedFactory{name: "broken", err: assert.AnError})
	require.NoError(t, err)

	_, err = registry.NewAdapter(domain.AdapterConfig{Provider: "stripe"})
	require.NoError(t, err)

	_, err = registry.NewAdapter(domain.AdapterConfig{Provider: "paypal"})
	assert.ErrorIs(t, err, domain.ErrInvalidProvider)

	_, err = registry.NewAdapter(domain.AdapterConfig{Provider: "broken"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
