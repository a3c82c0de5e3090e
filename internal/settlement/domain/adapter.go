package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
)

type AdapterConfig struct {
	OrgID    snowflake.ID
	Provider string
	Config   map[string]any
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

// Adapter verifies and normalizes one provider's webhook deliveries for a
// single organization's credentials.
type Adapter interface {
	Gateway
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Normalize(ctx context.Context, payload []byte) (*SettlementEvent, error)
}

// BatchNormalizer is implemented by adapters whose deliveries can carry more
// than one event. Every item is returned; Err is set on items that could not
// be mapped so the rest of the batch is still applied.
type BatchNormalizer interface {
	NormalizeBatch(ctx context.Context, payload []byte) ([]NormalizedItem, error)
}

type NormalizedItem struct {
	Event *SettlementEvent
	Err   error
}

// Gateway is the provider API the ledger consults for authoritative fees.
type Gateway interface {
	RetrieveSettlementDetails(ctx context.Context, ref string) (*SettlementDetails, error)
}

// GatewayResolver builds a gateway client from an organization's stored credentials.
type GatewayResolver interface {
	GatewayFor(ctx context.Context, orgID snowflake.ID, provider string) (Gateway, error)
}

type SettlementDetails struct {
	ChargeID          string            `json:"charge_id"`
	TransactionID     string            `json:"transaction_id"`
	GrossCents        int64             `json:"gross_cents"`
	FeeCents          int64             `json:"fee_cents"`
	NetAmountCents    int64             `json:"net_amount_cents"`
	FeeKnown          bool              `json:"fee_known"`
	AvailableOn       *time.Time        `json:"available_on,omitempty"`
	CardBrand         string            `json:"card_brand,omitempty"`
	LastDigits        string            `json:"last_digits,omitempty"`
	PaymentMethodKind string            `json:"payment_method_kind,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// DetailsCache memoizes settled fee lookups. Only fee-known details are cached
// since they no longer change at the gateway.
type DetailsCache interface {
	Get(ctx context.Context, provider, ref string) (*SettlementDetails, bool)
	Set(ctx context.Context, provider, ref string, details *SettlementDetails)
}
