// Package adyen verifies and normalizes Adyen standard notifications.
package adyen

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	Provider        = "adyen"
	saleMetadataKey = "metadata.sale_id"
	signatureKey    = "hmacSignature"
)

type FactoryParams struct {
	fx.In

	Log *zap.Logger
}

type Factory struct {
	log *zap.Logger
}

func NewFactory(p FactoryParams) domain.AdapterFactory {
	return &Factory{log: p.Log.Named("settlement.adyen")}
}

func (f *Factory) Provider() string { return Provider }

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	raw, _ := cfg.Config["hmac_key"].(string)
	key, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil || len(key) == 0 {
		return nil, domain.ErrInvalidConfig
	}
	merchant, _ := cfg.Config["merchant_account"].(string)

	return &Adapter{
		orgID:    cfg.OrgID,
		hmacKey:  key,
		merchant: strings.TrimSpace(merchant),
		log:      f.log.With(zap.String("org_id", cfg.OrgID.String())),
	}, nil
}

// Adapter handles one organization's Adyen merchant account. Adyen signs
// each notification item rather than the request, so verification walks the
// batch.
type Adapter struct {
	orgID    snowflake.ID
	hmacKey  []byte
	merchant string
	log      *zap.Logger
}

func (a *Adapter) Verify(_ context.Context, payload []byte, _ http.Header) error {
	items, err := decode(payload)
	if err != nil {
		return err
	}
	for _, item := range items {
		if a.merchant != "" && !strings.EqualFold(item.MerchantAccountCode, a.merchant) {
			return domain.ErrInvalidSignature
		}
		expected, err := base64.StdEncoding.DecodeString(item.AdditionalData[signatureKey])
		if err != nil || len(expected) == 0 {
			return domain.ErrInvalidSignature
		}
		mac := hmac.New(sha256.New, a.hmacKey)
		mac.Write([]byte(signingString(item)))
		if !hmac.Equal(mac.Sum(nil), expected) {
			return domain.ErrInvalidSignature
		}
	}
	return nil
}

// Normalize maps a single-item delivery. Batches go through NormalizeBatch.
func (a *Adapter) Normalize(_ context.Context, payload []byte) (*domain.SettlementEvent, error) {
	items, err := decode(payload)
	if err != nil {
		return nil, err
	}
	if len(items) > 1 {
		return nil, fmt.Errorf("%w: %d items in batch", domain.ErrInvalidPayload, len(items))
	}
	return a.normalizeItem(items[0])
}

// NormalizeBatch maps every item of a notification. Adyen sends one item per
// request unless batching is enabled on the merchant account.
func (a *Adapter) NormalizeBatch(_ context.Context, payload []byte) ([]domain.NormalizedItem, error) {
	items, err := decode(payload)
	if err != nil {
		return nil, err
	}
	if len(items) > 1 {
		a.log.Debug("adyen batch delivery", zap.Int("items", len(items)))
	}
	out := make([]domain.NormalizedItem, 0, len(items))
	for _, item := range items {
		event, err := a.normalizeItem(item)
		out = append(out, domain.NormalizedItem{Event: event, Err: err})
	}
	return out, nil
}

func (a *Adapter) normalizeItem(item notificationItem) (*domain.SettlementEvent, error) {
	success := strings.EqualFold(item.Success, "true")
	out := &domain.SettlementEvent{
		GatewayName:          Provider,
		GatewayTransactionID: item.PspReference,
		GatewayEventID:       item.PspReference + ":" + item.EventCode,
		OrgID:                a.orgID,
		GrossAmountCents:     item.Amount.Value,
		CardBrand:            item.PaymentMethod,
		CardLastDigits:       item.AdditionalData["cardSummary"],
		OccurredAt:           eventDate(item.EventDate),
		SaleID:               saleRef(item),
	}

	if out.CardLastDigits != "" {
		out.PaymentMethodKind = "card"
	}

	switch item.EventCode {
	case "AUTHORISATION":
		out.EventKind = domain.EventKindSucceeded
		if !success {
			out.EventKind = domain.EventKindFailed
			out.DedupeRef = item.PspReference
		}
	case "CANCELLATION", "OFFER_CLOSED":
		if !success {
			return nil, domain.ErrEventIgnored
		}
		out.EventKind = domain.EventKindFailed
		out.DedupeRef = item.PspReference
	case "REFUND":
		if !success {
			return nil, domain.ErrEventIgnored
		}
		// The service decides between full and partial from what is left.
		out.EventKind = domain.EventKindPartiallyRefunded
	case "CHARGEBACK":
		out.EventKind = domain.EventKindChargeback
	default:
		return nil, domain.ErrUnrecognizedEventKind
	}

	if out.EventKind.Reversal() {
		out.GatewayTransactionID = item.OriginalReference
		out.DedupeRef = item.PspReference
		out.NetAmountCents = out.GrossAmountCents
	}
	if out.GatewayTransactionID == "" {
		return nil, domain.ErrInvalidPayload
	}
	out.ApplyFee(0, 0, false)
	return out, nil
}

// RetrieveSettlementDetails reports the fee as unknown. Adyen publishes
// processing fees in settlement reports rather than per payment, so the
// backfill job leaves these sales pending.
func (a *Adapter) RetrieveSettlementDetails(_ context.Context, ref string) (*domain.SettlementDetails, error) {
	return &domain.SettlementDetails{TransactionID: ref}, nil
}

func decode(payload []byte) ([]notificationItem, error) {
	var root notificationRoot
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	items := make([]notificationItem, 0, len(root.NotificationItems))
	for _, wrapped := range root.NotificationItems {
		items = append(items, wrapped.Item)
	}
	if len(items) == 0 {
		return nil, domain.ErrInvalidPayload
	}
	return items, nil
}

// signingString joins the signed fields with colons after escaping
// backslashes and colons.
func signingString(item notificationItem) string {
	parts := []string{
		item.PspReference,
		item.OriginalReference,
		item.MerchantAccountCode,
		item.MerchantReference,
		strconv.FormatInt(item.Amount.Value, 10),
		item.Amount.Currency,
		item.EventCode,
		item.Success,
	}
	escaper := strings.NewReplacer(`\`, `\\`, `:`, `\:`)
	for i, part := range parts {
		parts[i] = escaper.Replace(part)
	}
	return strings.Join(parts, ":")
}

func saleRef(item notificationItem) snowflake.ID {
	for _, raw := range []string{item.AdditionalData[saleMetadataKey], item.MerchantReference} {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err == nil && id > 0 {
			return id
		}
	}
	return 0
}

func eventDate(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

type notificationRoot struct {
	NotificationItems []struct {
		Item notificationItem `json:"NotificationRequestItem"`
	} `json:"notificationItems"`
}

type notificationItem struct {
	AdditionalData      map[string]string `json:"additionalData"`
	Amount              amount            `json:"amount"`
	EventCode           string            `json:"eventCode"`
	EventDate           string            `json:"eventDate"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	MerchantReference   string            `json:"merchantReference"`
	OriginalReference   string            `json:"originalReference"`
	PaymentMethod       string            `json:"paymentMethod"`
	PspReference        string            `json:"pspReference"`
	Reason              string            `json:"reason"`
	Success             string            `json:"success"`
}

type amount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}
