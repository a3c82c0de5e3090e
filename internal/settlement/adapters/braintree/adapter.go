// Package braintree verifies and normalizes Braintree webhook notifications.
package braintree

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const Provider = "braintree"

type FactoryParams struct {
	fx.In

	Log *zap.Logger
}

type Factory struct {
	log *zap.Logger
}

func NewFactory(p FactoryParams) domain.AdapterFactory {
	return &Factory{log: p.Log.Named("settlement.braintree")}
}

func (f *Factory) Provider() string { return Provider }

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	publicKey := configString(cfg.Config, "public_key")
	privateKey := configString(cfg.Config, "private_key")
	if publicKey == "" || privateKey == "" {
		return nil, domain.ErrInvalidConfig
	}
	// Braintree signs with HMAC-SHA1 keyed by the SHA1 digest of the private key.
	digest := sha1.Sum([]byte(privateKey))
	return &Adapter{
		orgID:     cfg.OrgID,
		publicKey: publicKey,
		signKey:   digest[:],
		log:       f.log.With(zap.String("org_id", cfg.OrgID.String())),
	}, nil
}

type Adapter struct {
	orgID     snowflake.ID
	publicKey string
	signKey   []byte
	log       *zap.Logger
}

// Verify checks bt_signature, a list of "public_key|hex_hmac" pairs joined
// by "&", against bt_payload using the pair for this account's public key.
func (a *Adapter) Verify(_ context.Context, payload []byte, _ http.Header) error {
	signature, body, err := formFields(payload)
	if err != nil {
		return err
	}
	for _, pair := range strings.Split(signature, "&") {
		key, sum, ok := strings.Cut(pair, "|")
		if !ok || key != a.publicKey {
			continue
		}
		expected, err := hex.DecodeString(sum)
		if err != nil {
			return domain.ErrInvalidSignature
		}
		mac := hmac.New(sha1.New, a.signKey)
		mac.Write([]byte(body))
		if hmac.Equal(mac.Sum(nil), expected) {
			return nil
		}
		return domain.ErrInvalidSignature
	}
	return domain.ErrInvalidSignature
}

func (a *Adapter) Normalize(_ context.Context, payload []byte) (*domain.SettlementEvent, error) {
	_, body, err := formFields(payload)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(body))
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}
	var n notification
	if err := xml.Unmarshal(raw, &n); err != nil || n.Kind == "" {
		return nil, domain.ErrInvalidPayload
	}

	switch n.Kind {
	case "transaction_settled", "transaction_settlement_declined":
		return a.fromTransaction(n)
	case "dispute_opened":
		return a.fromDispute(n)
	case "dispute_won", "dispute_accepted", "dispute_under_review", "dispute_disputed", "dispute_expired", "dispute_lost":
		// The chargeback is booked once, when the dispute opens.
		a.log.Debug("dispute update ignored", zap.String("kind", n.Kind))
		return nil, domain.ErrEventIgnored
	default:
		return nil, domain.ErrUnrecognizedEventKind
	}
}

func (a *Adapter) fromTransaction(n notification) (*domain.SettlementEvent, error) {
	txn := n.Subject.Transaction
	if txn == nil || strings.TrimSpace(txn.ID) == "" {
		return nil, domain.ErrInvalidPayload
	}
	gross, err := cents(txn.Amount)
	if err != nil {
		return nil, err
	}

	out := &domain.SettlementEvent{
		GatewayName:          Provider,
		GatewayTransactionID: txn.ID,
		GatewayEventID:       txn.ID + ":" + n.Kind,
		OrgID:                a.orgID,
		SaleID:               saleRef(txn),
		GrossAmountCents:     gross,
		CardBrand:            txn.CreditCard.CardType,
		CardLastDigits:       txn.CreditCard.Last4,
		PaymentMethodKind:    methodKind(txn.PaymentInstrumentType),
		OccurredAt:           n.Timestamp.UTC(),
	}

	switch {
	case txn.Type == "credit":
		if n.Kind != "transaction_settled" {
			return nil, domain.ErrEventIgnored
		}
		if txn.RefundedTransactionID == "" {
			return nil, domain.ErrInvalidPayload
		}
		// The service decides between full and partial from what is left.
		out.EventKind = domain.EventKindPartiallyRefunded
		out.GatewayTransactionID = txn.RefundedTransactionID
		out.DedupeRef = txn.ID
	case n.Kind == "transaction_settled":
		out.EventKind = domain.EventKindSucceeded
	default:
		out.EventKind = domain.EventKindFailed
		out.DedupeRef = txn.ID
	}
	out.ApplyFee(0, 0, false)
	return out, nil
}

func (a *Adapter) fromDispute(n notification) (*domain.SettlementEvent, error) {
	d := n.Subject.Dispute
	if d == nil || d.Transaction.ID == "" {
		return nil, domain.ErrInvalidPayload
	}
	disputed, err := cents(d.AmountDisputed)
	if err != nil {
		return nil, err
	}
	out := &domain.SettlementEvent{
		GatewayName:          Provider,
		GatewayTransactionID: d.Transaction.ID,
		GatewayEventID:       d.ID + ":" + n.Kind,
		DedupeRef:            d.ID,
		OrgID:                a.orgID,
		SaleID:               saleRef(&d.Transaction),
		EventKind:            domain.EventKindChargeback,
		GrossAmountCents:     disputed,
		OccurredAt:           n.Timestamp.UTC(),
	}
	out.ApplyFee(0, 0, false)
	return out, nil
}

// RetrieveSettlementDetails reports the fee as unknown. Braintree exposes
// interchange and processing fees only in transaction-level fee reports.
func (a *Adapter) RetrieveSettlementDetails(_ context.Context, ref string) (*domain.SettlementDetails, error) {
	return &domain.SettlementDetails{TransactionID: ref}, nil
}

func formFields(payload []byte) (string, string, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return "", "", domain.ErrInvalidPayload
	}
	signature, body := values.Get("bt_signature"), values.Get("bt_payload")
	if signature == "" || body == "" {
		return "", "", domain.ErrInvalidPayload
	}
	return signature, body, nil
}

// cents converts a Braintree decimal amount string ("10.00") to minor units.
func cents(raw string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || amount.IsNegative() {
		return 0, domain.ErrInvalidAmount
	}
	return amount.Shift(2).Round(0).IntPart(), nil
}

func saleRef(txn *transaction) snowflake.ID {
	for _, raw := range []string{txn.CustomFields.SaleID, txn.OrderID} {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err == nil && id > 0 {
			return id
		}
	}
	return 0
}

func methodKind(instrument string) string {
	switch instrument {
	case "":
		return ""
	case "credit_card", "android_pay_card", "apple_pay_card":
		return "card"
	default:
		return instrument
	}
}

func configString(config map[string]any, key string) string {
	value, _ := config[key].(string)
	return strings.TrimSpace(value)
}

type notification struct {
	XMLName   xml.Name  `xml:"notification"`
	Kind      string    `xml:"kind"`
	Timestamp time.Time `xml:"timestamp"`
	Subject   struct {
		Transaction *transaction `xml:"transaction"`
		Dispute     *dispute     `xml:"dispute"`
	} `xml:"subject"`
}

type transaction struct {
	ID                    string `xml:"id"`
	Type                  string `xml:"type"`
	Status                string `xml:"status"`
	Amount                string `xml:"amount"`
	CurrencyISOCode       string `xml:"currency-iso-code"`
	OrderID               string `xml:"order-id"`
	RefundedTransactionID string `xml:"refunded-transaction-id"`
	PaymentInstrumentType string `xml:"payment-instrument-type"`
	CustomFields          struct {
		SaleID string `xml:"sale-id"`
	} `xml:"custom-fields"`
	CreditCard struct {
		CardType string `xml:"card-type"`
		Last4    string `xml:"last-4"`
	} `xml:"credit-card"`
}

type dispute struct {
	ID             string      `xml:"id"`
	AmountDisputed string      `xml:"amount-disputed"`
	Transaction    transaction `xml:"transaction"`
}
