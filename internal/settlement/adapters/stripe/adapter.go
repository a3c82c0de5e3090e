// Package stripe verifies and normalizes Stripe webhook deliveries and reads
// settled fees back from the Stripe API.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	Provider        = "stripe"
	SignatureHeader = "Stripe-Signature"
	saleMetadataKey = "sale_id"
)

type FactoryParams struct {
	fx.In

	Log   *zap.Logger
	Cache domain.DetailsCache `optional:"true"`
}

type Factory struct {
	log       *zap.Logger
	cache     domain.DetailsCache
	backend   stripego.Backend
	tolerance time.Duration
}

func NewFactory(p FactoryParams) domain.AdapterFactory {
	return &Factory{
		log:       p.Log.Named("settlement.stripe"),
		cache:     p.Cache,
		tolerance: webhook.DefaultTolerance,
	}
}

func (f *Factory) Provider() string { return Provider }

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	parsed, err := parseConfig(cfg.Config)
	if err != nil {
		return nil, err
	}

	var backends *stripego.Backends
	if f.backend != nil {
		backends = &stripego.Backends{API: f.backend, Connect: f.backend, Uploads: f.backend}
	}
	api := &client.API{}
	api.Init(parsed.SecretKey, backends)

	return &Adapter{
		orgID:     cfg.OrgID,
		cfg:       parsed,
		api:       api,
		cache:     f.cache,
		tolerance: f.tolerance,
		log:       f.log.With(zap.String("org_id", cfg.OrgID.String())),
	}, nil
}

// Adapter handles one organization's Stripe account.
type Adapter struct {
	orgID     snowflake.ID
	cfg       Config
	api       *client.API
	cache     domain.DetailsCache
	tolerance time.Duration
	log       *zap.Logger
}

func (a *Adapter) Verify(_ context.Context, payload []byte, headers http.Header) error {
	header := strings.TrimSpace(headers.Get(SignatureHeader))
	if header == "" {
		return domain.ErrInvalidSignature
	}
	_, err := webhook.ConstructEventWithOptions(payload, header, a.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                a.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webhook.ErrNotSigned),
		errors.Is(err, webhook.ErrInvalidHeader),
		errors.Is(err, webhook.ErrNoValidSignature),
		errors.Is(err, webhook.ErrTooOld):
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
}

// Normalize maps a verified Stripe event onto a settlement event. Event types
// that carry no money movement for the ledger return ErrUnrecognizedEventKind.
func (a *Adapter) Normalize(ctx context.Context, payload []byte) (*domain.SettlementEvent, error) {
	var evt stripego.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if evt.ID == "" || evt.Data == nil || len(evt.Data.Raw) == 0 {
		return nil, domain.ErrInvalidPayload
	}

	switch string(evt.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return a.fromCheckoutSession(ctx, &evt)
	case "payment_intent.succeeded":
		return a.fromPaymentIntent(ctx, &evt, domain.EventKindSucceeded)
	case "payment_intent.payment_failed":
		return a.fromPaymentIntent(ctx, &evt, domain.EventKindFailed)
	case "charge.succeeded":
		return a.fromCharge(ctx, &evt, domain.EventKindSucceeded)
	case "charge.failed":
		return a.fromCharge(ctx, &evt, domain.EventKindFailed)
	case "charge.refunded":
		return a.fromRefund(ctx, &evt)
	case "charge.dispute.created", "charge.dispute.funds_withdrawn":
		return a.fromDispute(ctx, &evt)
	default:
		return nil, domain.ErrUnrecognizedEventKind
	}
}

func (a *Adapter) base(evt *stripego.Event, kind domain.EventKind) *domain.SettlementEvent {
	return &domain.SettlementEvent{
		GatewayName:    Provider,
		GatewayEventID: evt.ID,
		OrgID:          a.orgID,
		EventKind:      kind,
		OccurredAt:     time.Unix(evt.Created, 0).UTC(),
	}
}

func (a *Adapter) fromCheckoutSession(ctx context.Context, evt *stripego.Event) (*domain.SettlementEvent, error) {
	var session stripego.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if session.PaymentStatus != stripego.CheckoutSessionPaymentStatusPaid {
		return nil, domain.ErrEventIgnored
	}

	out := a.base(evt, domain.EventKindSucceeded)
	out.GatewayTransactionID = session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		out.GatewayTransactionID = session.PaymentIntent.ID
	}
	out.GrossAmountCents = session.AmountTotal
	out.SaleID = saleRef(session.Metadata)
	if out.SaleID == 0 {
		out.SaleID = parseSaleID(session.ClientReferenceID)
	}
	return a.enrich(ctx, out)
}

func (a *Adapter) fromPaymentIntent(ctx context.Context, evt *stripego.Event, kind domain.EventKind) (*domain.SettlementEvent, error) {
	var intent stripego.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	out := a.base(evt, kind)
	out.GatewayTransactionID = intent.ID
	out.SaleID = saleRef(intent.Metadata)
	if intent.LatestCharge != nil {
		out.ChargeID = intent.LatestCharge.ID
	}

	if kind == domain.EventKindFailed {
		out.GrossAmountCents = intent.Amount
		out.DedupeRef = out.ChargeID
		if out.DedupeRef == "" {
			out.DedupeRef = evt.ID
		}
		return out, nil
	}

	out.GrossAmountCents = intent.AmountReceived
	if out.GrossAmountCents == 0 {
		out.GrossAmountCents = intent.Amount
	}
	return a.enrich(ctx, out)
}

func (a *Adapter) fromCharge(ctx context.Context, evt *stripego.Event, kind domain.EventKind) (*domain.SettlementEvent, error) {
	var charge stripego.Charge
	if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	out := a.base(evt, kind)
	out.GatewayTransactionID = transactionID(&charge)
	out.ChargeID = charge.ID
	out.GrossAmountCents = charge.Amount
	out.SaleID = saleRef(charge.Metadata)
	applyCard(out, &charge)

	if kind == domain.EventKindFailed {
		out.DedupeRef = charge.ID
		return out, nil
	}
	return a.enrich(ctx, out)
}

// fromRefund books the refund delta carried by this event. Stripe reports
// the cumulative refunded amount, so the previous value is taken from the
// event's previous_attributes.
func (a *Adapter) fromRefund(ctx context.Context, evt *stripego.Event) (*domain.SettlementEvent, error) {
	var charge stripego.Charge
	if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	var previous int64
	if raw, ok := evt.Data.PreviousAttributes["amount_refunded"]; ok {
		if v, ok := raw.(float64); ok {
			previous = int64(v)
		}
	}
	delta := charge.AmountRefunded - previous
	if delta <= 0 {
		return nil, domain.ErrEventIgnored
	}

	kind := domain.EventKindPartiallyRefunded
	if charge.Refunded {
		kind = domain.EventKindRefunded
	}
	out := a.base(evt, kind)
	out.GatewayTransactionID = transactionID(&charge)
	out.ChargeID = charge.ID
	out.GrossAmountCents = delta
	out.NetAmountCents = delta
	out.DedupeRef = fmt.Sprintf("refunded:%d", charge.AmountRefunded)
	out.SaleID = saleRef(charge.Metadata)
	if out.SaleID == 0 {
		if err := a.resolveReference(ctx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (a *Adapter) fromDispute(ctx context.Context, evt *stripego.Event) (*domain.SettlementEvent, error) {
	var dispute stripego.Dispute
	if err := json.Unmarshal(evt.Data.Raw, &dispute); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	out := a.base(evt, domain.EventKindChargeback)
	if dispute.Charge != nil {
		out.ChargeID = dispute.Charge.ID
	}
	out.GatewayTransactionID = out.ChargeID
	if dispute.PaymentIntent != nil && dispute.PaymentIntent.ID != "" {
		out.GatewayTransactionID = dispute.PaymentIntent.ID
	}
	out.GrossAmountCents = dispute.Amount
	out.NetAmountCents = dispute.Amount
	out.DedupeRef = dispute.ID
	out.SaleID = saleRef(dispute.Metadata)

	if out.SaleID == 0 || !strings.HasPrefix(out.GatewayTransactionID, "pi_") {
		if err := a.resolveReference(ctx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// enrich fills the fee figures of a succeeded event from the balance
// transaction. A non-retryable lookup failure leaves the fee unknown so the
// settlement can still land; the backfill job retries it later.
func (a *Adapter) enrich(ctx context.Context, out *domain.SettlementEvent) (*domain.SettlementEvent, error) {
	ref := out.GatewayTransactionID
	if !strings.HasPrefix(ref, "pi_") && !strings.HasPrefix(ref, "ch_") && !strings.HasPrefix(ref, "py_") {
		out.ApplyFee(0, 0, false)
		return out, nil
	}

	details, err := a.RetrieveSettlementDetails(ctx, ref)
	if err != nil {
		if isRetryable(err) {
			return nil, err
		}
		a.log.Warn("settlement details lookup failed; fee left unknown",
			zap.String("gateway_transaction_id", ref),
			zap.Error(err),
		)
		out.ApplyFee(0, 0, false)
		return out, nil
	}

	if out.GrossAmountCents == 0 {
		out.GrossAmountCents = details.GrossCents
	}
	if out.ChargeID == "" {
		out.ChargeID = details.ChargeID
	}
	if out.SaleID == 0 {
		out.SaleID = saleRef(details.Metadata)
	}
	if out.CardBrand == "" {
		out.CardBrand = details.CardBrand
		out.CardLastDigits = details.LastDigits
	}
	if out.PaymentMethodKind == "" {
		out.PaymentMethodKind = details.PaymentMethodKind
	}
	out.AvailableOn = details.AvailableOn

	if details.GrossCents == out.GrossAmountCents {
		out.ApplyFee(details.FeeCents, details.NetAmountCents, details.FeeKnown)
	} else {
		out.ApplyFee(0, 0, false)
	}
	return out, nil
}

// resolveReference looks the charge up to recover the payment intent id and
// the sale reference, which reversal payloads do not always carry.
func (a *Adapter) resolveReference(ctx context.Context, out *domain.SettlementEvent) error {
	ref := out.ChargeID
	if ref == "" {
		ref = out.GatewayTransactionID
	}
	if ref == "" {
		return nil
	}
	details, err := a.RetrieveSettlementDetails(ctx, ref)
	if err != nil {
		if isRetryable(err) {
			return err
		}
		a.log.Warn("reference lookup failed", zap.String("ref", ref), zap.Error(err))
		return nil
	}
	if details.TransactionID != "" {
		out.GatewayTransactionID = details.TransactionID
	}
	if out.SaleID == 0 {
		out.SaleID = saleRef(details.Metadata)
	}
	return nil
}

func transactionID(charge *stripego.Charge) string {
	if charge.PaymentIntent != nil && charge.PaymentIntent.ID != "" {
		return charge.PaymentIntent.ID
	}
	return charge.ID
}

func applyCard(out *domain.SettlementEvent, charge *stripego.Charge) {
	if charge.PaymentMethodDetails == nil {
		return
	}
	out.PaymentMethodKind = string(charge.PaymentMethodDetails.Type)
	if card := charge.PaymentMethodDetails.Card; card != nil {
		out.CardBrand = string(card.Brand)
		out.CardLastDigits = card.Last4
	}
}

func saleRef(metadata map[string]string) snowflake.ID {
	if metadata == nil {
		return 0
	}
	return parseSaleID(metadata[saleMetadataKey])
}

func parseSaleID(raw string) snowflake.ID {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
