package stripe

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	stripego "github.com/stripe/stripe-go/v81"
)

// RetrieveSettlementDetails reads the charge behind a payment intent or
// charge id together with its balance transaction. The fee is trusted only
// when the balance transaction reconciles against the charged amount.
func (a *Adapter) RetrieveSettlementDetails(ctx context.Context, ref string) (*domain.SettlementDetails, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, domain.ErrInvalidEvent
	}
	if a.cache != nil {
		if cached, ok := a.cache.Get(ctx, Provider, ref); ok {
			return cached, nil
		}
	}

	var (
		details *domain.SettlementDetails
		err     error
	)
	if strings.HasPrefix(ref, "pi_") {
		details, err = a.fromIntent(ctx, ref)
	} else {
		details, err = a.fromChargeID(ctx, ref)
	}
	if err != nil {
		return nil, err
	}

	if details.FeeKnown && a.cache != nil {
		a.cache.Set(ctx, Provider, ref, details)
	}
	return details, nil
}

func (a *Adapter) fromIntent(ctx context.Context, id string) (*domain.SettlementDetails, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge.balance_transaction")

	intent, err := a.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, wrapAPIError("payment_intents.get", err)
	}

	details := &domain.SettlementDetails{
		TransactionID: intent.ID,
		GrossCents:    intent.AmountReceived,
		Metadata:      copyMetadata(intent.Metadata),
	}
	if details.GrossCents == 0 {
		details.GrossCents = intent.Amount
	}
	if intent.LatestCharge != nil {
		fillFromCharge(details, intent.LatestCharge)
	}
	return details, nil
}

func (a *Adapter) fromChargeID(ctx context.Context, id string) (*domain.SettlementDetails, error) {
	params := &stripego.ChargeParams{}
	params.Context = ctx
	params.AddExpand("balance_transaction")

	charge, err := a.api.Charges.Get(id, params)
	if err != nil {
		return nil, wrapAPIError("charges.get", err)
	}

	details := &domain.SettlementDetails{
		TransactionID: transactionID(charge),
		GrossCents:    charge.Amount,
		Metadata:      copyMetadata(charge.Metadata),
	}
	fillFromCharge(details, charge)
	return details, nil
}

func fillFromCharge(details *domain.SettlementDetails, charge *stripego.Charge) {
	details.ChargeID = charge.ID
	for k, v := range charge.Metadata {
		if _, ok := details.Metadata[k]; !ok {
			if details.Metadata == nil {
				details.Metadata = map[string]string{}
			}
			details.Metadata[k] = v
		}
	}
	if pm := charge.PaymentMethodDetails; pm != nil {
		details.PaymentMethodKind = string(pm.Type)
		if pm.Card != nil {
			details.CardBrand = string(pm.Card.Brand)
			details.LastDigits = pm.Card.Last4
		}
	}

	bt := charge.BalanceTransaction
	if bt == nil || bt.Amount == 0 {
		return
	}
	if bt.AvailableOn > 0 {
		availableOn := time.Unix(bt.AvailableOn, 0).UTC()
		details.AvailableOn = &availableOn
	}
	if bt.Amount != details.GrossCents || bt.Fee < 0 || bt.Net != bt.Amount-bt.Fee {
		return
	}
	details.FeeCents = bt.Fee
	details.NetAmountCents = bt.Net
	details.FeeKnown = true
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
