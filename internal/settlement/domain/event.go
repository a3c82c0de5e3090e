package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type EventKind string

const (
	EventKindSucceeded         EventKind = "succeeded"
	EventKindFailed            EventKind = "failed"
	EventKindRefunded          EventKind = "refunded"
	EventKindPartiallyRefunded EventKind = "partially_refunded"
	EventKindChargeback        EventKind = "chargeback"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventKindSucceeded, EventKindFailed, EventKindRefunded, EventKindPartiallyRefunded, EventKindChargeback:
		return true
	}
	return false
}

// Reversal reports whether the event gives money back out of prior splits.
func (k EventKind) Reversal() bool {
	return k == EventKindRefunded || k == EventKindPartiallyRefunded || k == EventKindChargeback
}

// SettlementEvent is the provider-neutral shape every gateway event is
// normalized into before it touches the ledger.
type SettlementEvent struct {
	GatewayName          string       `json:"gateway_name"`
	GatewayTransactionID string       `json:"gateway_transaction_id"`
	GatewayEventID       string       `json:"gateway_event_id"`
	DedupeRef            string       `json:"dedupe_ref,omitempty"`
	ChargeID             string       `json:"charge_id,omitempty"`
	SaleID               snowflake.ID `json:"sale_id"`
	OrgID                snowflake.ID `json:"org_id,omitempty"`
	EventKind            EventKind    `json:"event_kind"`
	GrossAmountCents     int64        `json:"gross_amount_cents"`
	FeeCents             int64        `json:"fee_cents"`
	NetAmountCents       int64        `json:"net_amount_cents"`
	FeeKnown             bool         `json:"fee_known"`
	AvailableOn          *time.Time   `json:"available_on,omitempty"`
	CardBrand            string       `json:"card_brand,omitempty"`
	CardLastDigits       string       `json:"card_last_digits,omitempty"`
	PaymentMethodKind    string       `json:"payment_method_kind,omitempty"`
	OccurredAt           time.Time    `json:"occurred_at"`
}

// ApplyFee records gateway fee figures, falling back to gross when the
// figures are missing or do not reconcile.
func (e *SettlementEvent) ApplyFee(fee, net int64, known bool) {
	if !known || fee < 0 || net != e.GrossAmountCents-fee {
		e.FeeCents = 0
		e.NetAmountCents = e.GrossAmountCents
		e.FeeKnown = false
		return
	}
	e.FeeCents = fee
	e.NetAmountCents = net
	e.FeeKnown = true
}

// Validate normalizes identifiers and checks the amount invariants. now
// stands in for a missing occurrence time.
func (e *SettlementEvent) Validate(now time.Time) error {
	if e == nil {
		return ErrInvalidEvent
	}
	e.GatewayName = strings.ToLower(strings.TrimSpace(e.GatewayName))
	e.GatewayTransactionID = strings.TrimSpace(e.GatewayTransactionID)
	e.DedupeRef = strings.TrimSpace(e.DedupeRef)
	if e.GatewayName == "" || e.GatewayTransactionID == "" {
		return ErrInvalidEvent
	}
	if !e.EventKind.Valid() {
		return ErrUnrecognizedEventKind
	}
	if e.SaleID == 0 {
		return ErrMissingSaleReference
	}
	if e.GrossAmountCents < 0 {
		return ErrInvalidAmount
	}
	if e.EventKind != EventKindFailed && e.GrossAmountCents == 0 {
		return ErrInvalidAmount
	}
	if !e.FeeKnown {
		e.FeeCents = 0
		e.NetAmountCents = e.GrossAmountCents
	} else if e.NetAmountCents != e.GrossAmountCents-e.FeeCents {
		return ErrInvalidAmount
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now.UTC()
	}
	return nil
}
