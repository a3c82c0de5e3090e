package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Disposition
	}{
		{err: nil, want: DispositionAck},
		{err: ErrDuplicate, want: DispositionAck},
		{err: ErrUnrecognizedEventKind, want: DispositionAck},
		{err: ErrSaleNotFound, want: DispositionAckAlert},
		{err: fmt.Errorf("%w: gross 10000 cents", ErrAmountExceedsSale), want: DispositionAckAlert},
		{err: ErrInvalidAmount, want: DispositionAckAlert},
		{err: ErrInvalidEvent, want: DispositionAckAlert},
		{err: ErrInvalidConfig, want: DispositionAckAlert},
		{err: ErrInvalidSignature, want: DispositionReject},
		{err: ErrInvalidPayload, want: DispositionReject},
		{err: ErrSettlementPending, want: DispositionRetry},
		{err: context.DeadlineExceeded, want: DispositionRetry},
		{err: errors.New("connection reset"), want: DispositionRetry},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestAlertReason(t *testing.T) {
	assert.Equal(t, "unprocessable_event", AlertReason(ErrInvalidAmount))
	assert.Equal(t, "amount_exceeds_sale", AlertReason(fmt.Errorf("%w: x", ErrAmountExceedsSale)))
	assert.Equal(t, "invalid_configuration", AlertReason(ErrInvalidConfig))
}

func TestValidateUsesSuppliedTime(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 4, 5, 0, time.FixedZone("WIB", 7*3600))
	event := &SettlementEvent{
		GatewayName:          " Stripe ",
		GatewayTransactionID: "pi_1",
		SaleID:               42,
		EventKind:            EventKindSucceeded,
		GrossAmountCents:     1000,
	}
	if err := event.Validate(now); err != nil {
		t.Fatalf("validate: %v", err)
	}
	assert.Equal(t, "stripe", event.GatewayName)
	assert.True(t, now.Equal(event.OccurredAt))
	assert.Equal(t, time.UTC, event.OccurredAt.Location())
	assert.Equal(t, int64(1000), event.NetAmountCents)

	zero := &SettlementEvent{GatewayName: "adyen", GatewayTransactionID: "psp", SaleID: 1, EventKind: EventKindSucceeded}
	assert.ErrorIs(t, zero.Validate(now), ErrInvalidAmount)
}
