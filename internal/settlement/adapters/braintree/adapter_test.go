package braintree

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testPublicKey  = "pub_7x2k"
	testPrivateKey = "priv_9c4e1a"
)

func newAdapter(t *testing.T) *Adapter {
	t.Helper()
	factory := NewFactory(FactoryParams{Log: zap.NewNop()})
	adapter, err := factory.NewAdapter(domain.AdapterConfig{
		OrgID:    9,
		Provider: Provider,
		Config:   map[string]any{"public_key": testPublicKey, "private_key": testPrivateKey},
	})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

// deliver builds the form body Braintree posts for an XML notification.
func deliver(xmlBody, privateKey string) []byte {
	payload := base64.StdEncoding.EncodeToString([]byte(xmlBody))
	digest := sha1.Sum([]byte(privateKey))
	mac := hmac.New(sha1.New, digest[:])
	mac.Write([]byte(payload))
	form := url.Values{}
	form.Set("bt_signature", "other_pub|00ff&"+testPublicKey+"|"+hex.EncodeToString(mac.Sum(nil)))
	form.Set("bt_payload", payload)
	return []byte(form.Encode())
}

const settledSale = `<notification>
  <kind>transaction_settled</kind>
  <timestamp>2026-03-02T09:30:00Z</timestamp>
  <subject>
    <transaction>
      <id>bt_txn_1</id>
      <type>sale</type>
      <amount>100.00</amount>
      <currency-iso-code>USD</currency-iso-code>
      <order-id>ord-1</order-id>
      <payment-instrument-type>credit_card</payment-instrument-type>
      <custom-fields><sale-id>4321</sale-id></custom-fields>
      <credit-card><card-type>Visa</card-type><last-4>1111</last-4></credit-card>
    </transaction>
  </subject>
</notification>`

func TestNewAdapterRequiresKeys(t *testing.T) {
	factory := NewFactory(FactoryParams{Log: zap.NewNop()})
	_, err := factory.NewAdapter(domain.AdapterConfig{Config: map[string]any{"public_key": "pub"}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestVerify(t *testing.T) {
	adapter := newAdapter(t)

	assert.NoError(t, adapter.Verify(context.Background(), deliver(settledSale, testPrivateKey), nil))
	assert.ErrorIs(t, adapter.Verify(context.Background(), deliver(settledSale, "someone_else"), nil), domain.ErrInvalidSignature)
	assert.ErrorIs(t, adapter.Verify(context.Background(), []byte("bt_payload=abc"), nil), domain.ErrInvalidPayload)
}

func TestNormalizeSettledSale(t *testing.T) {
	event, err := newAdapter(t).Normalize(context.Background(), deliver(settledSale, testPrivateKey))
	require.NoError(t, err)

	assert.Equal(t, domain.EventKindSucceeded, event.EventKind)
	assert.Equal(t, "bt_txn_1", event.GatewayTransactionID)
	assert.Equal(t, snowflake.ID(4321), event.SaleID)
	assert.Equal(t, snowflake.ID(9), event.OrgID)
	assert.Equal(t, int64(10000), event.GrossAmountCents)
	assert.Equal(t, int64(10000), event.NetAmountCents)
	assert.False(t, event.FeeKnown)
	assert.Equal(t, "Visa", event.CardBrand)
	assert.Equal(t, "1111", event.CardLastDigits)
	assert.Equal(t, "card", event.PaymentMethodKind)
	assert.Equal(t, 2026, event.OccurredAt.Year())
}

func TestNormalizeRefundCredit(t *testing.T) {
	body := `<notification><kind>transaction_settled</kind><subject><transaction>
	  <id>bt_refund_1</id><type>credit</type><amount>20.005</amount>
	  <refunded-transaction-id>bt_txn_1</refunded-transaction-id><order-id>4321</order-id>
	</transaction></subject></notification>`

	event, err := newAdapter(t).Normalize(context.Background(), deliver(body, testPrivateKey))
	require.NoError(t, err)
	assert.Equal(t, domain.EventKindPartiallyRefunded, event.EventKind)
	assert.Equal(t, "bt_txn_1", event.GatewayTransactionID)
	assert.Equal(t, "bt_refund_1", event.DedupeRef)
	assert.Equal(t, int64(2001), event.GrossAmountCents)
	assert.Equal(t, snowflake.ID(4321), event.SaleID)
}

func TestNormalizeDeclinedAndDisputes(t *testing.T) {
	adapter := newAdapter(t)

	declined := `<notification><kind>transaction_settlement_declined</kind><subject><transaction>
	  <id>bt_txn_2</id><type>sale</type><amount>5.00</amount><order-id>55</order-id>
	</transaction></subject></notification>`
	event, err := adapter.Normalize(context.Background(), deliver(declined, testPrivateKey))
	require.NoError(t, err)
	assert.Equal(t, domain.EventKindFailed, event.EventKind)
	assert.Equal(t, "bt_txn_2", event.DedupeRef)

	opened := `<notification><kind>dispute_opened</kind><subject><dispute>
	  <id>dp_1</id><amount-disputed>100.00</amount-disputed>
	  <transaction><id>bt_txn_1</id><order-id>4321</order-id></transaction>
	</dispute></subject></notification>`
	event, err = adapter.Normalize(context.Background(), deliver(opened, testPrivateKey))
	require.NoError(t, err)
	assert.Equal(t, domain.EventKindChargeback, event.EventKind)
	assert.Equal(t, "bt_txn_1", event.GatewayTransactionID)
	assert.Equal(t, int64(10000), event.GrossAmountCents)

	won := `<notification><kind>dispute_won</kind><subject><dispute><id>dp_1</id></dispute></subject></notification>`
	_, err = adapter.Normalize(context.Background(), deliver(won, testPrivateKey))
	assert.ErrorIs(t, err, domain.ErrEventIgnored)

	other := `<notification><kind>subscription_charged_successfully</kind></notification>`
	_, err = adapter.Normalize(context.Background(), deliver(other, testPrivateKey))
	assert.ErrorIs(t, err, domain.ErrUnrecognizedEventKind)
}

func TestCents(t *testing.T) {
	got, err := cents("10.99")
	require.NoError(t, err)
	assert.Equal(t, int64(1099), got)

	_, err = cents("-1.00")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = cents("ten")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
