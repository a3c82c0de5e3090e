package split

import (
	"math/rand"
	"testing"

	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fresh(gateway, platform, affiliate, tenant int64) []Holding {
	holdings := []Holding{
		{Type: domain.SplitTypeGateway, OriginalCents: gateway, RemainingCents: gateway},
		{Type: domain.SplitTypePlatform, OriginalCents: platform, RemainingCents: platform},
	}
	if affiliate > 0 {
		holdings = append(holdings, Holding{Type: domain.SplitTypeAffiliate, OriginalCents: affiliate, RemainingCents: affiliate})
	}
	return append(holdings, Holding{Type: domain.SplitTypeTenant, OriginalCents: tenant, RemainingCents: tenant})
}

func reversalsByType(in []Reversal) map[domain.SplitType]int64 {
	out := map[domain.SplitType]int64{}
	for _, r := range in {
		out[r.Type] += r.Cents
	}
	return out
}

func TestReversePartialRefund(t *testing.T) {
	out, applied, err := Reverse(fresh(390, 500, 0, 9110), 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), applied)

	byType := reversalsByType(out)
	assert.Equal(t, int64(78), byType[domain.SplitTypeGateway])
	assert.Equal(t, int64(100), byType[domain.SplitTypePlatform])
	assert.Equal(t, int64(1822), byType[domain.SplitTypeTenant])
}

func TestReverseTenantAbsorbsRemainder(t *testing.T) {
	// 333 * 100 / 1000 = 33.3 and 667 * 100 / 1000 = 66.7
	out, _, err := Reverse([]Holding{
		{Type: domain.SplitTypePlatform, OriginalCents: 333, RemainingCents: 333},
		{Type: domain.SplitTypeAffiliate, OriginalCents: 333, RemainingCents: 333},
		{Type: domain.SplitTypeTenant, OriginalCents: 334, RemainingCents: 334},
	}, 100)
	require.NoError(t, err)

	byType := reversalsByType(out)
	assert.Equal(t, int64(33), byType[domain.SplitTypePlatform])
	assert.Equal(t, int64(33), byType[domain.SplitTypeAffiliate])
	assert.Equal(t, int64(34), byType[domain.SplitTypeTenant])
}

func TestReverseFullDrainsRemaining(t *testing.T) {
	holdings := []Holding{
		{Type: domain.SplitTypeGateway, OriginalCents: 390, RemainingCents: 312},
		{Type: domain.SplitTypePlatform, OriginalCents: 500, RemainingCents: 400},
		{Type: domain.SplitTypeTenant, OriginalCents: 9110, RemainingCents: 7288},
	}
	out, applied, err := Reverse(holdings, 8000)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), applied)

	byType := reversalsByType(out)
	assert.Equal(t, int64(312), byType[domain.SplitTypeGateway])
	assert.Equal(t, int64(400), byType[domain.SplitTypePlatform])
	assert.Equal(t, int64(7288), byType[domain.SplitTypeTenant])
}

func TestReverseCapsAtRemaining(t *testing.T) {
	holdings := []Holding{
		{Type: domain.SplitTypePlatform, OriginalCents: 100, RemainingCents: 50},
		{Type: domain.SplitTypeTenant, OriginalCents: 900, RemainingCents: 450},
	}
	_, applied, err := Reverse(holdings, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(500), applied)
}

func TestReverseNothingLeft(t *testing.T) {
	out, applied, err := Reverse([]Holding{{Type: domain.SplitTypeTenant, OriginalCents: 100}}, 10)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, applied)
}

func TestReverseRejectsNonPositiveAmount(t *testing.T) {
	_, _, err := Reverse(fresh(0, 0, 0, 100), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestReverseConservesAcrossSequentialRefunds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		gross := rng.Int63n(100_000) + 100
		gateway := rng.Int63n(gross / 20)
		platform := rng.Int63n(gross / 10)
		affiliate := rng.Int63n(gross / 10)
		holdings := fresh(gateway, platform, affiliate, gross-gateway-platform-affiliate)

		var refunded int64
		for refunded < gross {
			amount := rng.Int63n(gross/3) + 1
			out, applied, err := Reverse(holdings, amount)
			require.NoError(t, err)

			var sum int64
			byType := reversalsByType(out)
			for j := range holdings {
				take := byType[holdings[j].Type]
				require.LessOrEqual(t, take, holdings[j].RemainingCents)
				holdings[j].RemainingCents -= take
				sum += take
			}
			require.Equal(t, applied, sum)
			refunded += applied
		}

		for _, h := range holdings {
			assert.Zero(t, h.RemainingCents, "type %s", h.Type)
		}
	}
}
