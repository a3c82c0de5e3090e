// Package split computes how a settled gross amount fans out to
// beneficiaries and how reversals are drawn back from them.
package split

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
)

var hundred = decimal.NewFromInt(100)

// FeeConfig is an organization's platform fee: a percentage of gross plus a
// fixed amount per settlement.
type FeeConfig struct {
	Percentage decimal.Decimal
	FixedCents int64
}

type Input struct {
	GrossCents      int64
	GatewayFeeCents int64
	Platform        FeeConfig
	AffiliateCents  int64
}

type Share struct {
	Type       domain.SplitType
	GrossCents int64
	FeeCents   int64
	NetCents   int64
	Percentage string
}

// Allocate splits gross into gateway, platform, affiliate and tenant shares.
// Gateway and platform rows are always present; the tenant absorbs rounding
// and is the residual claimant. A configuration that leaves the tenant with a
// negative share is rejected.
func Allocate(in Input) ([]Share, error) {
	if in.GrossCents <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if in.GatewayFeeCents < 0 || in.AffiliateCents < 0 || in.Platform.FixedCents < 0 || in.Platform.Percentage.IsNegative() {
		return nil, domain.ErrInvalidConfiguration
	}

	gross := decimal.NewFromInt(in.GrossCents)
	platformCents := gross.Mul(in.Platform.Percentage).DivRound(hundred, 0).IntPart() + in.Platform.FixedCents
	tenantCents := in.GrossCents - in.GatewayFeeCents - platformCents - in.AffiliateCents
	if tenantCents < 0 {
		return nil, domain.ErrInvalidConfiguration
	}

	shares := []Share{
		{
			Type:       domain.SplitTypeGateway,
			GrossCents: in.GatewayFeeCents,
			FeeCents:   in.GatewayFeeCents,
			NetCents:   0,
		},
		{
			Type:       domain.SplitTypePlatform,
			GrossCents: platformCents,
			NetCents:   platformCents,
		},
	}
	if in.AffiliateCents > 0 {
		shares = append(shares, Share{
			Type:       domain.SplitTypeAffiliate,
			GrossCents: in.AffiliateCents,
			NetCents:   in.AffiliateCents,
		})
	}
	if tenantCents > 0 {
		shares = append(shares, Share{
			Type:       domain.SplitTypeTenant,
			GrossCents: tenantCents,
			NetCents:   tenantCents,
		})
	}

	var total int64
	for i := range shares {
		shares[i].Percentage = Percentage(shares[i].GrossCents, in.GrossCents)
		total += shares[i].GrossCents
	}
	if total != in.GrossCents {
		// unreachable while tenant is computed as the residual
		return nil, domain.ErrInvalidConfiguration
	}
	return shares, nil
}

// Percentage returns part/whole*100 rounded to two decimals.
func Percentage(part, whole int64) string {
	if whole == 0 {
		return "0.00"
	}
	return decimal.NewFromInt(part).Mul(hundred).DivRound(decimal.NewFromInt(whole), 2).StringFixed(2)
}
