package split

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
)

// Holding is what one beneficiary received from the original settlement and
// what it still holds after earlier reversals.
type Holding struct {
	Type           domain.SplitType
	OriginalCents  int64
	RemainingCents int64
}

type Reversal struct {
	Type  domain.SplitType
	Cents int64
}

// Reverse distributes amount across holdings in proportion to the original
// split. Each beneficiary's share is rounded half away from zero and the
// tenant takes the remainder. The amount is capped at what is still held;
// the capped amount is returned alongside the per-beneficiary draws, which
// are positive numbers to be booked as negatives.
func Reverse(holdings []Holding, amount int64) ([]Reversal, int64, error) {
	if amount <= 0 {
		return nil, 0, domain.ErrInvalidAmount
	}

	var original, remaining int64
	for _, h := range holdings {
		if h.OriginalCents < 0 || h.RemainingCents < 0 || h.RemainingCents > h.OriginalCents {
			return nil, 0, domain.ErrInvalidAmount
		}
		original += h.OriginalCents
		remaining += h.RemainingCents
	}
	if remaining == 0 {
		return nil, 0, nil
	}
	if amount > remaining {
		amount = remaining
	}

	out := make([]Reversal, len(holdings))
	if amount == remaining {
		for i, h := range holdings {
			out[i] = Reversal{Type: h.Type, Cents: h.RemainingCents}
		}
		return compact(out), amount, nil
	}

	var drawn int64
	total := decimal.NewFromInt(original)
	for i, h := range holdings {
		out[i].Type = h.Type
		if h.Type == domain.SplitTypeTenant {
			continue
		}
		share := decimal.NewFromInt(h.OriginalCents).
			Mul(decimal.NewFromInt(amount)).
			DivRound(total, 0).
			IntPart()
		share = min(share, h.RemainingCents)
		out[i].Cents = share
		drawn += share
	}

	left := amount - drawn
	// Rounding up several small shares can overshoot when the tenant holds
	// nothing to absorb it.
	for i := range out {
		if left >= 0 {
			break
		}
		give := min(out[i].Cents, -left)
		out[i].Cents -= give
		left += give
	}

	// Remainder goes to the tenant first, then to anyone with headroom.
	for _, pass := range []bool{true, false} {
		for i, h := range holdings {
			if left == 0 {
				break
			}
			if (h.Type == domain.SplitTypeTenant) != pass {
				continue
			}
			room := h.RemainingCents - out[i].Cents
			if room <= 0 {
				continue
			}
			take := min(room, left)
			out[i].Cents += take
			left -= take
		}
	}
	return compact(out), amount, nil
}

func compact(in []Reversal) []Reversal {
	out := in[:0]
	for _, r := range in {
		if r.Cents > 0 {
			out = append(out, r)
		}
	}
	return out
}
