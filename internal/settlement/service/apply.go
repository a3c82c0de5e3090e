package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"github.com/smallbiznis/splitledger/internal/settlement/split"
	"gorm.io/gorm"
)

// applySettlement books a successful payment: one installment, the split
// rows, and a pending credit on each beneficiary's account.
func (s *Service) applySettlement(ctx context.Context, tx *gorm.DB, sale *domain.Sale, attempt *domain.PaymentAttempt, event *domain.SettlementEvent, inputs *settleInputs, now time.Time) ([]domain.SaleSplit, error) {
	var affiliateCents int64
	if inputs.affiliate != nil {
		affiliateCents = inputs.affiliate.AmountCents
	}
	shares, err := split.Allocate(split.Input{
		GrossCents:      event.GrossAmountCents,
		GatewayFeeCents: event.FeeCents,
		Platform:        inputs.fee,
		AffiliateCents:  affiliateCents,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: allocate %d cents: %v", domain.ErrInvalidConfiguration, event.GrossAmountCents, err)
	}

	sale.PaymentStatus = domain.PaymentStatusPaid
	sale.GatewayName = stringPtr(event.GatewayName)
	sale.GatewayTransactionID = stringPtr(event.GatewayTransactionID)
	sale.GatewayChargeID = stringPtr(event.ChargeID)
	sale.GatewayFeeKnown = event.FeeKnown
	if event.FeeKnown {
		fee, net := event.FeeCents, event.NetAmountCents
		sale.GatewayFeeCents = &fee
		sale.GatewayNetCents = &net
	} else {
		sale.GatewayFeeCents = nil
		sale.GatewayNetCents = nil
	}
	paidAt := event.OccurredAt.UTC()
	sale.PaidAt = &paidAt
	sale.UpdatedAt = now
	if err := s.repo.UpdateSale(ctx, tx, sale); err != nil {
		return nil, err
	}

	dueDate := s.dueDate(event, now)
	externalRef := event.ChargeID
	if externalRef == "" {
		externalRef = event.GatewayTransactionID
	}
	installment := &domain.SaleInstallment{
		ID:                s.genID.Generate(),
		SaleID:            sale.ID,
		PaymentAttemptID:  attempt.ID,
		InstallmentNumber: 1,
		TotalInstallments: 1,
		AmountCents:       event.GrossAmountCents,
		FeeCents:          event.FeeCents,
		NetAmountCents:    event.NetAmountCents,
		FeeKnown:          event.FeeKnown,
		DueDate:           dueDate,
		Status:            domain.InstallmentStatusPending,
		CardBrand:         stringPtr(event.CardBrand),
		ExternalRef:       externalRef,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.InsertInstallment(ctx, tx, installment); err != nil {
		return nil, err
	}

	rows := make([]domain.SaleSplit, 0, len(shares))
	accountIDs := make([]snowflake.ID, 0, len(shares))
	for _, share := range shares {
		account, err := s.repo.EnsureAccount(ctx, tx, &domain.VirtualAccount{
			ID:          s.genID.Generate(),
			OwnerRef:    ownerRef(share.Type, sale, event, inputs),
			AccountType: share.Type.AccountType(),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return nil, err
		}
		accountIDs = append(accountIDs, account.ID)
		rows = append(rows, domain.SaleSplit{
			ID:               s.genID.Generate(),
			SaleID:           sale.ID,
			PaymentAttemptID: attempt.ID,
			VirtualAccountID: account.ID,
			EventKind:        event.EventKind,
			SplitType:        share.Type,
			GrossAmountCents: share.GrossCents,
			FeeCents:         share.FeeCents,
			NetAmountCents:   share.NetCents,
			Percentage:       share.Percentage,
			CreatedAt:        now,
		})
	}
	if err := s.repo.InsertSplits(ctx, tx, rows); err != nil {
		return nil, err
	}
	if err := s.repo.LockAccounts(ctx, tx, accountIDs); err != nil {
		return nil, err
	}

	for _, row := range rows {
		if row.GrossAmountCents == 0 {
			continue
		}
		err := s.repo.InsertTransaction(ctx, tx, &domain.VirtualTransaction{
			ID:               s.genID.Generate(),
			VirtualAccountID: row.VirtualAccountID,
			SaleID:           sale.ID,
			SaleSplitID:      row.ID,
			AmountCents:      row.GrossAmountCents,
			FeeCents:         row.FeeCents,
			NetAmountCents:   row.NetAmountCents,
			Status:           domain.TransactionStatusPending,
			ReleaseAt:        dueDate,
			CreatedAt:        now,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := s.recomputeBalances(ctx, tx, accountIDs, now); err != nil {
		return nil, err
	}
	return rows, nil
}

// dueDate is when the settled funds become available to beneficiaries. The
// gateway's own availability date wins; otherwise the configured offset is
// counted from the start of the current UTC day.
func (s *Service) dueDate(event *domain.SettlementEvent, now time.Time) time.Time {
	if event.AvailableOn != nil && !event.AvailableOn.IsZero() {
		return event.AvailableOn.UTC()
	}
	days := s.policy.Get().Days(event.GatewayName, event.PaymentMethodKind)
	return now.UTC().Truncate(24*time.Hour).AddDate(0, 0, days)
}

func ownerRef(t domain.SplitType, sale *domain.Sale, event *domain.SettlementEvent, inputs *settleInputs) string {
	switch t {
	case domain.SplitTypePlatform:
		return domain.PlatformOwnerRef
	case domain.SplitTypeGateway:
		return event.GatewayName
	case domain.SplitTypeAffiliate:
		return inputs.affiliate.AffiliateID
	default:
		return sale.OrgID.String()
	}
}

type holding struct {
	split.Holding
	accountID snowflake.ID
}

// holdings sums the sale's split rows per beneficiary. Settlement rows give
// the original share and every row, negative reversals included, gives what
// is still held.
func holdings(rows []domain.SaleSplit) []holding {
	var out []holding
	index := map[domain.SplitType]int{}
	for _, row := range rows {
		i, ok := index[row.SplitType]
		if !ok {
			i = len(out)
			index[row.SplitType] = i
			out = append(out, holding{Holding: split.Holding{Type: row.SplitType}})
		}
		if row.EventKind == domain.EventKindSucceeded {
			out[i].OriginalCents += row.GrossAmountCents
			out[i].accountID = row.VirtualAccountID
		}
		out[i].RemainingCents += row.GrossAmountCents
	}
	return out
}

// applyReversal draws a refund or chargeback back from every beneficiary in
// proportion to the original split, offsetting each credit with a
// compensating ledger line.
func (s *Service) applyReversal(ctx context.Context, tx *gorm.DB, sale *domain.Sale, attempt *domain.PaymentAttempt, event *domain.SettlementEvent, now time.Time) ([]domain.SaleSplit, error) {
	rows, err := s.repo.ListSplits(ctx, tx, sale.ID)
	if err != nil {
		return nil, err
	}
	held := holdings(rows)
	if len(held) == 0 {
		return nil, domain.ErrSettlementPending
	}

	plain := make([]split.Holding, len(held))
	for i, h := range held {
		plain[i] = h.Holding
	}
	draws, applied, err := split.Reverse(plain, event.GrossAmountCents)
	if err != nil {
		return nil, err
	}
	if applied == 0 {
		return nil, nil
	}

	credits, err := s.repo.ListSaleCredits(ctx, tx, sale.ID)
	if err != nil {
		return nil, err
	}
	creditByAccount := make(map[snowflake.ID]domain.VirtualTransaction, len(credits))
	for _, credit := range credits {
		creditByAccount[credit.VirtualAccountID] = credit
	}

	accountByType := make(map[domain.SplitType]snowflake.ID, len(held))
	for _, h := range held {
		accountByType[h.Type] = h.accountID
	}

	reversals := make([]domain.SaleSplit, 0, len(draws))
	compensations := make([]domain.VirtualTransaction, 0, len(draws))
	accountIDs := make([]snowflake.ID, 0, len(draws))
	for _, draw := range draws {
		accountID := accountByType[draw.Type]
		credit, ok := creditByAccount[accountID]
		if !ok {
			return nil, fmt.Errorf("reverse %s share of sale %s: no credit on account %s", draw.Type, sale.ID, accountID)
		}

		var fee, net int64 = 0, -draw.Cents
		if draw.Type == domain.SplitTypeGateway {
			fee, net = -draw.Cents, 0
		}
		row := domain.SaleSplit{
			ID:               s.genID.Generate(),
			SaleID:           sale.ID,
			PaymentAttemptID: attempt.ID,
			VirtualAccountID: accountID,
			EventKind:        event.EventKind,
			SplitType:        draw.Type,
			GrossAmountCents: -draw.Cents,
			FeeCents:         fee,
			NetAmountCents:   net,
			Percentage:       split.Percentage(draw.Cents, applied),
			CreatedAt:        now,
		}
		reversals = append(reversals, row)

		creditID := credit.ID
		compensations = append(compensations, domain.VirtualTransaction{
			ID:                    s.genID.Generate(),
			VirtualAccountID:      accountID,
			SaleID:                sale.ID,
			SaleSplitID:           row.ID,
			ReversesTransactionID: &creditID,
			AmountCents:           -draw.Cents,
			FeeCents:              fee,
			NetAmountCents:        net,
			Status:                domain.TransactionStatusReversed,
			ReleaseAt:             credit.ReleaseAt,
			CreatedAt:             now,
		})
		accountIDs = append(accountIDs, accountID)
	}

	if err := s.repo.InsertSplits(ctx, tx, reversals); err != nil {
		return nil, err
	}
	if err := s.repo.LockAccounts(ctx, tx, accountIDs); err != nil {
		return nil, err
	}
	for i := range compensations {
		if err := s.repo.InsertTransaction(ctx, tx, &compensations[i]); err != nil {
			return nil, err
		}
	}
	if err := s.recomputeBalances(ctx, tx, accountIDs, now); err != nil {
		return nil, err
	}

	var remaining, gatewayRemaining int64
	drawn := make(map[domain.SplitType]int64, len(draws))
	for _, d := range draws {
		drawn[d.Type] += d.Cents
	}
	for _, h := range held {
		left := h.RemainingCents - drawn[h.Type]
		remaining += left
		if h.Type == domain.SplitTypeGateway {
			gatewayRemaining = left
		}
	}

	sale.RefundedCents += applied
	switch {
	case event.EventKind == domain.EventKindChargeback:
		sale.PaymentStatus = domain.PaymentStatusChargedBack
	case remaining == 0:
		sale.PaymentStatus = domain.PaymentStatusRefunded
	default:
		sale.PaymentStatus = domain.PaymentStatusPartiallyRefunded
	}
	sale.UpdatedAt = now
	if err := s.repo.UpdateSale(ctx, tx, sale); err != nil {
		return nil, err
	}

	if err := s.replaceInstallment(ctx, tx, sale, attempt, remaining, gatewayRemaining, now); err != nil {
		return nil, err
	}
	return reversals, nil
}

// replaceInstallment reverses the sale's open installments and, when money
// is still held, books a single installment for what is left.
func (s *Service) replaceInstallment(ctx context.Context, tx *gorm.DB, sale *domain.Sale, attempt *domain.PaymentAttempt, remaining, gatewayRemaining int64, now time.Time) error {
	existing, err := s.repo.ListInstallments(ctx, tx, sale.ID)
	if err != nil {
		return err
	}
	var current *domain.SaleInstallment
	for i := range existing {
		if existing[i].Status != domain.InstallmentStatusReversed {
			current = &existing[i]
		}
	}

	if _, err := s.repo.ReverseInstallments(ctx, tx, sale.ID, now); err != nil {
		return err
	}
	if remaining <= 0 || sale.PaymentStatus == domain.PaymentStatusChargedBack {
		return nil
	}

	next := &domain.SaleInstallment{
		ID:                s.genID.Generate(),
		SaleID:            sale.ID,
		PaymentAttemptID:  attempt.ID,
		InstallmentNumber: 1,
		TotalInstallments: 1,
		AmountCents:       remaining,
		FeeCents:          gatewayRemaining,
		NetAmountCents:    remaining - gatewayRemaining,
		FeeKnown:          sale.GatewayFeeKnown,
		DueDate:           now.UTC(),
		Status:            domain.InstallmentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if current != nil {
		next.DueDate = current.DueDate
		next.CardBrand = current.CardBrand
		next.ExternalRef = current.ExternalRef
		if current.Status == domain.InstallmentStatusConfirmed {
			next.Status = domain.InstallmentStatusConfirmed
		}
	}
	return s.repo.InsertInstallment(ctx, tx, next)
}

// scaleFee prorates a sale-level fee onto an installment that covers only
// part of the original gross.
func scaleFee(fee, part, whole int64) int64 {
	if whole <= 0 || part >= whole {
		return fee
	}
	return decimal.NewFromInt(fee).
		Mul(decimal.NewFromInt(part)).
		DivRound(decimal.NewFromInt(whole), 0).
		IntPart()
}

func uniqueSorted(ids []snowflake.ID) []snowflake.ID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
