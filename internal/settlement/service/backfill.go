package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/splitledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/splitledger/internal/observability/metrics"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultBackfillBatch = 100

var errNoGatewayResolver = errors.New("settlement: no gateway resolver configured")

// BackfillFees revisits paid sales whose gateway fee was not known when the
// settlement landed and records the fee the gateway reports now. Each run
// continues after the last sale the previous run scanned. Split rows
// and ledger lines are left as booked; the discrepancy is audited and raised
// for manual reconciliation.
func (s *Service) BackfillFees(ctx context.Context, limit int) (*domain.BackfillResult, error) {
	if s.resolver == nil {
		return nil, errNoGatewayResolver
	}
	if limit <= 0 {
		limit = defaultBackfillBatch
	}

	s.backfillMu.Lock()
	defer s.backfillMu.Unlock()

	started := time.Now()
	sales, err := s.repo.ListSalesWithUnknownFee(ctx, s.db, s.backfillAfter, limit)
	s.schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceUnknownFeeSales, time.Since(started))
	if err != nil {
		return nil, storeErr(err)
	}
	// A short page means the scan reached the end; start over next run.
	if len(sales) < limit {
		s.backfillAfter = 0
	} else {
		s.backfillAfter = sales[len(sales)-1].ID
	}

	result := &domain.BackfillResult{Scanned: len(sales)}
	for i := range sales {
		sale := &sales[i]
		log := logger.WithSale(logger.WithContext(ctx, s.log), sale.ID.String(), deref(sale.GatewayTransactionID))

		details, err := s.lookupDetails(ctx, sale)
		if err != nil {
			result.Failed++
			log.Warn("fee backfill lookup failed", zap.Error(err))
			continue
		}
		if details == nil || !details.FeeKnown {
			result.Pending++
			continue
		}

		resolved, err := s.recordFee(ctx, sale, details)
		if err != nil {
			result.Failed++
			log.Error("fee backfill update failed", zap.Error(err))
			continue
		}
		if !resolved {
			continue
		}
		result.Resolved++
		s.triage.Report(ctx, ReasonFeeReconciled, &domain.SettlementEvent{
			GatewayName:          deref(sale.GatewayName),
			GatewayTransactionID: deref(sale.GatewayTransactionID),
			SaleID:               sale.ID,
			OrgID:                sale.OrgID,
			EventKind:            domain.EventKindSucceeded,
			GrossAmountCents:     details.GrossCents,
			FeeCents:             details.FeeCents,
			NetAmountCents:       details.NetAmountCents,
			FeeKnown:             true,
		}, fmt.Errorf("gateway fee %d cents was booked to the tenant share", details.FeeCents))
	}
	return result, nil
}

func (s *Service) lookupDetails(ctx context.Context, sale *domain.Sale) (*domain.SettlementDetails, error) {
	provider := deref(sale.GatewayName)
	ref := deref(sale.GatewayTransactionID)
	if provider == "" || ref == "" {
		return nil, nil
	}
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, provider, ref); ok {
			return cached, nil
		}
	}

	gateway, err := s.resolver.GatewayFor(ctx, sale.OrgID, provider)
	if err != nil {
		return nil, err
	}
	details, err := gateway.RetrieveSettlementDetails(ctx, ref)
	if err != nil {
		return nil, err
	}
	if details != nil && details.FeeKnown && s.cache != nil {
		s.cache.Set(ctx, provider, ref, details)
	}
	return details, nil
}

func (s *Service) recordFee(ctx context.Context, sale *domain.Sale, details *domain.SettlementDetails) (bool, error) {
	if details.FeeCents < 0 || details.NetAmountCents != details.GrossCents-details.FeeCents {
		return false, fmt.Errorf("%w: gateway fee does not reconcile", domain.ErrInvalidAmount)
	}

	var resolved bool
	err := s.withRetry(ctx, func() error {
		resolved = false
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.repo.LockSale(ctx, tx, sale.ID)
			if err != nil {
				return err
			}
			if current == nil || current.GatewayFeeKnown {
				return nil
			}

			now := s.clock.Now()
			fee, net := details.FeeCents, details.NetAmountCents
			current.GatewayFeeCents = &fee
			current.GatewayNetCents = &net
			current.GatewayFeeKnown = true
			current.UpdatedAt = now
			if err := s.repo.UpdateSale(ctx, tx, current); err != nil {
				return err
			}

			installments, err := s.repo.ListInstallments(ctx, tx, current.ID)
			if err != nil {
				return err
			}
			for _, item := range installments {
				if item.Status == domain.InstallmentStatusReversed {
					continue
				}
				itemFee := scaleFee(fee, item.AmountCents, details.GrossCents)
				if err := s.repo.UpdateInstallmentFee(ctx, tx, item.ID, itemFee, item.AmountCents-itemFee, now); err != nil {
					return err
				}
			}
			resolved = true
			return nil
		})
	})
	return resolved, err
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
