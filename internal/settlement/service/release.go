package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/splitledger/internal/observability/metrics"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultReleaseBatch = 500

// ReleaseDue moves pending credits whose release date has passed into the
// available bucket and confirms the matching installments. Rows are claimed
// with SKIP LOCKED so several workers can drain the queue together.
func (s *Service) ReleaseDue(ctx context.Context, now time.Time, limit int) (*domain.ReleaseResult, error) {
	if limit <= 0 {
		limit = defaultReleaseBatch
	}
	now = now.UTC()

	var (
		result   domain.ReleaseResult
		released map[snowflake.ID]int64
		types    map[snowflake.ID]domain.AccountType
	)
	err := s.withRetry(ctx, func() error {
		result = domain.ReleaseResult{}
		released = map[snowflake.ID]int64{}
		types = map[snowflake.ID]domain.AccountType{}

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			started := time.Now()
			due, err := s.repo.ClaimDueTransactions(ctx, tx, now, limit)
			s.schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceDueTransactions, time.Since(started))
			if err != nil {
				return err
			}

			ids := make([]snowflake.ID, 0, len(due))
			accountIDs := make([]snowflake.ID, 0, len(due))
			for _, txn := range due {
				ids = append(ids, txn.ID)
				accountIDs = append(accountIDs, txn.VirtualAccountID)
				released[txn.VirtualAccountID] += txn.AmountCents
				result.ReleasedCents += txn.AmountCents
			}
			result.Released = len(ids)

			if len(ids) > 0 {
				if err := s.repo.LockAccounts(ctx, tx, accountIDs); err != nil {
					return err
				}
				if err := s.repo.MarkAvailable(ctx, tx, ids, now); err != nil {
					return err
				}
				accounts := uniqueSorted(accountIDs)
				for _, id := range accounts {
					account, err := s.repo.FindAccount(ctx, tx, id)
					if err != nil {
						return err
					}
					if account != nil {
						types[id] = account.AccountType
					}
				}
				if err := s.recomputeBalances(ctx, tx, accounts, now); err != nil {
					return err
				}
				result.Accounts = len(accounts)
			}

			confirmed, err := s.repo.ConfirmDueInstallments(ctx, tx, now)
			if err != nil {
				return err
			}
			result.InstallmentsConfirmed = confirmed
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		for id, cents := range released {
			s.obsMetrics.RecordRelease(ctx, string(types[id]), cents)
		}
	}
	if result.Released > 0 {
		s.log.Info("released settled funds",
			zap.Int("transactions", result.Released),
			zap.Int64("cents", result.ReleasedCents),
			zap.Int("accounts", result.Accounts),
			zap.Int64("installments_confirmed", result.InstallmentsConfirmed),
		)
	}
	return &result, nil
}

func zapAccount(id snowflake.ID, cached, derived domain.Balance) []zap.Field {
	return []zap.Field{
		zap.String("virtual_account_id", id.String()),
		zap.Int64("cached_pending_cents", cached.PendingCents),
		zap.Int64("cached_available_cents", cached.AvailableCents),
		zap.Int64("cached_total_received_cents", cached.TotalReceivedCents),
		zap.Int64("derived_pending_cents", derived.PendingCents),
		zap.Int64("derived_available_cents", derived.AvailableCents),
		zap.Int64("derived_total_received_cents", derived.TotalReceivedCents),
	}
}
