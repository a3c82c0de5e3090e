package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"github.com/smallbiznis/splitledger/internal/settlement/split"
	"github.com/smallbiznis/splitledger/pkg/db/pagination"
)

func (s *Service) GetSaleSettlement(ctx context.Context, saleID snowflake.ID) (*domain.SaleSettlement, error) {
	if saleID == 0 {
		return nil, domain.ErrSaleNotFound
	}
	sale, err := s.repo.FindSale(ctx, s.db, saleID)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, domain.ErrSaleNotFound
	}

	installments, err := s.repo.ListInstallments(ctx, s.db, saleID)
	if err != nil {
		return nil, err
	}
	splits, err := s.repo.ListSplits(ctx, s.db, saleID)
	if err != nil {
		return nil, err
	}

	views := make([]domain.InstallmentView, 0, len(installments))
	for _, item := range installments {
		views = append(views, domain.InstallmentView{
			SaleInstallment: item,
			FeePercentage:   split.Percentage(item.FeeCents, item.AmountCents),
		})
	}
	if splits == nil {
		splits = []domain.SaleSplit{}
	}

	return &domain.SaleSettlement{
		SaleID:        sale.ID,
		PaymentStatus: sale.PaymentStatus,
		RefundedCents: sale.RefundedCents,
		Installments:  views,
		Splits:        splits,
	}, nil
}

// GetVirtualAccountBalance returns the cached balance. With verify set the
// balance is also derived from the transaction log and compared.
func (s *Service) GetVirtualAccountBalance(ctx context.Context, accountID snowflake.ID, verify bool) (*domain.AccountBalance, error) {
	account, err := s.repo.FindAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}

	out := &domain.AccountBalance{
		AccountID:   account.ID,
		OwnerRef:    account.OwnerRef,
		AccountType: account.AccountType,
		Balance: domain.Balance{
			PendingCents:       account.PendingBalanceCents,
			AvailableCents:     account.AvailableBalanceCents,
			TotalReceivedCents: account.TotalReceivedCents,
		},
	}
	if !verify {
		return out, nil
	}

	derived, err := s.repo.DeriveBalance(ctx, s.db, account.ID)
	if err != nil {
		return nil, err
	}
	out.Derived = &derived
	out.Drift = derived != out.Balance
	if out.Drift {
		s.log.Error("virtual account balance drifted from its transaction log",
			zapAccount(account.ID, out.Balance, derived)...,
		)
	}
	return out, nil
}

func (s *Service) ListVirtualTransactions(ctx context.Context, req domain.ListTransactionsRequest) (*domain.ListTransactionsResponse, error) {
	account, err := s.repo.FindAccount(ctx, s.db, req.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}

	var cursor *domain.TransactionCursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(decoded.ID)
		if err != nil || id == 0 {
			return nil, domain.ErrInvalidPageToken
		}
		cursor = &domain.TransactionCursor{ID: id, CreatedAt: createdAt}
	}

	limit := req.Limit()
	items, err := s.repo.ListTransactions(ctx, s.db, account.ID, cursor, limit)
	if err != nil {
		return nil, err
	}

	ptrs := make([]*domain.VirtualTransaction, len(items))
	for i := range items {
		ptrs[i] = &items[i]
	}
	pageInfo := pagination.BuildCursorPageInfo(ptrs, limit, func(item *domain.VirtualTransaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > limit {
		items = items[:limit]
	}
	if items == nil {
		items = []domain.VirtualTransaction{}
	}
	return &domain.ListTransactionsResponse{PageInfo: *pageInfo, Transactions: items}, nil
}
