package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type TransactionCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type Repository interface {
	FindSale(ctx context.Context, db *gorm.DB, saleID snowflake.ID) (*Sale, error)
	LockSale(ctx context.Context, db *gorm.DB, saleID snowflake.ID) (*Sale, error)
	UpdateSale(ctx context.Context, db *gorm.DB, sale *Sale) error
	ListSalesWithUnknownFee(ctx context.Context, db *gorm.DB, after snowflake.ID, limit int) ([]Sale, error)

	InsertAttempt(ctx context.Context, db *gorm.DB, attempt *PaymentAttempt) error
	HasAttempt(ctx context.Context, db *gorm.DB, gateway, transactionID string, kind EventKind, outcome AttemptOutcome) (bool, error)

	InsertInstallment(ctx context.Context, db *gorm.DB, installment *SaleInstallment) error
	ListInstallments(ctx context.Context, db *gorm.DB, saleID snowflake.ID) ([]SaleInstallment, error)
	ReverseInstallments(ctx context.Context, db *gorm.DB, saleID snowflake.ID, at time.Time) (int64, error)
	UpdateInstallmentFee(ctx context.Context, db *gorm.DB, installmentID snowflake.ID, feeCents, netCents int64, at time.Time) error
	ConfirmDueInstallments(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)

	EnsureAccount(ctx context.Context, db *gorm.DB, account *VirtualAccount) (*VirtualAccount, error)
	FindAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*VirtualAccount, error)
	LockAccounts(ctx context.Context, db *gorm.DB, accountIDs []snowflake.ID) error
	DeriveBalance(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (Balance, error)
	StoreBalance(ctx context.Context, db *gorm.DB, accountID snowflake.ID, balance Balance, at time.Time) error

	InsertSplits(ctx context.Context, db *gorm.DB, splits []SaleSplit) error
	ListSplits(ctx context.Context, db *gorm.DB, saleID snowflake.ID) ([]SaleSplit, error)

	InsertTransaction(ctx context.Context, db *gorm.DB, txn *VirtualTransaction) error
	ListSaleCredits(ctx context.Context, db *gorm.DB, saleID snowflake.ID) ([]VirtualTransaction, error)
	ListTransactions(ctx context.Context, db *gorm.DB, accountID snowflake.ID, cursor *TransactionCursor, limit int) ([]VirtualTransaction, error)
	ClaimDueTransactions(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]VirtualTransaction, error)
	MarkAvailable(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) error
}
