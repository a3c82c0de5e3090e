package repository

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const saleColumns = `id, organization_id, total_cents, payment_status, gateway_name,
	gateway_transaction_id, gateway_charge_id, gateway_fee_cents, gateway_net_cents,
	gateway_fee_known, refunded_cents, paid_at, created_at, updated_at`

func (r *repo) FindSale(ctx context.Context, db *gorm.DB, saleID snowflake.ID) (*domain.Sale, error) {
	return r.findSale(ctx, db, saleID, false)
}

// LockSale serializes concurrent events for one sale. SQLite has no row
// locks; its single writer gives the same guarantee.
func (r *repo) LockSale(ctx context.Context, db *gorm.DB, saleID snowflake.ID) (*domain.Sale, error) {
	return r.findSale(ctx, db, saleID, true)
}

func (r *repo) findSale(ctx context.Context, db *gorm.DB, saleID snowflake.ID, forUpdate bool) (*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = ?`
	if forUpdate && supportsRowLocks(db) {
		query += ` FOR UPDATE`
	}

	var sale domain.Sale
	if err := db.WithContext(ctx).Raw(query, saleID).Scan(&sale).Error; err != nil {
		return nil, err
	}
	if sale.ID == 0 {
		return nil, nil
	}
	return &sale, nil
}

func (r *repo) UpdateSale(ctx context.Context, db *gorm.DB, sale *domain.Sale) error {
	if sale == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE sales
		 SET payment_status = ?, gateway_name = ?, gateway_transaction_id = ?,
			gateway_charge_id = ?, gateway_fee_cents = ?, gateway_net_cents = ?,
			gateway_fee_known = ?, refunded_cents = ?, paid_at = ?, updated_at = ?
		 WHERE id = ?`,
		sale.PaymentStatus,
		sale.GatewayName,
		sale.GatewayTransactionID,
		sale.GatewayChargeID,
		sale.GatewayFeeCents,
		sale.GatewayNetCents,
		sale.GatewayFeeKnown,
		sale.RefundedCents,
		sale.PaidAt,
		sale.UpdatedAt,
		sale.ID,
	).Error
}

// ListSalesWithUnknownFee pages fee-unknown sales by id so a backlog of
// sales the gateway never prices cannot hide the ones behind it.
func (r *repo) ListSalesWithUnknownFee(ctx context.Context, db *gorm.DB, after snowflake.ID, limit int) ([]domain.Sale, error) {
	var sales []domain.Sale
	err := db.WithContext(ctx).Raw(
		`SELECT `+saleColumns+`
		 FROM sales
		 WHERE gateway_fee_known = ?
			AND gateway_transaction_id IS NOT NULL
			AND payment_status IN (?, ?)
			AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		false,
		domain.PaymentStatusPaid,
		domain.PaymentStatusPartiallyRefunded,
		after,
		limit,
	).Scan(&sales).Error
	return sales, err
}

// InsertAttempt is a plain insert: the unique index on
// (gateway, gateway_transaction_id, event_kind, dedupe_ref) is the only thing
// that decides whether an event is new.
func (r *repo) InsertAttempt(ctx context.Context, db *gorm.DB, attempt *domain.PaymentAttempt) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_attempts (
			id, sale_id, organization_id, gateway, gateway_transaction_id, gateway_event_id,
			event_kind, dedupe_ref, amount_cents, outcome, event, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID,
		attempt.SaleID,
		attempt.OrgID,
		attempt.Gateway,
		attempt.GatewayTransactionID,
		attempt.GatewayEventID,
		attempt.EventKind,
		attempt.DedupeRef,
		attempt.AmountCents,
		attempt.Outcome,
		attempt.Event,
		attempt.CreatedAt,
	).Error
}

func (r *repo) HasAttempt(ctx context.Context, db *gorm.DB, gateway, transactionID string, kind domain.EventKind, outcome domain.AttemptOutcome) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM payment_attempts
		 WHERE gateway = ? AND gateway_transaction_id = ? AND event_kind = ? AND outcome = ?`,
		gateway,
		transactionID,
		kind,
		outcome,
	).Scan(&count).Error
	return count > 0, err
}

const installmentColumns = `id, sale_id, payment_attempt_id, installment_number, total_installments,
	amount_cents, fee_cents, net_amount_cents, fee_known, due_date, status, card_brand,
	external_ref, reversed_at, created_at, updated_at`

func (r *repo) InsertInstallment(ctx context.Context, db *gorm.DB, item *domain.SaleInstallment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO sale_installments (`+installmentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.SaleID,
		item.PaymentAttemptID,
		item.InstallmentNumber,
		item.TotalInstallments,
		item.AmountCents,
		item.FeeCents,
		item.NetAmountCents,
		item.FeeKnown,
		item.DueDate,
		item.Status,
		item.CardBrand,
		item.ExternalRef,
		item.ReversedAt,
		item.CreatedAt,
		item.UpdatedAt,
	).Error
}

func (r *repo) ListInstallments(ctx context.Context, db *gorm.DB, saleID snowflake.ID) ([]domain.SaleInstallment, error) {
	var items []domain.SaleInstallment
	err := db.WithContext(ctx).Raw(
		`SELECT `+installmentColumns+`
		 FROM sale_installments
		 WHERE sale_id = ?
		 ORDER BY created_at ASC, id ASC`,
		saleID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ReverseInstallments(ctx context.Context, db *gorm.DB, saleID snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE sale_installments
		 SET status = ?, reversed_at = ?, updated_at = ?
		 WHERE sale_id = ? AND status <> ?`,
		domain.InstallmentStatusReversed,
		at,
		at,
		saleID,
		domain.InstallmentStatusReversed,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) UpdateInstallmentFee(ctx context.Context, db *gorm.DB, installmentID snowflake.ID, feeCents, netCents int64, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE sale_installments
		 SET fee_cents = ?, net_amount_cents = ?, fee_known = ?, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		feeCents,
		netCents,
		true,
		at,
		installmentID,
		domain.InstallmentStatusReversed,
	).Error
}

func (r *repo) ConfirmDueInstallments(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE sale_installments
		 SET status = ?, updated_at = ?
		 WHERE status = ? AND due_date <= ?`,
		domain.InstallmentStatusConfirmed,
		now,
		domain.InstallmentStatusPending,
		now,
	)
	return res.RowsAffected, res.Error
}

// EnsureAccount creates the account on first use. Concurrent creators race on
// the (owner_ref, account_type) unique index and all read back the winner.
func (r *repo) EnsureAccount(ctx context.Context, db *gorm.DB, account *domain.VirtualAccount) (*domain.VirtualAccount, error) {
	if account == nil {
		return nil, errors.New("account is required")
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_ref"}, {Name: "account_type"}},
			DoNothing: true,
		}).
		Create(account).Error
	if err != nil {
		return nil, err
	}

	var stored domain.VirtualAccount
	err = db.WithContext(ctx).Raw(
		`SELECT id, owner_ref, account_type, pending_balance_cents, available_balance_cents,
			total_received_cents, created_at, updated_at
		 FROM virtual_accounts
		 WHERE owner_ref = ? AND account_type = ?`,
		account.OwnerRef,
		account.AccountType,
	).Scan(&stored).Error
	if err != nil {
		return nil, err
	}
	if stored.ID == 0 {
		return nil, domain.ErrAccountNotFound
	}
	return &stored, nil
}

func (r *repo) FindAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*domain.VirtualAccount, error) {
	var account domain.VirtualAccount
	err := db.WithContext(ctx).Raw(
		`SELECT id, owner_ref, account_type, pending_balance_cents, available_balance_cents,
			total_received_cents, created_at, updated_at
		 FROM virtual_accounts
		 WHERE id = ?`,
		accountID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

// LockAccounts takes row locks in ascending id order so two settlements
// touching the same pair of accounts cannot deadlock each other.
func (r *repo) LockAccounts(ctx context.Context, db *gorm.DB, accountIDs []snowflake.ID) error {
	if len(accountIDs) == 0 || !supportsRowLocks(db) {
		return nil
	}
	ids := slices.Clone(accountIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var locked []snowflake.ID
	return db.WithContext(ctx).Raw(
		`SELECT id FROM virtual_accounts WHERE id IN ? ORDER BY id FOR UPDATE`,
		ids,
	).Scan(&locked).Error
}

type balanceRow struct {
	PendingCents       int64
	AvailableCents     int64
	TotalReceivedCents int64
}

// DeriveBalance recomputes an account's balance from its transaction log.
// Compensations count against the bucket of the credit they reverse.
func (r *repo) DeriveBalance(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (domain.Balance, error) {
	var row balanceRow
	err := db.WithContext(ctx).Raw(
		`SELECT
			COALESCE(SUM(CASE WHEN COALESCE(o.status, t.status) = ? THEN t.amount_cents ELSE 0 END), 0) AS pending_cents,
			COALESCE(SUM(CASE WHEN COALESCE(o.status, t.status) = ? THEN t.amount_cents ELSE 0 END), 0) AS available_cents,
			COALESCE(SUM(CASE WHEN t.status <> ? THEN t.amount_cents ELSE 0 END), 0) AS total_received_cents
		 FROM virtual_transactions t
		 LEFT JOIN virtual_transactions o ON o.id = t.reverses_transaction_id
		 WHERE t.virtual_account_id = ?`,
		domain.TransactionStatusPending,
		domain.TransactionStatusAvailable,
		domain.TransactionStatusReversed,
		accountID,
	).Scan(&row).Error
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.Balance{
		PendingCents:       row.PendingCents,
		AvailableCents:     row.AvailableCents,
		TotalReceivedCents: row.TotalReceivedCents,
	}, nil
}

func (r *repo) StoreBalance(ctx context.Context, db *gorm.DB, accountID snowflake.ID, balance domain.Balance, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE virtual_accounts
		 SET pending_balance_cents = ?, available_balance_cents = ?, total_received_cents = ?, updated_at = ?
		 WHERE id = ?`,
		balance.PendingCents,
		balance.AvailableCents,
		balance.TotalReceivedCents,
		at,
		accountID,
	).Error
}

func (r *repo) InsertSplits(ctx context.Context, db *gorm.DB, splits []domain.SaleSplit) error {
	for _, split := range splits {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO sale_splits (
				id, sale_id, payment_attempt_id, virtual_account_id, event_kind, split_type,
				gross_amount_cents, fee_cents, net_amount_cents, percentage, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			split.ID,
			split.SaleID,
			split.PaymentAttemptID,
			split.VirtualAccountID,
			split.EventKind,
			split.SplitType,
			split.GrossAmountCents,
			split.FeeCents,
			split.NetAmountCents,
			split.Percentage,
			split.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ListSplits(ctx context.Context, db *gorm.DB, saleID snowflake.ID) ([]domain.SaleSplit, error) {
	var splits []domain.SaleSplit
	err := db.WithContext(ctx).Raw(
		`SELECT id, sale_id, payment_attempt_id, virtual_account_id, event_kind, split_type,
			gross_amount_cents, fee_cents, net_amount_cents, percentage, created_at
		 FROM sale_splits
		 WHERE sale_id = ?
		 ORDER BY created_at ASC, id ASC`,
		saleID,
	).Scan(&splits).Error
	return splits, err
}

const transactionColumns = `id, virtual_account_id, sale_id, sale_split_id, reverses_transaction_id,
	amount_cents, fee_cents, net_amount_cents, status, release_at, released_at, created_at`

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.VirtualTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO virtual_transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.VirtualAccountID,
		txn.SaleID,
		txn.SaleSplitID,
		txn.ReversesTransactionID,
		txn.AmountCents,
		txn.FeeCents,
		txn.NetAmountCents,
		txn.Status,
		txn.ReleaseAt,
		txn.ReleasedAt,
		txn.CreatedAt,
	).Error
}

func (r *repo) ListSaleCredits(ctx context.Context, db *gorm.DB, saleID snowflake.ID) ([]domain.VirtualTransaction, error) {
	var items []domain.VirtualTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM virtual_transactions
		 WHERE sale_id = ? AND reverses_transaction_id IS NULL
		 ORDER BY created_at ASC, id ASC`,
		saleID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, accountID snowflake.ID, cursor *domain.TransactionCursor, limit int) ([]domain.VirtualTransaction, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.VirtualTransaction{}).
		Where("virtual_account_id = ?", accountID)
	if cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt,
			cursor.CreatedAt,
			cursor.ID,
		)
	}
	stmt = stmt.Order("created_at desc, id desc")
	if limit > 0 {
		stmt = stmt.Limit(limit + 1)
	}

	var items []domain.VirtualTransaction
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ClaimDueTransactions(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.VirtualTransaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM virtual_transactions
		WHERE status = ? AND release_at <= ?
		ORDER BY release_at ASC, id ASC
		LIMIT ?`
	if db.Dialector.Name() == "postgres" {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	var items []domain.VirtualTransaction
	err := db.WithContext(ctx).Raw(query, domain.TransactionStatusPending, now, limit).Scan(&items).Error
	return items, err
}

func (r *repo) MarkAvailable(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE virtual_transactions
		 SET status = ?, released_at = ?
		 WHERE id IN ? AND status = ?`,
		domain.TransactionStatusAvailable,
		at,
		ids,
		domain.TransactionStatusPending,
	).Error
}

func supportsRowLocks(db *gorm.DB) bool {
	return db.Dialector.Name() != "sqlite"
}
