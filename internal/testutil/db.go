// Package testutil opens throwaway SQLite databases carrying the settlement
// schema for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// Schema mirrors the postgres migrations with SQLite-friendly column types.
var Schema = []string{
	`CREATE TABLE sales (
		id BIGINT PRIMARY KEY,
		organization_id BIGINT NOT NULL,
		total_cents BIGINT NOT NULL,
		payment_status TEXT NOT NULL,
		gateway_name TEXT,
		gateway_transaction_id TEXT,
		gateway_charge_id TEXT,
		gateway_fee_cents BIGINT,
		gateway_net_cents BIGINT,
		gateway_fee_known BOOLEAN NOT NULL DEFAULT FALSE,
		refunded_cents BIGINT NOT NULL DEFAULT 0,
		paid_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payment_attempts (
		id BIGINT PRIMARY KEY,
		sale_id BIGINT NOT NULL,
		organization_id BIGINT NOT NULL,
		gateway TEXT NOT NULL,
		gateway_transaction_id TEXT NOT NULL,
		gateway_event_id TEXT NOT NULL,
		event_kind TEXT NOT NULL,
		dedupe_ref TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		outcome TEXT NOT NULL,
		event TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payment_attempts_dedupe ON payment_attempts(gateway, gateway_transaction_id, event_kind, dedupe_ref)`,
	`CREATE TABLE sale_installments (
		id BIGINT PRIMARY KEY,
		sale_id BIGINT NOT NULL,
		payment_attempt_id BIGINT NOT NULL,
		installment_number INTEGER NOT NULL,
		total_installments INTEGER NOT NULL,
		amount_cents BIGINT NOT NULL,
		fee_cents BIGINT NOT NULL,
		net_amount_cents BIGINT NOT NULL,
		fee_known BOOLEAN NOT NULL,
		due_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		card_brand TEXT,
		external_ref TEXT NOT NULL,
		reversed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE virtual_accounts (
		id BIGINT PRIMARY KEY,
		owner_ref TEXT NOT NULL,
		account_type TEXT NOT NULL,
		pending_balance_cents BIGINT NOT NULL DEFAULT 0,
		available_balance_cents BIGINT NOT NULL DEFAULT 0,
		total_received_cents BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_virtual_accounts_owner ON virtual_accounts(owner_ref, account_type)`,
	`CREATE TABLE sale_splits (
		id BIGINT PRIMARY KEY,
		sale_id BIGINT NOT NULL,
		payment_attempt_id BIGINT NOT NULL,
		virtual_account_id BIGINT NOT NULL,
		event_kind TEXT NOT NULL,
		split_type TEXT NOT NULL,
		gross_amount_cents BIGINT NOT NULL,
		fee_cents BIGINT NOT NULL,
		net_amount_cents BIGINT NOT NULL,
		percentage TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE virtual_transactions (
		id BIGINT PRIMARY KEY,
		virtual_account_id BIGINT NOT NULL,
		sale_id BIGINT NOT NULL,
		sale_split_id BIGINT NOT NULL,
		reverses_transaction_id BIGINT,
		amount_cents BIGINT NOT NULL,
		fee_cents BIGINT NOT NULL,
		net_amount_cents BIGINT NOT NULL,
		status TEXT NOT NULL,
		release_at DATETIME NOT NULL,
		released_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE organization_fee_configs (
		id BIGINT PRIMARY KEY,
		organization_id BIGINT NOT NULL,
		percentage TEXT,
		fixed_cents BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_organization_fee_configs_org ON organization_fee_configs(organization_id)`,
	`CREATE TABLE affiliate_commissions (
		id BIGINT PRIMARY KEY,
		sale_id BIGINT NOT NULL,
		affiliate_id TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_affiliate_commissions_sale ON affiliate_commissions(sale_id)`,
	`CREATE TABLE audit_logs (
		id BIGINT PRIMARY KEY,
		organization_id BIGINT,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payment_provider_configs (
		id BIGINT PRIMARY KEY,
		organization_id BIGINT NOT NULL,
		provider TEXT NOT NULL,
		config TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payment_provider_configs_org_provider ON payment_provider_configs(organization_id, provider)`,
}

// OpenDB returns a fresh in-memory database with the schema applied. A single
// connection keeps concurrent tests on one SQLite writer.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range Schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// Node returns a snowflake node for test id generation.
func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// AssertCount fails the test when table does not hold exactly want rows.
func AssertCount(t *testing.T, db *gorm.DB, table string, want int64) {
	t.Helper()
	var got int64
	if err := db.Table(table).Count(&got).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	if got != want {
		t.Fatalf("expected %d rows in %s, got %d", want, table, got)
	}
}
