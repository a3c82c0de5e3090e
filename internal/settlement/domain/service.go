package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/splitledger/pkg/db/pagination"
)

// Admission is the idempotency guard's verdict for one event.
type Admission string

const (
	AdmissionAdmit      Admission = "admit"
	AdmissionDuplicate  Admission = "duplicate"
	AdmissionSuperseded Admission = "superseded"
)

type ProcessResult struct {
	Admission Admission    `json:"admission"`
	AttemptID snowflake.ID `json:"attempt_id,omitempty"`
	SaleID    snowflake.ID `json:"sale_id"`
	// Noop is set when the attempt was admitted but the sale state already
	// reflected the event.
	Noop bool `json:"noop,omitempty"`
}

type Service interface {
	Process(ctx context.Context, event *SettlementEvent) (*ProcessResult, error)

	GetSaleSettlement(ctx context.Context, saleID snowflake.ID) (*SaleSettlement, error)
	GetVirtualAccountBalance(ctx context.Context, accountID snowflake.ID, verify bool) (*AccountBalance, error)
	ListVirtualTransactions(ctx context.Context, req ListTransactionsRequest) (*ListTransactionsResponse, error)

	ReleaseDue(ctx context.Context, now time.Time, limit int) (*ReleaseResult, error)
	BackfillFees(ctx context.Context, limit int) (*BackfillResult, error)
}

type InstallmentView struct {
	SaleInstallment
	FeePercentage string `json:"fee_percentage"`
}

type SaleSettlement struct {
	SaleID        snowflake.ID      `json:"sale_id"`
	PaymentStatus PaymentStatus     `json:"payment_status"`
	RefundedCents int64             `json:"refunded_cents"`
	Installments  []InstallmentView `json:"installments"`
	Splits        []SaleSplit       `json:"splits"`
}

type AccountBalance struct {
	AccountID   snowflake.ID `json:"account_id"`
	OwnerRef    string       `json:"owner_ref"`
	AccountType AccountType  `json:"account_type"`
	Balance
	// Derived and Drift are only filled when verification is requested.
	Derived *Balance `json:"derived,omitempty"`
	Drift   bool     `json:"drift,omitempty"`
}

type ListTransactionsRequest struct {
	pagination.Pagination
	AccountID snowflake.ID
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []VirtualTransaction `json:"transactions"`
}

type ReleaseResult struct {
	Released              int   `json:"released"`
	ReleasedCents         int64 `json:"released_cents"`
	Accounts              int   `json:"accounts"`
	InstallmentsConfirmed int64 `json:"installments_confirmed"`
}

type BackfillResult struct {
	Scanned  int `json:"scanned"`
	Resolved int `json:"resolved"`
	Pending  int `json:"pending"`
	Failed   int `json:"failed"`
}
