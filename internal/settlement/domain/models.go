package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusChargedBack       PaymentStatus = "charged_back"
)

// Settled reports whether the sale holds settled money that reversals can draw on.
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusPaid || s == PaymentStatusPartiallyRefunded
}

// Closed reports whether no further money movement is accepted.
func (s PaymentStatus) Closed() bool {
	return s == PaymentStatusRefunded || s == PaymentStatusChargedBack
}

type Sale struct {
	ID                   snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID                snowflake.ID  `json:"organization_id" gorm:"column:organization_id"`
	TotalCents           int64         `json:"total_cents"`
	PaymentStatus        PaymentStatus `json:"payment_status"`
	GatewayName          *string       `json:"gateway_name,omitempty"`
	GatewayTransactionID *string       `json:"gateway_transaction_id,omitempty"`
	GatewayChargeID      *string       `json:"gateway_charge_id,omitempty"`
	GatewayFeeCents      *int64        `json:"gateway_fee_cents,omitempty"`
	GatewayNetCents      *int64        `json:"gateway_net_cents,omitempty"`
	GatewayFeeKnown      bool          `json:"gateway_fee_known"`
	RefundedCents        int64         `json:"refunded_cents"`
	PaidAt               *time.Time    `json:"paid_at,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

func (Sale) TableName() string { return "sales" }

type AttemptOutcome string

const (
	AttemptOutcomeApplied    AttemptOutcome = "applied"
	AttemptOutcomeNoop       AttemptOutcome = "noop"
	AttemptOutcomeSuperseded AttemptOutcome = "superseded"
)

// PaymentAttempt is never updated once written.
type PaymentAttempt struct {
	ID                   snowflake.ID   `json:"id" gorm:"primaryKey"`
	SaleID               snowflake.ID   `json:"sale_id"`
	OrgID                snowflake.ID   `json:"organization_id" gorm:"column:organization_id"`
	Gateway              string         `json:"gateway"`
	GatewayTransactionID string         `json:"gateway_transaction_id"`
	GatewayEventID       string         `json:"gateway_event_id"`
	EventKind            EventKind      `json:"event_kind"`
	DedupeRef            string         `json:"dedupe_ref"`
	AmountCents          int64          `json:"amount_cents"`
	Outcome              AttemptOutcome `json:"outcome"`
	Event                datatypes.JSON `json:"event"`
	CreatedAt            time.Time      `json:"created_at"`
}

func (PaymentAttempt) TableName() string { return "payment_attempts" }

type InstallmentStatus string

const (
	InstallmentStatusPending   InstallmentStatus = "pending"
	InstallmentStatusConfirmed InstallmentStatus = "confirmed"
	InstallmentStatusReversed  InstallmentStatus = "reversed"
)

type SaleInstallment struct {
	ID                snowflake.ID      `json:"id" gorm:"primaryKey"`
	SaleID            snowflake.ID      `json:"sale_id"`
	PaymentAttemptID  snowflake.ID      `json:"payment_attempt_id"`
	InstallmentNumber int               `json:"installment_number"`
	TotalInstallments int               `json:"total_installments"`
	AmountCents       int64             `json:"amount_cents"`
	FeeCents          int64             `json:"fee_cents"`
	NetAmountCents    int64             `json:"net_amount_cents"`
	FeeKnown          bool              `json:"fee_known"`
	DueDate           time.Time         `json:"due_date"`
	Status            InstallmentStatus `json:"status"`
	CardBrand         *string           `json:"card_brand,omitempty"`
	ExternalRef       string            `json:"external_ref"`
	ReversedAt        *time.Time        `json:"reversed_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (SaleInstallment) TableName() string { return "sale_installments" }

type AccountType string

const (
	AccountTypeTenant          AccountType = "tenant"
	AccountTypePlatform        AccountType = "platform"
	AccountTypeAffiliate       AccountType = "affiliate"
	AccountTypeGatewayTracking AccountType = "gateway_tracking"
)

// PlatformOwnerRef owns the single platform revenue account.
const PlatformOwnerRef = "platform"

type VirtualAccount struct {
	ID                    snowflake.ID `json:"id" gorm:"primaryKey"`
	OwnerRef              string       `json:"owner_ref"`
	AccountType           AccountType  `json:"account_type"`
	PendingBalanceCents   int64        `json:"pending_balance_cents"`
	AvailableBalanceCents int64        `json:"available_balance_cents"`
	TotalReceivedCents    int64        `json:"total_received_cents"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

func (VirtualAccount) TableName() string { return "virtual_accounts" }

// Balance is the derived view of a virtual account's transaction log.
type Balance struct {
	PendingCents       int64 `json:"pending_cents"`
	AvailableCents     int64 `json:"available_cents"`
	TotalReceivedCents int64 `json:"total_received_cents"`
}

type SplitType string

const (
	SplitTypeTenant    SplitType = "tenant"
	SplitTypePlatform  SplitType = "platform"
	SplitTypeGateway   SplitType = "gateway"
	SplitTypeAffiliate SplitType = "affiliate"
)

func (t SplitType) AccountType() AccountType {
	switch t {
	case SplitTypePlatform:
		return AccountTypePlatform
	case SplitTypeGateway:
		return AccountTypeGatewayTracking
	case SplitTypeAffiliate:
		return AccountTypeAffiliate
	default:
		return AccountTypeTenant
	}
}

// SaleSplit rows for reversal events carry negative amounts, so summing a
// sale's splits per type yields what each beneficiary still holds.
type SaleSplit struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	SaleID           snowflake.ID `json:"sale_id"`
	PaymentAttemptID snowflake.ID `json:"payment_attempt_id"`
	VirtualAccountID snowflake.ID `json:"virtual_account_id"`
	EventKind        EventKind    `json:"event_kind"`
	SplitType        SplitType    `json:"split_type"`
	GrossAmountCents int64        `json:"gross_amount_cents"`
	FeeCents         int64        `json:"fee_cents"`
	NetAmountCents   int64        `json:"net_amount_cents"`
	Percentage       string       `json:"percentage"`
	CreatedAt        time.Time    `json:"created_at"`
}

func (SaleSplit) TableName() string { return "sale_splits" }

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusAvailable TransactionStatus = "available"
	TransactionStatusReversed  TransactionStatus = "reversed"
)

// VirtualTransaction is an append-only ledger line. Compensations are written
// with status reversed and point at the credit they offset; they count against
// whichever bucket that credit currently sits in.
type VirtualTransaction struct {
	ID                    snowflake.ID      `json:"id" gorm:"primaryKey"`
	VirtualAccountID      snowflake.ID      `json:"virtual_account_id"`
	SaleID                snowflake.ID      `json:"sale_id"`
	SaleSplitID           snowflake.ID      `json:"sale_split_id"`
	ReversesTransactionID *snowflake.ID     `json:"reverses_transaction_id,omitempty"`
	AmountCents           int64             `json:"amount_cents"`
	FeeCents              int64             `json:"fee_cents"`
	NetAmountCents        int64             `json:"net_amount_cents"`
	Status                TransactionStatus `json:"status"`
	ReleaseAt             time.Time         `json:"release_at"`
	ReleasedAt            *time.Time        `json:"released_at,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
}

func (VirtualTransaction) TableName() string { return "virtual_transactions" }
