package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Commission is the affiliate cut agreed for a sale before it is paid.
type Commission struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	SaleID      snowflake.ID `json:"sale_id"`
	AffiliateID string       `json:"affiliate_id"`
	AmountCents int64        `json:"amount_cents"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (Commission) TableName() string { return "affiliate_commissions" }

type Repository interface {
	FindBySale(ctx context.Context, db *gorm.DB, saleID snowflake.ID) (*Commission, error)
	Insert(ctx context.Context, db *gorm.DB, commission *Commission) error
}

type Service interface {
	// GetAffiliateSplit returns nil when the sale carries no commission.
	GetAffiliateSplit(ctx context.Context, saleID snowflake.ID) (*Commission, error)
	RecordCommission(ctx context.Context, saleID snowflake.ID, affiliateID string, amountCents int64) (*Commission, error)
}

var (
	ErrInvalidSale      = errors.New("invalid_sale")
	ErrInvalidAffiliate = errors.New("invalid_affiliate")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrAlreadyRecorded  = errors.New("commission_already_recorded")
)
