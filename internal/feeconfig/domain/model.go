package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FeeConfig is an organization's platform fee. Percentage is expressed in
// percent units (5 means 5%) and is nullable so an incomplete row can be
// told apart from an explicit zero.
type FeeConfig struct {
	ID         snowflake.ID        `json:"id" gorm:"primaryKey"`
	OrgID      snowflake.ID        `json:"organization_id" gorm:"column:organization_id"`
	Percentage decimal.NullDecimal `json:"percentage"`
	FixedCents int64               `json:"fixed_cents"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func (FeeConfig) TableName() string { return "organization_fee_configs" }

type PlatformFee struct {
	Percentage decimal.Decimal `json:"percentage"`
	FixedCents int64           `json:"fixed_cents"`
}

type UpsertRequest struct {
	OrgID      snowflake.ID
	Percentage *decimal.Decimal
	FixedCents int64
}

type Repository interface {
	FindByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*FeeConfig, error)
	Upsert(ctx context.Context, db *gorm.DB, cfg *FeeConfig) error
}

type Service interface {
	GetPlatformFeeConfig(ctx context.Context, orgID snowflake.ID) (PlatformFee, error)
	Upsert(ctx context.Context, req UpsertRequest) (*FeeConfig, error)
}

var (
	ErrNotConfigured       = errors.New("platform_fee_not_configured")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPercentage   = errors.New("invalid_percentage")
	ErrInvalidFixedFee     = errors.New("invalid_fixed_fee")
)
