package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/splitledger/internal/feeconfig/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("feeconfig.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

var maxPercentage = decimal.NewFromInt(100)

// GetPlatformFeeConfig never falls back to a default: an organization
// without a percentage cannot be settled.
func (s *Service) GetPlatformFeeConfig(ctx context.Context, orgID snowflake.ID) (domain.PlatformFee, error) {
	if orgID == 0 {
		return domain.PlatformFee{}, domain.ErrInvalidOrganization
	}
	cfg, err := s.repo.FindByOrg(ctx, s.db, orgID)
	if err != nil {
		return domain.PlatformFee{}, err
	}
	if cfg == nil || !cfg.Percentage.Valid {
		return domain.PlatformFee{}, fmt.Errorf("%w: organization %s", domain.ErrNotConfigured, orgID)
	}
	return domain.PlatformFee{
		Percentage: cfg.Percentage.Decimal,
		FixedCents: cfg.FixedCents,
	}, nil
}

func (s *Service) Upsert(ctx context.Context, req domain.UpsertRequest) (*domain.FeeConfig, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if req.FixedCents < 0 {
		return nil, domain.ErrInvalidFixedFee
	}
	pct := decimal.NullDecimal{}
	if req.Percentage != nil {
		if req.Percentage.IsNegative() || req.Percentage.GreaterThan(maxPercentage) {
			return nil, domain.ErrInvalidPercentage
		}
		pct = decimal.NewNullDecimal(*req.Percentage)
	}

	now := time.Now().UTC()
	cfg := &domain.FeeConfig{
		ID:         s.genID.Generate(),
		OrgID:      req.OrgID,
		Percentage: pct,
		FixedCents: req.FixedCents,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Upsert(ctx, s.db, cfg); err != nil {
		return nil, err
	}
	s.log.Info("platform fee config updated",
		zap.String("organization_id", req.OrgID.String()),
		zap.String("percentage", pct.Decimal.String()),
		zap.Int64("fixed_cents", req.FixedCents),
	)
	return s.repo.FindByOrg(ctx, s.db, req.OrgID)
}
