package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/splitledger/internal/affiliate/domain"
	"github.com/smallbiznis/splitledger/pkg/db"
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
		log:   p.Log.Named("affiliate.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) GetAffiliateSplit(ctx context.Context, saleID snowflake.ID) (*domain.Commission, error) {
	if saleID == 0 {
		return nil, domain.ErrInvalidSale
	}
	return s.repo.FindBySale(ctx, s.db, saleID)
}

// RecordCommission stores the one commission a sale may carry.
func (s *Service) RecordCommission(ctx context.Context, saleID snowflake.ID, affiliateID string, amountCents int64) (*domain.Commission, error) {
	affiliateID = strings.TrimSpace(affiliateID)
	switch {
	case saleID == 0:
		return nil, domain.ErrInvalidSale
	case affiliateID == "":
		return nil, domain.ErrInvalidAffiliate
	case amountCents <= 0:
		return nil, domain.ErrInvalidAmount
	}

	commission := &domain.Commission{
		ID:          s.genID.Generate(),
		SaleID:      saleID,
		AffiliateID: affiliateID,
		AmountCents: amountCents,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, s.db, commission); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyRecorded
		}
		return nil, err
	}
	return commission, nil
}
