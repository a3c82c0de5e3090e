package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/splitledger/internal/feeconfig/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.FeeConfig, error) {
	var cfg domain.FeeConfig
	err := db.WithContext(ctx).Raw(
		`SELECT id, organization_id, percentage, fixed_cents, created_at, updated_at
		 FROM organization_fee_configs
		 WHERE organization_id = ?`,
		orgID,
	).Scan(&cfg).Error
	if err != nil {
		return nil, err
	}
	if cfg.ID == 0 {
		return nil, nil
	}
	return &cfg, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, cfg *domain.FeeConfig) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"percentage", "fixed_cents", "updated_at"}),
		}).
		Create(cfg).Error
}
