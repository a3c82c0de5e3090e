package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/splitledger/internal/paymentprovider/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const configColumns = `id, organization_id, provider, config, is_active, created_at, updated_at`

func (r *repo) FindConfig(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string) (*domain.ProviderConfig, error) {
	var cfg domain.ProviderConfig
	err := db.WithContext(ctx).Raw(
		`SELECT `+configColumns+`
		 FROM payment_provider_configs
		 WHERE organization_id = ? AND provider = ?
		 LIMIT 1`,
		orgID,
		provider,
	).Scan(&cfg).Error
	if err != nil {
		return nil, err
	}
	if cfg.ID == 0 {
		return nil, nil
	}
	return &cfg, nil
}

func (r *repo) ListConfigs(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.ProviderConfig, error) {
	var configs []domain.ProviderConfig
	err := db.WithContext(ctx).Raw(
		`SELECT `+configColumns+`
		 FROM payment_provider_configs
		 WHERE organization_id = ?
		 ORDER BY created_at DESC`,
		orgID,
	).Scan(&configs).Error
	return configs, err
}

func (r *repo) ListActiveByProvider(ctx context.Context, db *gorm.DB, provider string) ([]domain.ProviderConfig, error) {
	var configs []domain.ProviderConfig
	err := db.WithContext(ctx).Raw(
		`SELECT `+configColumns+`
		 FROM payment_provider_configs
		 WHERE provider = ? AND is_active = ?
		 ORDER BY organization_id ASC`,
		provider,
		true,
	).Scan(&configs).Error
	return configs, err
}

func (r *repo) UpsertConfig(ctx context.Context, db *gorm.DB, cfg *domain.ProviderConfig) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_provider_configs (`+configColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (organization_id, provider)
		 DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		cfg.ID,
		cfg.OrgID,
		cfg.Provider,
		cfg.Config,
		cfg.IsActive,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string, isActive bool, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_provider_configs
		 SET is_active = ?, updated_at = ?
		 WHERE organization_id = ? AND provider = ?`,
		isActive,
		updatedAt,
		orgID,
		provider,
	)
	return res.RowsAffected > 0, res.Error
}
