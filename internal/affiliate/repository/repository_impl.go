package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/splitledger/internal/affiliate/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindBySale(ctx context.Context, db *gorm.DB, saleID snowflake.ID) (*domain.Commission, error) {
	var commission domain.Commission
	err := db.WithContext(ctx).Raw(
		`SELECT id, sale_id, affiliate_id, amount_cents, created_at
		 FROM affiliate_commissions
		 WHERE sale_id = ?`,
		saleID,
	).Scan(&commission).Error
	if err != nil {
		return nil, err
	}
	if commission.ID == 0 {
		return nil, nil
	}
	return &commission, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, commission *domain.Commission) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO affiliate_commissions (id, sale_id, affiliate_id, amount_cents, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		commission.ID,
		commission.SaleID,
		commission.AffiliateID,
		commission.AmountCents,
		commission.CreatedAt,
	).Error
}
