package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/splitledger/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

// List returns newest first and fetches one row past the limit so the caller
// can tell whether another page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	err := db.WithContext(ctx).
		Scopes(byFilter(filter), afterCursor(filter.Cursor)).
		Order("created_at DESC").
		Order("id DESC").
		Limit(filter.Limit + 1).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func byFilter(filter domain.ListFilter) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		tx = tx.Where("organization_id = ?", filter.OrgID)
		for column, value := range map[string]string{
			"action":      filter.Action,
			"target_type": filter.TargetType,
			"target_id":   filter.TargetID,
		} {
			if value = strings.TrimSpace(value); value != "" {
				tx = tx.Where(column+" = ?", value)
			}
		}
		if filter.StartAt != nil {
			tx = tx.Where("created_at >= ?", filter.StartAt.UTC())
		}
		if filter.EndAt != nil {
			tx = tx.Where("created_at <= ?", filter.EndAt.UTC())
		}
		return tx
	}
}

func afterCursor(cursor *domain.AuditCursor) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if cursor == nil {
			return tx
		}
		return tx.Where("created_at < ? OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
}
