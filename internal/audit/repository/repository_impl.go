package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/notifier/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.NotificationLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO notification_logs (
			id, org_id, entity_type, entity_id, campaign, status, attempt,
			message, error, metadata, run_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.OrgID,
		entry.EntityType,
		entry.EntityID,
		entry.Campaign,
		entry.Status,
		entry.Attempt,
		entry.Message,
		entry.Error,
		entry.Metadata,
		entry.RunID,
		entry.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.NotificationLog, error) {
	var logs []*domain.NotificationLog
	stmt := db.WithContext(ctx).Model(&domain.NotificationLog{}).
		Where("org_id = ?", filter.OrgID)

	if filter.EntityID != nil {
		stmt = stmt.Where("entity_id = ?", *filter.EntityID)
	}
	if campaign := strings.TrimSpace(filter.Campaign); campaign != "" {
		stmt = stmt.Where("campaign = ?", campaign)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if runID := strings.TrimSpace(filter.RunID); runID != "" {
		stmt = stmt.Where("run_id = ?", runID)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
