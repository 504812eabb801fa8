package store

import (
	"context"
	"fmt"
	"time"

	"esl-sync-service/internal/model"
	"esl-sync-service/prometheus"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditRepository appends and reads sync audit rows
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an audit repository
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes one audit row
func (r *AuditRepository) Append(ctx context.Context, entry *model.AuditLog) error {
	defer prometheus.TrackDBOperation("audit_append")(time.Now())

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}

// List returns a tenant's audit rows, newest first, optionally for one product
func (r *AuditRepository) List(ctx context.Context, tenantID uuid.UUID, productID uint, limit, offset int) ([]model.AuditLog, error) {
	q := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if productID != 0 {
		q = q.Where("product_id = ?", productID)
	}

	var entries []model.AuditLog
	if err := q.Order("id DESC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return entries, nil
}
