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

// ScheduleRepository persists price schedules
type ScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates a schedule repository
func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Create inserts a schedule
func (r *ScheduleRepository) Create(ctx context.Context, s *model.PriceSchedule) error {
	defer prometheus.TrackDBOperation("schedule_create")(time.Now())

	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("failed to create price schedule: %w", err)
	}
	return nil
}

// Get loads a schedule by id regardless of tenant, for operator commands
func (r *ScheduleRepository) Get(ctx context.Context, id uint) (*model.PriceSchedule, error) {
	var s model.PriceSchedule
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// GetForTenant loads a schedule belonging to tenantID
func (r *ScheduleRepository) GetForTenant(ctx context.Context, tenantID uuid.UUID, id uint) (*model.PriceSchedule, error) {
	var s model.PriceSchedule
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&s).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// ListForTenant returns a tenant's schedules, newest first
func (r *ScheduleRepository) ListForTenant(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]model.PriceSchedule, error) {
	q := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}

	var schedules []model.PriceSchedule
	if err := q.Order("id DESC").Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("failed to list price schedules: %w", err)
	}
	return schedules, nil
}

// ListDue returns active schedules whose next trigger is at or before now
func (r *ScheduleRepository) ListDue(ctx context.Context, now time.Time) ([]model.PriceSchedule, error) {
	defer prometheus.TrackDBOperation("schedule_list_due")(time.Now())

	var schedules []model.PriceSchedule
	err := r.db.WithContext(ctx).
		Where("active = ? AND next_trigger_at IS NOT NULL AND next_trigger_at <= ?", true, now.UTC()).
		Order("next_trigger_at ASC").
		Order("id ASC").
		Find(&schedules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due price schedules: %w", err)
	}
	return schedules, nil
}

// Advance moves a schedule from prev to its next firing. A nil next
// deactivates the schedule. The update only applies while next_trigger_at
// still equals prev, so two runners cannot both advance the same firing.
func (r *ScheduleRepository) Advance(ctx context.Context, id uint, prev time.Time, next *time.Time, action model.ScheduleAction, lastErr string, now time.Time) (bool, error) {
	defer prometheus.TrackDBOperation("schedule_advance")(time.Now())

	now = now.UTC()
	updates := map[string]interface{}{
		"last_run_at": now,
		"last_error":  lastErr,
		"updated_at":  now,
	}
	if next == nil {
		updates["active"] = false
		updates["next_trigger_at"] = nil
	} else {
		updates["next_trigger_at"] = next.UTC()
		updates["next_action"] = action
	}

	res := r.db.WithContext(ctx).
		Model(&model.PriceSchedule{}).
		Where("id = ? AND active = ? AND next_trigger_at = ?", id, true, prev.UTC()).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to advance price schedule %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RecordFailure stores a run error without moving next_trigger_at
func (r *ScheduleRepository) RecordFailure(ctx context.Context, id uint, lastErr string, now time.Time) error {
	now = now.UTC()
	err := r.db.WithContext(ctx).
		Model(&model.PriceSchedule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_run_at": now,
			"last_error":  lastErr,
			"updated_at":  now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record failure of price schedule %d: %w", id, err)
	}
	return nil
}

// Deactivate stops a schedule from firing again
func (r *ScheduleRepository) Deactivate(ctx context.Context, id uint, lastErr string, now time.Time) error {
	now = now.UTC()
	err := r.db.WithContext(ctx).
		Model(&model.PriceSchedule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"active":          false,
			"next_trigger_at": nil,
			"last_error":      lastErr,
			"updated_at":      now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate price schedule %d: %w", id, err)
	}
	return nil
}

// Delete soft-deletes a tenant's schedule
func (r *ScheduleRepository) Delete(ctx context.Context, tenantID uuid.UUID, id uint) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&model.PriceSchedule{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete price schedule %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
