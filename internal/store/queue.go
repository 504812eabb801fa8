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

// QueueRepository persists sync queue items
type QueueRepository struct {
	db *gorm.DB
}

// NewQueueRepository creates a queue repository
func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue appends a pending item that is immediately claimable
func (r *QueueRepository) Enqueue(ctx context.Context, productID uint, tenantID uuid.UUID, op model.SyncOperation, now time.Time) (*model.SyncQueueItem, error) {
	defer prometheus.TrackDBOperation("queue_enqueue")(time.Now())

	item := &model.SyncQueueItem{
		ProductID:     productID,
		TenantID:      tenantID,
		Operation:     op,
		Status:        model.StatusPending,
		NextAttemptAt: now.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue %s for product %d: %w", op, productID, err)
	}
	prometheus.RecordEnqueued(string(op))
	return item, nil
}

// ListClaimable returns up to limit pending items whose retry gate has passed,
// oldest first. The rows are not claimed.
func (r *QueueRepository) ListClaimable(ctx context.Context, now time.Time, limit int) ([]model.SyncQueueItem, error) {
	defer prometheus.TrackDBOperation("queue_list_claimable")(time.Now())

	var items []model.SyncQueueItem
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", model.StatusPending, now.UTC()).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list claimable queue items: %w", err)
	}
	return items, nil
}

// Claim moves one item from pending to syncing in a single conditional
// UPDATE. It fails (false, nil) when the row is no longer pending or when
// another item for the same product is already syncing. This is the only
// mutual-exclusion primitive between queue consumers.
func (r *QueueRepository) Claim(ctx context.Context, item *model.SyncQueueItem, now time.Time) (bool, error) {
	defer prometheus.TrackDBOperation("queue_claim")(time.Now())

	busy := r.db.Model(&model.SyncQueueItem{}).
		Select("1").
		Where("product_id = ? AND status = ?", item.ProductID, model.StatusSyncing)

	now = now.UTC()
	res := r.db.WithContext(ctx).
		Model(&model.SyncQueueItem{}).
		Where("id = ? AND status = ?", item.ID, model.StatusPending).
		Where("NOT EXISTS (?)", busy).
		Updates(map[string]interface{}{
			"status":     model.StatusSyncing,
			"claimed_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim queue item %d: %w", item.ID, res.Error)
	}
	if res.RowsAffected != 1 {
		return false, nil
	}

	item.Status = model.StatusSyncing
	item.ClaimedAt = &now
	return true, nil
}

// MarkSucceeded finishes a claimed item
func (r *QueueRepository) MarkSucceeded(ctx context.Context, id uint, attempts int, latency time.Duration, now time.Time) error {
	now = now.UTC()
	return r.transition(ctx, id, map[string]interface{}{
		"status":       model.StatusSucceeded,
		"attempts":     attempts,
		"latency_ms":   latency.Milliseconds(),
		"last_error":   "",
		"error_kind":   "",
		"completed_at": now,
		"updated_at":   now,
	})
}

// MarkRetry returns a claimed item to pending behind a backoff gate
func (r *QueueRepository) MarkRetry(ctx context.Context, id uint, attempts int, lastErr, kind string, nextAttemptAt, now time.Time) error {
	return r.transition(ctx, id, map[string]interface{}{
		"status":          model.StatusPending,
		"attempts":        attempts,
		"last_error":      lastErr,
		"error_kind":      kind,
		"next_attempt_at": nextAttemptAt.UTC(),
		"claimed_at":      nil,
		"updated_at":      now.UTC(),
	})
}

// MarkFailed moves a claimed item to the terminal failed state
func (r *QueueRepository) MarkFailed(ctx context.Context, id uint, attempts int, lastErr, kind string, latency time.Duration, now time.Time) error {
	now = now.UTC()
	return r.transition(ctx, id, map[string]interface{}{
		"status":       model.StatusFailed,
		"attempts":     attempts,
		"last_error":   lastErr,
		"error_kind":   kind,
		"latency_ms":   latency.Milliseconds(),
		"completed_at": now,
		"updated_at":   now,
	})
}

// transition applies updates to an item only while it is syncing
func (r *QueueRepository) transition(ctx context.Context, id uint, updates map[string]interface{}) error {
	defer prometheus.TrackDBOperation("queue_transition")(time.Now())

	res := r.db.WithContext(ctx).
		Model(&model.SyncQueueItem{}).
		Where("id = ? AND status = ?", id, model.StatusSyncing).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update queue item %d: %w", id, res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("queue item %d: %w", id, ErrStaleState)
	}
	return nil
}

// RecoverStale resets items left in syncing by a crashed worker
func (r *QueueRepository) RecoverStale(ctx context.Context, claimedBefore, now time.Time) (int64, error) {
	defer prometheus.TrackDBOperation("queue_recover_stale")(time.Now())

	res := r.db.WithContext(ctx).
		Model(&model.SyncQueueItem{}).
		Where("status = ? AND (claimed_at IS NULL OR claimed_at < ?)", model.StatusSyncing, claimedBefore.UTC()).
		Updates(map[string]interface{}{
			"status":          model.StatusPending,
			"claimed_at":      nil,
			"next_attempt_at": now.UTC(),
			"updated_at":      now.UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to recover stale queue items: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Requeue is the operator retry path: a failed item goes back to pending
// with its attempt count reset.
func (r *QueueRepository) Requeue(ctx context.Context, tenantID uuid.UUID, id uint, now time.Time) (*model.SyncQueueItem, error) {
	if _, err := r.GetForTenant(ctx, tenantID, id); err != nil {
		return nil, err
	}

	now = now.UTC()
	res := r.db.WithContext(ctx).
		Model(&model.SyncQueueItem{}).
		Where("id = ? AND tenant_id = ? AND status = ?", id, tenantID, model.StatusFailed).
		Updates(map[string]interface{}{
			"status":          model.StatusPending,
			"attempts":        0,
			"next_attempt_at": now,
			"completed_at":    nil,
			"claimed_at":      nil,
			"updated_at":      now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to requeue queue item %d: %w", id, res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, fmt.Errorf("queue item %d is not failed: %w", id, ErrStaleState)
	}
	return r.GetForTenant(ctx, tenantID, id)
}

// Get loads an item by id
func (r *QueueRepository) Get(ctx context.Context, id uint) (*model.SyncQueueItem, error) {
	var item model.SyncQueueItem
	if err := r.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// GetForTenant loads an item belonging to tenantID
func (r *QueueRepository) GetForTenant(ctx context.Context, tenantID uuid.UUID, id uint) (*model.SyncQueueItem, error) {
	var item model.SyncQueueItem
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&item).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// List returns a tenant's items, newest first, optionally filtered by status
func (r *QueueRepository) List(ctx context.Context, tenantID uuid.UUID, status model.SyncStatus, limit, offset int) ([]model.SyncQueueItem, error) {
	defer prometheus.TrackDBOperation("queue_list")(time.Now())

	q := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var items []model.SyncQueueItem
	if err := q.Order("id DESC").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	return items, nil
}
