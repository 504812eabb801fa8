package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"esl-sync-service/internal/model"
	"esl-sync-service/prometheus"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantRepository persists tenant store records
type TenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a tenant repository
func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Create inserts a tenant store
func (r *TenantRepository) Create(ctx context.Context, t *model.TenantStore) error {
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create tenant store: %w", err)
	}
	return nil
}

// Get loads a tenant store by id, active or not
func (r *TenantRepository) Get(ctx context.Context, id uuid.UUID) (*model.TenantStore, error) {
	defer prometheus.TrackDBOperation("tenant_get")(time.Now())

	var t model.TenantStore
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// GetBySource loads the tenant store connected to a source-side store id
func (r *TenantRepository) GetBySource(ctx context.Context, source model.SourceSystem, sourceStoreID string) (*model.TenantStore, error) {
	var t model.TenantStore
	err := r.db.WithContext(ctx).
		Where("source_system = ? AND source_store_id = ?", source, sourceStoreID).
		First(&t).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// ListActive returns active tenant stores, optionally restricted to sources
func (r *TenantRepository) ListActive(ctx context.Context, sources ...model.SourceSystem) ([]model.TenantStore, error) {
	defer prometheus.TrackDBOperation("tenant_list_active")(time.Now())

	q := r.db.WithContext(ctx).Where("active = ?", true)
	if len(sources) > 0 {
		q = q.Where("source_system IN ?", sources)
	}

	var tenants []model.TenantStore
	if err := q.Order("created_at ASC").Find(&tenants).Error; err != nil {
		return nil, fmt.Errorf("failed to list active tenant stores: %w", err)
	}
	return tenants, nil
}

// MergeMetadata writes the given keys into a tenant's metadata with one
// single-row update. Other keys are preserved, including ones written
// concurrently by another process.
func (r *TenantRepository) MergeMetadata(ctx context.Context, id uuid.UUID, values map[string]interface{}) (*model.TenantStore, error) {
	patch, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata for tenant %s: %w", id, err)
	}

	merge := gorm.Expr("json_patch(COALESCE(metadata, '{}'), ?)", string(patch))
	if r.db.Dialector.Name() == "postgres" {
		merge = gorm.Expr("COALESCE(metadata, '{}'::jsonb) || ?::jsonb", string(patch))
	}

	start := time.Now()
	res := r.db.WithContext(ctx).
		Model(&model.TenantStore{}).
		Where("id = ?", id).
		Update("metadata", merge)
	prometheus.TrackDBOperation("tenant_merge_metadata")(start)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update metadata of tenant %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

// SetActive toggles whether a tenant store is processed
func (r *TenantRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&model.TenantStore{}).
		Where("id = ?", id).
		Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("failed to update tenant %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
