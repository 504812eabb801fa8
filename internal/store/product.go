package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"esl-sync-service/internal/model"
	"esl-sync-service/prometheus"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertResult reports what an idempotent upsert did
type UpsertResult struct {
	Product *model.Product
	Created bool
	Changed bool // normalized content differs from the stored row
}

// ProductRepository persists product records
type ProductRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a product repository
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetForTenant loads a product belonging to tenantID
func (r *ProductRepository) GetForTenant(ctx context.Context, tenantID uuid.UUID, id uint) (*model.Product, error) {
	defer prometheus.TrackDBOperation("product_get")(time.Now())

	var p model.Product
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// FindByExternalCode returns the active product a tenant renders under code
func (r *ProductRepository) FindByExternalCode(ctx context.Context, tenantID uuid.UUID, code string) (*model.Product, error) {
	defer prometheus.TrackDBOperation("product_find_code")(time.Now())

	var p model.Product
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_code = ? AND status = ?", tenantID, code, model.ProductActive).
		Order("id ASC").
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// FindByIdentity loads a product by its natural key
func (r *ProductRepository) FindByIdentity(ctx context.Context, tenantID uuid.UUID, source model.SourceSystem, sourceID, variantID string) (*model.Product, error) {
	var p model.Product
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND source_system = ? AND source_id = ? AND source_variant_id = ?",
			tenantID, source, sourceID, variantID).
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// Upsert inserts p or updates the row with the same identity. Redelivering
// an unchanged payload leaves the row untouched apart from the raw payload.
func (r *ProductRepository) Upsert(ctx context.Context, p *model.Product, now time.Time) (*UpsertResult, error) {
	defer prometheus.TrackDBOperation("product_upsert")(time.Now())

	now = now.UTC()
	existing, err := r.FindByIdentity(ctx, p.TenantID, p.SourceSystem, p.SourceID, p.SourceVariantID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up product %s/%s: %w", p.SourceSystem, p.SourceID, err)
	}

	if existing == nil {
		p.LastModifiedAt = now
		res := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(p)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to insert product %s/%s: %w", p.SourceSystem, p.SourceID, res.Error)
		}
		if res.RowsAffected == 1 {
			return &UpsertResult{Product: p, Created: true, Changed: true}, nil
		}
		// lost an insert race; fall through to the update path
		existing, err = r.FindByIdentity(ctx, p.TenantID, p.SourceSystem, p.SourceID, p.SourceVariantID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload product %s/%s: %w", p.SourceSystem, p.SourceID, err)
		}
	}

	incoming := p.NormalizedData()
	changed := !existing.NormalizedData().Equal(incoming) ||
		existing.ExternalCode != p.ExternalCode ||
		existing.ValidationStatus != p.ValidationStatus

	updates := map[string]interface{}{
		"raw": p.Raw,
	}
	if changed {
		updates["external_code"] = p.ExternalCode
		updates["title"] = incoming.Title
		updates["price"] = incoming.Price
		updates["currency"] = incoming.Currency
		updates["status"] = p.Status
		updates["normalized"] = datatypes.NewJSONType(incoming)
		updates["validation_status"] = p.ValidationStatus
		updates["validation_errors"] = p.ValidationErrors
		updates["last_modified_at"] = now
	}

	err = r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update product %d: %w", existing.ID, err)
	}

	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	if changed {
		p.LastModifiedAt = now
	} else {
		p.LastModifiedAt = existing.LastModifiedAt
	}
	return &UpsertResult{Product: p, Changed: changed}, nil
}

// UpdatePrice sets the price column and the normalized price of one product
func (r *ProductRepository) UpdatePrice(ctx context.Context, tenantID uuid.UUID, id uint, price decimal.Decimal, now time.Time) (*model.Product, error) {
	p, err := r.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	defer prometheus.TrackDBOperation("product_update_price")(time.Now())

	p.WithPrice(price)
	p.LastModifiedAt = now.UTC()
	err = r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]interface{}{
			"price":            p.Price,
			"normalized":       p.Normalized,
			"last_modified_at": p.LastModifiedAt,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update price of product %d: %w", id, err)
	}
	return p, nil
}

// Deactivate marks a product inactive. changed is false when it already was.
func (r *ProductRepository) Deactivate(ctx context.Context, tenantID uuid.UUID, id uint, now time.Time) (*model.Product, bool, error) {
	p, err := r.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, false, err
	}
	if p.Status == model.ProductInactive {
		return p, false, nil
	}

	n := p.NormalizedData()
	n.Status = model.ProductInactive
	p.SetNormalized(n)
	p.Status = model.ProductInactive
	p.LastModifiedAt = now.UTC()

	res := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND tenant_id = ? AND status <> ?", id, tenantID, model.ProductInactive).
		Updates(map[string]interface{}{
			"status":           model.ProductInactive,
			"normalized":       p.Normalized,
			"last_modified_at": p.LastModifiedAt,
		})
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to deactivate product %d: %w", id, res.Error)
	}
	return p, res.RowsAffected == 1, nil
}

// ListForTenant returns a page of a tenant's products
func (r *ProductRepository) ListForTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]model.Product, error) {
	var products []model.Product
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// ListBySource returns every variant of one source item
func (r *ProductRepository) ListBySource(ctx context.Context, tenantID uuid.UUID, source model.SourceSystem, sourceID string) ([]model.Product, error) {
	var products []model.Product
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND source_system = ? AND source_id = ?", tenantID, source, sourceID).
		Order("id ASC").
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list products of %s/%s: %w", source, sourceID, err)
	}
	return products, nil
}
