// Package testutil builds in-memory databases and fixtures for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"esl-sync-service/internal/model"
	"esl-sync-service/pkg/database"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NewDB opens a migrated in-memory sqlite database private to t
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.OpenSQLite(dsn, nil)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.MigrateModels(db))
	return db
}

// TenantOption customises a tenant fixture
type TenantOption func(*model.TenantStore)

// WithSource sets the tenant's source system
func WithSource(source model.SourceSystem) TenantOption {
	return func(t *model.TenantStore) { t.SourceSystem = source }
}

// WithMeta sets one metadata key
func WithMeta(key string, value interface{}) TenantOption {
	return func(t *model.TenantStore) { t.Metadata[key] = value }
}

// Inactive marks the tenant inactive
func Inactive() TenantOption {
	return func(t *model.TenantStore) { t.Active = false }
}

// CreateTenant inserts an active tenant store
func CreateTenant(t *testing.T, db *gorm.DB, opts ...TenantOption) *model.TenantStore {
	t.Helper()

	tenant := &model.TenantStore{
		Name:          "Test Store",
		SourceSystem:  model.SourceShopify,
		SourceStoreID: uuid.NewString(),
		ESLStoreCode:  "ESL-" + uuid.NewString()[:8],
		Metadata:      datatypes.JSONMap{},
		Active:        true,
	}
	for _, opt := range opts {
		opt(tenant)
	}
	require.NoError(t, db.WithContext(context.Background()).Create(tenant).Error)
	return tenant
}

// CreateProduct inserts an active product for tenant
func CreateProduct(t *testing.T, db *gorm.DB, tenant *model.TenantStore, externalCode string, price string) *model.Product {
	t.Helper()

	p := &model.Product{
		TenantID:         tenant.ID,
		SourceSystem:     tenant.SourceSystem,
		SourceID:         "src-" + externalCode,
		ExternalCode:     externalCode,
		Status:           model.ProductActive,
		ValidationStatus: model.ValidationValid,
		LastModifiedAt:   time.Now().UTC(),
	}
	p.SetNormalized(model.NormalizedProduct{
		Title:    "Product " + externalCode,
		Barcode:  externalCode,
		Price:    decimal.RequireFromString(price),
		Currency: tenant.Currency(),
		Status:   model.ProductActive,
	})
	require.NoError(t, db.Create(p).Error)
	return p
}

// Clock is a settable time source
type Clock struct {
	T time.Time
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	return c.T
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}
