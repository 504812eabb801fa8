package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ProductStatus is the logical lifecycle state of a product
type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductInactive ProductStatus = "inactive"
)

// Validation outcomes recorded during normalization
const (
	ValidationValid   = "valid"
	ValidationInvalid = "invalid"
)

// NormalizedProduct is the provider-independent view rendered to ESL
type NormalizedProduct struct {
	Title    string          `json:"title"`
	Barcode  string          `json:"barcode,omitempty"`
	SKU      string          `json:"sku,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Status   ProductStatus   `json:"status"`
}

// Equal reports whether two normalized payloads render identically
func (n NormalizedProduct) Equal(o NormalizedProduct) bool {
	return n.Title == o.Title &&
		n.Barcode == o.Barcode &&
		n.SKU == o.SKU &&
		n.Price.Equal(o.Price) &&
		n.Currency == o.Currency &&
		n.Status == o.Status
}

// Product is the canonical record of one sellable item or variant. Identity is
// (source_system, source_id, source_variant_id, tenant_id); rows are never
// physically deleted.
type Product struct {
	ID               uint                                  `json:"id" gorm:"primarykey"`
	TenantID         uuid.UUID                             `json:"tenant_id" gorm:"type:uuid;not null;uniqueIndex:idx_product_identity,priority:4;index"`
	SourceSystem     SourceSystem                          `json:"source_system" gorm:"type:varchar(32);not null;uniqueIndex:idx_product_identity,priority:1"`
	SourceID         string                                `json:"source_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_product_identity,priority:2"`
	SourceVariantID  string                                `json:"source_variant_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_product_identity,priority:3"`
	ExternalCode     string                                `json:"external_code" gorm:"type:varchar(255);index"`
	Title            string                                `json:"title" gorm:"type:varchar(255)"`
	Price            decimal.Decimal                       `json:"price" gorm:"type:decimal(20,4);not null"`
	Currency         string                                `json:"currency" gorm:"type:varchar(3)"`
	Status           ProductStatus                         `json:"status" gorm:"type:varchar(16);not null;default:active"`
	Normalized       datatypes.JSONType[NormalizedProduct] `json:"normalized"`
	Raw              datatypes.JSON                        `json:"-"`
	ValidationStatus string                                `json:"validation_status" gorm:"type:varchar(16)"`
	ValidationErrors datatypes.JSONSlice[string]           `json:"validation_errors,omitempty"`
	LastModifiedAt   time.Time                             `json:"last_modified_at"`
	CreatedAt        time.Time                             `json:"created_at"`
	UpdatedAt        time.Time                             `json:"updated_at"`
}

// NormalizedData returns the normalized payload
func (p *Product) NormalizedData() NormalizedProduct {
	return p.Normalized.Data()
}

// SetNormalized stores the normalized payload and mirrors its scalar fields
func (p *Product) SetNormalized(n NormalizedProduct) {
	p.Normalized = datatypes.NewJSONType(n)
	p.Title = n.Title
	p.Price = n.Price
	p.Currency = n.Currency
	if n.Status != "" {
		p.Status = n.Status
	}
}

// WithPrice updates the price column and the normalized price together
func (p *Product) WithPrice(price decimal.Decimal) {
	n := p.NormalizedData()
	n.Price = price
	p.Normalized = datatypes.NewJSONType(n)
	p.Price = price
}
