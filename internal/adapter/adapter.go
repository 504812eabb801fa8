// Package adapter is the per-source catalog capability. Each adapter resolves
// credentials only from the tenant store passed to the call.
package adapter

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"esl-sync-service/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// FuturePriceChunkSize is the largest batch sent to a back-end that accepts
// future-dated prices
const FuturePriceChunkSize = 50

// ItemRef identifies an item on the source system
type ItemRef struct {
	SourceID     string `json:"source_id"`
	VariantID    string `json:"variant_id,omitempty"`
	ExternalCode string `json:"external_code,omitempty"`
}

// RefFromProduct builds the source reference of a stored product
func RefFromProduct(p *model.Product) ItemRef {
	return ItemRef{SourceID: p.SourceID, VariantID: p.SourceVariantID, ExternalCode: p.ExternalCode}
}

// PriceEvent is one price to apply at EffectiveAt
type PriceEvent struct {
	Ref         ItemRef
	Price       decimal.Decimal
	Currency    string
	EffectiveAt time.Time
}

// Credentials is a refreshed OAuth credential set
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// CatalogPage is one page of raw catalog payloads. NextCursor is empty on
// the last page.
type CatalogPage struct {
	Items      []json.RawMessage
	NextCursor string
}

// Adapter is implemented by every source system
type Adapter interface {
	Source() model.SourceSystem
	// NormalizeProduct turns one provider payload into product records, one
	// per variant. Identity and validation fields are filled in.
	NormalizeProduct(raw []byte, tenant *model.TenantStore) ([]model.Product, error)
	CreateProduct(ctx context.Context, product *model.Product, tenant *model.TenantStore) (ItemRef, error)
	UpdatePrice(ctx context.Context, ref ItemRef, price decimal.Decimal, tenant *model.TenantStore) error
	DeleteProduct(ctx context.Context, ref ItemRef, tenant *model.TenantStore) error
}

// FuturePriceScheduler is implemented by back-ends that store future-dated
// prices natively
type FuturePriceScheduler interface {
	PreScheduleFuturePrices(ctx context.Context, events []PriceEvent, tenant *model.TenantStore) error
}

// TokenRefresher is implemented by OAuth back-ends
type TokenRefresher interface {
	RefreshToken(ctx context.Context, tenant *model.TenantStore) (*Credentials, error)
}

// CatalogLister is implemented by back-ends that can be polled
type CatalogLister interface {
	ListCatalog(ctx context.Context, tenant *model.TenantStore, cursor string, pageSize int) (*CatalogPage, error)
}

// Chunk splits events into batches of at most size
func Chunk(events []PriceEvent, size int) [][]PriceEvent {
	if size <= 0 {
		size = FuturePriceChunkSize
	}
	var chunks [][]PriceEvent
	for start := 0; start < len(events); start += size {
		end := start + size
		if end > len(events) {
			end = len(events)
		}
		chunks = append(chunks, events[start:end])
	}
	return chunks
}

// productDraft collects what a provider payload says about one variant
type productDraft struct {
	SourceID  string
	VariantID string
	Title     string
	Barcode   string
	SKU       string
	Price     decimal.Decimal
	Currency  string
	Active    bool
}

// build fills identity, normalized payload and validation for a draft
func (d productDraft) build(source model.SourceSystem, tenant *model.TenantStore, raw []byte) model.Product {
	currency := strings.ToUpper(d.Currency)
	if currency == "" {
		currency = tenant.Currency()
	}
	status := model.ProductActive
	if !d.Active {
		status = model.ProductInactive
	}

	code := d.Barcode
	if code == "" {
		code = d.SKU
	}

	p := model.Product{
		TenantID:        tenant.ID,
		SourceSystem:    source,
		SourceID:        d.SourceID,
		SourceVariantID: d.VariantID,
		ExternalCode:    code,
		Raw:             datatypes.JSON(raw),
	}
	p.SetNormalized(model.NormalizedProduct{
		Title:    strings.TrimSpace(d.Title),
		Barcode:  d.Barcode,
		SKU:      d.SKU,
		Price:    d.Price,
		Currency: currency,
		Status:   status,
	})

	var problems []string
	if d.SourceID == "" {
		problems = append(problems, "missing source id")
	}
	if code == "" {
		problems = append(problems, "missing barcode and sku")
	}
	if p.Title == "" {
		problems = append(problems, "missing title")
	}
	if d.Price.IsNegative() {
		problems = append(problems, "negative price")
	}
	if len(problems) == 0 {
		p.ValidationStatus = model.ValidationValid
	} else {
		p.ValidationStatus = model.ValidationInvalid
		p.ValidationErrors = problems
	}
	return p
}
