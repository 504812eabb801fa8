package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"esl-sync-service/internal/model"
	"esl-sync-service/internal/money"
	"esl-sync-service/internal/restclient"
	"esl-sync-service/internal/syncerr"
	"esl-sync-service/pkg/config"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squareVariation struct {
	Type              string `json:"type"`
	ID                string `json:"id"`
	IsDeleted         bool   `json:"is_deleted,omitempty"`
	ItemVariationData struct {
		ItemID     string       `json:"item_id,omitempty"`
		Name       string       `json:"name,omitempty"`
		SKU        string       `json:"sku,omitempty"`
		UPC        string       `json:"upc,omitempty"`
		PriceMoney *squareMoney `json:"price_money,omitempty"`
	} `json:"item_variation_data"`
}

type squareItem struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	IsDeleted bool   `json:"is_deleted,omitempty"`
	ItemData  struct {
		Name       string            `json:"name"`
		Variations []squareVariation `json:"variations"`
	} `json:"item_data"`
}

// SquareAdapter talks to a Square-style OAuth catalog API
type SquareAdapter struct {
	rest  *restclient.Client
	oauth *oauthApp
}

// NewSquareAdapter creates the Square adapter
func NewSquareAdapter(cfg config.OAuthAppConfig, timeout time.Duration, perSecond int) *SquareAdapter {
	return &SquareAdapter{
		rest:  restclient.New(string(model.SourceSquare), cfg.BaseURL, timeout, perSecond),
		oauth: newOAuthApp(model.SourceSquare, cfg, timeout, perSecond),
	}
}

// Source implements Adapter
func (a *SquareAdapter) Source() model.SourceSystem {
	return model.SourceSquare
}

// NormalizeProduct turns a catalog ITEM into one product per variation
func (a *SquareAdapter) NormalizeProduct(raw []byte, tenant *model.TenantStore) ([]model.Product, error) {
	var item squareItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, syncerr.New(syncerr.Permanent, "square normalize", err)
	}
	if item.Type != "" && item.Type != "ITEM" {
		return nil, syncerr.Permanentf("square normalize: unsupported object type %q", item.Type)
	}

	products := make([]model.Product, 0, len(item.ItemData.Variations))
	for _, v := range item.ItemData.Variations {
		d := productDraft{
			SourceID:  item.ID,
			VariantID: v.ID,
			Title:     item.ItemData.Name,
			Barcode:   v.ItemVariationData.UPC,
			SKU:       v.ItemVariationData.SKU,
			Active:    !item.IsDeleted && !v.IsDeleted,
		}
		if name := v.ItemVariationData.Name; name != "" && len(item.ItemData.Variations) > 1 {
			d.Title = item.ItemData.Name + " " + name
		}
		if pm := v.ItemVariationData.PriceMoney; pm != nil {
			d.Currency = pm.Currency
			d.Price = money.FromMinor(pm.Amount, pm.Currency)
		}
		products = append(products, d.build(model.SourceSquare, tenant, raw))
	}
	return products, nil
}

// CreateProduct upserts a single-variation catalog item
func (a *SquareAdapter) CreateProduct(ctx context.Context, product *model.Product, tenant *model.TenantStore) (ItemRef, error) {
	header, err := bearerHeader(model.SourceSquare, tenant)
	if err != nil {
		return ItemRef{}, err
	}

	n := product.NormalizedData()
	body := map[string]interface{}{
		"idempotency_key": uuid.NewString(),
		"object": map[string]interface{}{
			"type": "ITEM",
			"id":   "#item",
			"item_data": map[string]interface{}{
				"name": n.Title,
				"variations": []map[string]interface{}{{
					"type": "ITEM_VARIATION",
					"id":   "#variation",
					"item_variation_data": map[string]interface{}{
						"item_id":      "#item",
						"sku":          n.SKU,
						"upc":          n.Barcode,
						"pricing_type": "FIXED_PRICING",
						"price_money":  squareMoney{Amount: money.ToMinor(n.Price, n.Currency), Currency: n.Currency},
					},
				}},
			},
		},
	}

	var resp struct {
		IDMappings []struct {
			ClientObjectID string `json:"client_object_id"`
			ObjectID       string `json:"object_id"`
		} `json:"id_mappings"`
	}
	_, err = a.rest.Do(ctx, restclient.Request{
		Method: http.MethodPost,
		Path:   "/v2/catalog/object",
		Header: header,
		Body:   body,
		Out:    &resp,
	})
	if err != nil {
		return ItemRef{}, fmt.Errorf("square create product: %w", err)
	}

	ref := ItemRef{ExternalCode: product.ExternalCode}
	for _, m := range resp.IDMappings {
		switch m.ClientObjectID {
		case "#item":
			ref.SourceID = m.ObjectID
		case "#variation":
			ref.VariantID = m.ObjectID
		}
	}
	return ref, nil
}

// UpdatePrice sets the price of one item variation
func (a *SquareAdapter) UpdatePrice(ctx context.Context, ref ItemRef, price decimal.Decimal, tenant *model.TenantStore) error {
	header, err := bearerHeader(model.SourceSquare, tenant)
	if err != nil {
		return err
	}
	if ref.VariantID == "" {
		return syncerr.Permanentf("square update price: item %s has no variation id", ref.SourceID)
	}

	currency := tenant.Currency()
	body := map[string]interface{}{
		"idempotency_key": uuid.NewString(),
		"object": map[string]interface{}{
			"type": "ITEM_VARIATION",
			"id":   ref.VariantID,
			"item_variation_data": map[string]interface{}{
				"item_id":      ref.SourceID,
				"pricing_type": "FIXED_PRICING",
				"price_money":  squareMoney{Amount: money.ToMinor(price, currency), Currency: currency},
			},
		},
	}
	_, err = a.rest.Do(ctx, restclient.Request{
		Method: http.MethodPost,
		Path:   "/v2/catalog/object",
		Header: header,
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("square update price %s: %w", ref.VariantID, err)
	}
	return nil
}

// DeleteProduct removes a catalog item and its variations
func (a *SquareAdapter) DeleteProduct(ctx context.Context, ref ItemRef, tenant *model.TenantStore) error {
	header, err := bearerHeader(model.SourceSquare, tenant)
	if err != nil {
		return err
	}
	_, err = a.rest.Do(ctx, restclient.Request{
		Method: http.MethodDelete,
		Path:   "/v2/catalog/object/" + url.PathEscape(ref.SourceID),
		Header: header,
	})
	if restclient.StatusOf(err) == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("square delete product %s: %w", ref.SourceID, err)
	}
	return nil
}

// RefreshToken implements TokenRefresher
func (a *SquareAdapter) RefreshToken(ctx context.Context, tenant *model.TenantStore) (*Credentials, error) {
	return a.oauth.refresh(ctx, tenant)
}

// ListCatalog implements CatalogLister
func (a *SquareAdapter) ListCatalog(ctx context.Context, tenant *model.TenantStore, cursor string, pageSize int) (*CatalogPage, error) {
	header, err := bearerHeader(model.SourceSquare, tenant)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("types", "ITEM")
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp struct {
		Objects []json.RawMessage `json:"objects"`
		Cursor  string            `json:"cursor"`
	}
	_, err = a.rest.Do(ctx, restclient.Request{
		Method: http.MethodGet,
		Path:   "/v2/catalog/list",
		Query:  query,
		Header: header,
		Out:    &resp,
	})
	if err != nil {
		return nil, fmt.Errorf("square list catalog: %w", err)
	}
	return &CatalogPage{Items: resp.Objects, NextCursor: resp.Cursor}, nil
}
