package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"esl-sync-service/internal/model"
	"esl-sync-service/internal/money"
	"esl-sync-service/internal/restclient"
	"esl-sync-service/internal/syncerr"

	"github.com/shopspring/decimal"
)

// MetaShopURL overrides the admin API base URL of a shop
const MetaShopURL = "shop_url"

type shopifyVariant struct {
	ID      json.Number `json:"id,omitempty"`
	Title   string      `json:"title,omitempty"`
	SKU     string      `json:"sku,omitempty"`
	Barcode string      `json:"barcode,omitempty"`
	Price   string      `json:"price,omitempty"`
}

type shopifyProduct struct {
	ID       json.Number      `json:"id,omitempty"`
	Title    string           `json:"title"`
	Status   string           `json:"status"`
	Variants []shopifyVariant `json:"variants"`
}

// ShopifyAdapter talks to a Shopify-style webhook-driven admin API. Access
// tokens are offline tokens and are never refreshed.
type ShopifyAdapter struct {
	rest       *restclient.Client
	apiVersion string
}

// NewShopifyAdapter creates the Shopify adapter
func NewShopifyAdapter(apiVersion string, timeout time.Duration, perSecond int) *ShopifyAdapter {
	return &ShopifyAdapter{
		rest:       restclient.New(string(model.SourceShopify), "", timeout, perSecond),
		apiVersion: apiVersion,
	}
}

// Source implements Adapter
func (a *ShopifyAdapter) Source() model.SourceSystem {
	return model.SourceShopify
}

// NormalizeProduct turns a products/create or products/update webhook body
// into one product per variant
func (a *ShopifyAdapter) NormalizeProduct(raw []byte, tenant *model.TenantStore) ([]model.Product, error) {
	var p shopifyProduct
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, syncerr.New(syncerr.Permanent, "shopify normalize", err)
	}

	active := p.Status == "" || p.Status == "active"
	products := make([]model.Product, 0, len(p.Variants))
	for _, v := range p.Variants {
		d := productDraft{
			SourceID:  p.ID.String(),
			VariantID: v.ID.String(),
			Title:     p.Title,
			Barcode:   v.Barcode,
			SKU:       v.SKU,
			Active:    active,
		}
		if v.Title != "" && v.Title != "Default Title" {
			d.Title = p.Title + " " + v.Title
		}
		if v.Price != "" {
			price, err := decimal.NewFromString(v.Price)
			if err != nil {
				return nil, syncerr.Permanentf("shopify normalize: variant %s has bad price %q", v.ID, v.Price)
			}
			d.Price = price
		}
		products = append(products, d.build(model.SourceShopify, tenant, raw))
	}
	return products, nil
}

// CreateProduct creates a single-variant product
func (a *ShopifyAdapter) CreateProduct(ctx context.Context, product *model.Product, tenant *model.TenantStore) (ItemRef, error) {
	header, err := a.header(tenant)
	if err != nil {
		return ItemRef{}, err
	}

	n := product.NormalizedData()
	body := map[string]shopifyProduct{
		"product": {
			Title:  n.Title,
			Status: "active",
			Variants: []shopifyVariant{{
				SKU:     n.SKU,
				Barcode: n.Barcode,
				Price:   n.Price.StringFixed(money.Precision(n.Currency)),
			}},
		},
	}

	var resp struct {
		Product shopifyProduct `json:"product"`
	}
	_, err = a.rest.Do(ctx, restclient.Request{
		Method: http.MethodPost,
		Path:   a.baseURL(tenant) + "/products.json",
		Header: header,
		Body:   body,
		Out:    &resp,
	})
	if err != nil {
		return ItemRef{}, fmt.Errorf("shopify create product: %w", err)
	}

	ref := ItemRef{SourceID: resp.Product.ID.String(), ExternalCode: product.ExternalCode}
	if len(resp.Product.Variants) > 0 {
		ref.VariantID = resp.Product.Variants[0].ID.String()
	}
	return ref, nil
}

// UpdatePrice sets the price of one variant
func (a *ShopifyAdapter) UpdatePrice(ctx context.Context, ref ItemRef, price decimal.Decimal, tenant *model.TenantStore) error {
	header, err := a.header(tenant)
	if err != nil {
		return err
	}
	if ref.VariantID == "" {
		return syncerr.Permanentf("shopify update price: product %s has no variant id", ref.SourceID)
	}

	body := map[string]interface{}{
		"variant": map[string]interface{}{
			"id":    json.Number(ref.VariantID),
			"price": price.StringFixed(money.Precision(tenant.Currency())),
		},
	}
	_, err = a.rest.Do(ctx, restclient.Request{
		Method: http.MethodPut,
		Path:   a.baseURL(tenant) + "/variants/" + ref.VariantID + ".json",
		Header: header,
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("shopify update price %s: %w", ref.VariantID, err)
	}
	return nil
}

// DeleteProduct deletes a product with all its variants
func (a *ShopifyAdapter) DeleteProduct(ctx context.Context, ref ItemRef, tenant *model.TenantStore) error {
	header, err := a.header(tenant)
	if err != nil {
		return err
	}
	_, err = a.rest.Do(ctx, restclient.Request{
		Method: http.MethodDelete,
		Path:   a.baseURL(tenant) + "/products/" + ref.SourceID + ".json",
		Header: header,
	})
	if restclient.StatusOf(err) == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("shopify delete product %s: %w", ref.SourceID, err)
	}
	return nil
}

func (a *ShopifyAdapter) header(tenant *model.TenantStore) (http.Header, error) {
	token := tenant.AccessToken()
	if token == "" {
		return nil, syncerr.Credentialf("shopify: tenant %s has no access token", tenant.ID)
	}
	h := http.Header{}
	h.Set("X-Shopify-Access-Token", token)
	return h, nil
}

func (a *ShopifyAdapter) baseURL(tenant *model.TenantStore) string {
	if u := tenant.MetaString(MetaShopURL); u != "" {
		return strings.TrimRight(u, "/")
	}
	shop := tenant.SourceStoreID
	if !strings.Contains(shop, ".") {
		shop += ".myshopify.com"
	}
	return "https://" + shop + "/admin/api/" + a.apiVersion
}
