package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"esl-sync-service/internal/model"
	"esl-sync-service/internal/money"
	"esl-sync-service/internal/restclient"
	"esl-sync-service/internal/syncerr"
	"esl-sync-service/pkg/config"

	"github.com/shopspring/decimal"
)

type cloverItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"` // minor units
	SKU       string `json:"sku"`
	Code      string `json:"code"` // barcode
	Hidden    bool   `json:"hidden"`
	Available *bool  `json:"available,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// CloverAdapter talks to a Clover-style OAuth inventory API. Items have no
// variants; the merchant id is the tenant's source store id.
type CloverAdapter struct {
	rest  *restclient.Client
	oauth *oauthApp
}

// NewCloverAdapter creates the Clover adapter
func NewCloverAdapter(cfg config.OAuthAppConfig, timeout time.Duration, perSecond int) *CloverAdapter {
	return &CloverAdapter{
		rest:  restclient.New(string(model.SourceClover), cfg.BaseURL, timeout, perSecond),
		oauth: newOAuthApp(model.SourceClover, cfg, timeout, perSecond),
	}
}

// Source implements Adapter
func (a *CloverAdapter) Source() model.SourceSystem {
	return model.SourceClover
}

// NormalizeProduct turns one inventory item into a product
func (a *CloverAdapter) NormalizeProduct(raw []byte, tenant *model.TenantStore) ([]model.Product, error) {
	var item cloverItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, syncerr.New(syncerr.Permanent, "clover normalize", err)
	}

	currency := tenant.Currency()
	active := !item.Hidden && !item.Deleted
	if item.Available != nil && !*item.Available {
		active = false
	}
	d := productDraft{
		SourceID: item.ID,
		Title:    item.Name,
		Barcode:  item.Code,
		SKU:      item.SKU,
		Price:    money.FromMinor(item.Price, currency),
		Currency: currency,
		Active:   active,
	}
	return []model.Product{d.build(model.SourceClover, tenant, raw)}, nil
}

// CreateProduct creates an inventory item
func (a *CloverAdapter) CreateProduct(ctx context.Context, product *model.Product, tenant *model.TenantStore) (ItemRef, error) {
	header, err := bearerHeader(model.SourceClover, tenant)
	if err != nil {
		return ItemRef{}, err
	}

	n := product.NormalizedData()
	var created cloverItem
	_, err = a.rest.Do(ctx, restclient.Request{
		Method: http.MethodPost,
		Path:   a.itemsPath(tenant),
		Header: header,
		Body: cloverItem{
			Name:  n.Title,
			Price: money.ToMinor(n.Price, n.Currency),
			SKU:   n.SKU,
			Code:  n.Barcode,
		},
		Out: &created,
	})
	if err != nil {
		return ItemRef{}, fmt.Errorf("clover create product: %w", err)
	}
	return ItemRef{SourceID: created.ID, ExternalCode: product.ExternalCode}, nil
}

// UpdatePrice sets an item's price
func (a *CloverAdapter) UpdatePrice(ctx context.Context, ref ItemRef, price decimal.Decimal, tenant *model.TenantStore) error {
	header, err := bearerHeader(model.SourceClover, tenant)
	if err != nil {
		return err
	}
	_, err = a.rest.Do(ctx, restclient.Request{
		Method: http.MethodPost,
		Path:   a.itemsPath(tenant) + "/" + url.PathEscape(ref.SourceID),
		Header: header,
		Body:   map[string]int64{"price": money.ToMinor(price, tenant.Currency())},
	})
	if err != nil {
		return fmt.Errorf("clover update price %s: %w", ref.SourceID, err)
	}
	return nil
}

// DeleteProduct deletes an inventory item
func (a *CloverAdapter) DeleteProduct(ctx context.Context, ref ItemRef, tenant *model.TenantStore) error {
	header, err := bearerHeader(model.SourceClover, tenant)
	if err != nil {
		return err
	}
	_, err = a.rest.Do(ctx, restclient.Request{
		Method: http.MethodDelete,
		Path:   a.itemsPath(tenant) + "/" + url.PathEscape(ref.SourceID),
		Header: header,
	})
	if restclient.StatusOf(err) == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clover delete product %s: %w", ref.SourceID, err)
	}
	return nil
}

// RefreshToken implements TokenRefresher
func (a *CloverAdapter) RefreshToken(ctx context.Context, tenant *model.TenantStore) (*Credentials, error) {
	return a.oauth.refresh(ctx, tenant)
}

// ListCatalog implements CatalogLister. The cursor is the numeric offset.
func (a *CloverAdapter) ListCatalog(ctx context.Context, tenant *model.TenantStore, cursor string, pageSize int) (*CatalogPage, error) {
	header, err := bearerHeader(model.SourceClover, tenant)
	if err != nil {
		return nil, err
	}

	offset := 0
	if cursor != "" {
		if offset, err = strconv.Atoi(cursor); err != nil {
			return nil, syncerr.Permanentf("clover list catalog: bad cursor %q", cursor)
		}
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(pageSize))

	var resp struct {
		Elements []json.RawMessage `json:"elements"`
	}
	_, err = a.rest.Do(ctx, restclient.Request{
		Method: http.MethodGet,
		Path:   a.itemsPath(tenant),
		Query:  query,
		Header: header,
		Out:    &resp,
	})
	if err != nil {
		return nil, fmt.Errorf("clover list catalog: %w", err)
	}

	page := &CatalogPage{Items: resp.Elements}
	if len(resp.Elements) == pageSize {
		page.NextCursor = strconv.Itoa(offset + pageSize)
	}
	return page, nil
}

func (a *CloverAdapter) itemsPath(tenant *model.TenantStore) string {
	return "/v3/merchants/" + url.PathEscape(tenant.SourceStoreID) + "/items"
}
