package adapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"esl-sync-service/internal/model"
	"esl-sync-service/internal/restclient"
	"esl-sync-service/internal/syncerr"

	"github.com/shopspring/decimal"
)

// Tenant metadata keys holding NCR request-signing credentials
const (
	MetaNCRSharedKey    = "ncr_shared_key"
	MetaNCRSecretKey    = "ncr_secret_key"
	MetaNCROrganization = "ncr_organization"
)

const ncrPriceCode = "REGULAR"

type ncrItem struct {
	ItemCode         string `json:"itemCode"`
	ShortDescription string `json:"shortDescription"`
	UPC              string `json:"upc,omitempty"`
	SKU              string `json:"sku,omitempty"`
	Price            string `json:"price,omitempty"`
	Currency         string `json:"currency,omitempty"`
	Status           string `json:"status"`
}

type ncrItemPrice struct {
	ItemCode      string `json:"itemCode"`
	PriceCode     string `json:"priceCode"`
	Price         string `json:"price"`
	Currency      string `json:"currency"`
	EffectiveDate string `json:"effectiveDate"`
	Status        string `json:"status"`
}

// NCRAdapter talks to an NCR-style polling catalog API. Requests are signed
// with an HMAC of the tenant's secret key; the enterprise unit is the
// tenant's source store id.
type NCRAdapter struct {
	rest *restclient.Client
	now  func() time.Time
}

// NewNCRAdapter creates the NCR adapter
func NewNCRAdapter(baseURL string, timeout time.Duration, perSecond int) *NCRAdapter {
	return &NCRAdapter{
		rest: restclient.New(string(model.SourceNCR), baseURL, timeout, perSecond),
		now:  time.Now,
	}
}

// Source implements Adapter
func (a *NCRAdapter) Source() model.SourceSystem {
	return model.SourceNCR
}

// NormalizeProduct turns one catalog item into a product
func (a *NCRAdapter) NormalizeProduct(raw []byte, tenant *model.TenantStore) ([]model.Product, error) {
	var item ncrItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, syncerr.New(syncerr.Permanent, "ncr normalize", err)
	}

	d := productDraft{
		SourceID: item.ItemCode,
		Title:    item.ShortDescription,
		Barcode:  item.UPC,
		SKU:      item.SKU,
		Currency: item.Currency,
		Active:   item.Status == "" || strings.EqualFold(item.Status, "ACTIVE"),
	}
	if d.SKU == "" {
		d.SKU = item.ItemCode
	}
	if item.Price != "" {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			return nil, syncerr.Permanentf("ncr normalize: item %s has bad price %q", item.ItemCode, item.Price)
		}
		d.Price = price
	}
	return []model.Product{d.build(model.SourceNCR, tenant, raw)}, nil
}

// CreateProduct writes a catalog item; NCR item writes are upserts keyed by
// item code
func (a *NCRAdapter) CreateProduct(ctx context.Context, product *model.Product, tenant *model.TenantStore) (ItemRef, error) {
	n := product.NormalizedData()
	code := product.SourceID
	if code == "" {
		code = product.ExternalCode
	}

	item := ncrItem{
		ItemCode:         code,
		ShortDescription: n.Title,
		UPC:              n.Barcode,
		SKU:              n.SKU,
		Status:           "ACTIVE",
	}
	if err := a.call(ctx, tenant, http.MethodPut, "/catalog/v2/items/"+url.PathEscape(code), nil, item, nil); err != nil {
		return ItemRef{}, fmt.Errorf("ncr create product: %w", err)
	}
	if err := a.UpdatePrice(ctx, ItemRef{SourceID: code}, n.Price, tenant); err != nil {
		return ItemRef{}, err
	}
	return ItemRef{SourceID: code, ExternalCode: product.ExternalCode}, nil
}

// UpdatePrice writes the regular price effective now
func (a *NCRAdapter) UpdatePrice(ctx context.Context, ref ItemRef, price decimal.Decimal, tenant *model.TenantStore) error {
	body := a.itemPrice(ref, price, tenant.Currency(), a.now())
	path := "/catalog/v2/item-prices/" + url.PathEscape(ref.SourceID) + "/" + ncrPriceCode
	if err := a.call(ctx, tenant, http.MethodPut, path, nil, body, nil); err != nil {
		return fmt.Errorf("ncr update price %s: %w", ref.SourceID, err)
	}
	return nil
}

// DeleteProduct marks an item inactive; the catalog never hard-deletes
func (a *NCRAdapter) DeleteProduct(ctx context.Context, ref ItemRef, tenant *model.TenantStore) error {
	body := ncrItem{ItemCode: ref.SourceID, Status: "INACTIVE"}
	err := a.call(ctx, tenant, http.MethodPut, "/catalog/v2/items/"+url.PathEscape(ref.SourceID), nil, body, nil)
	if restclient.StatusOf(err) == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ncr delete product %s: %w", ref.SourceID, err)
	}
	return nil
}

// PreScheduleFuturePrices sends future-dated prices in chunks of
// FuturePriceChunkSize. A failing chunk stops the remaining ones.
func (a *NCRAdapter) PreScheduleFuturePrices(ctx context.Context, events []PriceEvent, tenant *model.TenantStore) error {
	for i, chunk := range Chunk(events, FuturePriceChunkSize) {
		prices := make([]ncrItemPrice, 0, len(chunk))
		for _, ev := range chunk {
			currency := ev.Currency
			if currency == "" {
				currency = tenant.Currency()
			}
			prices = append(prices, a.itemPrice(ev.Ref, ev.Price, currency, ev.EffectiveAt))
		}
		body := map[string][]ncrItemPrice{"itemPrices": prices}
		if err := a.call(ctx, tenant, http.MethodPut, "/catalog/v2/item-prices", nil, body, nil); err != nil {
			return fmt.Errorf("ncr pre-schedule prices chunk %d: %w", i, err)
		}
	}
	return nil
}

// ListCatalog implements CatalogLister. The cursor is the page number.
func (a *NCRAdapter) ListCatalog(ctx context.Context, tenant *model.TenantStore, cursor string, pageSize int) (*CatalogPage, error) {
	page := 0
	if cursor != "" {
		var err error
		if page, err = strconv.Atoi(cursor); err != nil {
			return nil, syncerr.Permanentf("ncr list catalog: bad cursor %q", cursor)
		}
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	query := url.Values{}
	query.Set("pageNumber", strconv.Itoa(page))
	query.Set("pageSize", strconv.Itoa(pageSize))

	var resp struct {
		PageContent []json.RawMessage `json:"pageContent"`
		LastPage    bool              `json:"lastPage"`
	}
	if err := a.call(ctx, tenant, http.MethodGet, "/catalog/v2/items", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("ncr list catalog: %w", err)
	}

	out := &CatalogPage{Items: resp.PageContent}
	if !resp.LastPage && len(resp.PageContent) > 0 {
		out.NextCursor = strconv.Itoa(page + 1)
	}
	return out, nil
}

func (a *NCRAdapter) itemPrice(ref ItemRef, price decimal.Decimal, currency string, effective time.Time) ncrItemPrice {
	return ncrItemPrice{
		ItemCode:      ref.SourceID,
		PriceCode:     ncrPriceCode,
		Price:         price.String(),
		Currency:      currency,
		EffectiveDate: effective.UTC().Format(time.RFC3339),
		Status:        "ACTIVE",
	}
}

// call signs and sends one request with the tenant's keys
func (a *NCRAdapter) call(ctx context.Context, tenant *model.TenantStore, method, path string, query url.Values, body, out interface{}) error {
	header, err := a.signedHeader(tenant, method, path)
	if err != nil {
		return err
	}
	_, err = a.rest.Do(ctx, restclient.Request{
		Method: method,
		Path:   path,
		Query:  query,
		Header: header,
		Body:   body,
		Out:    out,
	})
	return err
}

// signedHeader builds the AccessKey authorization for one request. The
// signing key is the secret concatenated with the request date, and the
// signed content is the method, path, content type and organization.
func (a *NCRAdapter) signedHeader(tenant *model.TenantStore, method, path string) (http.Header, error) {
	shared := tenant.MetaString(MetaNCRSharedKey)
	secret := tenant.MetaString(MetaNCRSecretKey)
	org := tenant.MetaString(MetaNCROrganization)
	if shared == "" || secret == "" || org == "" {
		return nil, syncerr.Credentialf("ncr: tenant %s is missing signing keys", tenant.ID)
	}

	date := a.now().UTC()
	signature := SignNCR(secret, date, method, path, "application/json", org)

	h := http.Header{}
	h.Set("Date", date.Format(http.TimeFormat))
	h.Set("nep-organization", org)
	h.Set("nep-enterprise-unit", tenant.SourceStoreID)
	h.Set("Authorization", "AccessKey "+shared+":"+signature)
	return h, nil
}

// SignNCR computes the base64 HMAC-SHA512 request signature
func SignNCR(secret string, date time.Time, method, path, contentType, organization string) string {
	key := secret + date.UTC().Format("2006-01-02T15:04:05.000Z")
	toSign := strings.Join([]string{method, path, contentType, organization}, "\n")

	mac := hmac.New(sha512.New, []byte(key))
	mac.Write([]byte(toSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
