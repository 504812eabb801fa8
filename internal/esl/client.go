// Package esl talks to the electronic shelf label rendering service. Only the
// sync worker uses it.
package esl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"esl-sync-service/internal/model"
	"esl-sync-service/internal/restclient"
	"esl-sync-service/pkg/config"

	"github.com/shopspring/decimal"
)

// Item is the label payload, built only from normalized product fields
type Item struct {
	StoreCode    string          `json:"store_code"`
	ExternalCode string          `json:"external_code"`
	Title        string          `json:"title"`
	Barcode      string          `json:"barcode,omitempty"`
	SKU          string          `json:"sku,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	Status       string          `json:"status"`
}

// ItemFromProduct renders a product for a tenant's ESL store
func ItemFromProduct(tenant *model.TenantStore, p *model.Product) (Item, error) {
	n := p.NormalizedData()
	if p.ExternalCode == "" {
		return Item{}, errors.New("product has no external code")
	}
	if tenant.ESLStoreCode == "" {
		return Item{}, errors.New("tenant has no ESL store code")
	}
	return Item{
		StoreCode:    tenant.ESLStoreCode,
		ExternalCode: p.ExternalCode,
		Title:        n.Title,
		Barcode:      n.Barcode,
		SKU:          n.SKU,
		Price:        n.Price,
		Currency:     n.Currency,
		Status:       string(n.Status),
	}, nil
}

// Client is the ESL collaborator. All operations are idempotent.
type Client interface {
	Create(ctx context.Context, item Item) error
	Update(ctx context.Context, item Item) error
	Delete(ctx context.Context, storeCode, externalCode string) error
}

// HTTPClient implements Client over the ESL REST API
type HTTPClient struct {
	rest   *restclient.Client
	apiKey string
}

// NewHTTPClient creates an ESL client from configuration
func NewHTTPClient(cfg config.ESLConfig) *HTTPClient {
	return &HTTPClient{
		rest:   restclient.New("esl", cfg.BaseURL, cfg.Timeout, cfg.RateLimit),
		apiKey: cfg.APIKey,
	}
}

// Create registers a label item. An existing item is overwritten.
func (c *HTTPClient) Create(ctx context.Context, item Item) error {
	_, err := c.rest.Do(ctx, restclient.Request{
		Method: http.MethodPost,
		Path:   itemsPath(item.StoreCode),
		Header: c.header(),
		Body:   item,
	})
	if restclient.StatusOf(err) == http.StatusConflict {
		return c.Update(ctx, item)
	}
	if err != nil {
		return fmt.Errorf("esl create %s: %w", item.ExternalCode, err)
	}
	return nil
}

// Update replaces a label item. A missing item is created.
func (c *HTTPClient) Update(ctx context.Context, item Item) error {
	_, err := c.rest.Do(ctx, restclient.Request{
		Method: http.MethodPut,
		Path:   itemPath(item.StoreCode, item.ExternalCode),
		Header: c.header(),
		Body:   item,
	})
	if restclient.StatusOf(err) == http.StatusNotFound {
		_, err = c.rest.Do(ctx, restclient.Request{
			Method: http.MethodPost,
			Path:   itemsPath(item.StoreCode),
			Header: c.header(),
			Body:   item,
		})
	}
	if err != nil {
		return fmt.Errorf("esl update %s: %w", item.ExternalCode, err)
	}
	return nil
}

// Delete removes a label item. A missing item counts as deleted.
func (c *HTTPClient) Delete(ctx context.Context, storeCode, externalCode string) error {
	_, err := c.rest.Do(ctx, restclient.Request{
		Method: http.MethodDelete,
		Path:   itemPath(storeCode, externalCode),
		Header: c.header(),
	})
	if restclient.StatusOf(err) == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("esl delete %s: %w", externalCode, err)
	}
	return nil
}

func (c *HTTPClient) header() http.Header {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set("X-API-Key", c.apiKey)
	}
	return h
}

func itemsPath(storeCode string) string {
	return "/api/v1/stores/" + url.PathEscape(storeCode) + "/items"
}

func itemPath(storeCode, externalCode string) string {
	return itemsPath(storeCode) + "/" + url.PathEscape(externalCode)
}
