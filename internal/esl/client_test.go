package esl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"esl-sync-service/internal/model"
	"esl-sync-service/internal/syncerr"
	"esl-sync-service/pkg/config"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *HTTPClient {
	return NewHTTPClient(config.ESLConfig{BaseURL: url, APIKey: "k", Timeout: time.Second})
}

func TestItemFromProductUsesNormalizedFields(t *testing.T) {
	tenant := &model.TenantStore{ID: uuid.New(), ESLStoreCode: "S1"}
	p := &model.Product{ExternalCode: "4901", Title: "stale column"}
	p.SetNormalized(model.NormalizedProduct{
		Title:    "Green Tea",
		Barcode:  "4901",
		Price:    decimal.RequireFromString("120"),
		Currency: "JPY",
		Status:   model.ProductActive,
	})

	item, err := ItemFromProduct(tenant, p)
	require.NoError(t, err)
	assert.Equal(t, "S1", item.StoreCode)
	assert.Equal(t, "Green Tea", item.Title)
	assert.Equal(t, "120", item.Price.String())

	_, err = ItemFromProduct(tenant, &model.Product{})
	assert.Error(t, err)
}

func TestCreateFallsBackToUpdateOnConflict(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusConflict)
			return
		}
		var item Item
		require.NoError(t, json.NewDecoder(r.Body).Decode(&item))
		assert.Equal(t, "A 1", item.ExternalCode)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Create(context.Background(), Item{StoreCode: "S1", ExternalCode: "A 1"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"POST /api/v1/stores/S1/items",
		"PUT /api/v1/stores/S1/items/A 1",
	}, calls)
}

func TestDeleteMissingItemSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.NoError(t, newTestClient(srv.URL).Delete(context.Background(), "S1", "A1"))
}

func TestUpdateServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Update(context.Background(), Item{StoreCode: "S1", ExternalCode: "A1"})
	require.Error(t, err)
	assert.Equal(t, syncerr.Transient, syncerr.Classify(err))
}

func TestUpdateMissingItemCreatesIt(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method)
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Update(context.Background(), Item{StoreCode: "S1", ExternalCode: "A1"})
	require.NoError(t, err)
	assert.Equal(t, []string{http.MethodPut, http.MethodPost}, calls)
}
