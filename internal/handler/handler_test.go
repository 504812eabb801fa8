package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"esl-sync-service/internal/adapter"
	"esl-sync-service/internal/catalog"
	"esl-sync-service/internal/middleware"
	"esl-sync-service/internal/model"
	"esl-sync-service/internal/pricing"
	"esl-sync-service/internal/store"
	"esl-sync-service/internal/testutil"
	"esl-sync-service/pkg/config"
	"esl-sync-service/pkg/jwtutil"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const teePayload = `{"id":1001,"title":"Tee","status":"active","variants":[
	{"id":1,"title":"S","barcode":"111","price":"10.00"},
	{"id":2,"title":"M","barcode":"222","price":"12.00"}]}`

type apiFixture struct {
	e      *echo.Echo
	db     *gorm.DB
	jwt    *jwtutil.JWTUtil
	queue  *store.QueueRepository
	audit  *store.AuditRepository
	tenant *model.TenantStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	db := testutil.NewDB(t)
	registry := adapter.NewRegistry(adapter.NewShopifyAdapter("2024-01", time.Second, 0))
	schedules := store.NewScheduleRepository(db)
	tenants := store.NewTenantRepository(db)
	products := store.NewProductRepository(db)
	queue := store.NewQueueRepository(db)
	audit := store.NewAuditRepository(db)

	scheduler := pricing.NewScheduler(schedules, tenants, products, queue, registry,
		config.SchedulerConfig{RetryWindow: time.Hour}, time.Second)
	h := NewHandler(db, scheduler, schedules, tenants, queue, audit, catalog.NewService(registry, products, queue))

	jwt := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "test-key", ExpirationHours: 1})
	e := echo.New()
	e.Use(middleware.RequestIDMiddleware)
	h.Register(e, middleware.AuthMiddleware(jwt))

	return &apiFixture{
		e:      e,
		db:     db,
		jwt:    jwt,
		queue:  queue,
		audit:  audit,
		tenant: testutil.CreateTenant(t, db),
	}
}

func (f *apiFixture) do(t *testing.T, method, path, body string, tenant *model.TenantStore, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tenant != nil {
		token, err := f.jwt.GenerateToken("ops@example.com", tenant.ID.String(), "admin")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) webhookPath(tenant *model.TenantStore) string {
	return "/webhooks/shopify/" + tenant.SourceStoreID
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestAPIRequiresToken(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/schedules", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookIngestAndDelete(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, f.webhookPath(f.tenant), teePayload, nil, "X-Shopify-Topic", "products/create")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result catalog.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, catalog.IngestResult{Created: 2, Enqueued: 2}, result)

	rec = f.do(t, http.MethodPost, f.webhookPath(f.tenant), `{"id":1001}`, nil, "X-Shopify-Topic", "products/delete")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"deactivated":2}`, rec.Body.String())

	items, err := f.queue.List(context.Background(), f.tenant.ID, model.StatusPending, 10, 0)
	require.NoError(t, err)
	assert.Len(t, items, 4)
}

func TestWebhookErrors(t *testing.T) {
	f := newAPIFixture(t)
	inactive := testutil.CreateTenant(t, f.db, testutil.Inactive())

	rec := f.do(t, http.MethodPost, "/webhooks/shopify/unknown-store", teePayload, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, f.webhookPath(inactive), teePayload, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, f.webhookPath(f.tenant), `{not json`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, f.webhookPath(f.tenant), `{}`, nil, "X-Webhook-Event", "item.deleted")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	other := testutil.CreateTenant(t, f.db)

	body := `{
		"name": "Happy hour",
		"start_at": "2030-01-01T09:00:00Z",
		"repeat": "daily",
		"windows": [{"start": "09:00", "end": "10:00"}],
		"items": [{"external_code": "111", "percentage": "-10", "baseline_price": "10.00"}]
	}`
	rec := f.do(t, http.MethodPost, "/api/schedules", body, f.tenant)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created model.PriceSchedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotZero(t, created.ID)
	require.NotNil(t, created.NextTriggerAt)
	assert.True(t, created.NextTriggerAt.Equal(time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, model.ActionApply, created.NextAction)

	path := "/api/schedules/" + jsonID(created.ID)

	rec = f.do(t, http.MethodGet, "/api/schedules", "", f.tenant)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []model.PriceSchedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)

	rec = f.do(t, http.MethodGet, path, "", other)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodPost, path+"/trigger", "", other)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, path, "", other)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, path, "", f.tenant)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, path, "", f.tenant)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateScheduleRejectsInvalid(t *testing.T) {
	f := newAPIFixture(t)

	tests := map[string]string{
		"no items":    `{"name":"x","start_at":"2030-01-01T09:00:00Z","items":[]}`,
		"bad repeat":  `{"name":"x","start_at":"2030-01-01T09:00:00Z","repeat":"hourly","items":[{"external_code":"1","target_price":"1"}]}`,
		"bad window":  `{"name":"x","start_at":"2030-01-01T09:00:00Z","windows":[{"start":"25:00"}],"items":[{"external_code":"1","target_price":"1"}]}`,
		"not json":    `{"name":`,
		"ended":       `{"name":"x","start_at":"2020-01-01T09:00:00Z","end_at":"2020-01-02T09:00:00Z","items":[{"external_code":"1","target_price":"1"}]}`,
		"both prices": `{"name":"x","start_at":"2030-01-01T09:00:00Z","items":[{"external_code":"1","target_price":"1","percentage":"5"}]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/schedules", body, f.tenant)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestSyncQueueListAndRetry(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	product := testutil.CreateProduct(t, f.db, f.tenant, "111", "10.00")
	now := time.Now().UTC()

	pending, err := f.queue.Enqueue(ctx, product.ID, f.tenant.ID, model.OperationUpdate, now)
	require.NoError(t, err)
	failed, err := f.queue.Enqueue(ctx, product.ID, f.tenant.ID, model.OperationUpdate, now)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&model.SyncQueueItem{}).Where("id = ?", failed.ID).
		Updates(map[string]interface{}{"status": model.StatusFailed, "attempts": 5}).Error)

	rec := f.do(t, http.MethodGet, "/api/sync-queue?status=failed", "", f.tenant)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []model.SyncQueueItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, failed.ID, items[0].ID)

	rec = f.do(t, http.MethodGet, "/api/sync-queue?status=bogus", "", f.tenant)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sync-queue/"+jsonID(pending.ID)+"/retry", "", f.tenant)
	assert.Equal(t, http.StatusConflict, rec.Code)

	other := testutil.CreateTenant(t, f.db)
	rec = f.do(t, http.MethodPost, "/api/sync-queue/"+jsonID(failed.ID)+"/retry", "", other)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sync-queue/"+jsonID(failed.ID)+"/retry", "", f.tenant)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var retried model.SyncQueueItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &retried))
	assert.Equal(t, model.StatusPending, retried.Status)
	assert.Zero(t, retried.Attempts)
}

func TestListAuditLogsIsTenantScoped(t *testing.T) {
	f := newAPIFixture(t)
	other := testutil.CreateTenant(t, f.db)
	require.NoError(t, f.audit.Append(context.Background(), &model.AuditLog{
		QueueItemID: 1,
		ProductID:   7,
		TenantID:    f.tenant.ID,
		Operation:   model.OperationUpdate,
		Status:      model.StatusSucceeded,
		Attempts:    1,
	}))

	rec := f.do(t, http.MethodGet, "/api/audit-logs?product_id=7", "", f.tenant)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []model.AuditLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)

	rec = f.do(t, http.MethodGet, "/api/audit-logs", "", other)
	require.Equal(t, http.StatusOK, rec.Code)
	entries = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Empty(t, entries)

	rec = f.do(t, http.MethodGet, "/api/audit-logs?product_id=abc", "", f.tenant)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func jsonID(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
