package catalog

import (
	"context"
	"testing"
	"time"

	"esl-sync-service/internal/adapter"
	"esl-sync-service/internal/model"
	"esl-sync-service/internal/store"
	"esl-sync-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const twoVariants = `{"id":1001,"title":"Tee","status":"active","variants":[
	{"id":1,"title":"S","sku":"TEE-S","barcode":"111","price":"10.00"},
	{"id":2,"title":"M","sku":"TEE-M","barcode":"222","price":"12.00"}]}`

type fixture struct {
	svc   *Service
	queue *store.QueueRepository
	db    *gorm.DB
	clock *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	clock := &testutil.Clock{T: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	queue := store.NewQueueRepository(db)
	registry := adapter.NewRegistry(adapter.NewShopifyAdapter("2024-01", time.Second, 0))
	svc := NewService(registry, store.NewProductRepository(db), queue)
	svc.SetClock(clock.Now)
	return &fixture{svc: svc, queue: queue, db: db, clock: clock}
}

func (f *fixture) ops(t *testing.T, tenant *model.TenantStore) []model.SyncOperation {
	items, err := f.queue.List(context.Background(), tenant.ID, "", 100, 0)
	require.NoError(t, err)
	ops := make([]model.SyncOperation, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		ops = append(ops, items[i].Operation)
	}
	return ops
}

func TestIngestRawCreatesOneProductPerVariant(t *testing.T) {
	f := newFixture(t)
	tenant := testutil.CreateTenant(t, f.db)
	ctx := context.Background()

	res, err := f.svc.IngestRaw(ctx, tenant, []byte(twoVariants))
	require.NoError(t, err)
	assert.Equal(t, &IngestResult{Created: 2, Enqueued: 2}, res)
	assert.Equal(t, []model.SyncOperation{model.OperationCreate, model.OperationCreate}, f.ops(t, tenant))
}

func TestIngestRawRedeliveryQueuesNothing(t *testing.T) {
	f := newFixture(t)
	tenant := testutil.CreateTenant(t, f.db)
	ctx := context.Background()

	_, err := f.svc.IngestRaw(ctx, tenant, []byte(twoVariants))
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	res, err := f.svc.IngestRaw(ctx, tenant, []byte(twoVariants))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Unchanged)
	assert.Zero(t, res.Enqueued)
	assert.Len(t, f.ops(t, tenant), 2)
}

func TestIngestRawQueuesUpdateForChangedVariant(t *testing.T) {
	f := newFixture(t)
	tenant := testutil.CreateTenant(t, f.db)
	ctx := context.Background()

	_, err := f.svc.IngestRaw(ctx, tenant, []byte(twoVariants))
	require.NoError(t, err)

	changed := `{"id":1001,"title":"Tee","status":"active","variants":[
		{"id":1,"title":"S","sku":"TEE-S","barcode":"111","price":"9.00"},
		{"id":2,"title":"M","sku":"TEE-M","barcode":"222","price":"12.00"}]}`
	res, err := f.svc.IngestRaw(ctx, tenant, []byte(changed))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, []model.SyncOperation{model.OperationCreate, model.OperationCreate, model.OperationUpdate}, f.ops(t, tenant))
}

func TestIngestRawArchivedProductQueuesDelete(t *testing.T) {
	f := newFixture(t)
	tenant := testutil.CreateTenant(t, f.db)
	ctx := context.Background()

	_, err := f.svc.IngestRaw(ctx, tenant, []byte(twoVariants))
	require.NoError(t, err)

	archived := `{"id":1001,"title":"Tee","status":"archived","variants":[
		{"id":1,"title":"S","sku":"TEE-S","barcode":"111","price":"10.00"},
		{"id":2,"title":"M","sku":"TEE-M","barcode":"222","price":"12.00"}]}`
	res, err := f.svc.IngestRaw(ctx, tenant, []byte(archived))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Enqueued)
	ops := f.ops(t, tenant)
	assert.Equal(t, []model.SyncOperation{model.OperationDelete, model.OperationDelete}, ops[2:])
}

func TestIngestRawStoresButSkipsInvalidProducts(t *testing.T) {
	f := newFixture(t)
	tenant := testutil.CreateTenant(t, f.db)

	raw := `{"id":2002,"title":"Mystery","variants":[{"id":9,"price":"1.00"}]}`
	res, err := f.svc.IngestRaw(context.Background(), tenant, []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Invalid)
	assert.Zero(t, res.Enqueued)

	var stored model.Product
	require.NoError(t, f.db.Where("tenant_id = ?", tenant.ID).First(&stored).Error)
	assert.Equal(t, model.ValidationInvalid, stored.ValidationStatus)
}

func TestIngestRawUnknownSource(t *testing.T) {
	f := newFixture(t)
	tenant := testutil.CreateTenant(t, f.db, testutil.WithSource(model.SourceNCR))

	_, err := f.svc.IngestRaw(context.Background(), tenant, []byte(`{}`))
	assert.Error(t, err)
}

func TestDeactivateSourceQueuesDeleteOnce(t *testing.T) {
	f := newFixture(t)
	tenant := testutil.CreateTenant(t, f.db)
	ctx := context.Background()

	_, err := f.svc.IngestRaw(ctx, tenant, []byte(twoVariants))
	require.NoError(t, err)

	n, err := f.svc.DeactivateSource(ctx, tenant, "1001")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.svc.DeactivateSource(ctx, tenant, "1001")
	require.NoError(t, err)
	assert.Zero(t, n)

	ops := f.ops(t, tenant)
	require.Len(t, ops, 4)
	assert.Equal(t, model.OperationDelete, ops[3])
}

func TestDeactivateIsTenantScoped(t *testing.T) {
	f := newFixture(t)
	owner := testutil.CreateTenant(t, f.db)
	other := testutil.CreateTenant(t, f.db)
	p := testutil.CreateProduct(t, f.db, owner, "4900001", "5.00")

	_, err := f.svc.Deactivate(context.Background(), other, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	changed, err := f.svc.Deactivate(context.Background(), owner, p.ID)
	require.NoError(t, err)
	assert.True(t, changed)
}

// breakQueue makes every enqueue fail until the returned func restores it
func breakQueue(t *testing.T, db *gorm.DB) func() {
	t.Helper()
	require.NoError(t, db.Migrator().RenameTable("sync_queue_items", "sync_queue_items_off"))
	return func() {
		require.NoError(t, db.Migrator().RenameTable("sync_queue_items_off", "sync_queue_items"))
	}
}

func TestIngestRawEnqueueFailureLeavesChangeForRedelivery(t *testing.T) {
	f := newFixture(t)
	tenant := testutil.CreateTenant(t, f.db)
	ctx := context.Background()

	_, err := f.svc.IngestRaw(ctx, tenant, []byte(twoVariants))
	require.NoError(t, err)

	changed := `{"id":1001,"title":"Tee","status":"active","variants":[
		{"id":1,"title":"S","sku":"TEE-S","barcode":"111","price":"9.00"},
		{"id":2,"title":"M","sku":"TEE-M","barcode":"222","price":"12.00"}]}`
	restore := breakQueue(t, f.db)
	_, err = f.svc.IngestRaw(ctx, tenant, []byte(changed))
	require.Error(t, err)
	restore()

	var stored model.Product
	require.NoError(t, f.db.Where("tenant_id = ? AND source_variant_id = ?", tenant.ID, "1").First(&stored).Error)
	assert.Equal(t, "10.00", stored.Price.StringFixed(2), "the product write rolled back")

	res, err := f.svc.IngestRaw(ctx, tenant, []byte(changed))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Enqueued)
	assert.Equal(t, []model.SyncOperation{model.OperationCreate, model.OperationCreate, model.OperationUpdate}, f.ops(t, tenant))
}

func TestDeactivateEnqueueFailureKeepsProductActive(t *testing.T) {
	f := newFixture(t)
	tenant := testutil.CreateTenant(t, f.db)
	p := testutil.CreateProduct(t, f.db, tenant, "4900001", "5.00")
	ctx := context.Background()

	restore := breakQueue(t, f.db)
	_, err := f.svc.Deactivate(ctx, tenant, p.ID)
	require.Error(t, err)
	restore()

	changed, err := f.svc.Deactivate(ctx, tenant, p.ID)
	require.NoError(t, err)
	assert.True(t, changed, "the failed attempt did not mark it inactive")
	assert.Equal(t, []model.SyncOperation{model.OperationDelete}, f.ops(t, tenant))
}
