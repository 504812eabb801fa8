package pricing

import (
	"context"
	"sync"
	"testing"
	"time"

	"esl-sync-service/internal/adapter"
	"esl-sync-service/internal/model"
	"esl-sync-service/internal/store"
	"esl-sync-service/internal/syncerr"
	"esl-sync-service/internal/testutil"
	"esl-sync-service/pkg/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeAdapter records price updates and fails the external codes in errs
type fakeAdapter struct {
	source model.SourceSystem

	mu      sync.Mutex
	updates map[string]decimal.Decimal
	errs    map[string]error
}

func newFakeAdapter(source model.SourceSystem) *fakeAdapter {
	return &fakeAdapter{source: source, updates: map[string]decimal.Decimal{}, errs: map[string]error{}}
}

func (f *fakeAdapter) Source() model.SourceSystem { return f.source }

func (f *fakeAdapter) NormalizeProduct([]byte, *model.TenantStore) ([]model.Product, error) {
	return nil, nil
}

func (f *fakeAdapter) CreateProduct(context.Context, *model.Product, *model.TenantStore) (adapter.ItemRef, error) {
	return adapter.ItemRef{}, nil
}

func (f *fakeAdapter) UpdatePrice(_ context.Context, ref adapter.ItemRef, price decimal.Decimal, _ *model.TenantStore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[ref.ExternalCode]; err != nil {
		return err
	}
	f.updates[ref.ExternalCode] = price
	return nil
}

func (f *fakeAdapter) DeleteProduct(context.Context, adapter.ItemRef, *model.TenantStore) error {
	return nil
}

func (f *fakeAdapter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

// futureAdapter accepts future-dated prices in one call
type futureAdapter struct {
	*fakeAdapter
	calls [][]adapter.PriceEvent
}

func (f *futureAdapter) PreScheduleFuturePrices(_ context.Context, events []adapter.PriceEvent, _ *model.TenantStore) error {
	f.calls = append(f.calls, events)
	return nil
}

type schedulerFixture struct {
	db        *gorm.DB
	scheduler *Scheduler
	schedules *store.ScheduleRepository
	queue     *store.QueueRepository
	products  *store.ProductRepository
	clock     *testutil.Clock
}

func newSchedulerFixture(t *testing.T, adapters ...adapter.Adapter) *schedulerFixture {
	db := testutil.NewDB(t)
	f := &schedulerFixture{
		db:        db,
		schedules: store.NewScheduleRepository(db),
		queue:     store.NewQueueRepository(db),
		products:  store.NewProductRepository(db),
		clock:     &testutil.Clock{T: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
	}
	f.scheduler = NewScheduler(
		f.schedules,
		store.NewTenantRepository(db),
		f.products,
		f.queue,
		adapter.NewRegistry(adapters...),
		config.SchedulerConfig{RetryWindow: time.Hour},
		time.Second,
	)
	f.scheduler.SetClock(f.clock.Now)
	return f
}

func (f *schedulerFixture) create(t *testing.T, tenant *model.TenantStore, s *model.PriceSchedule) *model.PriceSchedule {
	t.Helper()
	require.NoError(t, f.scheduler.Create(context.Background(), tenant, s))
	return s
}

func (f *schedulerFixture) reload(t *testing.T, id uint) *model.PriceSchedule {
	t.Helper()
	s, err := f.schedules.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (f *schedulerFixture) price(t *testing.T, p *model.Product) string {
	t.Helper()
	stored, err := f.products.GetForTenant(context.Background(), p.TenantID, p.ID)
	require.NoError(t, err)
	assert.True(t, stored.Price.Equal(stored.NormalizedData().Price), "price column and normalized price agree")
	return stored.Price.StringFixed(2)
}

func windowSale(code string) *model.PriceSchedule {
	return &model.PriceSchedule{
		Name:    "lunch sale",
		Items:   []model.ScheduleItem{{ExternalCode: code, TargetPrice: dec("8.00"), BaselinePrice: decimal.RequireFromString("10.00")}},
		StartAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Repeat:  model.RepeatDaily,
		Windows: []model.TimeWindow{{Start: "09:00", End: "17:00"}},
	}
}

func TestRunDueSchedulesAppliesAndReverts(t *testing.T) {
	fake := newFakeAdapter(model.SourceShopify)
	f := newSchedulerFixture(t, fake)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, f.db)
	product := testutil.CreateProduct(t, f.db, tenant, "4900001", "10.00")

	sched := f.create(t, tenant, windowSale("4900001"))
	assert.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), sched.NextTriggerAt.UTC())

	reports, err := f.scheduler.RunDueSchedules(ctx, time.Date(2024, 5, 1, 8, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, reports)

	reports, err = f.scheduler.RunDueSchedules(ctx, time.Date(2024, 5, 1, 9, 0, 30, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, OutcomeApplied, reports[0].Outcome)
	assert.Equal(t, model.ActionApply, reports[0].Action)
	assert.Equal(t, "8.00", f.price(t, product))

	stored := f.reload(t, sched.ID)
	assert.Equal(t, time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC), stored.NextTriggerAt.UTC())
	assert.Equal(t, model.ActionRevert, stored.NextAction)

	items, err := f.queue.List(ctx, tenant.ID, model.StatusPending, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.OperationUpdate, items[0].Operation)
	assert.Equal(t, product.ID, items[0].ProductID)

	reports, err = f.scheduler.RunDueSchedules(ctx, time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, model.ActionRevert, reports[0].Action)
	assert.Equal(t, "10.00", f.price(t, product))
	assert.Equal(t, time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC), f.reload(t, sched.ID).NextTriggerAt.UTC())
}

func TestRunDueSchedulesUsesTenantTimezone(t *testing.T) {
	fake := newFakeAdapter(model.SourceShopify)
	f := newSchedulerFixture(t, fake)
	tenant := testutil.CreateTenant(t, f.db, testutil.WithMeta(model.MetaTimezone, "Asia/Tokyo"))
	testutil.CreateProduct(t, f.db, tenant, "4900001", "10.00")

	f.clock.T = time.Date(2024, 4, 30, 22, 0, 0, 0, time.UTC)
	sched := f.create(t, tenant, windowSale("4900001"))
	// 09:00 JST
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), sched.NextTriggerAt.UTC())
}

func TestLateRunPastWindowEndReverts(t *testing.T) {
	fake := newFakeAdapter(model.SourceShopify)
	f := newSchedulerFixture(t, fake)
	tenant := testutil.CreateTenant(t, f.db)
	product := testutil.CreateProduct(t, f.db, tenant, "4900001", "9.00")
	sched := f.create(t, tenant, windowSale("4900001"))

	reports, err := f.scheduler.RunDueSchedules(context.Background(), time.Date(2024, 5, 1, 17, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, model.ActionRevert, reports[0].Action)
	assert.Equal(t, "10.00", f.price(t, product))
	assert.Equal(t, time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC), f.reload(t, sched.ID).NextTriggerAt.UTC())
}

func TestTransientFailureRetriesWithinWindow(t *testing.T) {
	fake := newFakeAdapter(model.SourceShopify)
	fake.errs["4900001"] = syncerr.Transientf("backend unavailable")
	f := newSchedulerFixture(t, fake)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, f.db)
	product := testutil.CreateProduct(t, f.db, tenant, "4900001", "10.00")
	sched := f.create(t, tenant, windowSale("4900001"))
	due := *sched.NextTriggerAt

	reports, err := f.scheduler.RunDueSchedules(ctx, due.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, OutcomeRetry, reports[0].Outcome)

	stored := f.reload(t, sched.ID)
	assert.True(t, stored.NextTriggerAt.Equal(due), "trigger is kept for the next poll")
	assert.Contains(t, stored.LastError, "backend unavailable")
	assert.Equal(t, "10.00", f.price(t, product))

	reports, err = f.scheduler.RunDueSchedules(ctx, due.Add(61*time.Minute))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, OutcomeFailed, reports[0].Outcome)
	stored = f.reload(t, sched.ID)
	assert.Equal(t, time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC), stored.NextTriggerAt.UTC())
	assert.NotEmpty(t, stored.LastError)
}

func TestPermanentFailureAdvancesAndOthersApply(t *testing.T) {
	fake := newFakeAdapter(model.SourceShopify)
	f := newSchedulerFixture(t, fake)
	tenant := testutil.CreateTenant(t, f.db)
	product := testutil.CreateProduct(t, f.db, tenant, "4900001", "10.00")

	s := windowSale("4900001")
	s.Items = append(s.Items, model.ScheduleItem{ExternalCode: "missing", TargetPrice: dec("1.00")})
	sched := f.create(t, tenant, s)

	reports, err := f.scheduler.RunDueSchedules(context.Background(), time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, OutcomePartial, reports[0].Outcome)
	require.Len(t, reports[0].Failures, 1)
	assert.Equal(t, "missing", reports[0].Failures[0].ExternalCode)
	assert.Equal(t, string(syncerr.Permanent), reports[0].Failures[0].Kind)
	assert.Equal(t, "8.00", f.price(t, product))

	stored := f.reload(t, sched.ID)
	assert.Equal(t, model.ActionRevert, stored.NextAction)
	assert.Contains(t, stored.LastError, "missing")
}

func TestOneOffScheduleDeactivatesAfterFiring(t *testing.T) {
	fake := newFakeAdapter(model.SourceShopify)
	f := newSchedulerFixture(t, fake)
	tenant := testutil.CreateTenant(t, f.db)
	product := testutil.CreateProduct(t, f.db, tenant, "4900001", "10.00")

	sched := f.create(t, tenant, &model.PriceSchedule{
		Name:    "clearance",
		Items:   []model.ScheduleItem{{ExternalCode: "4900001", Percentage: dec("-50"), BaselinePrice: decimal.RequireFromString("10.00")}},
		StartAt: time.Date(2024, 4, 30, 12, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, model.RepeatNone, sched.Repeat)
	assert.True(t, sched.NextTriggerAt.Before(f.clock.Now()), "past one-off start is accepted")

	reports, err := f.scheduler.RunDueSchedules(context.Background(), f.clock.Now())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Deactivated)
	assert.Equal(t, "5.00", f.price(t, product))

	stored := f.reload(t, sched.ID)
	assert.False(t, stored.Active)
	assert.Nil(t, stored.NextTriggerAt)

	reports, err = f.scheduler.RunDueSchedules(context.Background(), f.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestFuturePriceBackendGetsOneBatch(t *testing.T) {
	future := &futureAdapter{fakeAdapter: newFakeAdapter(model.SourceNCR)}
	f := newSchedulerFixture(t, future)
	tenant := testutil.CreateTenant(t, f.db, testutil.WithSource(model.SourceNCR))
	testutil.CreateProduct(t, f.db, tenant, "A1", "10.00")
	testutil.CreateProduct(t, f.db, tenant, "A2", "20.00")

	s := windowSale("A1")
	s.Items = append(s.Items, model.ScheduleItem{ExternalCode: "A2", Percentage: dec("-25"), BaselinePrice: decimal.RequireFromString("20.00")})
	f.create(t, tenant, s)

	reports, err := f.scheduler.RunDueSchedules(context.Background(), time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 2, reports[0].Applied)
	require.Len(t, future.calls, 1)
	require.Len(t, future.calls[0], 2)
	assert.True(t, future.calls[0][1].Price.Equal(decimal.RequireFromString("15")))
	assert.Zero(t, future.count(), "per-item updates are not used")
}

func TestInactiveTenantSkipsButKeepsCadence(t *testing.T) {
	fake := newFakeAdapter(model.SourceShopify)
	f := newSchedulerFixture(t, fake)
	tenant := testutil.CreateTenant(t, f.db)
	testutil.CreateProduct(t, f.db, tenant, "4900001", "10.00")
	sched := f.create(t, tenant, windowSale("4900001"))
	require.NoError(t, store.NewTenantRepository(f.db).SetActive(context.Background(), tenant.ID, false))

	reports, err := f.scheduler.RunDueSchedules(context.Background(), time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, OutcomeSkipped, reports[0].Outcome)
	assert.Zero(t, fake.count())

	stored := f.reload(t, sched.ID)
	assert.True(t, stored.Active)
	assert.Equal(t, time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC), stored.NextTriggerAt.UTC())
}

func TestTriggerNowIsTenantScoped(t *testing.T) {
	fake := newFakeAdapter(model.SourceShopify)
	f := newSchedulerFixture(t, fake)
	tenant := testutil.CreateTenant(t, f.db)
	other := testutil.CreateTenant(t, f.db)
	product := testutil.CreateProduct(t, f.db, tenant, "4900001", "10.00")
	sched := f.create(t, tenant, windowSale("4900001"))

	_, err := f.scheduler.TriggerNow(context.Background(), other.ID, sched.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	report, err := f.scheduler.TriggerNow(context.Background(), tenant.ID, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, report.Outcome)
	assert.Equal(t, "8.00", f.price(t, product))
	assert.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), f.reload(t, sched.ID).NextTriggerAt.UTC())
}

func TestManualTriggerUsesUpFutureOneOff(t *testing.T) {
	fake := newFakeAdapter(model.SourceShopify)
	f := newSchedulerFixture(t, fake)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, f.db)
	product := testutil.CreateProduct(t, f.db, tenant, "4900001", "10.00")

	sched := f.create(t, tenant, &model.PriceSchedule{
		Name:    "weekend clearance",
		Items:   []model.ScheduleItem{{ExternalCode: "4900001", Percentage: dec("-50"), BaselinePrice: decimal.RequireFromString("10.00")}},
		StartAt: time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC),
	})

	report, err := f.scheduler.TriggerNow(ctx, tenant.ID, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, report.Outcome)
	assert.True(t, report.Deactivated)
	assert.Equal(t, "5.00", f.price(t, product))

	stored := f.reload(t, sched.ID)
	assert.False(t, stored.Active)
	assert.Nil(t, stored.NextTriggerAt)

	reports, err := f.scheduler.RunDueSchedules(ctx, time.Date(2024, 5, 2, 12, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, reports, "the scheduled firing does not run again")
}

func TestManualTriggerOfWindowedOneOffKeepsRevert(t *testing.T) {
	fake := newFakeAdapter(model.SourceShopify)
	f := newSchedulerFixture(t, fake)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, f.db)
	product := testutil.CreateProduct(t, f.db, tenant, "4900001", "10.00")

	s := windowSale("4900001")
	s.Repeat = model.RepeatNone
	s.StartAt = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	sched := f.create(t, tenant, s)
	assert.Equal(t, time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC), sched.NextTriggerAt.UTC())

	_, err := f.scheduler.TriggerNow(ctx, tenant.ID, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "8.00", f.price(t, product))

	stored := f.reload(t, sched.ID)
	assert.True(t, stored.Active)
	assert.Equal(t, time.Date(2024, 5, 2, 17, 0, 0, 0, time.UTC), stored.NextTriggerAt.UTC())
	assert.Equal(t, model.ActionRevert, stored.NextAction)
}

func TestCreateAcceptsStartWithSeconds(t *testing.T) {
	f := newSchedulerFixture(t, newFakeAdapter(model.SourceShopify))
	tenant := testutil.CreateTenant(t, f.db)
	start := time.Date(2024, 5, 1, 13, 0, 30, 0, time.UTC)

	sched := f.create(t, tenant, &model.PriceSchedule{
		Name:    "flash sale",
		Items:   []model.ScheduleItem{{ExternalCode: "A", Percentage: dec("-10"), BaselinePrice: decimal.RequireFromString("10.00")}},
		StartAt: start,
	})
	assert.Equal(t, start, sched.NextTriggerAt.UTC())

	daily := f.create(t, tenant, &model.PriceSchedule{
		Name:    "daily flash sale",
		Repeat:  model.RepeatDaily,
		Items:   []model.ScheduleItem{{ExternalCode: "A", Percentage: dec("-10"), BaselinePrice: decimal.RequireFromString("10.00")}},
		StartAt: start,
	})
	assert.Equal(t, start, daily.NextTriggerAt.UTC())
}

func TestCreateRejectsInvalidSchedules(t *testing.T) {
	f := newSchedulerFixture(t, newFakeAdapter(model.SourceShopify))
	tenant := testutil.CreateTenant(t, f.db)
	ended := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)

	s := windowSale("A")
	s.EndAt = &ended
	s.StartAt = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	assert.ErrorIs(t, f.scheduler.Create(context.Background(), tenant, s), ErrInvalidSchedule)

	s = windowSale("A")
	s.Repeat = model.RepeatWeekly
	s.TriggerDays = []int{9}
	assert.ErrorIs(t, f.scheduler.Create(context.Background(), tenant, s), ErrInvalidSchedule)

	s = windowSale("A")
	s.Name = ""
	assert.ErrorIs(t, f.scheduler.Create(context.Background(), tenant, s), ErrInvalidSchedule)

	bad := testutil.CreateTenant(t, f.db, testutil.WithMeta(model.MetaTimezone, "Mars/Olympus"))
	assert.ErrorIs(t, f.scheduler.Create(context.Background(), bad, windowSale("A")), ErrInvalidSchedule)
}
