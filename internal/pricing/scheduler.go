package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"esl-sync-service/internal/adapter"
	"esl-sync-service/internal/model"
	"esl-sync-service/internal/store"
	"esl-sync-service/internal/syncerr"
	"esl-sync-service/pkg/config"
	"esl-sync-service/pkg/logger"
	"esl-sync-service/prometheus"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Run outcomes, also used as metric labels
const (
	OutcomeApplied = "applied"
	OutcomePartial = "partial"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// ItemFailure is one schedule item that could not be applied
type ItemFailure struct {
	ExternalCode string `json:"external_code"`
	Kind         string `json:"kind"`
	Error        string `json:"error"`
}

// RunReport describes one firing of one schedule
type RunReport struct {
	ScheduleID    uint                 `json:"schedule_id"`
	Action        model.ScheduleAction `json:"action"`
	Outcome       string               `json:"outcome"`
	Applied       int                  `json:"applied"`
	Failures      []ItemFailure        `json:"failures,omitempty"`
	NextTriggerAt *time.Time           `json:"next_trigger_at,omitempty"`
	Deactivated   bool                 `json:"deactivated"`
}

// Scheduler fires due price schedules
type Scheduler struct {
	schedules   *store.ScheduleRepository
	tenants     *store.TenantRepository
	products    *store.ProductRepository
	queue       *store.QueueRepository
	registry    *adapter.Registry
	retryWindow time.Duration
	callTimeout time.Duration
	now         func() time.Time
}

// NewScheduler creates a price scheduler
func NewScheduler(
	schedules *store.ScheduleRepository,
	tenants *store.TenantRepository,
	products *store.ProductRepository,
	queue *store.QueueRepository,
	registry *adapter.Registry,
	cfg config.SchedulerConfig,
	callTimeout time.Duration,
) *Scheduler {
	return &Scheduler{
		schedules:   schedules,
		tenants:     tenants,
		products:    products,
		queue:       queue,
		registry:    registry,
		retryWindow: cfg.RetryWindow,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// SetClock overrides the time source
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Create validates a new schedule for tenant and computes its first
// trigger. A one-off schedule whose start has passed is accepted and fires
// on the next poll; one whose end has passed is rejected.
func (s *Scheduler) Create(ctx context.Context, tenant *model.TenantStore, sched *model.PriceSchedule) error {
	if err := Prepare(sched, tenant, s.now()); err != nil {
		return err
	}
	if err := s.schedules.Create(ctx, sched); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("Price schedule created",
		zap.Uint("schedule_id", sched.ID),
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("repeat", string(sched.Repeat)),
		zap.Timep("next_trigger_at", sched.NextTriggerAt))
	return nil
}

// Prepare validates sched and fills in its first trigger
func Prepare(sched *model.PriceSchedule, tenant *model.TenantStore, now time.Time) error {
	if strings.TrimSpace(sched.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchedule)
	}
	if sched.StartAt.IsZero() {
		return fmt.Errorf("%w: start_at is required", ErrInvalidSchedule)
	}
	if err := ValidateItems(sched.Items); err != nil {
		return err
	}
	if sched.Repeat == "" {
		sched.Repeat = model.RepeatNone
	}
	rule, err := RuleFromSchedule(sched)
	if err != nil {
		return err
	}
	if sched.EndAt != nil && !sched.EndAt.After(now) {
		return fmt.Errorf("%w: end_at has already passed", ErrInvalidSchedule)
	}
	loc, err := tenant.Location()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	first, ok := FirstOccurrence(rule, now.In(loc))
	if !ok {
		return fmt.Errorf("%w: schedule never fires", ErrInvalidSchedule)
	}
	at := first.At.UTC()
	sched.TenantID = tenant.ID
	sched.StartAt = sched.StartAt.UTC()
	if sched.EndAt != nil {
		end := sched.EndAt.UTC()
		sched.EndAt = &end
	}
	sched.NextTriggerAt = &at
	sched.NextAction = first.Action
	sched.Active = true
	return nil
}

// RunDueSchedules fires every active schedule due at now. A failing
// schedule never stops the others; only failing to list them is returned.
func (s *Scheduler) RunDueSchedules(ctx context.Context, now time.Time) ([]RunReport, error) {
	due, err := s.schedules.ListDue(ctx, now)
	if err != nil {
		return nil, err
	}

	reports := make([]RunReport, 0, len(due))
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		reports = append(reports, s.fire(ctx, &due[i], now, false))
	}
	return reports, nil
}

// TriggerNow fires one of a tenant's schedules immediately, outside its
// cadence, running its pending action. An active schedule then advances
// past now; an inactive one keeps its state.
func (s *Scheduler) TriggerNow(ctx context.Context, tenantID uuid.UUID, id uint) (*RunReport, error) {
	sched, err := s.schedules.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	report := s.fire(ctx, sched, s.now(), true)
	return &report, nil
}

// TriggerByID is TriggerNow without a tenant scope, for operators
func (s *Scheduler) TriggerByID(ctx context.Context, id uint) (*RunReport, error) {
	sched, err := s.schedules.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	report := s.fire(ctx, sched, s.now(), true)
	return &report, nil
}

// fire runs one schedule and persists its outcome
func (s *Scheduler) fire(ctx context.Context, sched *model.PriceSchedule, now time.Time, manual bool) RunReport {
	now = now.UTC()
	log := logger.FromContext(ctx).With(
		zap.Uint("schedule_id", sched.ID),
		zap.String("tenant_id", sched.TenantID.String()),
		zap.Bool("manual", manual))
	report := RunReport{ScheduleID: sched.ID, Action: sched.NextAction}
	if report.Action == "" {
		report.Action = model.ActionApply
	}

	tenant, err := s.tenants.Get(ctx, sched.TenantID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			// store trouble; the schedule stays due and is retried next poll
			log.Error("Failed to load tenant for price schedule", zap.Error(err))
			report.Outcome = OutcomeRetry
			prometheus.RecordScheduleRun(report.Outcome)
			return report
		}
		s.deactivate(ctx, log, sched, now, &report, fmt.Sprintf("tenant %s not found", sched.TenantID))
		return report
	}
	loc, err := tenant.Location()
	if err != nil {
		s.deactivate(ctx, log, sched, now, &report, err.Error())
		return report
	}
	rule, err := RuleFromSchedule(sched)
	if err != nil {
		s.deactivate(ctx, log, sched, now, &report, err.Error())
		return report
	}
	nowLocal := now.In(loc)
	log = log.With(zap.String("source", string(tenant.SourceSystem)))

	if !tenant.Active {
		// skip this firing but keep the cadence for when the tenant returns
		report.Outcome = OutcomeSkipped
		s.advance(ctx, log, sched, rule, nowLocal, now, &report, fmt.Sprintf("tenant %s is inactive", tenant.ID))
		prometheus.RecordScheduleRun(report.Outcome)
		return report
	}

	if sched.Active && sched.NextTriggerAt != nil && !sched.NextTriggerAt.After(now) {
		due := Occurrence{At: sched.NextTriggerAt.In(loc), Action: report.Action}
		report.Action = LatestDue(rule, due, nowLocal).Action
	}

	report.Failures = s.apply(ctx, log, tenant, sched, report.Action, now, &report)
	lastErr := summarize(report.Failures)
	report.Outcome = outcomeFor(report.Applied, report.Failures)

	switch {
	case !sched.Active || sched.NextTriggerAt == nil:
		// inactive schedules run only on manual triggers and keep their state
		if err := s.schedules.RecordFailure(ctx, sched.ID, lastErr, now); err != nil {
			log.Error("Failed to record price schedule run", zap.Error(err))
		}
	case retryable(report.Failures) && now.Before(sched.NextTriggerAt.Add(s.retryWindow)):
		report.Outcome = OutcomeRetry
		report.NextTriggerAt = sched.NextTriggerAt
		if err := s.schedules.RecordFailure(ctx, sched.ID, lastErr, now); err != nil {
			log.Error("Failed to record price schedule failure", zap.Error(err))
		}
		log.Warn("Price schedule will retry", zap.String("error", lastErr))
	default:
		after := nowLocal
		if manual && rule.oneOff() && sched.NextTriggerAt.After(now) {
			// a one-off run by hand uses up its pending trigger
			after = sched.NextTriggerAt.In(loc)
		}
		s.advance(ctx, log, sched, rule, after, now, &report, lastErr)
	}

	prometheus.RecordScheduleRun(report.Outcome)
	return report
}

// advance moves the schedule to its first trigger after the local time
// after, or deactivates it when the rule is exhausted. The write is a
// compare-and-swap on the trigger this run started from.
func (s *Scheduler) advance(ctx context.Context, log *zap.Logger, sched *model.PriceSchedule, rule Rule, after, now time.Time, report *RunReport, lastErr string) {
	if !sched.Active || sched.NextTriggerAt == nil {
		if err := s.schedules.RecordFailure(ctx, sched.ID, lastErr, now); err != nil {
			log.Error("Failed to record price schedule run", zap.Error(err))
		}
		return
	}

	var next *time.Time
	action := model.ActionApply
	if occ, ok := NextOccurrence(rule, after); ok {
		at := occ.At.UTC()
		next = &at
		action = occ.Action
	}

	advanced, err := s.schedules.Advance(ctx, sched.ID, *sched.NextTriggerAt, next, action, lastErr, now)
	if err != nil {
		log.Error("Failed to advance price schedule", zap.Error(err))
		return
	}
	if !advanced {
		log.Info("Price schedule was already advanced by another run")
		return
	}

	report.NextTriggerAt = next
	report.Deactivated = next == nil
	if next == nil {
		log.Info("Price schedule exhausted and deactivated")
	} else {
		log.Info("Price schedule advanced",
			zap.Time("next_trigger_at", *next),
			zap.String("next_action", string(action)))
	}
}

// deactivate stops a schedule that can never run again
func (s *Scheduler) deactivate(ctx context.Context, log *zap.Logger, sched *model.PriceSchedule, now time.Time, report *RunReport, reason string) {
	log.Error("Deactivating price schedule", zap.String("reason", reason))
	if err := s.schedules.Deactivate(ctx, sched.ID, reason, now); err != nil {
		log.Error("Failed to deactivate price schedule", zap.Error(err))
	}
	report.Outcome = OutcomeFailed
	report.Deactivated = true
	report.Failures = append(report.Failures, ItemFailure{Kind: string(syncerr.Permanent), Error: reason})
	prometheus.RecordScheduleRun(report.Outcome)
}

type pricedItem struct {
	product *model.Product
	price   decimal.Decimal
}

// apply dispatches the prices of one firing and mirrors each success into
// the product record and the sync queue
func (s *Scheduler) apply(ctx context.Context, log *zap.Logger, tenant *model.TenantStore, sched *model.PriceSchedule, action model.ScheduleAction, now time.Time, report *RunReport) []ItemFailure {
	var failures []ItemFailure
	fail := func(code string, err error) {
		failures = append(failures, ItemFailure{
			ExternalCode: code,
			Kind:         string(syncerr.Classify(err)),
			Error:        err.Error(),
		})
	}

	a, err := s.registry.Get(tenant.SourceSystem)
	if err != nil {
		for _, item := range sched.Items {
			fail(item.ExternalCode, err)
		}
		return failures
	}

	currency := tenant.Currency()
	priced := make([]pricedItem, 0, len(sched.Items))
	for _, item := range sched.Items {
		product, err := s.products.FindByExternalCode(ctx, tenant.ID, item.ExternalCode)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				err = syncerr.Permanentf("no active product with external code %s", item.ExternalCode)
			}
			fail(item.ExternalCode, err)
			continue
		}
		price, err := ResolvePrice(item, action, currency)
		if err != nil {
			fail(item.ExternalCode, syncerr.New(syncerr.Permanent, "resolve price", err))
			continue
		}
		priced = append(priced, pricedItem{product: product, price: price})
	}
	if len(priced) == 0 {
		return failures
	}

	var succeeded []pricedItem
	if fps, ok := a.(adapter.FuturePriceScheduler); ok {
		events := make([]adapter.PriceEvent, 0, len(priced))
		for _, p := range priced {
			events = append(events, adapter.PriceEvent{
				Ref:         adapter.RefFromProduct(p.product),
				Price:       p.price,
				Currency:    currency,
				EffectiveAt: now,
			})
		}
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		err := fps.PreScheduleFuturePrices(callCtx, events, tenant)
		cancel()
		if err != nil {
			for _, p := range priced {
				fail(p.product.ExternalCode, err)
			}
		} else {
			succeeded = priced
		}
	} else {
		for _, p := range priced {
			callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
			err := a.UpdatePrice(callCtx, adapter.RefFromProduct(p.product), p.price, tenant)
			cancel()
			if err != nil {
				fail(p.product.ExternalCode, err)
				continue
			}
			succeeded = append(succeeded, p)
		}
	}

	for _, p := range succeeded {
		if err := s.mirror(ctx, tenant, p, now); err != nil {
			fail(p.product.ExternalCode, err)
			continue
		}
		report.Applied++
	}
	log.Info("Price schedule applied",
		zap.String("action", string(action)),
		zap.Int("applied", report.Applied),
		zap.Int("failed", len(failures)))
	return failures
}

// mirror records an applied price and queues the label update
func (s *Scheduler) mirror(ctx context.Context, tenant *model.TenantStore, p pricedItem, now time.Time) error {
	err := s.products.Transaction(ctx, func(products *store.ProductRepository, queue *store.QueueRepository) error {
		if _, err := products.UpdatePrice(ctx, tenant.ID, p.product.ID, p.price, now); err != nil {
			return syncerr.New(syncerr.Transient, "store price", err)
		}
		if _, err := queue.Enqueue(ctx, p.product.ID, tenant.ID, model.OperationUpdate, now); err != nil {
			return syncerr.New(syncerr.Transient, "enqueue update", err)
		}
		return nil
	})
	var serr *syncerr.Error
	if err != nil && !errors.As(err, &serr) {
		return syncerr.New(syncerr.Transient, "commit price", err)
	}
	return err
}

// retryable reports whether any failure may heal by itself
func retryable(failures []ItemFailure) bool {
	for _, f := range failures {
		if f.Kind != string(syncerr.Permanent) {
			return true
		}
	}
	return false
}

func outcomeFor(applied int, failures []ItemFailure) string {
	switch {
	case len(failures) == 0:
		return OutcomeApplied
	case applied > 0:
		return OutcomePartial
	default:
		return OutcomeFailed
	}
}

// summarize joins item failures into one last_error message
func summarize(failures []ItemFailure) string {
	if len(failures) == 0 {
		return ""
	}
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, f.ExternalCode+": "+f.Error)
	}
	return strings.Join(parts, "; ")
}
