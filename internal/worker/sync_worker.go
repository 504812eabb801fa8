// Package worker holds the background loops: the sync worker that drains
// the queue into ESL, the token refresher and the catalog reconciler.
package worker

import (
	"context"
	"errors"
	"time"

	"esl-sync-service/internal/esl"
	"esl-sync-service/internal/events"
	"esl-sync-service/internal/model"
	"esl-sync-service/internal/store"
	"esl-sync-service/internal/syncerr"
	"esl-sync-service/pkg/config"
	"esl-sync-service/pkg/logger"
	"esl-sync-service/prometheus"

	"go.uber.org/zap"
)

// Item outcomes, also used as metric labels
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// BatchResult counts what one drain did
type BatchResult struct {
	Listed    int
	Succeeded int
	Retried   int
	Failed    int
	Skipped   int
}

// SyncWorker is the only caller of the ESL service. Items are claimed one
// at a time right before processing, so several workers may drain the same
// queue without processing two items of one product at once.
type SyncWorker struct {
	queue     *store.QueueRepository
	products  *store.ProductRepository
	tenants   *store.TenantRepository
	audit     *store.AuditRepository
	esl       esl.Client
	publisher events.Publisher
	cfg       config.WorkerConfig
	now       func() time.Time
}

// NewSyncWorker creates a sync worker
func NewSyncWorker(
	queue *store.QueueRepository,
	products *store.ProductRepository,
	tenants *store.TenantRepository,
	audit *store.AuditRepository,
	eslClient esl.Client,
	publisher events.Publisher,
	cfg config.WorkerConfig,
) *SyncWorker {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &SyncWorker{
		queue:     queue,
		products:  products,
		tenants:   tenants,
		audit:     audit,
		esl:       eslClient,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetClock overrides the time source
func (w *SyncWorker) SetClock(now func() time.Time) {
	w.now = now
}

// Tick recovers stale claims and drains one batch
func (w *SyncWorker) Tick(ctx context.Context) error {
	if _, err := w.RecoverStale(ctx); err != nil {
		return err
	}
	_, err := w.DrainBatch(ctx, w.cfg.BatchSize)
	return err
}

// RecoverStale returns items stuck in syncing for longer than the claim
// lease to pending. Such items belong to a worker that died mid-call.
func (w *SyncWorker) RecoverStale(ctx context.Context) (int64, error) {
	now := w.now().UTC()
	n, err := w.queue.RecoverStale(ctx, now.Add(-w.cfg.StaleAfter), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.FromContext(ctx).Warn("Recovered stale queue items", zap.Int64("count", n))
	}
	return n, nil
}

// DrainBatch processes up to limit claimable items. A failing item never
// stops the batch; only failing to list the queue is returned.
func (w *SyncWorker) DrainBatch(ctx context.Context, limit int) (BatchResult, error) {
	var result BatchResult
	items, err := w.queue.ListClaimable(ctx, w.now(), limit)
	if err != nil {
		return result, err
	}
	result.Listed = len(items)

	for i := range items {
		if ctx.Err() != nil {
			break
		}
		switch w.process(ctx, &items[i]) {
		case OutcomeSucceeded:
			result.Succeeded++
		case OutcomeRetry:
			result.Retried++
		case OutcomeFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}

	if result.Listed > 0 {
		logger.FromContext(ctx).Info("Sync batch drained",
			zap.Int("listed", result.Listed),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("retried", result.Retried),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped))
	}
	return result, nil
}

// process claims and runs one item
func (w *SyncWorker) process(ctx context.Context, item *model.SyncQueueItem) string {
	log := logger.FromContext(ctx).With(
		zap.Uint("queue_item_id", item.ID),
		zap.Uint("product_id", item.ProductID),
		zap.String("tenant_id", item.TenantID.String()),
		zap.String("operation", string(item.Operation)))

	claimed, err := w.queue.Claim(ctx, item, w.now())
	if err != nil {
		log.Error("Failed to claim queue item", zap.Error(err))
		return OutcomeSkipped
	}
	if !claimed {
		prometheus.RecordClaimSkipped()
		log.Debug("Queue item claimed elsewhere or product busy")
		return OutcomeSkipped
	}

	started := w.now()
	err = w.dispatch(ctx, item)
	latency := w.now().Sub(started)

	if err == nil {
		return w.succeed(ctx, log, item, latency)
	}
	return w.fail(ctx, log, item, err, latency)
}

// dispatch loads the product and tenant and sends the ESL mutation
func (w *SyncWorker) dispatch(ctx context.Context, item *model.SyncQueueItem) error {
	tenant, err := w.tenants.Get(ctx, item.TenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return syncerr.Permanentf("tenant %s not found", item.TenantID)
		}
		return syncerr.New(syncerr.Transient, "load tenant", err)
	}
	if !tenant.Active {
		return syncerr.Permanentf("tenant %s is inactive", tenant.ID)
	}

	product, err := w.products.GetForTenant(ctx, tenant.ID, item.ProductID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return syncerr.Permanentf("product %d not found for tenant %s", item.ProductID, tenant.ID)
		}
		return syncerr.New(syncerr.Transient, "load product", err)
	}

	payload, err := esl.ItemFromProduct(tenant, product)
	if err != nil {
		return syncerr.New(syncerr.Permanent, "build esl payload", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	defer cancel()

	switch item.Operation {
	case model.OperationCreate:
		return w.esl.Create(callCtx, payload)
	case model.OperationUpdate:
		return w.esl.Update(callCtx, payload)
	case model.OperationDelete:
		return w.esl.Delete(callCtx, payload.StoreCode, payload.ExternalCode)
	default:
		return syncerr.Permanentf("unknown operation %q", item.Operation)
	}
}

func (w *SyncWorker) succeed(ctx context.Context, log *zap.Logger, item *model.SyncQueueItem, latency time.Duration) string {
	attempts := item.Attempts + 1
	if err := w.queue.MarkSucceeded(ctx, item.ID, attempts, latency, w.now()); err != nil {
		log.Error("Failed to mark queue item succeeded", zap.Error(err))
		return OutcomeSkipped
	}
	prometheus.RecordSyncItem(string(item.Operation), OutcomeSucceeded, latency)
	log.Info("Queue item synced", zap.Int("attempts", attempts), zap.Duration("latency", latency))

	w.record(ctx, log, &model.AuditLog{
		QueueItemID: item.ID,
		ProductID:   item.ProductID,
		TenantID:    item.TenantID,
		Operation:   item.Operation,
		Status:      model.StatusSucceeded,
		Attempts:    attempts,
		LatencyMs:   latency.Milliseconds(),
	})
	return OutcomeSucceeded
}

// fail applies the retry policy: transient errors consume an attempt and
// back off until the budget is spent; permanent and credential errors fail
// the item at once without consuming one.
func (w *SyncWorker) fail(ctx context.Context, log *zap.Logger, item *model.SyncQueueItem, cause error, latency time.Duration) string {
	kind := syncerr.Classify(cause)
	now := w.now()
	attempts := item.Attempts

	if kind == syncerr.Transient {
		attempts++
		if attempts < w.cfg.MaxAttempts {
			next := now.Add(Backoff(attempts, w.cfg.BackoffBase, w.cfg.BackoffMax))
			if err := w.queue.MarkRetry(ctx, item.ID, attempts, cause.Error(), string(kind), next, now); err != nil {
				log.Error("Failed to schedule queue item retry", zap.Error(err))
				return OutcomeSkipped
			}
			prometheus.RecordSyncItem(string(item.Operation), OutcomeRetry, latency)
			log.Warn("Queue item will retry",
				zap.Int("attempts", attempts),
				zap.Time("next_attempt_at", next.UTC()),
				zap.Error(cause))
			return OutcomeRetry
		}
	}

	if err := w.queue.MarkFailed(ctx, item.ID, attempts, cause.Error(), string(kind), latency, now); err != nil {
		log.Error("Failed to mark queue item failed", zap.Error(err))
		return OutcomeSkipped
	}
	prometheus.RecordSyncItem(string(item.Operation), OutcomeFailed, latency)
	log.Error("Queue item failed",
		zap.String("error_kind", string(kind)),
		zap.Int("attempts", attempts),
		zap.Error(cause))

	w.record(ctx, log, &model.AuditLog{
		QueueItemID: item.ID,
		ProductID:   item.ProductID,
		TenantID:    item.TenantID,
		Operation:   item.Operation,
		Status:      model.StatusFailed,
		Attempts:    attempts,
		Error:       cause.Error(),
		ErrorKind:   string(kind),
		LatencyMs:   latency.Milliseconds(),
	})
	return OutcomeFailed
}

// record appends the audit row and publishes it. Both are best effort; the
// queue row already holds the outcome.
func (w *SyncWorker) record(ctx context.Context, log *zap.Logger, entry *model.AuditLog) {
	if err := w.audit.Append(ctx, entry); err != nil {
		log.Error("Failed to append audit log", zap.Error(err))
		return
	}
	if err := w.publisher.Publish(ctx, events.FromAudit(entry)); err != nil {
		log.Warn("Failed to publish sync event", zap.Error(err))
	}
}

// Backoff is base·2^(attempts-1), capped at limit
func Backoff(attempts int, base, limit time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= limit || d <= 0 {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}
