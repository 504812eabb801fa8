package worker

import (
	"context"
	"fmt"

	"esl-sync-service/internal/adapter"
	"esl-sync-service/internal/catalog"
	"esl-sync-service/internal/model"
	"esl-sync-service/internal/store"
	"esl-sync-service/pkg/config"
	"esl-sync-service/pkg/logger"

	"go.uber.org/zap"
)

// maxPages bounds one tenant's pass so a cursor that never ends cannot pin
// the loop
const maxPages = 1000

// Reconciler polls source catalogs and feeds every page through the same
// ingest path as webhooks, so products missed by a webhook converge
type Reconciler struct {
	tenants  *store.TenantRepository
	registry *adapter.Registry
	catalog  *catalog.Service
	pageSize int
}

// NewReconciler creates a reconciler
func NewReconciler(tenants *store.TenantRepository, registry *adapter.Registry, catalogService *catalog.Service, cfg config.ReconcilerConfig) *Reconciler {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Reconciler{
		tenants:  tenants,
		registry: registry,
		catalog:  catalogService,
		pageSize: pageSize,
	}
}

// Tick runs one reconcile pass
func (r *Reconciler) Tick(ctx context.Context) error {
	_, err := r.Reconcile(ctx)
	return err
}

// Reconcile pages through the catalog of every active pollable tenant. A
// failing tenant is logged and skipped.
func (r *Reconciler) Reconcile(ctx context.Context) (catalog.IngestResult, error) {
	var total catalog.IngestResult

	sources := r.registry.ListerSources()
	if len(sources) == 0 {
		return total, nil
	}
	tenants, err := r.tenants.ListActive(ctx, sources...)
	if err != nil {
		return total, err
	}

	for i := range tenants {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		tenant := &tenants[i]
		res, err := r.ReconcileTenant(ctx, tenant)
		add(&total, res)
		if err != nil {
			logger.FromContext(ctx).Error("Catalog reconcile failed",
				zap.String("tenant_id", tenant.ID.String()),
				zap.String("source", string(tenant.SourceSystem)),
				zap.Error(err))
		}
	}
	return total, nil
}

// ReconcileTenant pages through one tenant's catalog
func (r *Reconciler) ReconcileTenant(ctx context.Context, tenant *model.TenantStore) (catalog.IngestResult, error) {
	var total catalog.IngestResult

	a, err := r.registry.Get(tenant.SourceSystem)
	if err != nil {
		return total, err
	}
	lister, ok := a.(adapter.CatalogLister)
	if !ok {
		return total, fmt.Errorf("source %q cannot be polled", tenant.SourceSystem)
	}

	cursor := ""
	for page := 0; page < maxPages; page++ {
		p, err := lister.ListCatalog(ctx, tenant, cursor, r.pageSize)
		if err != nil {
			return total, err
		}
		for _, raw := range p.Items {
			res, err := r.catalog.IngestRaw(ctx, tenant, raw)
			if res != nil {
				add(&total, *res)
			}
			if err != nil {
				logger.FromContext(ctx).Warn("Skipping catalog item",
					zap.String("tenant_id", tenant.ID.String()),
					zap.Error(err))
			}
		}
		if p.NextCursor == "" || p.NextCursor == cursor {
			break
		}
		cursor = p.NextCursor
	}

	logger.FromContext(ctx).Info("Catalog reconciled",
		zap.String("tenant_id", tenant.ID.String()),
		zap.Int("created", total.Created),
		zap.Int("updated", total.Updated),
		zap.Int("enqueued", total.Enqueued))
	return total, nil
}

func add(total *catalog.IngestResult, res catalog.IngestResult) {
	total.Created += res.Created
	total.Updated += res.Updated
	total.Unchanged += res.Unchanged
	total.Invalid += res.Invalid
	total.Enqueued += res.Enqueued
}
