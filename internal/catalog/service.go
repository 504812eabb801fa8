// Package catalog ingests source catalog payloads into product records and
// queues the ESL work they imply.
package catalog

import (
	"context"
	"fmt"
	"time"

	"esl-sync-service/internal/adapter"
	"esl-sync-service/internal/model"
	"esl-sync-service/internal/store"
	"esl-sync-service/pkg/logger"

	"go.uber.org/zap"
)

// IngestResult summarises one payload
type IngestResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Invalid   int `json:"invalid"`
	Enqueued  int `json:"enqueued"`
}

// Service turns raw payloads into product rows and sync queue items
type Service struct {
	registry *adapter.Registry
	products *store.ProductRepository
	queue    *store.QueueRepository
	now      func() time.Time
}

// NewService creates a catalog service
func NewService(registry *adapter.Registry, products *store.ProductRepository, queue *store.QueueRepository) *Service {
	return &Service{
		registry: registry,
		products: products,
		queue:    queue,
		now:      time.Now,
	}
}

// SetClock overrides the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// IngestRaw normalizes one provider payload for tenant and upserts each
// variant. Only new or changed valid products are queued, so redelivering
// the same payload queues nothing.
func (s *Service) IngestRaw(ctx context.Context, tenant *model.TenantStore, raw []byte) (*IngestResult, error) {
	log := logger.FromContext(ctx).With(
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("source", string(tenant.SourceSystem)))

	a, err := s.registry.Get(tenant.SourceSystem)
	if err != nil {
		return nil, err
	}
	products, err := a.NormalizeProduct(raw, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize payload: %w", err)
	}

	now := s.now().UTC()
	result := &IngestResult{}
	for i := range products {
		p := &products[i]
		var res *store.UpsertResult
		queued := false
		// the row and its queue item commit together
		err := s.products.Transaction(ctx, func(products *store.ProductRepository, queue *store.QueueRepository) error {
			var err error
			queued = false
			if res, err = products.Upsert(ctx, p, now); err != nil {
				return err
			}
			if p.ValidationStatus != model.ValidationValid || !res.Changed {
				return nil
			}
			op := operationFor(res)
			if op == "" {
				return nil
			}
			if _, err := queue.Enqueue(ctx, p.ID, tenant.ID, op, now); err != nil {
				return err
			}
			queued = true
			return nil
		})
		if err != nil {
			return result, err
		}

		switch {
		case res.Created:
			result.Created++
		case res.Changed:
			result.Updated++
		default:
			result.Unchanged++
		}
		if p.ValidationStatus != model.ValidationValid {
			result.Invalid++
			log.Warn("Skipping invalid product",
				zap.Uint("product_id", p.ID),
				zap.String("source_id", p.SourceID),
				zap.Strings("errors", p.ValidationErrors))
		}
		if queued {
			result.Enqueued++
		}
	}

	log.Info("Catalog payload ingested",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("invalid", result.Invalid),
		zap.Int("enqueued", result.Enqueued))
	return result, nil
}

// operationFor picks the ESL mutation for a changed product
func operationFor(res *store.UpsertResult) model.SyncOperation {
	inactive := res.Product.Status == model.ProductInactive
	switch {
	case res.Created && inactive:
		return ""
	case res.Created:
		return model.OperationCreate
	case inactive:
		return model.OperationDelete
	default:
		return model.OperationUpdate
	}
}

// Deactivate marks a product inactive and queues its label removal. A
// product that is already inactive queues nothing.
func (s *Service) Deactivate(ctx context.Context, tenant *model.TenantStore, productID uint) (bool, error) {
	now := s.now().UTC()
	var p *model.Product
	changed := false
	err := s.products.Transaction(ctx, func(products *store.ProductRepository, queue *store.QueueRepository) error {
		var err error
		if p, changed, err = products.Deactivate(ctx, tenant.ID, productID, now); err != nil || !changed {
			return err
		}
		_, err = queue.Enqueue(ctx, p.ID, tenant.ID, model.OperationDelete, now)
		return err
	})
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	logger.FromContext(ctx).Info("Product deactivated",
		zap.String("tenant_id", tenant.ID.String()),
		zap.Uint("product_id", p.ID))
	return true, nil
}

// DeactivateSource deactivates every variant of a source item, as sent by a
// provider delete event. It returns the number of products deactivated.
func (s *Service) DeactivateSource(ctx context.Context, tenant *model.TenantStore, sourceID string) (int, error) {
	products, err := s.products.ListBySource(ctx, tenant.ID, tenant.SourceSystem, sourceID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, p := range products {
		changed, err := s.Deactivate(ctx, tenant, p.ID)
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}
	return count, nil
}
