// Package store holds the gorm repositories. Conditional updates act as
// compare-and-swap. A product change and the queue item it causes are
// written in one transaction.
package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a tenant-scoped lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrStaleState is returned when a conditional update matched no row
	ErrStaleState = errors.New("row is no longer in the expected state")
)

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Transaction runs fn with product and queue repositories bound to one
// database transaction. An error from fn rolls back every write it made.
func (r *ProductRepository) Transaction(ctx context.Context, fn func(products *ProductRepository, queue *QueueRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewProductRepository(tx), NewQueueRepository(tx))
	})
}
