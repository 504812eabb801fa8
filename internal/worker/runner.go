package worker

import (
	"context"
	"time"

	"esl-sync-service/pkg/logger"

	"go.uber.org/zap"
)

// RunEvery calls fn once immediately and then every interval until ctx is
// done. Errors are logged and the loop keeps going.
func RunEvery(ctx context.Context, interval time.Duration, name string, fn func(context.Context) error) {
	log := logger.FromContext(ctx).With(zap.String("loop", name))
	ctx = logger.WithContext(ctx, log)

	log.Info("Background loop started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			log.Error("Background loop iteration failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("Background loop stopped")
			return
		case <-ticker.C:
		}
	}
}
