package worker

import (
	"context"
	"time"

	"esl-sync-service/internal/adapter"
	"esl-sync-service/internal/model"
	"esl-sync-service/internal/store"
	"esl-sync-service/internal/syncerr"
	"esl-sync-service/pkg/config"
	"esl-sync-service/pkg/logger"
	"esl-sync-service/prometheus"

	"go.uber.org/zap"
)

// RefreshReport counts what one refresh pass did
type RefreshReport struct {
	Checked   int
	Refreshed int
	Failed    int
}

// TokenRefresher renews OAuth credentials before they expire
type TokenRefresher struct {
	tenants  *store.TenantRepository
	registry *adapter.Registry
	leadTime time.Duration
	now      func() time.Time
}

// NewTokenRefresher creates a token refresher
func NewTokenRefresher(tenants *store.TenantRepository, registry *adapter.Registry, cfg config.TokenRefreshConfig) *TokenRefresher {
	return &TokenRefresher{
		tenants:  tenants,
		registry: registry,
		leadTime: cfg.LeadTime,
		now:      time.Now,
	}
}

// Tick runs one refresh pass
func (r *TokenRefresher) Tick(ctx context.Context) error {
	_, err := r.RefreshExpiring(ctx, r.now())
	return err
}

// RefreshExpiring refreshes every active OAuth tenant whose token expires
// within the lead time or has no recorded expiry. A failing tenant does not
// stop the pass.
func (r *TokenRefresher) RefreshExpiring(ctx context.Context, now time.Time) (RefreshReport, error) {
	var report RefreshReport

	sources := r.registry.RefresherSources()
	if len(sources) == 0 {
		return report, nil
	}
	tenants, err := r.tenants.ListActive(ctx, sources...)
	if err != nil {
		return report, err
	}

	now = now.UTC()
	for i := range tenants {
		tenant := &tenants[i]
		if !r.due(tenant, now) {
			continue
		}
		report.Checked++
		if err := r.Refresh(ctx, tenant); err != nil {
			report.Failed++
			continue
		}
		report.Refreshed++
	}
	return report, nil
}

func (r *TokenRefresher) due(tenant *model.TenantStore, now time.Time) bool {
	expiresAt, ok := tenant.TokenExpiresAt()
	if !ok {
		return true
	}
	return expiresAt.Sub(now) < r.leadTime
}

// Refresh renews one tenant's credentials and stores them
func (r *TokenRefresher) Refresh(ctx context.Context, tenant *model.TenantStore) error {
	log := logger.FromContext(ctx).With(
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("source", string(tenant.SourceSystem)))

	a, err := r.registry.Get(tenant.SourceSystem)
	if err != nil {
		return err
	}
	refresher, ok := a.(adapter.TokenRefresher)
	if !ok {
		return syncerr.Permanentf("source %q does not refresh tokens", tenant.SourceSystem)
	}

	creds, err := refresher.RefreshToken(ctx, tenant)
	if err != nil {
		kind := syncerr.Classify(err)
		prometheus.RecordTokenRefresh(string(tenant.SourceSystem), string(kind))
		if kind == syncerr.Credential {
			log.Error("Token refresh rejected, store needs to reconnect", zap.Error(err))
		} else {
			log.Warn("Token refresh failed", zap.Error(err))
		}
		return err
	}

	values := map[string]interface{}{
		model.MetaAccessToken:  creds.AccessToken,
		model.MetaRefreshToken: creds.RefreshToken,
	}
	if !creds.ExpiresAt.IsZero() {
		values[model.MetaTokenExpiresAt] = creds.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if _, err := r.tenants.MergeMetadata(ctx, tenant.ID, values); err != nil {
		prometheus.RecordTokenRefresh(string(tenant.SourceSystem), "store_error")
		log.Error("Failed to store refreshed token", zap.Error(err))
		return err
	}

	prometheus.RecordTokenRefresh(string(tenant.SourceSystem), "refreshed")
	log.Info("Token refreshed", zap.Time("expires_at", creds.ExpiresAt.UTC()))
	return nil
}
