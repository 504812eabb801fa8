package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"esl-sync-service/internal/adapter"
	"esl-sync-service/internal/esl"
	"esl-sync-service/internal/events"
	"esl-sync-service/internal/middleware"
	"esl-sync-service/internal/testutil"
	"esl-sync-service/pkg/config"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopESL struct{}

func (nopESL) Create(context.Context, esl.Item) error       { return nil }
func (nopESL) Update(context.Context, esl.Item) error       { return nil }
func (nopESL) Delete(context.Context, string, string) error { return nil }

func TestBuildWiresComponents(t *testing.T) {
	db := testutil.NewDB(t)
	cfg := &config.Config{
		JWT:       config.JWTConfig{SigningKey: "k", ExpirationHours: 1},
		Worker:    config.WorkerConfig{BatchSize: 10, MaxAttempts: 3, BackoffBase: time.Second, BackoffMax: time.Minute, StaleAfter: time.Minute, CallTimeout: time.Second},
		Scheduler: config.SchedulerConfig{RetryWindow: time.Hour},
		Adapters:  config.AdaptersConfig{Timeout: time.Second},
	}
	registry := adapter.NewDefaultRegistry(cfg.Adapters)

	a := Build(cfg, db, nopESL{}, registry)
	assert.IsType(t, events.NopPublisher{}, a.Publisher)
	assert.Equal(t, registry.Sources(), a.Registry.Sources())

	e := echo.New()
	a.Handler.Register(e, middleware.AuthMiddleware(a.JWT))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	res, err := a.Worker.DrainBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, res.Listed)

	report, err := a.Refresher.RefreshExpiring(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
}
