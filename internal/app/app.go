// Package app wires configuration into the running service.
package app

import (
	"fmt"

	"esl-sync-service/internal/adapter"
	"esl-sync-service/internal/catalog"
	"esl-sync-service/internal/esl"
	"esl-sync-service/internal/events"
	"esl-sync-service/internal/handler"
	"esl-sync-service/internal/pricing"
	"esl-sync-service/internal/store"
	"esl-sync-service/internal/worker"
	"esl-sync-service/pkg/config"
	"esl-sync-service/pkg/database"
	"esl-sync-service/pkg/jwtutil"
	"esl-sync-service/pkg/logger"
	"esl-sync-service/prometheus"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds every long-lived component
type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Registry   *adapter.Registry
	Publisher  events.Publisher
	Scheduler  *pricing.Scheduler
	Worker     *worker.SyncWorker
	Refresher  *worker.TokenRefresher
	Reconciler *worker.Reconciler
	Handler    *handler.Handler
	JWT        *jwtutil.JWTUtil
}

// New initializes logging, metrics and the database, then builds the
// components on top of them
func New(cfg *config.Config) (*App, error) {
	if err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		ServiceName: cfg.ServiceName,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()
	log.Info("Configuration loaded", cfg.LogConfig()...)

	prometheus.InitMetrics(cfg)

	db, err := database.InitDB(&cfg.DB, log)
	if err != nil {
		return nil, err
	}
	if err := database.MigrateModels(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return Build(cfg, db, esl.NewHTTPClient(cfg.ESL), adapter.NewDefaultRegistry(cfg.Adapters)), nil
}

// Build assembles the components over an open database
func Build(cfg *config.Config, db *gorm.DB, eslClient esl.Client, registry *adapter.Registry) *App {
	tenants := store.NewTenantRepository(db)
	products := store.NewProductRepository(db)
	queue := store.NewQueueRepository(db)
	schedules := store.NewScheduleRepository(db)
	audit := store.NewAuditRepository(db)

	publisher := events.New(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
	catalogService := catalog.NewService(registry, products, queue)
	scheduler := pricing.NewScheduler(schedules, tenants, products, queue, registry, cfg.Scheduler, cfg.Adapters.Timeout)

	return &App{
		Config:     cfg,
		DB:         db,
		Registry:   registry,
		Publisher:  publisher,
		Scheduler:  scheduler,
		Worker:     worker.NewSyncWorker(queue, products, tenants, audit, eslClient, publisher, cfg.Worker),
		Refresher:  worker.NewTokenRefresher(tenants, registry, cfg.TokenRefresh),
		Reconciler: worker.NewReconciler(tenants, registry, catalogService, cfg.Reconciler),
		Handler:    handler.NewHandler(db, scheduler, schedules, tenants, queue, audit, catalogService),
		JWT: jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
			SigningKey:      cfg.JWT.SigningKey,
			ExpirationHours: cfg.JWT.ExpirationHours,
		}),
	}
}

// Close releases the publisher and database connections
func (a *App) Close() {
	log := logger.GetLogger()
	if err := a.Publisher.Close(); err != nil {
		log.Warn("Failed to close event publisher", zap.Error(err))
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Warn("Failed to close database", zap.Error(err))
		}
	}
	logger.Sync()
}
