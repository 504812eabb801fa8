package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"esl-sync-service/internal/app"
	mid "esl-sync-service/internal/middleware"
	"esl-sync-service/internal/worker"
	"esl-sync-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and all background loops",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, a)
	},
}

func serve(ctx context.Context, a *app.App) error {
	log := logger.GetLogger()
	ctx, cancel := context.WithCancel(logger.WithContext(ctx, log))
	defer cancel()
	cfg := a.Config

	loops := make(chan struct{})
	go func() {
		defer close(loops)
		runLoops(ctx, a)
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(mid.RequestIDMiddleware)
	e.Use(logger.Middleware())
	e.Use(mid.MetricsMiddleware)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	a.Handler.Register(e, mid.AuthMiddleware(a.JWT))

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err, ok := <-serverErr:
		if ok {
			log.Error("Server error", zap.Error(err))
			runErr = err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}

	cancel()
	<-loops
	log.Info("Service stopped")
	return runErr
}

// runLoops starts each background loop in its own goroutine and waits for
// all of them to stop
func runLoops(ctx context.Context, a *app.App) {
	cfg := a.Config
	done := make(chan struct{})
	count := 0
	start := func(interval time.Duration, name string, fn func(context.Context) error) {
		count++
		go func() {
			defer func() { done <- struct{}{} }()
			worker.RunEvery(ctx, interval, name, fn)
		}()
	}

	start(cfg.Worker.Interval, "sync_worker", a.Worker.Tick)
	start(cfg.Scheduler.Interval, "price_scheduler", func(ctx context.Context) error {
		_, err := a.Scheduler.RunDueSchedules(ctx, time.Now())
		return err
	})
	start(cfg.TokenRefresh.Interval, "token_refresh", a.Refresher.Tick)
	if cfg.Reconciler.Enabled {
		start(cfg.Reconciler.Interval, "reconciler", a.Reconciler.Tick)
	} else {
		logger.FromContext(ctx).Info("Catalog reconciler disabled")
	}

	for i := 0; i < count; i++ {
		<-done
	}
}
