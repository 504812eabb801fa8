// Package handler is the admin and webhook HTTP surface.
package handler

import (
	"net/http"
	"strconv"
	"time"

	"esl-sync-service/internal/catalog"
	"esl-sync-service/internal/middleware"
	"esl-sync-service/internal/pricing"
	"esl-sync-service/internal/store"
	"esl-sync-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Handler serves the admin API. Every /api route is scoped to the tenant
// store named in the caller's token.
type Handler struct {
	db        *gorm.DB
	scheduler *pricing.Scheduler
	schedules *store.ScheduleRepository
	tenants   *store.TenantRepository
	queue     *store.QueueRepository
	audit     *store.AuditRepository
	catalog   *catalog.Service
	now       func() time.Time
}

// NewHandler creates a handler
func NewHandler(
	db *gorm.DB,
	scheduler *pricing.Scheduler,
	schedules *store.ScheduleRepository,
	tenants *store.TenantRepository,
	queue *store.QueueRepository,
	audit *store.AuditRepository,
	catalogService *catalog.Service,
) *Handler {
	return &Handler{
		db:        db,
		scheduler: scheduler,
		schedules: schedules,
		tenants:   tenants,
		queue:     queue,
		audit:     audit,
		catalog:   catalogService,
		now:       time.Now,
	}
}

// Register mounts all routes on e
func (h *Handler) Register(e *echo.Echo, auth echo.MiddlewareFunc) {
	e.GET("/health", h.Health)

	e.POST("/webhooks/:source/:storeId", h.HandleWebhook)

	api := e.Group("/api", auth)
	api.POST("/schedules", h.CreateSchedule)
	api.GET("/schedules", h.ListSchedules)
	api.GET("/schedules/:id", h.GetSchedule)
	api.DELETE("/schedules/:id", h.DeleteSchedule)
	api.POST("/schedules/:id/trigger", h.TriggerSchedule)

	api.GET("/sync-queue", h.ListSyncQueue)
	api.POST("/sync-queue/:id/retry", h.RetrySyncQueueItem)

	api.GET("/audit-logs", h.ListAuditLogs)
}

// Health reports whether the database is reachable
func (h *Handler) Health(c echo.Context) error {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request().Context())
	}
	if err != nil {
		logger.FromEcho(c).Error("Health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "healthy"})
}

func tenantID(c echo.Context) (uuid.UUID, bool) {
	return middleware.GetTenantIDFromContext(c)
}

func missingTenant(c echo.Context) error {
	logger.FromEcho(c).Warn("Missing tenant_id in context")
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant_id is required"})
}

func paramID(c echo.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// paging reads limit and offset query parameters
func paging(c echo.Context) (int, int) {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := strconv.Atoi(c.QueryParam("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
