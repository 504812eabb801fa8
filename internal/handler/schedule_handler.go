package handler

import (
	"errors"
	"net/http"
	"time"

	"esl-sync-service/internal/model"
	"esl-sync-service/internal/pricing"
	"esl-sync-service/internal/store"
	"esl-sync-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ScheduleRequest defines the structure for schedule creation requests
type ScheduleRequest struct {
	Name        string               `json:"name"`
	Items       []model.ScheduleItem `json:"items"`
	StartAt     time.Time            `json:"start_at"`
	EndAt       *time.Time           `json:"end_at,omitempty"`
	Repeat      model.RepeatKind     `json:"repeat"`
	TriggerDays []int                `json:"trigger_days,omitempty"`
	Windows     []model.TimeWindow   `json:"windows,omitempty"`
}

func (r *ScheduleRequest) toModel() *model.PriceSchedule {
	return &model.PriceSchedule{
		Name:        r.Name,
		Items:       datatypes.JSONSlice[model.ScheduleItem](r.Items),
		StartAt:     r.StartAt,
		EndAt:       r.EndAt,
		Repeat:      r.Repeat,
		TriggerDays: datatypes.JSONSlice[int](r.TriggerDays),
		Windows:     datatypes.JSONSlice[model.TimeWindow](r.Windows),
	}
}

// CreateSchedule validates and stores a price schedule
func (h *Handler) CreateSchedule(c echo.Context) error {
	log := logger.FromEcho(c)
	tid, ok := tenantID(c)
	if !ok {
		return missingTenant(c)
	}

	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Invalid schedule request body", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	tenant, err := h.tenants.Get(ctx, tid)
	if err != nil {
		return h.storeError(c, err, "tenant store not found")
	}

	sched := req.toModel()
	if err := h.scheduler.Create(ctx, tenant, sched); err != nil {
		if errors.Is(err, pricing.ErrInvalidSchedule) {
			log.Info("Rejected price schedule", zap.Error(err))
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		log.Error("Failed to create price schedule", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create schedule"})
	}
	return c.JSON(http.StatusCreated, sched)
}

// ListSchedules lists the tenant's schedules; ?active=true filters to active ones
func (h *Handler) ListSchedules(c echo.Context) error {
	tid, ok := tenantID(c)
	if !ok {
		return missingTenant(c)
	}

	schedules, err := h.schedules.ListForTenant(c.Request().Context(), tid, c.QueryParam("active") == "true")
	if err != nil {
		logger.FromEcho(c).Error("Failed to list price schedules", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list schedules"})
	}
	return c.JSON(http.StatusOK, schedules)
}

// GetSchedule returns one of the tenant's schedules
func (h *Handler) GetSchedule(c echo.Context) error {
	tid, ok := tenantID(c)
	if !ok {
		return missingTenant(c)
	}
	id, ok := paramID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}

	sched, err := h.schedules.GetForTenant(c.Request().Context(), tid, id)
	if err != nil {
		return h.storeError(c, err, "schedule not found")
	}
	return c.JSON(http.StatusOK, sched)
}

// DeleteSchedule removes a schedule. Prices already applied stay as they are.
func (h *Handler) DeleteSchedule(c echo.Context) error {
	tid, ok := tenantID(c)
	if !ok {
		return missingTenant(c)
	}
	id, ok := paramID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}

	if err := h.schedules.Delete(c.Request().Context(), tid, id); err != nil {
		return h.storeError(c, err, "schedule not found")
	}
	logger.FromEcho(c).Info("Price schedule deleted", zap.Uint("schedule_id", id))
	return c.NoContent(http.StatusNoContent)
}

// TriggerSchedule runs a schedule's pending action now
func (h *Handler) TriggerSchedule(c echo.Context) error {
	tid, ok := tenantID(c)
	if !ok {
		return missingTenant(c)
	}
	id, ok := paramID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}

	report, err := h.scheduler.TriggerNow(c.Request().Context(), tid, id)
	if err != nil {
		return h.storeError(c, err, "schedule not found")
	}
	return c.JSON(http.StatusOK, report)
}

// storeError maps repository errors to responses
func (h *Handler) storeError(c echo.Context, err error, notFound string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": notFound})
	case errors.Is(err, store.ErrStaleState):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	default:
		logger.FromEcho(c).Error("Store operation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
