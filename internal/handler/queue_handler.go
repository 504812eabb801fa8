package handler

import (
	"net/http"
	"strconv"

	"esl-sync-service/internal/model"
	"esl-sync-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ListSyncQueue lists the tenant's queue items, newest first; ?status= filters
func (h *Handler) ListSyncQueue(c echo.Context) error {
	tid, ok := tenantID(c)
	if !ok {
		return missingTenant(c)
	}

	status := model.SyncStatus(c.QueryParam("status"))
	switch status {
	case "", model.StatusPending, model.StatusSyncing, model.StatusSucceeded, model.StatusFailed:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown status " + strconv.Quote(string(status))})
	}

	limit, offset := paging(c)
	items, err := h.queue.List(c.Request().Context(), tid, status, limit, offset)
	if err != nil {
		logger.FromEcho(c).Error("Failed to list sync queue", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list sync queue"})
	}
	return c.JSON(http.StatusOK, items)
}

// RetrySyncQueueItem puts a failed item back on the queue with a fresh
// attempt budget
func (h *Handler) RetrySyncQueueItem(c echo.Context) error {
	tid, ok := tenantID(c)
	if !ok {
		return missingTenant(c)
	}
	id, ok := paramID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid queue item id"})
	}

	item, err := h.queue.Requeue(c.Request().Context(), tid, id, h.now())
	if err != nil {
		return h.storeError(c, err, "queue item not found")
	}
	logger.FromEcho(c).Info("Queue item requeued by operator", zap.Uint("queue_item_id", id))
	return c.JSON(http.StatusOK, item)
}

// ListAuditLogs lists the tenant's audit rows; ?product_id= filters
func (h *Handler) ListAuditLogs(c echo.Context) error {
	tid, ok := tenantID(c)
	if !ok {
		return missingTenant(c)
	}

	var productID uint
	if raw := c.QueryParam("product_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid product_id"})
		}
		productID = uint(id)
	}

	limit, offset := paging(c)
	entries, err := h.audit.List(c.Request().Context(), tid, productID, limit, offset)
	if err != nil {
		logger.FromEcho(c).Error("Failed to list audit logs", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list audit logs"})
	}
	return c.JSON(http.StatusOK, entries)
}
