package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"esl-sync-service/internal/model"
	"esl-sync-service/internal/store"
	"esl-sync-service/internal/syncerr"
	"esl-sync-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const maxWebhookBody = 5 << 20

// Event type headers, checked in order
var eventHeaders = []string{"X-Webhook-Event", "X-Shopify-Topic"}

// deletedItem is the body of a delete event; ids arrive as numbers or strings
type deletedItem struct {
	ID json.RawMessage `json:"id"`
}

func (d deletedItem) sourceID() string {
	return strings.Trim(strings.TrimSpace(string(d.ID)), `"`)
}

// HandleWebhook ingests one catalog change pushed by a source system.
// Signatures are verified before the request reaches this service.
func (h *Handler) HandleWebhook(c echo.Context) error {
	source := model.SourceSystem(strings.ToLower(c.Param("source")))
	storeID := c.Param("storeId")
	log := logger.FromEcho(c).With(
		zap.String("source", string(source)),
		zap.String("source_store_id", storeID))
	ctx := logger.WithContext(c.Request().Context(), log)

	tenant, err := h.tenants.GetBySource(ctx, source, storeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("Webhook for unknown store")
			return c.JSON(http.StatusNotFound, echo.Map{"error": "store not connected"})
		}
		log.Error("Failed to load store for webhook", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if !tenant.Active {
		log.Info("Ignoring webhook for inactive store")
		return c.JSON(http.StatusAccepted, echo.Map{"status": "ignored"})
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to read body"})
	}
	if len(body) > maxWebhookBody {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "payload too large"})
	}

	if isDeleteEvent(c.Request().Header) {
		var item deletedItem
		if err := json.Unmarshal(body, &item); err != nil || item.sourceID() == "" || item.sourceID() == "null" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "delete event needs an id"})
		}
		count, err := h.catalog.DeactivateSource(ctx, tenant, item.sourceID())
		if err != nil {
			log.Error("Failed to deactivate products", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to deactivate products"})
		}
		return c.JSON(http.StatusOK, echo.Map{"deactivated": count})
	}

	result, err := h.catalog.IngestRaw(ctx, tenant, body)
	if err != nil {
		if syncerr.Classify(err) == syncerr.Permanent {
			log.Warn("Rejected webhook payload", zap.Error(err))
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
		}
		log.Error("Failed to ingest webhook", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to ingest payload"})
	}
	return c.JSON(http.StatusOK, result)
}

func isDeleteEvent(header http.Header) bool {
	for _, name := range eventHeaders {
		event := strings.ToLower(header.Get(name))
		if event == "" {
			continue
		}
		return strings.HasSuffix(event, "delete") || strings.HasSuffix(event, "deleted")
	}
	return false
}
