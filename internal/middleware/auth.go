package middleware

import (
	"net/http"
	"strings"

	"esl-sync-service/pkg/jwtutil"
	"esl-sync-service/pkg/logger"
	"esl-sync-service/prometheus"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const tenantIDKey = "tenant_id"

// AuthMiddleware validates the JWT token and extracts the tenant store the
// operator acts on
func AuthMiddleware(jwt *jwtutil.JWTUtil) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			// Get the Authorization header
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				log.Warn("Missing Authorization header")
				prometheus.RecordAuthError()
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
			}

			// Check if it's a Bearer token
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Warn("Invalid Authorization header format")
				prometheus.RecordAuthError()
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format, expected Bearer token"})
			}

			claims, err := jwt.ValidateToken(parts[1])
			if err != nil {
				log.Warn("Invalid JWT token", zap.Error(err))
				prometheus.RecordAuthError()
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			tenantID, err := uuid.Parse(claims.TenantID)
			if err != nil {
				log.Warn("JWT token does not carry a valid tenant_id", zap.String("tenant_id", claims.TenantID))
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant_id is required in the token"})
			}

			c.Set(tenantIDKey, tenantID)
			c.Set("operator", claims.Subject)
			log = log.With(
				zap.String("tenant_id", tenantID.String()),
				zap.String("operator", claims.Subject))
			c.Set("logger", log)
			c.SetRequest(c.Request().WithContext(logger.WithContext(c.Request().Context(), log)))

			return next(c)
		}
	}
}

// GetTenantIDFromContext retrieves the tenant ID from the context
func GetTenantIDFromContext(c echo.Context) (uuid.UUID, bool) {
	tenantID, ok := c.Get(tenantIDKey).(uuid.UUID)
	return tenantID, ok
}
