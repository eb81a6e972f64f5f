package middleware

import (
	"net/http"
	"strings"

	"github.com/crmgateway/backend/internal/infrastructure/logger"
	"github.com/crmgateway/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// TenantIDKey holds the resolved tenant as a string
	TenantIDKey     = "tenant_id"
	TenantHeaderKey = "X-Tenant-ID"
)

type TenantMiddlewareConfig struct {
	SkipPaths []string
	Logger    *zap.Logger
}

func DefaultTenantConfig() TenantMiddlewareConfig {
	return TenantMiddlewareConfig{
		SkipPaths: []string{"/health", "/ready"},
		Logger:    zap.NewNop(),
	}
}

// TenantMiddleware resolves the tenant with the default config
func TenantMiddleware() gin.HandlerFunc {
	return TenantMiddlewareWithConfig(DefaultTenantConfig())
}

// TenantMiddlewareWithConfig resolves the calling tenant from the token's
// tenant claim, falling back to X-Tenant-ID when no token was presented. A
// header naming a different tenant than the token is rejected with 403.
func TenantMiddlewareWithConfig(cfg TenantMiddlewareConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		if pathSkipped(c.Request.URL.Path, cfg.SkipPaths) {
			c.Next()
			return
		}

		tenantID := GetJWTTenantID(c)
		source := "jwt"
		if header := c.GetHeader(TenantHeaderKey); header != "" {
			switch {
			case tenantID == "":
				tenantID, source = header, "header"
			case !strings.EqualFold(tenantID, header):
				log.Warn("Tenant header does not match token",
					zap.String("token_tenant", tenantID),
					zap.String("header_tenant", header),
				)
				abortWithError(c, http.StatusForbidden, dto.ErrCodeForbidden, "Tenant header does not match token")
				return
			}
		}

		if tenantID == "" {
			abortWithError(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Tenant identification required")
			return
		}
		parsed, err := uuid.Parse(tenantID)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, dto.ErrCodeValidation, "Tenant ID must be a UUID")
			return
		}
		tenantID = parsed.String()

		c.Set(TenantIDKey, tenantID)
		ctx := c.Request.Context()
		ctx, _ = logger.WithTenantID(ctx, logger.FromContext(ctx), tenantID)
		c.Request = c.Request.WithContext(ctx)

		log.Debug("Tenant resolved", zap.String("tenant_id", tenantID), zap.String("source", source))
		c.Next()
	}
}

// GetTenantID returns the resolved tenant, "" when none was resolved
func GetTenantID(c *gin.Context) string {
	return c.GetString(TenantIDKey)
}

// GetTenantUUID returns uuid.Nil without error when no tenant was resolved
func GetTenantUUID(c *gin.Context) (uuid.UUID, error) {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(tenantID)
}
