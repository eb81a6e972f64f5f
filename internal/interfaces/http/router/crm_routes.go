package router

import (
	"github.com/crmgateway/backend/internal/infrastructure/auth"
	"github.com/crmgateway/backend/internal/interfaces/http/handler"
	"github.com/crmgateway/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CRMRoutes builds the /crm route group with a permission guard on every route.
// Authentication and tenant resolution are expected to run before the group.
func CRMRoutes(h *handler.CRMConnectionHandler, logger *zap.Logger) *DomainGroup {
	permCfg := middleware.PermissionConfig{Logger: logger}
	require := func(perm string) gin.HandlerFunc {
		return middleware.RequirePermissionWithConfig(perm, permCfg)
	}

	readConnections := require(auth.PermissionConnectionsRead)
	writeConnections := require(auth.PermissionConnectionsWrite)
	readFields := middleware.RequireAnyPermissionWithConfig(permCfg, auth.PermissionFieldsRead, auth.PermissionFieldsDiscover)
	discoverFields := require(auth.PermissionFieldsDiscover)

	crm := NewDomainGroup("crm", "/crm")
	crm.GET("/providers", readConnections, h.ListProviders)

	connections := crm.Group("connections", "/connections")
	connections.POST("", writeConnections, h.Create)
	connections.GET("", readConnections, h.List)
	connections.GET("/:id", readConnections, h.GetByID)
	connections.PUT("/:id/credentials", writeConnections, h.UpdateCredentials)
	connections.POST("/:id/test", writeConnections, h.Test)
	connections.POST("/:id/refresh", writeConnections, h.Refresh)
	connections.DELETE("/:id", writeConnections, h.Disconnect)
	connections.POST("/:id/discover", discoverFields, h.DiscoverFields)
	connections.GET("/:id/fields", readFields, h.GetFields)

	return crm
}
