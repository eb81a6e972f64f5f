package router

import "github.com/crmgateway/backend/internal/interfaces/http/handler"

// SystemRoutes builds the unauthenticated /system group
func SystemRoutes(h *handler.SystemHandler) *DomainGroup {
	return NewDomainGroup("system", "/system").
		GET("/info", h.GetSystemInfo).
		GET("/ping", h.Ping)
}
