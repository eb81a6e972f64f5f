package handler

import (
	"context"
	"net/http"

	integrationapp "github.com/crmgateway/backend/internal/application/integration"
	"github.com/crmgateway/backend/internal/domain/integration"
	"github.com/crmgateway/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ConnectionUseCases is the connection lifecycle surface used by CRMConnectionHandler
type ConnectionUseCases interface {
	CreateOrReplaceConnection(ctx context.Context, tenantID uuid.UUID, req integrationapp.CreateConnectionRequest) (*integrationapp.CreateConnectionResult, error)
	ListConnections(ctx context.Context, tenantID uuid.UUID) ([]integrationapp.ConnectionResponse, error)
	GetConnection(ctx context.Context, tenantID, connectionID uuid.UUID) (*integrationapp.ConnectionResponse, error)
	UpdateCredentials(ctx context.Context, tenantID, connectionID uuid.UUID, req integrationapp.UpdateCredentialsRequest) (*integrationapp.UpdateCredentialsResult, error)
	TestConnection(ctx context.Context, tenantID, connectionID uuid.UUID) (*integrationapp.TestConnectionResult, error)
	RefreshConnection(ctx context.Context, tenantID, connectionID uuid.UUID) (*integrationapp.RefreshConnectionResult, error)
	Disconnect(ctx context.Context, tenantID, connectionID uuid.UUID) error
}

// FieldDiscoveryUseCases is the field cache surface used by CRMConnectionHandler
type FieldDiscoveryUseCases interface {
	DiscoverFields(ctx context.Context, tenantID, connectionID uuid.UUID, objectType *integration.ObjectType) error
	GetDiscoveredFields(ctx context.Context, tenantID, connectionID uuid.UUID, objectType *integration.ObjectType) ([]integrationapp.DiscoveredFieldResponse, error)
}

// ProviderCatalog lists the CRM types that can be connected
type ProviderCatalog interface {
	List() []integration.CRMType
}

// CRMConnectionHandler handles CRM connection endpoints
type CRMConnectionHandler struct {
	BaseHandler
	connections ConnectionUseCases
	fields      FieldDiscoveryUseCases
	providers   ProviderCatalog
}

// NewCRMConnectionHandler creates a new CRMConnectionHandler
func NewCRMConnectionHandler(connections ConnectionUseCases, fields FieldDiscoveryUseCases, providers ProviderCatalog) *CRMConnectionHandler {
	return &CRMConnectionHandler{
		connections: connections,
		fields:      fields,
		providers:   providers,
	}
}

// DiscoverFieldsResponse is returned after a discovery run
type DiscoverFieldsResponse struct {
	ConnectionID uuid.UUID                `json:"connection_id"`
	ObjectTypes  []integration.ObjectType `json:"object_types"`
}

// ProvidersResponse lists the supported CRM types
type ProvidersResponse struct {
	CRMTypes []integration.CRMType `json:"crm_types"`
}

// ListProviders returns the CRM types the gateway can connect to
// GET /crm/providers
func (h *CRMConnectionHandler) ListProviders(c *gin.Context) {
	types := h.providers.List()
	if types == nil {
		types = []integration.CRMType{}
	}
	h.Success(c, ProvidersResponse{CRMTypes: types})
}

// Create creates a connection, replacing the tenant's existing one for the same CRM type.
// POST /crm/connections
func (h *CRMConnectionHandler) Create(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}

	var req integrationapp.CreateConnectionRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.connections.CreateOrReplaceConnection(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, result)
}

// List returns the tenant's connections
// GET /crm/connections
func (h *CRMConnectionHandler) List(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}

	connections, err := h.connections.ListConnections(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if connections == nil {
		connections = []integrationapp.ConnectionResponse{}
	}

	h.Success(c, connections)
}

// GetByID returns a single connection
// GET /crm/connections/:id
func (h *CRMConnectionHandler) GetByID(c *gin.Context) {
	tenantID, connectionID, ok := h.tenantAndConnection(c)
	if !ok {
		return
	}

	conn, err := h.connections.GetConnection(c.Request.Context(), tenantID, connectionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, conn)
}

// UpdateCredentials replaces the stored credentials and re-tests the connection
// PUT /crm/connections/:id/credentials
func (h *CRMConnectionHandler) UpdateCredentials(c *gin.Context) {
	tenantID, connectionID, ok := h.tenantAndConnection(c)
	if !ok {
		return
	}

	var req integrationapp.UpdateCredentialsRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.connections.UpdateCredentials(c.Request.Context(), tenantID, connectionID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, result)
}

// Test runs a live check against the CRM and records the outcome.
// A failed check is a successful request: the result carries the error state.
// POST /crm/connections/:id/test
func (h *CRMConnectionHandler) Test(c *gin.Context) {
	tenantID, connectionID, ok := h.tenantAndConnection(c)
	if !ok {
		return
	}

	result, err := h.connections.TestConnection(c.Request.Context(), tenantID, connectionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, result)
}

// Refresh forces a token refresh. A rejected refresh is reported in the body.
// POST /crm/connections/:id/refresh
func (h *CRMConnectionHandler) Refresh(c *gin.Context) {
	tenantID, connectionID, ok := h.tenantAndConnection(c)
	if !ok {
		return
	}

	result, err := h.connections.RefreshConnection(c.Request.Context(), tenantID, connectionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, result)
}

// Disconnect revokes remote access where supported and disables the connection
// DELETE /crm/connections/:id
func (h *CRMConnectionHandler) Disconnect(c *gin.Context) {
	tenantID, connectionID, ok := h.tenantAndConnection(c)
	if !ok {
		return
	}

	if err := h.connections.Disconnect(c.Request.Context(), tenantID, connectionID); err != nil {
		h.HandleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// DiscoverFields refreshes the field cache for one object type, or all of them
// when object_type is omitted.
// POST /crm/connections/:id/discover?object_type=contact
func (h *CRMConnectionHandler) DiscoverFields(c *gin.Context) {
	tenantID, connectionID, ok := h.tenantAndConnection(c)
	if !ok {
		return
	}

	objectType, ok := h.objectTypeQuery(c)
	if !ok {
		return
	}

	if err := h.fields.DiscoverFields(c.Request.Context(), tenantID, connectionID, objectType); err != nil {
		h.HandleError(c, err)
		return
	}

	resp := DiscoverFieldsResponse{ConnectionID: connectionID}
	if objectType != nil {
		resp.ObjectTypes = []integration.ObjectType{*objectType}
	} else {
		resp.ObjectTypes = integration.DiscoverableObjectTypes
	}
	h.Success(c, resp)
}

// GetFields returns cached fields without calling the CRM
// GET /crm/connections/:id/fields?object_type=deal
func (h *CRMConnectionHandler) GetFields(c *gin.Context) {
	tenantID, connectionID, ok := h.tenantAndConnection(c)
	if !ok {
		return
	}

	objectType, ok := h.objectTypeQuery(c)
	if !ok {
		return
	}

	fields, err := h.fields.GetDiscoveredFields(c.Request.Context(), tenantID, connectionID, objectType)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if fields == nil {
		fields = []integrationapp.DiscoveredFieldResponse{}
	}

	h.Success(c, fields)
}

func (h *CRMConnectionHandler) tenant(c *gin.Context) (uuid.UUID, bool) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return uuid.Nil, false
	}
	return tenantID, true
}

func (h *CRMConnectionHandler) tenantAndConnection(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid connection ID format")
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, connectionID, true
}

func (h *CRMConnectionHandler) objectTypeQuery(c *gin.Context) (*integration.ObjectType, bool) {
	raw := c.Query("object_type")
	if raw == "" {
		return nil, true
	}
	objectType, err := integration.ParseObjectType(raw)
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidObjectType, "Unknown object_type: "+raw)
		return nil, false
	}
	return &objectType, true
}

func (h *CRMConnectionHandler) bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Request body is not valid JSON")
		return false
	}
	return true
}
