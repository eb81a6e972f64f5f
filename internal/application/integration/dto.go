package integration

import (
	"time"

	"github.com/crmgateway/backend/internal/domain/integration"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Request DTOs
// ---------------------------------------------------------------------------

// CredentialsInput is the plaintext credential payload accepted from callers.
// It is encrypted before it reaches storage and never echoed back.
type CredentialsInput struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	APIKey       string            `json:"api_key"`
	ExpiresAt    *time.Time        `json:"expires_at"`
	Extra        map[string]string `json:"extra"`
}

// ToDomain converts the input to domain credentials
func (c *CredentialsInput) ToDomain() integration.Credentials {
	if c == nil {
		return integration.Credentials{}
	}
	return integration.Credentials{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		APIKey:       c.APIKey,
		ExpiresAt:    c.ExpiresAt,
		Extra:        c.Extra,
	}
}

// CreateConnectionRequest creates a connection or replaces the tenant's
// existing one for the same CRM type.
type CreateConnectionRequest struct {
	CRMType     string            `json:"crm_type" validate:"required,max=30"`
	Name        string            `json:"name" validate:"max=100"`
	Credentials *CredentialsInput `json:"credentials" validate:"required"`
	Config      map[string]any    `json:"config"`
}

// UpdateCredentialsRequest replaces a connection's stored credentials
type UpdateCredentialsRequest struct {
	Credentials *CredentialsInput `json:"credentials" validate:"required"`
}

// ---------------------------------------------------------------------------
// Response DTOs
// ---------------------------------------------------------------------------

// ConnectionResponse represents a connection in API responses.
// Credentials are never included.
type ConnectionResponse struct {
	ID           uuid.UUID                    `json:"id"`
	TenantID     uuid.UUID                    `json:"tenant_id"`
	CRMType      integration.CRMType          `json:"crm_type"`
	Name         string                       `json:"name"`
	Status       integration.ConnectionStatus `json:"status"`
	ErrorMessage string                       `json:"error_message,omitempty"`
	Config       map[string]any               `json:"config,omitempty"`
	LastSyncAt   *time.Time                   `json:"last_sync_at,omitempty"`
	CreatedAt    time.Time                    `json:"created_at"`
	UpdatedAt    time.Time                    `json:"updated_at"`
}

// CreateConnectionResult is returned by CreateOrReplaceConnection.
// DiscoveryError reports a failed initial discovery without failing the create.
type CreateConnectionResult struct {
	ConnectionResponse
	DiscoveryError string `json:"discovery_error,omitempty"`
}

// TestConnectionResult is the outcome of a live connection check
type TestConnectionResult struct {
	Success      bool                         `json:"success"`
	Status       integration.ConnectionStatus `json:"status"`
	ErrorMessage string                       `json:"error_message,omitempty"`
}

// RefreshConnectionResult is the outcome of a forced credential refresh
type RefreshConnectionResult struct {
	Success      bool                         `json:"success"`
	Status       integration.ConnectionStatus `json:"status"`
	ErrorMessage string                       `json:"error_message,omitempty"`
}

// UpdateCredentialsResult is returned by UpdateCredentials
type UpdateCredentialsResult struct {
	Success        bool   `json:"success"`
	DiscoveryError string `json:"discovery_error,omitempty"`
}

// PicklistValueResponse is one option of a picklist field
type PicklistValueResponse struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// DiscoveredFieldResponse represents a cached remote field in API responses
type DiscoveredFieldResponse struct {
	ObjectType     integration.ObjectType  `json:"object_type"`
	FieldName      string                  `json:"field_name"`
	FieldLabel     string                  `json:"field_label"`
	FieldType      integration.FieldType   `json:"field_type"`
	IsRequired     bool                    `json:"is_required"`
	IsCustom       bool                    `json:"is_custom"`
	IsReadOnly     bool                    `json:"is_read_only"`
	PicklistValues []PicklistValueResponse `json:"picklist_values,omitempty"`
	Description    string                  `json:"description,omitempty"`
	DiscoveredAt   time.Time               `json:"discovered_at"`
}

// ---------------------------------------------------------------------------
// Mappers
// ---------------------------------------------------------------------------

// ToConnectionResponse converts a domain Connection to a response DTO
func ToConnectionResponse(conn *integration.Connection) ConnectionResponse {
	return ConnectionResponse{
		ID:           conn.ID,
		TenantID:     conn.TenantID,
		CRMType:      conn.CRMType,
		Name:         conn.Name,
		Status:       conn.Status,
		ErrorMessage: conn.ErrorMessage,
		Config:       conn.Config,
		LastSyncAt:   conn.LastSyncAt,
		CreatedAt:    conn.CreatedAt,
		UpdatedAt:    conn.UpdatedAt,
	}
}

// ToDiscoveredFieldResponses converts domain fields to response DTOs, keeping order
func ToDiscoveredFieldResponses(fields []integration.DiscoveredField) []DiscoveredFieldResponse {
	responses := make([]DiscoveredFieldResponse, len(fields))
	for i, f := range fields {
		resp := DiscoveredFieldResponse{
			ObjectType:   f.ObjectType,
			FieldName:    f.Name,
			FieldLabel:   f.Label,
			FieldType:    f.Type,
			IsRequired:   f.IsRequired,
			IsCustom:     f.IsCustom,
			IsReadOnly:   f.IsReadOnly,
			Description:  f.Description,
			DiscoveredAt: f.DiscoveredAt,
		}
		if len(f.PicklistValues) > 0 {
			resp.PicklistValues = make([]PicklistValueResponse, len(f.PicklistValues))
			for j, v := range f.PicklistValues {
				resp.PicklistValues[j] = PicklistValueResponse{Label: v.Label, Value: v.Value}
			}
		}
		responses[i] = resp
	}
	return responses
}
