package integration

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// CRMType identifies a CRM vendor
// ---------------------------------------------------------------------------

// CRMType is the runtime tag used to select a provider adapter.
// The set is open: adapters register themselves by tag.
type CRMType string

const (
	// CRMTypeHubSpot is the HubSpot CRM
	CRMTypeHubSpot CRMType = "hubspot"
	// CRMTypeSalesforce is reserved for a Salesforce adapter
	CRMTypeSalesforce CRMType = "salesforce"
	// CRMTypePipedrive is reserved for a Pipedrive adapter
	CRMTypePipedrive CRMType = "pipedrive"
)

// String returns the string representation of CRMType
func (t CRMType) String() string {
	return string(t)
}

// IsEmpty reports whether no CRM type was given
func (t CRMType) IsEmpty() bool {
	return t == ""
}

// ---------------------------------------------------------------------------
// ConnectionStatus
// ---------------------------------------------------------------------------

// ConnectionStatus is the lifecycle state of a Connection
type ConnectionStatus string

const (
	ConnectionStatusActive   ConnectionStatus = "active"
	ConnectionStatusError    ConnectionStatus = "error"
	ConnectionStatusDisabled ConnectionStatus = "disabled"
)

// IsValid returns true if the status is known
func (s ConnectionStatus) IsValid() bool {
	switch s {
	case ConnectionStatusActive, ConnectionStatusError, ConnectionStatusDisabled:
		return true
	default:
		return false
	}
}

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// Connection Entity
// ---------------------------------------------------------------------------

// Connection is one tenant's link to one CRM vendor.
// At most one Connection exists per (TenantID, CRMType).
type Connection struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	CRMType  CRMType
	Name     string
	// EncryptedCredentials is the vault envelope; never the plaintext
	EncryptedCredentials string
	Config               map[string]any
	Status               ConnectionStatus
	LastSyncAt           *time.Time
	ErrorMessage         string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewConnection creates a connection in the active state.
func NewConnection(tenantID uuid.UUID, crmType CRMType, name, encryptedCredentials string, config map[string]any) (*Connection, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if crmType.IsEmpty() {
		return nil, &ValidationError{Fields: map[string]string{"crmType": "is required"}}
	}
	if encryptedCredentials == "" {
		return nil, &ValidationError{Fields: map[string]string{"credentials": "is required"}}
	}
	if name == "" {
		name = crmType.String()
	}
	if config == nil {
		config = map[string]any{}
	}

	now := time.Now()
	return &Connection{
		ID:                   uuid.New(),
		TenantID:             tenantID,
		CRMType:              crmType,
		Name:                 name,
		EncryptedCredentials: encryptedCredentials,
		Config:               config,
		Status:               ConnectionStatusActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// BelongsTo reports whether the connection is owned by tenantID.
func (c *Connection) BelongsTo(tenantID uuid.UUID) bool {
	return c.TenantID == tenantID
}

// IsActive returns true if provider calls are allowed
func (c *Connection) IsActive() bool {
	return c.Status == ConnectionStatusActive
}

// MarkActive records a successful live check.
func (c *Connection) MarkActive() {
	c.Status = ConnectionStatusActive
	c.ErrorMessage = ""
	c.UpdatedAt = time.Now()
}

// MarkError records a failed live check.
func (c *Connection) MarkError(message string) {
	c.Status = ConnectionStatusError
	c.ErrorMessage = message
	c.UpdatedAt = time.Now()
}

// Disable soft-terminates the connection and clears its stored credentials.
func (c *Connection) Disable() {
	c.Status = ConnectionStatusDisabled
	c.EncryptedCredentials = ""
	c.ErrorMessage = ""
	c.UpdatedAt = time.Now()
}

// ReplaceCredentials swaps in a new envelope. The status is left alone; it is
// only derived from a subsequent live check.
func (c *Connection) ReplaceCredentials(encryptedCredentials string) error {
	if encryptedCredentials == "" {
		return &ValidationError{Fields: map[string]string{"credentials": "is required"}}
	}
	c.EncryptedCredentials = encryptedCredentials
	c.UpdatedAt = time.Now()
	return nil
}
