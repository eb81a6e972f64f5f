package models

import (
	"encoding/json"
	"time"

	"github.com/crmgateway/backend/internal/domain/integration"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ConnectionModel is the persistence model for the Connection domain entity.
// The (tenant_id, crm_type) pair is unique.
type ConnectionModel struct {
	ID                   uuid.UUID                    `gorm:"type:uuid;primary_key"`
	TenantID             uuid.UUID                    `gorm:"type:uuid;not null;uniqueIndex:idx_crm_connection_tenant_type,priority:1"`
	CRMType              integration.CRMType          `gorm:"column:crm_type;type:varchar(30);not null;uniqueIndex:idx_crm_connection_tenant_type,priority:2"`
	Name                 string                       `gorm:"type:varchar(100);not null"`
	EncryptedCredentials string                       `gorm:"type:text;not null;default:''"`
	Config               datatypes.JSONMap            `gorm:"type:jsonb"`
	Status               integration.ConnectionStatus `gorm:"type:varchar(20);not null;default:'active';index"`
	LastSyncAt           *time.Time
	ErrorMessage         string    `gorm:"type:text"`
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ConnectionModel) TableName() string {
	return "crm_connections"
}

// ToDomain converts the persistence model to a domain Connection entity.
func (m *ConnectionModel) ToDomain() *integration.Connection {
	config := map[string]any(m.Config)
	if config == nil {
		config = map[string]any{}
	}
	return &integration.Connection{
		ID:                   m.ID,
		TenantID:             m.TenantID,
		CRMType:              m.CRMType,
		Name:                 m.Name,
		EncryptedCredentials: m.EncryptedCredentials,
		Config:               config,
		Status:               m.Status,
		LastSyncAt:           m.LastSyncAt,
		ErrorMessage:         m.ErrorMessage,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Connection entity.
func (m *ConnectionModel) FromDomain(c *integration.Connection) {
	m.ID = c.ID
	m.TenantID = c.TenantID
	m.CRMType = c.CRMType
	m.Name = c.Name
	m.EncryptedCredentials = c.EncryptedCredentials
	m.Config = datatypes.JSONMap(c.Config)
	m.Status = c.Status
	m.LastSyncAt = c.LastSyncAt
	m.ErrorMessage = c.ErrorMessage
	m.CreatedAt = c.CreatedAt
	m.UpdatedAt = c.UpdatedAt
}

// ConnectionModelFromDomain creates a persistence model from a domain Connection.
func ConnectionModelFromDomain(c *integration.Connection) *ConnectionModel {
	m := &ConnectionModel{}
	m.FromDomain(c)
	return m
}

// DiscoveredFieldModel is the persistence model for one cached remote field.
type DiscoveredFieldModel struct {
	ID             uuid.UUID              `gorm:"type:uuid;primary_key"`
	ConnectionID   uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:idx_crm_field_conn_object_name,priority:1"`
	ObjectType     integration.ObjectType `gorm:"type:varchar(30);not null;uniqueIndex:idx_crm_field_conn_object_name,priority:2"`
	FieldName      string                 `gorm:"type:varchar(255);not null;uniqueIndex:idx_crm_field_conn_object_name,priority:3"`
	FieldLabel     string                 `gorm:"type:varchar(255);not null"`
	FieldType      integration.FieldType  `gorm:"type:varchar(20);not null"`
	IsRequired     bool                   `gorm:"not null;default:false"`
	IsCustom       bool                   `gorm:"not null;default:false"`
	IsReadOnly     bool                   `gorm:"not null;default:false"`
	PicklistValues datatypes.JSON         `gorm:"type:jsonb"`
	Description    string                 `gorm:"type:text"`
	DiscoveredAt   time.Time              `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DiscoveredFieldModel) TableName() string {
	return "crm_discovered_fields"
}

// ToDomain converts the persistence model to a domain DiscoveredField.
func (m *DiscoveredFieldModel) ToDomain() integration.DiscoveredField {
	field := integration.DiscoveredField{
		ID:           m.ID,
		ConnectionID: m.ConnectionID,
		ObjectType:   m.ObjectType,
		Name:         m.FieldName,
		Label:        m.FieldLabel,
		Type:         m.FieldType,
		IsRequired:   m.IsRequired,
		IsCustom:     m.IsCustom,
		IsReadOnly:   m.IsReadOnly,
		Description:  m.Description,
		DiscoveredAt: m.DiscoveredAt,
	}
	if len(m.PicklistValues) > 0 {
		var values []integration.PicklistValue
		if err := json.Unmarshal(m.PicklistValues, &values); err == nil {
			field.PicklistValues = values
		}
	}
	return field
}

// DiscoveredFieldModelFromDomain creates a persistence model from a domain DiscoveredField.
func DiscoveredFieldModelFromDomain(f integration.DiscoveredField) *DiscoveredFieldModel {
	m := &DiscoveredFieldModel{
		ID:           f.ID,
		ConnectionID: f.ConnectionID,
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
		if data, err := json.Marshal(f.PicklistValues); err == nil {
			m.PicklistValues = datatypes.JSON(data)
		}
	}
	return m
}

// ---------------------------------------------------------------------------
// Connection-owned history tables
//
// These rows belong to a connection and are removed with it. The gateway only
// purges them; they are written by the sync and webhook workers.
// ---------------------------------------------------------------------------

// FieldMappingModel maps a local field to a remote CRM field.
type FieldMappingModel struct {
	ID           uuid.UUID              `gorm:"type:uuid;primary_key"`
	ConnectionID uuid.UUID              `gorm:"type:uuid;not null;index"`
	ObjectType   integration.ObjectType `gorm:"type:varchar(30);not null"`
	LocalField   string                 `gorm:"type:varchar(255);not null"`
	RemoteField  string                 `gorm:"type:varchar(255);not null"`
	Direction    string                 `gorm:"type:varchar(20);not null;default:'bidirectional'"`
	CreatedAt    time.Time              `gorm:"not null"`
	UpdatedAt    time.Time              `gorm:"not null"`
}

// TableName returns the table name for GORM
func (FieldMappingModel) TableName() string {
	return "crm_field_mappings"
}

// SyncRecordModel links a local record to its remote counterpart.
type SyncRecordModel struct {
	ID           uuid.UUID              `gorm:"type:uuid;primary_key"`
	ConnectionID uuid.UUID              `gorm:"type:uuid;not null;index"`
	ObjectType   integration.ObjectType `gorm:"type:varchar(30);not null"`
	LocalID      string                 `gorm:"type:varchar(100);not null"`
	RemoteID     string                 `gorm:"type:varchar(100);not null"`
	LastSyncedAt *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncRecordModel) TableName() string {
	return "crm_sync_records"
}

// SyncJobModel is one sync run against a connection.
type SyncJobModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key"`
	ConnectionID uuid.UUID `gorm:"type:uuid;not null;index"`
	Status       string    `gorm:"type:varchar(20);not null;default:'pending'"`
	StartedAt    *time.Time
	FinishedAt   *time.Time
	ErrorMessage string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncJobModel) TableName() string {
	return "crm_sync_jobs"
}

// WebhookSubscriptionModel is a vendor webhook registered for a connection.
type WebhookSubscriptionModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key"`
	ConnectionID   uuid.UUID `gorm:"type:uuid;not null;index"`
	EventType      string    `gorm:"type:varchar(100);not null"`
	SubscriptionID string    `gorm:"type:varchar(100)"`
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (WebhookSubscriptionModel) TableName() string {
	return "crm_webhook_subscriptions"
}

// ConnectionDependentModels lists every table that references crm_connections,
// in purge order.
func ConnectionDependentModels() []any {
	return []any{
		&DiscoveredFieldModel{},
		&FieldMappingModel{},
		&SyncRecordModel{},
		&SyncJobModel{},
		&WebhookSubscriptionModel{},
	}
}
