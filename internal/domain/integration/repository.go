package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConnectionRepository persists Connections.
type ConnectionRepository interface {
	// FindByID returns ErrConnectionNotFound when absent
	FindByID(ctx context.Context, id uuid.UUID) (*Connection, error)
	// FindByIDForTenant returns ErrConnectionNotFound when absent or owned by another tenant
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Connection, error)
	FindByTenantAndType(ctx context.Context, tenantID uuid.UUID, crmType CRMType) (*Connection, error)
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID) ([]Connection, error)
	// Upsert inserts conn or overwrites the row already holding its
	// (TenantID, CRMType), then reloads conn so its ID is the stored one.
	Upsert(ctx context.Context, conn *Connection) error
	// UpdateStatus writes conn's status and error message only while the
	// stored envelope is still conn.EncryptedCredentials. A disconnect or a
	// credential change in between yields ErrConnectionChanged.
	UpdateStatus(ctx context.Context, conn *Connection) error
	// UpdateCredentials swaps the stored envelope for conn.EncryptedCredentials
	// if it still equals previous, else ErrConnectionChanged.
	UpdateCredentials(ctx context.Context, conn *Connection, previous string) error
	// TouchSync stamps last_sync_at on an active connection, else ErrConnectionInactive.
	TouchSync(ctx context.Context, id uuid.UUID, at time.Time) error
}

// DiscoveredFieldRepository persists the field catalog.
type DiscoveredFieldRepository interface {
	// ReplaceForObjectType atomically swaps the whole (connectionID, objectType)
	// batch. It fails with ErrConnectionInactive unless the connection is active.
	ReplaceForObjectType(ctx context.Context, connectionID uuid.UUID, objectType ObjectType, fields []DiscoveredField) error
	// FindByConnection returns all fields of a connection, optionally for one object type.
	FindByConnection(ctx context.Context, connectionID uuid.UUID, objectType *ObjectType) ([]DiscoveredField, error)
}

// ConnectionPurger removes every record that depends on a connection and
// disables it, as one unit. Partial purges must never be observable.
type ConnectionPurger interface {
	PurgeAndDisable(ctx context.Context, conn *Connection) error
}

// DiscoveryLocker serializes discovery runs per key.
type DiscoveryLocker interface {
	// Lock blocks until the key is held or ctx ends. The returned func releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
