package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crmgateway/backend/internal/domain/integration"
	"github.com/crmgateway/backend/internal/infrastructure/persistence/models"
	"github.com/crmgateway/backend/internal/infrastructure/persistence/tenant"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormConnectionRepository implements integration.ConnectionRepository using GORM
type GormConnectionRepository struct {
	db *gorm.DB
}

// NewGormConnectionRepository creates a new GormConnectionRepository
func NewGormConnectionRepository(db *gorm.DB) *GormConnectionRepository {
	return &GormConnectionRepository{db: db}
}

var _ integration.ConnectionRepository = (*GormConnectionRepository)(nil)

// upsertColumns are overwritten when a (tenant_id, crm_type) row already exists.
// id, created_at and last_sync_at keep their stored values.
var upsertColumns = []string{"name", "encrypted_credentials", "config", "status", "error_message", "updated_at"}

// FindByID finds a connection by its ID
func (r *GormConnectionRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.Connection, error) {
	var model models.ConnectionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translateConnectionError(err)
	}
	return model.ToDomain(), nil
}

// FindByIDForTenant finds a connection by ID within a specific tenant
func (r *GormConnectionRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*integration.Connection, error) {
	var model models.ConnectionModel
	if err := r.db.WithContext(ctx).Scopes(tenant.Scope(tenantID)).First(&model, "id = ?", id).Error; err != nil {
		return nil, translateConnectionError(err)
	}
	return model.ToDomain(), nil
}

// FindByTenantAndType finds the tenant's connection to one CRM vendor
func (r *GormConnectionRepository) FindByTenantAndType(ctx context.Context, tenantID uuid.UUID, crmType integration.CRMType) (*integration.Connection, error) {
	var model models.ConnectionModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("crm_type = ?", crmType).
		First(&model).Error; err != nil {
		return nil, translateConnectionError(err)
	}
	return model.ToDomain(), nil
}

// FindAllForTenant lists every connection of a tenant, disabled ones included
func (r *GormConnectionRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID) ([]integration.Connection, error) {
	var connectionModels []models.ConnectionModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Order("crm_type ASC").
		Find(&connectionModels).Error; err != nil {
		return nil, err
	}

	connections := make([]integration.Connection, len(connectionModels))
	for i, model := range connectionModels {
		connections[i] = *model.ToDomain()
	}
	return connections, nil
}

// Upsert inserts the connection or replaces the row holding its
// (tenant_id, crm_type) in a single statement, then reloads conn from storage.
func (r *GormConnectionRepository) Upsert(ctx context.Context, conn *integration.Connection) error {
	model := models.ConnectionModelFromDomain(conn)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "crm_type"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(model).Error; err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}

	stored, err := r.FindByTenantAndType(ctx, conn.TenantID, conn.CRMType)
	if err != nil {
		return err
	}
	*conn = *stored
	return nil
}

// UpdateStatus writes status and error message, guarded by the envelope the
// caller tested with.
func (r *GormConnectionRepository) UpdateStatus(ctx context.Context, conn *integration.Connection) error {
	result := r.db.WithContext(ctx).
		Model(&models.ConnectionModel{}).
		Where("id = ? AND encrypted_credentials = ? AND encrypted_credentials <> ''", conn.ID, conn.EncryptedCredentials).
		Updates(map[string]any{
			"status":        conn.Status,
			"error_message": conn.ErrorMessage,
			"updated_at":    conn.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update connection status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missingOr(ctx, conn.ID, integration.ErrConnectionChanged)
	}
	return nil
}

// UpdateCredentials is a compare-and-swap on the stored envelope
func (r *GormConnectionRepository) UpdateCredentials(ctx context.Context, conn *integration.Connection, previous string) error {
	result := r.db.WithContext(ctx).
		Model(&models.ConnectionModel{}).
		Where("id = ? AND encrypted_credentials = ?", conn.ID, previous).
		Updates(map[string]any{
			"encrypted_credentials": conn.EncryptedCredentials,
			"updated_at":            conn.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update connection credentials: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missingOr(ctx, conn.ID, integration.ErrConnectionChanged)
	}
	return nil
}

// TouchSync stamps last_sync_at unless the connection left the active state
func (r *GormConnectionRepository) TouchSync(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.ConnectionModel{}).
		Where("id = ? AND status = ?", id, integration.ConnectionStatusActive).
		Updates(map[string]any{
			"last_sync_at": at,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update last sync time: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missingOr(ctx, id, integration.ErrConnectionInactive)
	}
	return nil
}

// missingOr tells a vanished row apart from a guard that did not match
func (r *GormConnectionRepository) missingOr(ctx context.Context, id uuid.UUID, guardErr error) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ConnectionModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return integration.ErrConnectionNotFound
	}
	return guardErr
}

// CountByStatus counts connections across all tenants per status
func (r *GormConnectionRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.ConnectionModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func translateConnectionError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return integration.ErrConnectionNotFound
	}
	return err
}

// ---------------------------------------------------------------------------
// ConnectionPurger implementation
// ---------------------------------------------------------------------------

// GormConnectionPurger deletes connection-owned rows and disables the
// connection inside one transaction.
type GormConnectionPurger struct {
	db *gorm.DB
}

// NewGormConnectionPurger creates a new GormConnectionPurger
func NewGormConnectionPurger(db *gorm.DB) *GormConnectionPurger {
	return &GormConnectionPurger{db: db}
}

var _ integration.ConnectionPurger = (*GormConnectionPurger)(nil)

// PurgeAndDisable removes discovered fields, field mappings, sync records,
// sync jobs and webhook subscriptions, then disables conn. On any failure
// nothing is changed, conn included. The connection row is locked first so a
// concurrent catalog replace either commits before the purge or sees the
// disabled row.
func (p *GormConnectionPurger) PurgeAndDisable(ctx context.Context, conn *integration.Connection) error {
	disabled := *conn
	disabled.Disable()

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockConnection(tx, conn.ID, nil); err != nil {
			return err
		}
		for _, model := range models.ConnectionDependentModels() {
			if err := tx.Where("connection_id = ?", conn.ID).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to purge %T: %w", model, err)
			}
		}

		result := tx.Model(&models.ConnectionModel{}).
			Where("id = ?", conn.ID).
			Updates(map[string]any{
				"status":                disabled.Status,
				"encrypted_credentials": disabled.EncryptedCredentials,
				"error_message":         disabled.ErrorMessage,
				"updated_at":            disabled.UpdatedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to disable connection: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return integration.ErrConnectionNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	*conn = disabled
	return nil
}

// lockConnection holds the connection row for the rest of tx. id and status
// are loaded into dst when it is non-nil.
func lockConnection(tx *gorm.DB, id uuid.UUID, dst *models.ConnectionModel) error {
	if dst == nil {
		dst = &models.ConnectionModel{}
	}
	err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Select("id", "status").
		First(dst, "id = ?", id).Error
	return translateConnectionError(err)
}
