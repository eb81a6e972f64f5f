package persistence

import (
	"context"
	"fmt"

	"github.com/crmgateway/backend/internal/domain/integration"
	"github.com/crmgateway/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// discoveredFieldBatchSize bounds one INSERT of the replace
const discoveredFieldBatchSize = 200

// GormDiscoveredFieldRepository implements integration.DiscoveredFieldRepository using GORM
type GormDiscoveredFieldRepository struct {
	db *gorm.DB
}

// NewGormDiscoveredFieldRepository creates a new GormDiscoveredFieldRepository
func NewGormDiscoveredFieldRepository(db *gorm.DB) *GormDiscoveredFieldRepository {
	return &GormDiscoveredFieldRepository{db: db}
}

var _ integration.DiscoveredFieldRepository = (*GormDiscoveredFieldRepository)(nil)

// ReplaceForObjectType deletes the stored batch and inserts fields in one
// transaction. Readers see either the old batch or the new one. The
// connection row is locked and must still be active.
func (r *GormDiscoveredFieldRepository) ReplaceForObjectType(ctx context.Context, connectionID uuid.UUID, objectType integration.ObjectType, fields []integration.DiscoveredField) error {
	batch := make([]*models.DiscoveredFieldModel, 0, len(fields))
	for _, f := range fields {
		f.ConnectionID = connectionID
		f.ObjectType = objectType
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		batch = append(batch, models.DiscoveredFieldModelFromDomain(f))
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conn models.ConnectionModel
		if err := lockConnection(tx, connectionID, &conn); err != nil {
			return err
		}
		if conn.Status != integration.ConnectionStatusActive {
			return integration.ErrConnectionInactive
		}

		if err := tx.
			Where("connection_id = ? AND object_type = ?", connectionID, objectType).
			Delete(&models.DiscoveredFieldModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete discovered fields: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(batch, discoveredFieldBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert discovered fields: %w", err)
		}
		return nil
	})
}

// FindByConnection returns the cached fields of a connection, optionally
// narrowed to one object type.
func (r *GormDiscoveredFieldRepository) FindByConnection(ctx context.Context, connectionID uuid.UUID, objectType *integration.ObjectType) ([]integration.DiscoveredField, error) {
	query := r.db.WithContext(ctx).Where("connection_id = ?", connectionID)
	if objectType != nil {
		query = query.Where("object_type = ?", *objectType)
	}

	var fieldModels []models.DiscoveredFieldModel
	if err := query.Order("object_type ASC, field_name ASC").Find(&fieldModels).Error; err != nil {
		return nil, err
	}

	fields := make([]integration.DiscoveredField, len(fieldModels))
	for i := range fieldModels {
		fields[i] = fieldModels[i].ToDomain()
	}
	return fields, nil
}
