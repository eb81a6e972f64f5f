package integration

import (
	"context"
	"time"

	"github.com/crmgateway/backend/internal/domain/integration"
	"github.com/crmgateway/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProviderExecutor runs work against a connection's provider under the resilience policy
type ProviderExecutor interface {
	Execute(ctx context.Context, tenantID, connectionID uuid.UUID, op string, fn ProviderFunc) error
}

var _ ProviderExecutor = (*ConnectionService)(nil)

// FieldDiscoveryService introspects remote schemas and caches the field catalog
type FieldDiscoveryService struct {
	executor  ProviderExecutor
	connRepo  integration.ConnectionRepository
	fieldRepo integration.DiscoveredFieldRepository
	locker    integration.DiscoveryLocker
	metrics   *telemetry.CRMMetrics
	logger    *zap.Logger
	now       func() time.Time
}

var _ FieldDiscoverer = (*FieldDiscoveryService)(nil)

// NewFieldDiscoveryService creates a new field discovery service
func NewFieldDiscoveryService(
	executor ProviderExecutor,
	connRepo integration.ConnectionRepository,
	fieldRepo integration.DiscoveredFieldRepository,
	locker integration.DiscoveryLocker,
	metrics *telemetry.CRMMetrics,
	logger *zap.Logger,
) *FieldDiscoveryService {
	if metrics == nil {
		metrics = telemetry.NewNopCRMMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FieldDiscoveryService{
		executor:  executor,
		connRepo:  connRepo,
		fieldRepo: fieldRepo,
		locker:    locker,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// DiscoverAndStore fetches the remote schema of one object type and swaps it
// in as the connection's catalog for that type. Runs for the same
// (connection, object type) never overlap.
func (s *FieldDiscoveryService) DiscoverAndStore(ctx context.Context, tenantID, connectionID uuid.UUID, objectType integration.ObjectType) error {
	if !objectType.IsValid() {
		return integration.ErrInvalidObjectType
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "crm_discovery", "discover_and_store")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrConnectionID, connectionID.String(),
		telemetry.SpanAttrObjectType, objectType.String(),
	)

	unlock, err := s.locker.Lock(ctx, connectionID.String()+":"+objectType.String())
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	defer unlock()

	var (
		discovered []integration.DiscoveredField
		crmType    integration.CRMType
	)
	err = s.executor.Execute(ctx, tenantID, connectionID, OpDiscoverFields, func(ctx context.Context, provider integration.Provider) error {
		crmType = provider.CRMType()
		fields, err := provider.DiscoverFields(ctx, objectType)
		if err != nil {
			return err
		}
		discovered = fields
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	batch := integration.PrepareBatch(connectionID, objectType, discovered, s.now())
	if err := s.fieldRepo.ReplaceForObjectType(ctx, connectionID, objectType, batch); err != nil {
		telemetry.RecordError(span, err)
		s.logger.Error("Failed to store discovered fields",
			zap.String("connection_id", connectionID.String()),
			zap.String("object_type", objectType.String()),
			zap.Error(err))
		return err
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrFieldCount, len(batch))
	s.metrics.RecordDiscoveredFields(ctx, crmType.String(), objectType.String(), len(batch))
	s.touchSync(ctx, connectionID)

	s.logger.Info("Fields discovered",
		zap.String("connection_id", connectionID.String()),
		zap.String("object_type", objectType.String()),
		zap.Int("field_count", len(batch)))
	return nil
}

// touchSync stamps last_sync_at. The catalog is already stored, so a failure
// here is only logged.
func (s *FieldDiscoveryService) touchSync(ctx context.Context, connectionID uuid.UUID) {
	if err := s.connRepo.TouchSync(ctx, connectionID, s.now()); err != nil {
		s.logger.Warn("Failed to update last sync time",
			zap.String("connection_id", connectionID.String()),
			zap.Error(err))
	}
}

// DiscoverFields discovers one object type, or contact, company and deal in
// that order when objectType is nil. It stops at the first failure.
func (s *FieldDiscoveryService) DiscoverFields(ctx context.Context, tenantID, connectionID uuid.UUID, objectType *integration.ObjectType) error {
	types := integration.DiscoverableObjectTypes
	if objectType != nil {
		types = []integration.ObjectType{*objectType}
	}
	for _, t := range types {
		if err := s.DiscoverAndStore(ctx, tenantID, connectionID, t); err != nil {
			return err
		}
	}
	return nil
}

// GetDiscoveredFields returns the cached catalog, built-in fields first and
// then by label.
func (s *FieldDiscoveryService) GetDiscoveredFields(ctx context.Context, tenantID, connectionID uuid.UUID, objectType *integration.ObjectType) ([]DiscoveredFieldResponse, error) {
	if objectType != nil && !objectType.IsValid() {
		return nil, integration.ErrInvalidObjectType
	}
	if _, err := s.connRepo.FindByIDForTenant(ctx, tenantID, connectionID); err != nil {
		return nil, err
	}

	fields, err := s.fieldRepo.FindByConnection(ctx, connectionID, objectType)
	if err != nil {
		return nil, err
	}
	integration.SortFields(fields)
	return ToDiscoveredFieldResponses(fields), nil
}
