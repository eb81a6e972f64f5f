package integration

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/crmgateway/backend/internal/domain/integration"
	"github.com/crmgateway/backend/internal/infrastructure/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Provider operation names, used for spans, metrics and logs
const (
	OpAuthenticate   = "authenticate"
	OpRefresh        = "refresh_authentication"
	OpTestConnection = "test_connection"
	OpDisconnect     = "disconnect"
	OpDiscoverFields = "discover_fields"
)

// DefaultRequestTimeout bounds every outbound provider call
const DefaultRequestTimeout = 30 * time.Second

// ProviderFunc is one unit of work against an authenticated provider
type ProviderFunc func(ctx context.Context, provider integration.Provider) error

// FieldDiscoverer runs discovery after a connection is created or re-keyed
type FieldDiscoverer interface {
	DiscoverFields(ctx context.Context, tenantID, connectionID uuid.UUID, objectType *integration.ObjectType) error
}

// ConnectionServiceConfig holds tunables for ConnectionService
type ConnectionServiceConfig struct {
	RequestTimeout time.Duration
}

// ConnectionService owns the connection lifecycle and is the only path
// through which provider adapters are built and called.
type ConnectionService struct {
	connRepo   integration.ConnectionRepository
	purger     integration.ConnectionPurger
	cipher     integration.CredentialCipher
	providers  integration.ProviderFactory
	metrics    *telemetry.CRMMetrics
	logger     *zap.Logger
	validate   *validator.Validate
	timeout    time.Duration
	discoverer FieldDiscoverer
}

// NewConnectionService creates a new connection service
func NewConnectionService(
	connRepo integration.ConnectionRepository,
	purger integration.ConnectionPurger,
	cipher integration.CredentialCipher,
	providers integration.ProviderFactory,
	metrics *telemetry.CRMMetrics,
	logger *zap.Logger,
	cfg ConnectionServiceConfig,
) *ConnectionService {
	if metrics == nil {
		metrics = telemetry.NewNopCRMMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &ConnectionService{
		connRepo:  connRepo,
		purger:    purger,
		cipher:    cipher,
		providers: providers,
		metrics:   metrics,
		logger:    logger,
		validate:  newValidator(),
		timeout:   timeout,
	}
}

// SetFieldDiscoverer wires the discovery run that follows create and credential updates.
// The discovery service depends on this service, so it is set after construction.
func (s *ConnectionService) SetFieldDiscoverer(d FieldDiscoverer) {
	s.discoverer = d
}

// ---------------------------------------------------------------------------
// Provider access
// ---------------------------------------------------------------------------

// GetProvider returns an authenticated provider for an active connection
func (s *ConnectionService) GetProvider(ctx context.Context, tenantID, connectionID uuid.UUID) (integration.Provider, error) {
	conn, err := s.loadActive(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	provider, err := s.openProvider(ctx, conn)
	if err != nil {
		return nil, err
	}
	return provider, nil
}

// Execute runs fn against the connection's provider under the resilience policy.
// An auth failure triggers one credential refresh and one retry; rate limits
// and transient failures are returned untouched.
func (s *ConnectionService) Execute(ctx context.Context, tenantID, connectionID uuid.UUID, op string, fn ProviderFunc) error {
	conn, err := s.loadActive(ctx, tenantID, connectionID)
	if err != nil {
		return err
	}

	err = s.runWithRefresh(ctx, conn, op, fn)
	if err != nil && (integration.Classify(err) == integration.FailureAuth || errors.Is(err, integration.ErrDecryptionFailed)) {
		if storeErr := s.markError(ctx, conn, err); storeErr != nil {
			s.logger.Error("Failed to persist connection error state",
				zap.String("connection_id", conn.ID.String()),
				zap.Error(storeErr))
		}
	}
	return err
}

func (s *ConnectionService) loadActive(ctx context.Context, tenantID, connectionID uuid.UUID) (*integration.Connection, error) {
	conn, err := s.connRepo.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.IsActive() {
		return nil, integration.ErrConnectionInactive
	}
	return conn, nil
}

// openProvider decrypts, builds and authenticates. The provider is returned
// even when authentication fails so the caller can still refresh it.
func (s *ConnectionService) openProvider(ctx context.Context, conn *integration.Connection) (integration.Provider, error) {
	creds, err := s.cipher.Decrypt(conn.EncryptedCredentials)
	if err != nil {
		if !errors.Is(err, integration.ErrDecryptionFailed) {
			err = integration.NewDecryptionError(err)
		}
		return nil, err
	}

	provider, err := s.providers.NewProvider(conn.CRMType, conn.Config)
	if err != nil {
		return nil, err
	}

	err = s.observe(ctx, conn, OpAuthenticate, func(ctx context.Context) error {
		return provider.Authenticate(ctx, creds)
	})
	return provider, err
}

func (s *ConnectionService) runWithRefresh(ctx context.Context, conn *integration.Connection, op string, fn ProviderFunc) error {
	provider, err := s.openProvider(ctx, conn)
	if provider == nil {
		return err
	}
	if err == nil {
		err = s.observe(ctx, conn, op, func(ctx context.Context) error {
			return fn(ctx, provider)
		})
	}
	if integration.Classify(err) != integration.FailureAuth {
		s.logFailure(conn, op, err)
		return err
	}

	if refreshErr := s.refresh(ctx, conn, provider); refreshErr != nil {
		s.logger.Warn("Credential refresh failed",
			zap.String("connection_id", conn.ID.String()),
			zap.String("operation", op),
			zap.Error(refreshErr))
		return err
	}

	err = s.observe(ctx, conn, op, func(ctx context.Context) error {
		telemetry.SetAttributes(telemetry.SpanFromContext(ctx), telemetry.SpanAttrRetried, true)
		return fn(ctx, provider)
	})
	s.logFailure(conn, op, err)
	return err
}

// refresh renews the provider's credentials and persists them re-encrypted
func (s *ConnectionService) refresh(ctx context.Context, conn *integration.Connection, provider integration.Provider) error {
	err := s.observe(ctx, conn, OpRefresh, func(ctx context.Context) error {
		return provider.RefreshAuthentication(ctx)
	})
	outcome := telemetry.OutcomeSuccess
	if err != nil {
		outcome = integration.Classify(err).String()
	}
	s.metrics.RecordCredentialRefresh(ctx, conn.CRMType.String(), outcome)
	if err != nil {
		return err
	}
	return s.persistCredentials(context.WithoutCancel(ctx), conn, provider.Credentials())
}

func (s *ConnectionService) persistCredentials(ctx context.Context, conn *integration.Connection, creds integration.Credentials) error {
	envelope, err := s.cipher.Encrypt(creds)
	if err != nil {
		return err
	}
	previous := conn.EncryptedCredentials
	if err := conn.ReplaceCredentials(envelope); err != nil {
		return err
	}
	if err := s.connRepo.UpdateCredentials(ctx, conn, previous); err != nil {
		conn.EncryptedCredentials = previous
		return err
	}
	return nil
}

// observe runs one provider call under the request timeout with tracing,
// profiling labels and call metrics.
func (s *ConnectionService) observe(ctx context.Context, conn *integration.Connection, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := telemetry.StartServiceSpan(ctx, "crm_provider", op)
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrConnectionID, conn.ID.String(),
		telemetry.SpanAttrTenantID, conn.TenantID.String(),
		telemetry.SpanAttrCRMType, conn.CRMType.String(),
		telemetry.SpanAttrOperation, op,
	)

	start := time.Now()
	var err error
	telemetry.WithProfilingLabels(ctx, telemetry.CRMOperationLabels(conn.CRMType.String(), op), func(ctx context.Context) {
		err = fn(ctx)
	})

	outcome := telemetry.OutcomeSuccess
	if err != nil {
		outcome = integration.Classify(err).String()
		telemetry.SetAttributes(span, telemetry.SpanAttrFailureKind, outcome)
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetOK(span)
	}
	s.metrics.RecordProviderCall(ctx, conn.CRMType.String(), op, outcome, time.Since(start))
	return err
}

func (s *ConnectionService) logFailure(conn *integration.Connection, op string, err error) {
	if err == nil {
		return
	}
	fields := []zap.Field{
		zap.String("connection_id", conn.ID.String()),
		zap.String("crm_type", conn.CRMType.String()),
		zap.String("operation", op),
		zap.String("failure_kind", integration.Classify(err).String()),
		zap.Error(err),
	}
	if retryAfter, ok := integration.RetryAfter(err); ok {
		fields = append(fields, zap.Duration("retry_after", retryAfter))
	}
	if integration.IsRetryable(err) {
		s.logger.Warn("CRM provider call failed, caller may retry", fields...)
		return
	}
	s.logger.Error("CRM provider call failed", fields...)
}

// markError moves the connection to the error state. The write must land
// even when the request context is already cancelled.
func (s *ConnectionService) markError(ctx context.Context, conn *integration.Connection, cause error) error {
	conn.MarkError(integration.DescribeFailure(cause))
	return s.connRepo.UpdateStatus(context.WithoutCancel(ctx), conn)
}

// ---------------------------------------------------------------------------
// Lifecycle operations
// ---------------------------------------------------------------------------

// TestConnection runs a bounded contact search and records the outcome as the
// connection status. Connections in the error state are tested too.
func (s *ConnectionService) TestConnection(ctx context.Context, tenantID, connectionID uuid.UUID) (*TestConnectionResult, error) {
	conn, err := s.connRepo.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}

	if conn.EncryptedCredentials == "" {
		return &TestConnectionResult{
			Success:      false,
			Status:       conn.Status,
			ErrorMessage: "Connection has no stored credentials",
		}, nil
	}

	testErr, storeErr := s.test(ctx, conn)
	if storeErr != nil {
		return nil, storeErr
	}

	return &TestConnectionResult{
		Success:      testErr == nil,
		Status:       conn.Status,
		ErrorMessage: conn.ErrorMessage,
	}, nil
}

// test probes the provider and persists the derived status. testErr is the
// probe outcome; storeErr means the status could not be saved, including
// ErrConnectionChanged when the connection was disconnected or re-keyed
// while the probe ran.
func (s *ConnectionService) test(ctx context.Context, conn *integration.Connection) (testErr, storeErr error) {
	testErr = s.runWithRefresh(ctx, conn, OpTestConnection, func(ctx context.Context, provider integration.Provider) error {
		_, err := provider.SearchContacts(ctx, integration.SearchQuery{Limit: 1})
		return err
	})

	if testErr != nil {
		conn.MarkError(integration.DescribeFailure(testErr))
	} else {
		conn.MarkActive()
	}
	if err := s.connRepo.UpdateStatus(context.WithoutCancel(ctx), conn); err != nil {
		s.logger.Error("Failed to persist connection status",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err))
		return testErr, err
	}

	s.logger.Info("Connection tested",
		zap.String("connection_id", conn.ID.String()),
		zap.String("status", conn.Status.String()))
	return testErr, nil
}

// RefreshConnection renews the stored credentials of an active connection.
// A rejected refresh is recorded as the error status and reported in the
// result. Rate limits, transient failures and gateway misconfiguration change
// nothing and are returned.
func (s *ConnectionService) RefreshConnection(ctx context.Context, tenantID, connectionID uuid.UUID) (*RefreshConnectionResult, error) {
	conn, err := s.loadActive(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}

	// An expired access token fails the probe, which is what a refresh fixes
	provider, err := s.openProvider(ctx, conn)
	if provider == nil {
		return nil, err
	}

	if err := s.refresh(ctx, conn, provider); err != nil {
		if integration.IsRetryable(err) || errors.Is(err, integration.ErrConfiguration) {
			return nil, err
		}
		if storeErr := s.markError(ctx, conn, err); storeErr != nil {
			s.logger.Error("Failed to persist connection error state",
				zap.String("connection_id", conn.ID.String()),
				zap.Error(storeErr))
			return nil, storeErr
		}
		return &RefreshConnectionResult{
			Success:      false,
			Status:       conn.Status,
			ErrorMessage: conn.ErrorMessage,
		}, nil
	}

	s.logger.Info("Connection credentials refreshed", zap.String("connection_id", conn.ID.String()))
	return &RefreshConnectionResult{Success: true, Status: conn.Status}, nil
}

// Disconnect purges all connection-owned records and disables the connection
// in one transaction, then revokes remote access on a best-effort basis with
// the credentials loaded beforehand. A failed purge leaves the remote grant intact.
func (s *ConnectionService) Disconnect(ctx context.Context, tenantID, connectionID uuid.UUID) error {
	conn, err := s.connRepo.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return err
	}

	previous := *conn
	if err := s.purger.PurgeAndDisable(ctx, conn); err != nil {
		s.logger.Error("Failed to disconnect connection",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err))
		return err
	}

	if previous.IsActive() {
		s.revoke(ctx, &previous)
	}

	s.logger.Info("Connection disconnected",
		zap.String("connection_id", conn.ID.String()),
		zap.String("crm_type", conn.CRMType.String()))
	return nil
}

func (s *ConnectionService) revoke(ctx context.Context, conn *integration.Connection) {
	provider, err := s.openProvider(ctx, conn)
	if provider == nil {
		s.logger.Warn("Skipping remote revoke", zap.String("connection_id", conn.ID.String()), zap.Error(err))
		return
	}
	err = s.observe(ctx, conn, OpDisconnect, func(ctx context.Context) error {
		return provider.Disconnect(ctx)
	})
	if err != nil {
		s.logger.Warn("Remote revoke failed", zap.String("connection_id", conn.ID.String()), zap.Error(err))
	}
}

// CreateOrReplaceConnection stores new credentials for (tenant, crmType),
// reusing the existing row if there is one, then tests and discovers.
func (s *ConnectionService) CreateOrReplaceConnection(ctx context.Context, tenantID uuid.UUID, req CreateConnectionRequest) (*CreateConnectionResult, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	creds := req.Credentials.ToDomain()
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}

	crmType := integration.CRMType(strings.ToLower(strings.TrimSpace(req.CRMType)))
	if _, err := s.providers.NewProvider(crmType, req.Config); err != nil {
		return nil, err
	}

	envelope, err := s.cipher.Encrypt(creds)
	if err != nil {
		return nil, err
	}
	conn, err := integration.NewConnection(tenantID, crmType, req.Name, envelope, req.Config)
	if err != nil {
		return nil, err
	}
	if err := s.connRepo.Upsert(ctx, conn); err != nil {
		s.logger.Error("Failed to store connection", zap.Error(err))
		return nil, err
	}

	s.logger.Info("Connection stored",
		zap.String("connection_id", conn.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("crm_type", crmType.String()))

	testErr, storeErr := s.test(ctx, conn)
	if storeErr != nil {
		return nil, storeErr
	}

	result := &CreateConnectionResult{}
	if testErr == nil {
		result.DiscoveryError = s.discoverAll(ctx, conn)
		if fresh, err := s.connRepo.FindByID(ctx, conn.ID); err == nil {
			conn = fresh
		}
	}
	result.ConnectionResponse = ToConnectionResponse(conn)
	return result, nil
}

// UpdateCredentials replaces the stored credentials and re-tests them.
// A failed test is returned as the typed provider error.
func (s *ConnectionService) UpdateCredentials(ctx context.Context, tenantID, connectionID uuid.UUID, req UpdateCredentialsRequest) (*UpdateCredentialsResult, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	creds := req.Credentials.ToDomain()
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}

	conn, err := s.connRepo.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	if err := s.persistCredentials(ctx, conn, creds); err != nil {
		return nil, err
	}

	testErr, storeErr := s.test(ctx, conn)
	if storeErr != nil {
		return nil, storeErr
	}
	if testErr != nil {
		return nil, testErr
	}

	return &UpdateCredentialsResult{
		Success:        true,
		DiscoveryError: s.discoverAll(ctx, conn),
	}, nil
}

// discoverAll runs best-effort discovery and returns the failure message, if any
func (s *ConnectionService) discoverAll(ctx context.Context, conn *integration.Connection) string {
	if s.discoverer == nil {
		return ""
	}
	if err := s.discoverer.DiscoverFields(ctx, conn.TenantID, conn.ID, nil); err != nil {
		s.logger.Warn("Field discovery failed",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err))
		return integration.DescribeFailure(err)
	}
	return ""
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// GetConnection returns one of the tenant's connections
func (s *ConnectionService) GetConnection(ctx context.Context, tenantID, connectionID uuid.UUID) (*ConnectionResponse, error) {
	conn, err := s.connRepo.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	resp := ToConnectionResponse(conn)
	return &resp, nil
}

// ListConnections returns all of the tenant's connections, disabled ones included
func (s *ConnectionService) ListConnections(ctx context.Context, tenantID uuid.UUID) ([]ConnectionResponse, error) {
	conns, err := s.connRepo.FindAllForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	responses := make([]ConnectionResponse, len(conns))
	for i := range conns {
		responses[i] = ToConnectionResponse(&conns[i])
	}
	return responses, nil
}
