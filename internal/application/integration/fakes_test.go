package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/crmgateway/backend/internal/domain/integration"
	"github.com/crmgateway/backend/internal/infrastructure/crm"
	"github.com/crmgateway/backend/internal/infrastructure/vault"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testVaultKey  = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	otherVaultKey = "ffeeddccbbaa99887766554433221100ffeeddccbbaa99887766554433221100"
)

// ---------------------------------------------------------------------------
// Repository mocks
// ---------------------------------------------------------------------------

// MockConnectionRepository is a mock implementation of ConnectionRepository
type MockConnectionRepository struct {
	mock.Mock
}

func (m *MockConnectionRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.Connection, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Connection), args.Error(1)
}

func (m *MockConnectionRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*integration.Connection, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Connection), args.Error(1)
}

func (m *MockConnectionRepository) FindByTenantAndType(ctx context.Context, tenantID uuid.UUID, crmType integration.CRMType) (*integration.Connection, error) {
	args := m.Called(ctx, tenantID, crmType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Connection), args.Error(1)
}

func (m *MockConnectionRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID) ([]integration.Connection, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]integration.Connection), args.Error(1)
}

func (m *MockConnectionRepository) Upsert(ctx context.Context, conn *integration.Connection) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}

func (m *MockConnectionRepository) UpdateStatus(ctx context.Context, conn *integration.Connection) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}

func (m *MockConnectionRepository) UpdateCredentials(ctx context.Context, conn *integration.Connection, previous string) error {
	args := m.Called(ctx, conn, previous)
	return args.Error(0)
}

func (m *MockConnectionRepository) TouchSync(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// MockConnectionPurger is a mock implementation of ConnectionPurger
type MockConnectionPurger struct {
	mock.Mock
}

func (m *MockConnectionPurger) PurgeAndDisable(ctx context.Context, conn *integration.Connection) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}

// MockDiscoveredFieldRepository is a mock implementation of DiscoveredFieldRepository
type MockDiscoveredFieldRepository struct {
	mock.Mock
}

func (m *MockDiscoveredFieldRepository) ReplaceForObjectType(ctx context.Context, connectionID uuid.UUID, objectType integration.ObjectType, fields []integration.DiscoveredField) error {
	args := m.Called(ctx, connectionID, objectType, fields)
	return args.Error(0)
}

func (m *MockDiscoveredFieldRepository) FindByConnection(ctx context.Context, connectionID uuid.UUID, objectType *integration.ObjectType) ([]integration.DiscoveredField, error) {
	args := m.Called(ctx, connectionID, objectType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]integration.DiscoveredField), args.Error(1)
}

// ---------------------------------------------------------------------------
// Fake provider
// ---------------------------------------------------------------------------

// fakeProvider is a scriptable integration.Provider
type fakeProvider struct {
	mu sync.Mutex

	creds          integration.Credentials
	authErr        error
	refreshErr     error
	refreshedToken string
	searchErrs     []error
	fields         map[integration.ObjectType][]integration.DiscoveredField
	discoverErrs   map[integration.ObjectType]error
	disconnectErr  error

	// onSearch and onDiscover run once, at the start of the next call
	onSearch   func()
	onDiscover func()

	calls []string
}

var _ integration.Provider = (*fakeProvider)(nil)

func (p *fakeProvider) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakeProvider) count(call string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (p *fakeProvider) takeHook(hook *func()) {
	p.mu.Lock()
	fn := *hook
	*hook = nil
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *fakeProvider) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProvider) CRMType() integration.CRMType { return integration.CRMTypeHubSpot }

func (p *fakeProvider) Authenticate(_ context.Context, creds integration.Credentials) error {
	p.record("Authenticate")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = creds
	return p.authErr
}

func (p *fakeProvider) RefreshAuthentication(_ context.Context) error {
	p.record("RefreshAuthentication")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refreshErr != nil {
		return p.refreshErr
	}
	p.creds.AccessToken = p.refreshedToken
	p.authErr = nil
	return nil
}

func (p *fakeProvider) Credentials() integration.Credentials {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds
}

func (p *fakeProvider) Disconnect(_ context.Context) error {
	p.record("Disconnect")
	return p.disconnectErr
}

func (p *fakeProvider) DiscoverFields(_ context.Context, objectType integration.ObjectType) ([]integration.DiscoveredField, error) {
	p.takeHook(&p.onDiscover)
	p.record("DiscoverFields:" + objectType.String())
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.discoverErrs[objectType]; err != nil {
		return nil, err
	}
	return p.fields[objectType], nil
}

func (p *fakeProvider) SearchContacts(_ context.Context, _ integration.SearchQuery) ([]integration.Contact, error) {
	p.takeHook(&p.onSearch)
	p.record("SearchContacts")
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.searchErrs) > 0 {
		err := p.searchErrs[0]
		p.searchErrs = p.searchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return []integration.Contact{}, nil
}

func (p *fakeProvider) GetContact(context.Context, string) (*integration.Contact, error) {
	return nil, nil
}

func (p *fakeProvider) CreateContact(context.Context, integration.Contact) (*integration.Contact, error) {
	return nil, nil
}

func (p *fakeProvider) UpdateContact(context.Context, string, integration.Contact) (*integration.Contact, error) {
	return nil, nil
}

func (p *fakeProvider) GetCompany(context.Context, string) (*integration.Company, error) {
	return nil, nil
}

func (p *fakeProvider) SearchCompanies(context.Context, integration.SearchQuery) ([]integration.Company, error) {
	return nil, nil
}

func (p *fakeProvider) CreateCompany(context.Context, integration.Company) (*integration.Company, error) {
	return nil, nil
}

func (p *fakeProvider) UpdateCompany(context.Context, string, integration.Company) (*integration.Company, error) {
	return nil, nil
}

func (p *fakeProvider) GetDeal(context.Context, string) (*integration.Deal, error) {
	return nil, nil
}

func (p *fakeProvider) SearchDeals(context.Context, integration.SearchQuery) ([]integration.Deal, error) {
	return nil, nil
}

func (p *fakeProvider) CreateDeal(context.Context, integration.Deal) (*integration.Deal, error) {
	return nil, nil
}

func (p *fakeProvider) UpdateDeal(context.Context, string, integration.Deal) (*integration.Deal, error) {
	return nil, nil
}

func (p *fakeProvider) LogActivity(context.Context, integration.Activity) (*integration.Activity, error) {
	return nil, nil
}

func (p *fakeProvider) GetActivities(context.Context, integration.ActivityFilter) ([]integration.Activity, error) {
	return nil, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newTestRegistry registers provider under the hubspot tag only
func newTestRegistry(t *testing.T, provider *fakeProvider) *crm.Registry {
	t.Helper()
	r := crm.NewRegistry()
	require.NoError(t, r.Register(integration.CRMTypeHubSpot, func(map[string]any) (integration.Provider, error) {
		return provider, nil
	}))
	return r
}

func newTestVault(t *testing.T, key string) *vault.Vault {
	t.Helper()
	v, err := vault.New(key)
	require.NoError(t, err)
	return v
}

// newSealedConnection returns a hubspot connection whose credentials are sealed by v
func newSealedConnection(t *testing.T, v *vault.Vault, tenantID uuid.UUID, creds integration.Credentials) *integration.Connection {
	t.Helper()
	envelope, err := v.Encrypt(creds)
	require.NoError(t, err)
	conn, err := integration.NewConnection(tenantID, integration.CRMTypeHubSpot, "HubSpot", envelope, nil)
	require.NoError(t, err)
	return conn
}

// stubDiscoverer records discovery requests from ConnectionService
type stubDiscoverer struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (d *stubDiscoverer) DiscoverFields(context.Context, uuid.UUID, uuid.UUID, *integration.ObjectType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.err
}
