package integration

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	integrationapp "github.com/crmgateway/backend/internal/application/integration"
	"github.com/crmgateway/backend/internal/domain/integration"
	"github.com/crmgateway/backend/internal/infrastructure/auth"
	"github.com/crmgateway/backend/internal/infrastructure/cache"
	"github.com/crmgateway/backend/internal/infrastructure/crm"
	"github.com/crmgateway/backend/internal/infrastructure/persistence"
	"github.com/crmgateway/backend/internal/infrastructure/vault"
	"github.com/crmgateway/backend/internal/interfaces/http/dto"
	"github.com/crmgateway/backend/internal/interfaces/http/handler"
	"github.com/crmgateway/backend/internal/interfaces/http/middleware"
	"github.com/crmgateway/backend/internal/interfaces/http/router"
	"github.com/crmgateway/backend/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const apiTestVaultKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// apiStack is the gateway's HTTP surface wired the way cmd/server wires it,
// with an in-memory discovery lock and HubSpot pointed at a stub.
type apiStack struct {
	engine *gin.Engine
	vault  *vault.Vault
	jwt    *auth.JWTService
}

func newAPIStack(t *testing.T, db *gorm.DB, hubspotURL string) *apiStack {
	t.Helper()

	v, err := vault.New(apiTestVaultKey)
	require.NoError(t, err)

	registry, err := crm.NewDefaultRegistry(&crm.HubSpotConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		APIBaseURL:   hubspotURL,
		AuthBaseURL:  hubspotURL,
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)

	connRepo := persistence.NewGormConnectionRepository(db)
	fieldRepo := persistence.NewGormDiscoveredFieldRepository(db)
	purger := persistence.NewGormConnectionPurger(db)

	connSvc := integrationapp.NewConnectionService(connRepo, purger, v, registry, nil, zap.NewNop(),
		integrationapp.ConnectionServiceConfig{RequestTimeout: 5 * time.Second})
	fieldSvc := integrationapp.NewFieldDiscoveryService(connSvc, connRepo, fieldRepo,
		cache.NewInMemoryDiscoveryLocker(), nil, zap.NewNop())
	connSvc.SetFieldDiscoverer(fieldSvc)

	jwtService := testutil.NewJWTService()
	engine := gin.New()
	engine.Use(middleware.RequestID())

	h := handler.NewCRMConnectionHandler(connSvc, fieldSvc, registry)
	router.NewRouter(engine).
		Use(middleware.JWTAuthMiddleware(jwtService), middleware.TenantMiddleware()).
		Register(router.CRMRoutes(h, zap.NewNop())).
		Setup()

	return &apiStack{engine: engine, vault: v, jwt: jwtService}
}

func (s *apiStack) client(t *testing.T, tenantID uuid.UUID, permissions ...string) *testutil.APIClient {
	t.Helper()
	return testutil.NewAPIClient(s.engine, testutil.IssueToken(t, s.jwt, tenantID, permissions...))
}

// storedCredentials decrypts the envelope persisted for a connection
func (s *apiStack) storedCredentials(t *testing.T, db *gorm.DB, connectionID uuid.UUID) (string, integration.Credentials) {
	t.Helper()

	var envelope string
	require.NoError(t, db.Table("crm_connections").
		Select("encrypted_credentials").
		Where("id = ?", connectionID).
		Scan(&envelope).Error)

	creds, err := s.vault.Decrypt(envelope)
	require.NoError(t, err)
	return envelope, creds
}

func seedHubSpotSchema(stub *testutil.HubSpotStub) {
	stub.SetProperties("contacts",
		testutil.HubSpotProperty{Name: "favorite_color", Label: "Favorite Color", Type: "string", FieldType: "text"},
		testutil.HubSpotProperty{Name: "email", Label: "Email", Type: "string", FieldType: "text", HubspotDefined: true},
		testutil.HubSpotProperty{
			Name: "lifecyclestage", Label: "Lifecycle Stage", Type: "enumeration", FieldType: "select", HubspotDefined: true,
			Options: []testutil.HubSpotOption{
				{Label: "Customer", Value: "customer", DisplayOrder: 2},
				{Label: "Lead", Value: "lead", DisplayOrder: 1},
			},
		},
	)
	stub.SetProperties("companies",
		testutil.HubSpotProperty{Name: "name", Label: "Company Name", Type: "string", FieldType: "text", HubspotDefined: true})
	stub.SetProperties("deals",
		testutil.HubSpotProperty{Name: "dealname", Label: "Deal Name", Type: "string", FieldType: "text", HubspotDefined: true},
		testutil.HubSpotProperty{Name: "amount", Label: "Amount", Type: "number", FieldType: "number", HubspotDefined: true},
	)
}

func TestCRMAPI_ConnectionLifecycle(t *testing.T) {
	skipIfShort(t)

	tdb := NewTestDB(t)
	stub := testutil.NewHubSpotStub(t, "tok-1")
	seedHubSpotSchema(stub)
	stack := newAPIStack(t, tdb.DB, stub.URL())

	tenantID := testutil.NewTestUUID("lifecycle-tenant")
	client := stack.client(t, tenantID, testutil.AllPermissions...)

	// Create tests the credentials and runs the initial discovery
	w := client.Do(t, http.MethodPost, "/api/v1/crm/connections", map[string]any{
		"crm_type": "HubSpot",
		"name":     "Main portal",
		"credentials": map[string]any{
			"access_token":  "tok-1",
			"refresh_token": "rt-1",
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "tok-1")
	assert.NotContains(t, w.Body.String(), "rt-1")

	created := testutil.DataAs[integrationapp.CreateConnectionResult](t, w)
	assert.Equal(t, integration.CRMTypeHubSpot, created.CRMType)
	assert.Equal(t, integration.ConnectionStatusActive, created.Status)
	assert.Empty(t, created.DiscoveryError)
	assert.NotNil(t, created.LastSyncAt)
	connPath := "/api/v1/crm/connections/" + created.ID.String()

	envelope, creds := stack.storedCredentials(t, tdb.DB, created.ID)
	assert.NotContains(t, envelope, "tok-1")
	assert.Equal(t, "tok-1", creds.AccessToken)
	assert.Equal(t, "rt-1", creds.RefreshToken)

	for _, object := range []string{"contacts", "companies", "deals"} {
		assert.Equal(t, 1, stub.Hits("/crm/v3/properties/"+object), object)
	}
	assert.Equal(t, 6, int(tdb.CountRows("crm_discovered_fields", created.ID)))

	t.Run("cached fields are read without calling the CRM", func(t *testing.T) {
		w := client.Do(t, http.MethodGet, connPath+"/fields?object_type=contact", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		fields := testutil.DataAs[[]integrationapp.DiscoveredFieldResponse](t, w)
		require.Len(t, fields, 3)
		assert.Equal(t, "email", fields[0].FieldName)
		assert.Equal(t, "lifecyclestage", fields[1].FieldName)
		assert.Equal(t, "favorite_color", fields[2].FieldName)
		assert.True(t, fields[2].IsCustom)

		stage := fields[1]
		assert.Equal(t, integration.FieldTypePicklist, stage.FieldType)
		require.Len(t, stage.PicklistValues, 2)
		assert.Equal(t, "lead", stage.PicklistValues[0].Value)
		assert.Equal(t, "customer", stage.PicklistValues[1].Value)

		assert.Equal(t, 1, stub.Hits("/crm/v3/properties/contacts"))
	})

	t.Run("rediscovery replaces the catalog", func(t *testing.T) {
		stub.SetProperties("deals",
			testutil.HubSpotProperty{Name: "dealname", Label: "Deal Name", Type: "string", FieldType: "text", HubspotDefined: true})

		w := client.Do(t, http.MethodPost, connPath+"/discover?object_type=deal", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := testutil.DataAs[handler.DiscoverFieldsResponse](t, w)
		assert.Equal(t, []integration.ObjectType{integration.ObjectTypeDeal}, resp.ObjectTypes)

		w = client.Do(t, http.MethodGet, connPath+"/fields?object_type=deal", nil)
		fields := testutil.DataAs[[]integrationapp.DiscoveredFieldResponse](t, w)
		require.Len(t, fields, 1)
		assert.Equal(t, "dealname", fields[0].FieldName)
	})

	t.Run("an expired token is refreshed and persisted", func(t *testing.T) {
		stub.RotateToken("rt-1", "tok-2")

		w := client.Do(t, http.MethodPost, connPath+"/test", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		result := testutil.DataAs[integrationapp.TestConnectionResult](t, w)
		assert.True(t, result.Success)
		assert.Equal(t, integration.ConnectionStatusActive, result.Status)

		_, creds := stack.storedCredentials(t, tdb.DB, created.ID)
		assert.Equal(t, "tok-2", creds.AccessToken)
		assert.Equal(t, "rt-1", creds.RefreshToken)
	})

	t.Run("disconnect revokes, purges and disables", func(t *testing.T) {
		w := client.Do(t, http.MethodDelete, connPath, nil)
		require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

		assert.Equal(t, []string{"rt-1"}, stub.Revoked())
		assert.Zero(t, tdb.CountRows("crm_discovered_fields", created.ID))

		w = client.Do(t, http.MethodGet, connPath, nil)
		require.Equal(t, http.StatusOK, w.Code)
		conn := testutil.DataAs[integrationapp.ConnectionResponse](t, w)
		assert.Equal(t, integration.ConnectionStatusDisabled, conn.Status)

		w = client.Do(t, http.MethodPost, connPath+"/discover", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		testutil.AssertErrorResponse(t, w, dto.ErrCodeConnectionInactive)
	})
}

func TestCRMAPI_RejectedCredentials(t *testing.T) {
	skipIfShort(t)

	tdb := NewTestDB(t)
	stub := testutil.NewHubSpotStub(t, "good-token")
	seedHubSpotSchema(stub)
	stack := newAPIStack(t, tdb.DB, stub.URL())
	client := stack.client(t, testutil.NewTestUUID("rejected-tenant"), testutil.AllPermissions...)

	w := client.Do(t, http.MethodPost, "/api/v1/crm/connections", map[string]any{
		"crm_type":    "hubspot",
		"credentials": map[string]any{"access_token": "bad-token"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	created := testutil.DataAs[integrationapp.CreateConnectionResult](t, w)
	assert.Equal(t, integration.ConnectionStatusError, created.Status)
	assert.NotEmpty(t, created.ErrorMessage)
	assert.Zero(t, tdb.CountRows("crm_discovered_fields", created.ID))
	connPath := "/api/v1/crm/connections/" + created.ID.String()

	testutil.RunAPITestCases(t, client, []testutil.APITestCase{
		{
			Name:           "discovery needs an active connection",
			Method:         http.MethodPost,
			Path:           connPath + "/discover",
			ExpectedStatus: http.StatusConflict,
			ExpectedCode:   dto.ErrCodeConnectionInactive,
		},
		{
			Name:           "a failed test is reported in the body",
			Method:         http.MethodPost,
			Path:           connPath + "/test",
			ExpectedStatus: http.StatusOK,
			Validate: func(t *testing.T, w *httptest.ResponseRecorder) {
				result := testutil.DataAs[integrationapp.TestConnectionResult](t, w)
				assert.False(t, result.Success)
				assert.Equal(t, integration.ConnectionStatusError, result.Status)
			},
		},
		{
			Name:           "updating with rejected credentials fails",
			Method:         http.MethodPut,
			Path:           connPath + "/credentials",
			Body:           map[string]any{"credentials": map[string]any{"access_token": "still-bad"}},
			ExpectedStatus: http.StatusBadGateway,
			ExpectedCode:   dto.ErrCodeCRMAuthentication,
		},
		{
			Name:           "updating with valid credentials reactivates",
			Method:         http.MethodPut,
			Path:           connPath + "/credentials",
			Body:           map[string]any{"credentials": map[string]any{"access_token": "good-token"}},
			ExpectedStatus: http.StatusOK,
			Validate: func(t *testing.T, w *httptest.ResponseRecorder) {
				result := testutil.DataAs[integrationapp.UpdateCredentialsResult](t, w)
				assert.True(t, result.Success)
				assert.Empty(t, result.DiscoveryError)
			},
		},
		{
			Name:           "the reactivated connection is active",
			Path:           connPath,
			ExpectedStatus: http.StatusOK,
			Validate: func(t *testing.T, w *httptest.ResponseRecorder) {
				conn := testutil.DataAs[integrationapp.ConnectionResponse](t, w)
				assert.Equal(t, integration.ConnectionStatusActive, conn.Status)
				assert.Empty(t, conn.ErrorMessage)
			},
		},
	})

	assert.Equal(t, 6, int(tdb.CountRows("crm_discovered_fields", created.ID)))
}

func TestCRMAPI_RequestValidationAndIsolation(t *testing.T) {
	skipIfShort(t)

	tdb := NewTestDB(t)
	stub := testutil.NewHubSpotStub(t, "tok")
	seedHubSpotSchema(stub)
	stack := newAPIStack(t, tdb.DB, stub.URL())

	tenantA := testutil.NewTestUUID("tenant-a")
	tenantB := testutil.NewTestUUID("tenant-b")
	clientA := stack.client(t, tenantA, testutil.AllPermissions...)
	clientB := stack.client(t, tenantB, testutil.AllPermissions...)

	w := clientA.Do(t, http.MethodPost, "/api/v1/crm/connections", map[string]any{
		"crm_type":    "hubspot",
		"credentials": map[string]any{"access_token": "tok"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	connA := testutil.DataAs[integrationapp.CreateConnectionResult](t, w)
	connPath := "/api/v1/crm/connections/" + connA.ID.String()

	// Re-posting the same crm type replaces credentials on the same row
	w = clientA.Do(t, http.MethodPost, "/api/v1/crm/connections", map[string]any{
		"crm_type":    "hubspot",
		"name":        "Renamed",
		"credentials": map[string]any{"access_token": "tok"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, connA.ID, testutil.DataAs[integrationapp.CreateConnectionResult](t, w).ID)

	testutil.RunAPITestCases(t, clientB, []testutil.APITestCase{
		{
			Name:           "another tenant cannot read the connection",
			Path:           connPath,
			ExpectedStatus: http.StatusNotFound,
			ExpectedCode:   dto.ErrCodeNotFound,
		},
		{
			Name:           "another tenant cannot read the fields",
			Path:           connPath + "/fields",
			ExpectedStatus: http.StatusNotFound,
			ExpectedCode:   dto.ErrCodeNotFound,
		},
		{
			Name:           "another tenant cannot disconnect",
			Method:         http.MethodDelete,
			Path:           connPath,
			ExpectedStatus: http.StatusNotFound,
		},
		{
			Name:           "another tenant lists nothing",
			Path:           "/api/v1/crm/connections",
			ExpectedStatus: http.StatusOK,
			Validate: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Empty(t, testutil.DataAs[[]integrationapp.ConnectionResponse](t, w))
			},
		},
		{
			Name:           "a tenant header contradicting the token is refused",
			Path:           "/api/v1/crm/connections",
			Headers:        map[string]string{middleware.TenantHeaderKey: tenantA.String()},
			ExpectedStatus: http.StatusForbidden,
			ExpectedCode:   dto.ErrCodeForbidden,
		},
		{
			Name:           "unsupported crm type",
			Method:         http.MethodPost,
			Path:           "/api/v1/crm/connections",
			Body:           map[string]any{"crm_type": "salesforce", "credentials": map[string]any{"access_token": "x"}},
			ExpectedStatus: http.StatusUnprocessableEntity,
			ExpectedCode:   dto.ErrCodeUnsupportedCRM,
		},
		{
			Name:           "missing credentials",
			Method:         http.MethodPost,
			Path:           "/api/v1/crm/connections",
			Body:           map[string]any{"crm_type": "hubspot"},
			ExpectedStatus: http.StatusBadRequest,
			ExpectedCode:   dto.ErrCodeValidation,
		},
		{
			Name:           "unknown object type",
			Path:           connPath + "/fields?object_type=invoice",
			ExpectedStatus: http.StatusBadRequest,
			ExpectedCode:   dto.ErrCodeInvalidObjectType,
		},
	})

	w = clientA.Do(t, http.MethodGet, "/api/v1/crm/connections", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := testutil.DataAs[[]integrationapp.ConnectionResponse](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, "Renamed", list[0].Name)
}

func TestCRMAPI_ReadOnlyTokenCannotWrite(t *testing.T) {
	skipIfShort(t)

	tdb := NewTestDB(t)
	stub := testutil.NewHubSpotStub(t, "tok")
	stack := newAPIStack(t, tdb.DB, stub.URL())
	client := stack.client(t, testutil.TestTenantID(), auth.PermissionConnectionsRead, auth.PermissionFieldsRead)

	w := client.Do(t, http.MethodPost, "/api/v1/crm/connections", map[string]any{
		"crm_type":    "hubspot",
		"credentials": map[string]any{"access_token": "tok"},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, stub.Hits("/crm/v3/objects/contacts/search"))

	w = client.Do(t, http.MethodGet, "/api/v1/crm/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	providers := testutil.DataAs[handler.ProvidersResponse](t, w)
	assert.Equal(t, []integration.CRMType{integration.CRMTypeHubSpot}, providers.CRMTypes)
}

// Storage failures surface as a generic 500 without leaking driver errors.
// Runs against sqlmock, so it needs no containers.
func TestCRMAPI_StorageFailureIsInternalError(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	mockDB.Mock.ExpectQuery(`SELECT \* FROM "crm_connections"`).
		WillReturnError(errors.New("pq: connection reset by peer"))

	stack := newAPIStack(t, mockDB.DB, "http://127.0.0.1:1")
	client := stack.client(t, testutil.TestTenantID(), testutil.AllPermissions...)

	w := client.Do(t, http.MethodGet, "/api/v1/crm/connections", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	testutil.AssertErrorResponse(t, w, dto.ErrCodeInternal)
	assert.False(t, strings.Contains(w.Body.String(), "connection reset"))
	mockDB.ExpectationsWereMet(t)
}
