package crm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmgateway/backend/internal/domain/integration"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.List())

	ctor := HubSpotConstructor(DefaultHubSpotConfig())
	require.NoError(t, r.Register(integration.CRMTypeHubSpot, ctor))

	assert.True(t, r.Has(integration.CRMTypeHubSpot))
	assert.False(t, r.Has(integration.CRMTypeSalesforce))
	assert.Equal(t, []integration.CRMType{integration.CRMTypeHubSpot}, r.List())

	assert.Error(t, r.Register(integration.CRMTypeHubSpot, ctor), "duplicate registration")
	assert.Error(t, r.Register("", ctor))
	assert.Error(t, r.Register(integration.CRMTypePipedrive, nil))

	_, err := r.Get(integration.CRMTypeSalesforce)
	assert.ErrorIs(t, err, integration.ErrUnsupportedCRMType)

	_, err = r.NewProvider(integration.CRMType("zoho"), nil)
	assert.ErrorIs(t, err, integration.ErrUnsupportedCRMType)
}

func TestNewDefaultRegistry(t *testing.T) {
	r, err := NewDefaultRegistry(&HubSpotConfig{APIBaseURL: "https://api.example.test"})
	require.NoError(t, err)

	provider, err := r.NewProvider(integration.CRMTypeHubSpot, map[string]any{"portal_id": "42"})
	require.NoError(t, err)
	assert.Equal(t, integration.CRMTypeHubSpot, provider.CRMType())

	adapter, ok := provider.(*HubSpotAdapter)
	require.True(t, ok)
	assert.Equal(t, "https://api.example.test", adapter.config.APIBaseURL)

	_, err = NewDefaultRegistry(&HubSpotConfig{APIBaseURL: "not-a-url"})
	assert.ErrorIs(t, err, ErrHubSpotConfigInvalidURL)
}

func TestHubSpotConstructor_IgnoresEndpointsFromConnectionConfig(t *testing.T) {
	var hits atomic.Int32
	tenantHost := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer tenantHost.Close()

	var operatorHits atomic.Int32
	operator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operatorHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer operator.Close()

	r, err := NewDefaultRegistry(&HubSpotConfig{APIBaseURL: operator.URL})
	require.NoError(t, err)

	provider, err := r.NewProvider(integration.CRMTypeHubSpot, map[string]any{
		"api_base_url":  tenantHost.URL,
		"auth_base_url": tenantHost.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, operator.URL, provider.(*HubSpotAdapter).config.APIBaseURL)

	require.NoError(t, provider.Authenticate(context.Background(), integration.Credentials{AccessToken: "secret-tenant-token"}))
	assert.Zero(t, hits.Load(), "the bearer token must never reach a tenant-chosen host")
	assert.Positive(t, operatorHits.Load())
}
