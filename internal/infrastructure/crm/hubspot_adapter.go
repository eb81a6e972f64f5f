// Package crm contains the CRM vendor adapters behind integration.Provider.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/crmgateway/backend/internal/domain/integration"
)

// maxResponseSize is the maximum allowed response size from the HubSpot API (10MB)
const maxResponseSize = 10 * 1024 * 1024

// HubSpotAdapter implements integration.Provider against the HubSpot CRM v3 API.
// One adapter serves one connection. It classifies errors but never retries.
type HubSpotAdapter struct {
	config *HubSpotConfig
	// base is the transport underneath the bearer client; tests swap it
	base *http.Client

	mu     sync.RWMutex
	creds  integration.Credentials
	client *http.Client
}

var _ integration.Provider = (*HubSpotAdapter)(nil)

// NewHubSpotAdapter creates an unauthenticated adapter
func NewHubSpotAdapter(config *HubSpotConfig) (*HubSpotAdapter, error) {
	if config == nil {
		config = DefaultHubSpotConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &HubSpotAdapter{
		config: config,
		base:   &http.Client{Timeout: config.Timeout},
	}, nil
}

// CRMType returns the adapter's registry tag
func (a *HubSpotAdapter) CRMType() integration.CRMType {
	return integration.CRMTypeHubSpot
}

// Credentials returns the current in-memory credential set
func (a *HubSpotAdapter) Credentials() integration.Credentials {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.creds
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

// Authenticate stores the credentials and probes them with a one-record read.
// A refresh-token-only set is kept so RefreshAuthentication can still run.
func (a *HubSpotAdapter) Authenticate(ctx context.Context, creds integration.Credentials) error {
	a.setCredentials(ctx, creds)
	if creds.BearerToken() == "" {
		return fmt.Errorf("%w: no access token or private app key", integration.ErrAuthenticationFailed)
	}

	var page hubspotListResponse
	if err := a.doJSON(ctx, http.MethodGet, "/crm/v3/objects/contacts?limit=1", nil, &page); err != nil {
		return err
	}
	return nil
}

// RefreshAuthentication exchanges the stored refresh token for a new access token.
func (a *HubSpotAdapter) RefreshAuthentication(ctx context.Context) error {
	current := a.Credentials()
	if current.RefreshToken == "" {
		return integration.ErrNoRefreshToken
	}
	if !a.config.HasOAuthApp() {
		return fmt.Errorf("%w: hubspot OAuth client is not configured", integration.ErrConfiguration)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     a.config.ClientID,
		ClientSecret: a.config.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  a.config.TokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.base)
	token, err := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	if err != nil {
		return classifyTokenError(err)
	}

	refreshed := current
	refreshed.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		refreshed.RefreshToken = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		refreshed.ExpiresAt = &expiry
	}
	a.setCredentials(ctx, refreshed)
	return nil
}

// Disconnect revokes the refresh token when one exists and forgets the credentials.
func (a *HubSpotAdapter) Disconnect(ctx context.Context) error {
	current := a.Credentials()
	defer a.clearCredentials()

	if current.RefreshToken == "" {
		return nil
	}

	endpoint := a.config.AuthBaseURL + "/oauth/v1/refresh-tokens/" + url.PathEscape(current.RefreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("hubspot: failed to create request: %w", err)
	}
	resp, err := a.base.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))

	// An already revoked token is not an error
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode < 300 {
		return nil
	}
	return classifyResponse(resp.StatusCode, resp.Header, body)
}

func (a *HubSpotAdapter) setCredentials(ctx context.Context, creds integration.Credentials) {
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: creds.BearerToken(),
		TokenType:   "Bearer",
	})
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, a.base), src)
	client.Timeout = a.config.Timeout

	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = creds
	a.client = client
}

func (a *HubSpotAdapter) clearCredentials() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = integration.Credentials{}
	a.client = nil
}

func (a *HubSpotAdapter) httpClient() (*http.Client, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, fmt.Errorf("%w: hubspot adapter is not authenticated", integration.ErrAuthenticationFailed)
	}
	return a.client, nil
}

// ---------------------------------------------------------------------------
// Internal Helpers
// ---------------------------------------------------------------------------

// doJSON performs an authenticated request and decodes the response into out.
func (a *HubSpotAdapter) doJSON(ctx context.Context, method, path string, in, out any) error {
	client, err := a.httpClient()
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("hubspot: failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.config.APIBaseURL+path, body)
	if err != nil {
		return fmt.Errorf("hubspot: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return transportError(ctx, err)
	}

	if resp.StatusCode >= 300 {
		return classifyResponse(resp.StatusCode, resp.Header, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &integration.ProviderAPIError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("invalid response body: %v", err),
		}
	}
	return nil
}

// transportError keeps context cancellation visible to the caller's classifier
// and marks everything else as a transient provider failure.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("hubspot: request aborted: %w", ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("hubspot: request timed out: %w", context.DeadlineExceeded)
	}
	return &integration.ProviderAPIError{Message: err.Error(), Transient: true}
}

// classifyResponse turns a non-2xx HubSpot response into the error taxonomy.
// This is the only place vendor failures are interpreted.
func classifyResponse(status int, header http.Header, body []byte) error {
	var payload hubspotError
	_ = json.Unmarshal(body, &payload)

	message := payload.Message
	if message == "" {
		message = strings.TrimSpace(http.StatusText(status))
	}

	switch {
	case status == http.StatusTooManyRequests || payload.Category == hubspotCategoryRateLimits:
		return &integration.RateLimitError{
			RetryAfter: parseRetryAfter(header.Get("Retry-After"), time.Now()),
			Message:    payload.Message,
		}
	case payload.Category == hubspotCategoryMissingScopes:
		return &integration.PermissionError{
			MissingScopes: missingScopes(payload),
			Message:       payload.Message,
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", integration.ErrAuthenticationFailed, message)
	default:
		return &integration.ProviderAPIError{
			Status:        status,
			Message:       message,
			CorrelationID: payload.CorrelationID,
			Transient:     status >= 500,
		}
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return integration.DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
		return 0
	}
	return integration.DefaultRetryAfter
}

// missingScopes collects required scopes reported anywhere in the payload.
func missingScopes(payload hubspotError) []string {
	seen := make(map[string]struct{})
	var scopes []string
	collect := func(ctx map[string][]string) {
		for _, key := range []string{"requiredScopes", "requiredGranularScopes"} {
			for _, scope := range ctx[key] {
				if _, dup := seen[scope]; dup || scope == "" {
					continue
				}
				seen[scope] = struct{}{}
				scopes = append(scopes, scope)
			}
		}
	}
	collect(payload.Context)
	for _, detail := range payload.Errors {
		collect(detail.Context)
	}
	return scopes
}

// classifyTokenError maps a failed refresh-token grant.
func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		switch {
		case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden:
			msg := retrieveErr.ErrorDescription
			if msg == "" {
				msg = retrieveErr.ErrorCode
			}
			if msg == "" {
				msg = "refresh token rejected"
			}
			return fmt.Errorf("%w: %s", integration.ErrAuthenticationFailed, msg)
		default:
			return classifyResponse(status, retrieveErr.Response.Header, retrieveErr.Body)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("hubspot: token refresh aborted: %w", err)
	}
	return &integration.ProviderAPIError{Message: fmt.Sprintf("token refresh failed: %v", err), Transient: true}
}
