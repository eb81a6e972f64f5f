package crm

import (
	"errors"
	"strings"
	"time"
)

// HubSpotConfig holds application-wide settings for the HubSpot adapter.
// Per-connection secrets come from the vault, not from here.
type HubSpotConfig struct {
	// ClientID and ClientSecret identify the OAuth app used to refresh tokens
	ClientID     string
	ClientSecret string
	// APIBaseURL is the CRM API root
	APIBaseURL string
	// AuthBaseURL is the OAuth API root
	AuthBaseURL string
	// Timeout bounds every HTTP round trip
	Timeout time.Duration
}

const (
	// HubSpotAPIBaseURL is the production API endpoint
	HubSpotAPIBaseURL = "https://api.hubapi.com"
	// HubSpotDefaultTimeout is applied when Timeout is unset
	HubSpotDefaultTimeout = 30 * time.Second
)

// ErrHubSpotConfigInvalidURL is returned for a base URL without a scheme.
var ErrHubSpotConfigInvalidURL = errors.New("hubspot: base URL must start with http:// or https://")

// DefaultHubSpotConfig returns production settings with no OAuth app.
func DefaultHubSpotConfig() *HubSpotConfig {
	return &HubSpotConfig{
		APIBaseURL:  HubSpotAPIBaseURL,
		AuthBaseURL: HubSpotAPIBaseURL,
		Timeout:     HubSpotDefaultTimeout,
	}
}

// Validate fills in defaults and checks the base URLs.
func (c *HubSpotConfig) Validate() error {
	if c.APIBaseURL == "" {
		c.APIBaseURL = HubSpotAPIBaseURL
	}
	if c.AuthBaseURL == "" {
		c.AuthBaseURL = c.APIBaseURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	c.AuthBaseURL = strings.TrimRight(c.AuthBaseURL, "/")
	for _, u := range []string{c.APIBaseURL, c.AuthBaseURL} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return ErrHubSpotConfigInvalidURL
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = HubSpotDefaultTimeout
	}
	return nil
}

// HasOAuthApp reports whether token refresh is possible at all.
func (c *HubSpotConfig) HasOAuthApp() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// TokenURL is the OAuth token endpoint
func (c *HubSpotConfig) TokenURL() string {
	return c.AuthBaseURL + "/oauth/v1/token"
}
