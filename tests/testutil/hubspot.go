package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

// HubSpotProperty is a property definition served by HubSpotStub.
type HubSpotProperty struct {
	Name           string          `json:"name"`
	Label          string          `json:"label"`
	Type           string          `json:"type"`
	FieldType      string          `json:"fieldType"`
	Description    string          `json:"description,omitempty"`
	Options        []HubSpotOption `json:"options,omitempty"`
	HubspotDefined bool            `json:"hubspotDefined"`
}

// HubSpotOption is one option of an enumeration property.
type HubSpotOption struct {
	Label        string `json:"label"`
	Value        string `json:"value"`
	DisplayOrder int    `json:"displayOrder"`
}

// HubSpotStub is an in-process HubSpot API covering the calls the gateway
// makes to test, refresh, discover and revoke.
// Requests are accepted only with the current access token.
type HubSpotStub struct {
	Server *httptest.Server

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	nextToken    string
	properties   map[string][]HubSpotProperty
	hits         map[string]int
	revoked      []string
}

// NewHubSpotStub starts a stub accepting accessToken.
// The server is closed when the test finishes.
func NewHubSpotStub(t *testing.T, accessToken string) *HubSpotStub {
	t.Helper()

	s := &HubSpotStub{
		accessToken: accessToken,
		properties:  map[string][]HubSpotProperty{},
		hits:        map[string]int{},
	}

	engine := gin.New()
	api := engine.Group("/crm/v3", s.requireToken)
	api.GET("/objects/:object", s.listObjects)
	api.POST("/objects/:object/search", s.searchObjects)
	api.GET("/properties/:object", s.listProperties)
	engine.POST("/oauth/v1/token", s.exchangeToken)
	engine.DELETE("/oauth/v1/refresh-tokens/:token", s.revokeToken)

	s.Server = httptest.NewServer(engine)
	t.Cleanup(s.Server.Close)
	return s
}

// URL is the base URL for both the CRM and OAuth APIs.
func (s *HubSpotStub) URL() string {
	return s.Server.URL
}

// SetProperties replaces the schema served for a HubSpot object name such as "contacts".
func (s *HubSpotStub) SetProperties(object string, props ...HubSpotProperty) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[object] = props
}

// RotateToken invalidates the current access token. The refresh token
// exchange hands out next.
func (s *HubSpotStub) RotateToken(refreshToken, next string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.refreshToken = refreshToken
	s.nextToken = next
}

// Hits returns how many authorized requests reached the path.
func (s *HubSpotStub) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Revoked returns the refresh tokens revoked so far.
func (s *HubSpotStub) Revoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revoked...)
}

func (s *HubSpotStub) requireToken(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")

	s.mu.Lock()
	valid := s.accessToken != "" && token == s.accessToken
	if valid {
		s.hits[c.Request.URL.Path]++
	}
	s.mu.Unlock()

	if !valid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"status":        "error",
			"message":       "Authentication credentials not found.",
			"correlationId": "stub-correlation",
			"category":      "INVALID_AUTHENTICATION",
		})
		return
	}
	c.Next()
}

func (s *HubSpotStub) listObjects(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"results": []any{}})
}

func (s *HubSpotStub) searchObjects(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"total": 0, "results": []any{}})
}

func (s *HubSpotStub) listProperties(c *gin.Context) {
	s.mu.Lock()
	props := s.properties[c.Param("object")]
	s.mu.Unlock()

	if props == nil {
		props = []HubSpotProperty{}
	}
	c.JSON(http.StatusOK, gin.H{"results": props})
}

func (s *HubSpotStub) exchangeToken(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.PostForm("grant_type") != "refresh_token" || s.nextToken == "" || c.PostForm("refresh_token") != s.refreshToken {
		c.JSON(http.StatusBadRequest, gin.H{"status": "BAD_REFRESH_TOKEN", "message": "missing or unknown refresh token"})
		return
	}

	s.accessToken = s.nextToken
	s.nextToken = ""
	c.JSON(http.StatusOK, gin.H{
		"access_token":  s.accessToken,
		"refresh_token": s.refreshToken,
		"token_type":    "bearer",
		"expires_in":    1800,
	})
}

func (s *HubSpotStub) revokeToken(c *gin.Context) {
	s.mu.Lock()
	s.revoked = append(s.revoked, c.Param("token"))
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}
