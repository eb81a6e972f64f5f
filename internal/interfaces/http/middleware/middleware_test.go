package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crmgateway/backend/internal/infrastructure/auth"
	"github.com/crmgateway/backend/internal/infrastructure/config"
	"github.com/crmgateway/backend/internal/infrastructure/logger"
	"github.com/crmgateway/backend/internal/interfaces/http/dto"
	"github.com/crmgateway/backend/internal/interfaces/http/middleware"
	"github.com/crmgateway/backend/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestRequestID(t *testing.T) {
	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, middleware.GetRequestID(c)+"|"+logger.GetRequestID(c.Request.Context()))
	})

	t.Run("propagates caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.RequestIDHeader, "req-abc")
		w := serve(engine, req)

		assert.Equal(t, "req-abc", w.Header().Get(middleware.RequestIDHeader))
		assert.Equal(t, "req-abc|req-abc", w.Body.String())
	})

	t.Run("generates id", func(t *testing.T) {
		w := serve(engine, httptest.NewRequest(http.MethodGet, "/", nil))
		_, err := uuid.Parse(w.Header().Get(middleware.RequestIDHeader))
		assert.NoError(t, err)
	})

	t.Run("replaces oversized id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.RequestIDHeader, strings.Repeat("x", 500))
		w := serve(engine, req)
		assert.Len(t, w.Header().Get(middleware.RequestIDHeader), 36)
	})
}

func authEngine(jwtService *auth.JWTService, perms ...string) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.RequestID())
	cfg := middleware.DefaultJWTConfig(jwtService)
	engine.Use(middleware.JWTAuthMiddlewareWithConfig(cfg), middleware.TenantMiddleware())
	guard := middleware.RequireAnyPermissionWithConfig(middleware.PermissionConfig{}, perms...)

	engine.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/api/v1/crm/connections", guard, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tenant": middleware.GetTenantID(c),
			"user":   middleware.GetJWTUserID(c),
			"ctx":    logger.GetTenantID(c.Request.Context()),
		})
	})
	return engine
}

func TestJWTAuth(t *testing.T) {
	jwtService := testutil.NewJWTService()
	engine := authEngine(jwtService, auth.PermissionConnectionsRead)
	tenantID := testutil.TestTenantID()

	get := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/crm/connections", nil)
		if authorization != "" {
			req.Header.Set(middleware.AuthHeaderKey, authorization)
		}
		return serve(engine, req)
	}

	t.Run("valid token", func(t *testing.T) {
		token := testutil.IssueToken(t, jwtService, tenantID, auth.PermissionConnectionsRead)
		w := get(middleware.BearerPrefix + token)

		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tenantID.String(), body["tenant"])
		assert.Equal(t, tenantID.String(), body["ctx"])
		assert.Equal(t, testutil.TestUserID().String(), body["user"])
	})

	t.Run("missing header", func(t *testing.T) {
		w := get("")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, dto.ErrCodeUnauthorized, errorCode(t, w))
	})

	t.Run("wrong scheme", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get("Basic dXNlcjpwYXNz").Code)
	})

	t.Run("bad signature", func(t *testing.T) {
		other := auth.NewJWTService(config.JWTConfig{Secret: "another-secret-of-sufficient-length", Issuer: "crm-gateway-test", AccessTokenExpiration: time.Minute})
		token := testutil.IssueToken(t, other, tenantID, auth.PermissionConnectionsRead)
		w := get(middleware.BearerPrefix + token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, dto.ErrCodeUnauthorized, errorCode(t, w))
	})

	t.Run("expired", func(t *testing.T) {
		expired := auth.NewJWTService(config.JWTConfig{Secret: "testutil-secret-key-at-least-32-chars", Issuer: "crm-gateway-test", AccessTokenExpiration: -time.Minute})
		token := testutil.IssueToken(t, expired, tenantID, auth.PermissionConnectionsRead)
		w := get(middleware.BearerPrefix + token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, dto.ErrCodeTokenExpired, errorCode(t, w))
	})

	t.Run("missing permission", func(t *testing.T) {
		token := testutil.IssueToken(t, jwtService, tenantID, auth.PermissionFieldsRead)
		w := get(middleware.BearerPrefix + token)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, dto.ErrCodeForbidden, errorCode(t, w))
	})

	t.Run("skipped path", func(t *testing.T) {
		w := serve(engine, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestPermissionGuard_WithoutClaims(t *testing.T) {
	engine := gin.New()
	engine.GET("/", middleware.RequirePermissionWithConfig(auth.PermissionFieldsDiscover, middleware.PermissionConfig{}),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(engine, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTenantMiddleware(t *testing.T) {
	jwtService := testutil.NewJWTService()
	tenantID := testutil.TestTenantID()
	token := testutil.IssueToken(t, jwtService, tenantID, auth.PermissionConnectionsRead)

	headerOnly := gin.New()
	headerOnly.Use(middleware.TenantMiddleware())
	headerOnly.GET("/x", func(c *gin.Context) {
		id, err := middleware.GetTenantUUID(c)
		require.NoError(t, err)
		c.String(http.StatusOK, id.String())
	})

	withJWT := authEngine(jwtService, auth.PermissionConnectionsRead)

	tests := []struct {
		name       string
		engine     *gin.Engine
		path       string
		token      string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"header only", headerOnly, "/x", "", strings.ToUpper(tenantID.String()), http.StatusOK, ""},
		{"no tenant", headerOnly, "/x", "", "", http.StatusUnauthorized, dto.ErrCodeUnauthorized},
		{"malformed header", headerOnly, "/x", "", "acme", http.StatusBadRequest, dto.ErrCodeValidation},
		{"matching header", withJWT, "/api/v1/crm/connections", token, tenantID.String(), http.StatusOK, ""},
		{"conflicting header", withJWT, "/api/v1/crm/connections", token, uuid.NewString(), http.StatusForbidden, dto.ErrCodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set(middleware.AuthHeaderKey, middleware.BearerPrefix+tt.token)
			}
			if tt.header != "" {
				req.Header.Set(middleware.TenantHeaderKey, tt.header)
			}
			w := serve(tt.engine, req)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, w))
			}
		})
	}

	t.Run("header tenant is normalized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(middleware.TenantHeaderKey, strings.ToUpper(tenantID.String()))
		assert.Equal(t, tenantID.String(), serve(headerOnly, req).Body.String())
	})
}

func TestGetTenantUUID_Unset(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	id, err := middleware.GetTenantUUID(c)
	assert.NoError(t, err)
	assert.Equal(t, uuid.Nil, id)
}

func TestSecure(t *testing.T) {
	engine := gin.New()
	engine.Use(middleware.Secure())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(engine, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
}

func TestCORSWithConfig(t *testing.T) {
	newEngine := func(cfg middleware.CORSConfig) *gin.Engine {
		engine := gin.New()
		engine.Use(middleware.CORSWithConfig(cfg))
		engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
		return engine
	}
	request := func(method, origin string) *http.Request {
		req := httptest.NewRequest(method, "/", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return req
	}

	listed := newEngine(middleware.CORSConfig{
		AllowOrigins:     []string{"https://app.example.com"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Authorization"},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           time.Hour,
	})

	w := serve(listed, request(http.MethodGet, "https://app.example.com"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, middleware.RequestIDHeader, w.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "3600", w.Header().Get("Access-Control-Max-Age"))

	w = serve(listed, request(http.MethodGet, "https://evil.example.com"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(listed, request(http.MethodOptions, "https://evil.example.com"))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	wildcard := newEngine(middleware.CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true})
	w = serve(wildcard, request(http.MethodOptions, "https://any.example.com"))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))

	none := newEngine(middleware.CORSConfig{})
	w = serve(none, request(http.MethodGet, "https://app.example.com"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestBodyLimit(t *testing.T) {
	engine := gin.New()
	engine.Use(middleware.RequestID(), middleware.BodyLimit(16))
	engine.POST("/", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	w := serve(engine, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(engine, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"credentials":"too long"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, dto.ErrCodePayloadTooLarge, errorCode(t, w))

	streamed := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"credentials":"too long"}`))
	streamed.ContentLength = -1
	w = serve(engine, streamed)
	assert.Equal(t, http.StatusBadRequest, w.Code, "reader stops at the limit")
}
