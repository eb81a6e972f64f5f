package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newObservedEngine(level zapcore.Level) (*gin.Engine, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	base := zap.New(core)

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Request-ID"); id != "" {
			ctx, _ := WithRequestID(c.Request.Context(), FromContext(c.Request.Context()), id)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	})
	engine.Use(Recovery(base), GinMiddleware(base))
	return engine, logs
}

func serve(engine *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestGinMiddleware_AccessLogLevels(t *testing.T) {
	engine, logs := newObservedEngine(zapcore.InfoLevel)
	engine.GET("/api/v1/crm/connections/:id", func(c *gin.Context) {
		switch c.Param("id") {
		case "missing":
			c.Status(http.StatusNotFound)
		case "broken":
			c.Status(http.StatusBadGateway)
		default:
			c.Status(http.StatusOK)
		}
	})

	serve(engine, http.MethodGet, "/api/v1/crm/connections/ok", nil)
	serve(engine, http.MethodGet, "/api/v1/crm/connections/missing", nil)
	serve(engine, http.MethodGet, "/api/v1/crm/connections/broken", nil)

	entries := logs.FilterMessage("HTTP request").All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)

	fields := entries[1].ContextMap()
	assert.Equal(t, "/api/v1/crm/connections/:id", fields["route"])
	assert.Equal(t, int64(http.StatusNotFound), fields["status"])
	assert.Equal(t, http.MethodGet, fields["method"])
}

func TestGinMiddleware_RequestLoggerInContext(t *testing.T) {
	engine, logs := newObservedEngine(zapcore.DebugLevel)
	engine.GET("/work", func(c *gin.Context) {
		assert.Same(t, GetGinLogger(c), FromContext(c.Request.Context()))
		ctx, _ := WithTenantID(c.Request.Context(), FromContext(c.Request.Context()), "tenant-7")
		c.Request = c.Request.WithContext(ctx)
		FromContext(ctx).Debug("discovering fields")
		c.Status(http.StatusNoContent)
	})

	serve(engine, http.MethodGet, "/work", http.Header{"X-Request-Id": {"req-42"}})

	inner := logs.FilterMessage("discovering fields").All()
	require.Len(t, inner, 1)
	assert.Equal(t, "req-42", inner[0].ContextMap()["request_id"])
	assert.Equal(t, "tenant-7", inner[0].ContextMap()["tenant_id"])

	access := logs.FilterMessage("HTTP request").All()
	require.Len(t, access, 1)
	assert.Equal(t, "tenant-7", access[0].ContextMap()["tenant_id"])
}

func TestRecovery(t *testing.T) {
	engine, logs := newObservedEngine(zapcore.InfoLevel)
	engine.GET("/panic", func(c *gin.Context) {
		panic("vault exploded")
	})

	w := serve(engine, http.MethodGet, "/panic", http.Header{"X-Request-Id": {"req-9"}})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "ERR_INTERNAL")

	panics := logs.FilterMessage("Panic recovered").All()
	require.Len(t, panics, 1)
	assert.Equal(t, "req-9", panics[0].ContextMap()["request_id"])
	assert.Equal(t, "vault exploded", panics[0].ContextMap()["panic"])
}

func TestGetGinLogger_NotSet(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.NotNil(t, GetGinLogger(c))
}
