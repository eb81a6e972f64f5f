package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime/pprof"
	"testing"

	"github.com/crmgateway/backend/internal/infrastructure/telemetry"
	"github.com/crmgateway/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func useSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

// tenantStub stands in for JWT and tenant resolution
func tenantStub(tenantID, userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.TenantIDKey, tenantID)
		c.Set(middleware.JWTUserIDKey, userID)
		c.Next()
	}
}

func TestTracingWithRequestAttributes(t *testing.T) {
	recorder := useSpanRecorder(t)

	engine := gin.New()
	engine.Use(middleware.RequestID(), middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: "crm-gateway-test",
		Enabled:     true,
		SkipPaths:   []string{"/health"},
	}))
	engine.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	api := engine.Group("/api/v1", tenantStub("tenant-1", "user-1"),
		middleware.RequestAttributes(middleware.RequestAttributesConfig{}))
	api.GET("/crm/connections/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/crm/connections/42", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-7")
	serve(engine, req)
	serve(engine, httptest.NewRequest(http.MethodGet, "/health", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1, "health checks are not traced")
	assert.Contains(t, spans[0].Name(), "/api/v1/crm/connections/:id")

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "req-7", attrs["request_id"])
	assert.Equal(t, "tenant-1", attrs["tenant_id"])
	assert.Equal(t, "user-1", attrs["user_id"])
}

func TestTracingDisabled(t *testing.T) {
	recorder := useSpanRecorder(t)

	engine := gin.New()
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{Enabled: false}))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(engine, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, recorder.Ended())
}

func TestRequestAttributes_ProfilingLabels(t *testing.T) {
	engine := gin.New()
	engine.Use(tenantStub("tenant-9", ""), middleware.RequestAttributes(middleware.RequestAttributesConfig{Profiling: true}))

	labels := map[string]string{}
	engine.POST("/api/v1/crm/connections/:id/discover", func(c *gin.Context) {
		pprof.ForLabels(c.Request.Context(), func(key, value string) bool {
			labels[key] = value
			return true
		})
		c.Status(http.StatusAccepted)
	})

	w := serve(engine, httptest.NewRequest(http.MethodPost, "/api/v1/crm/connections/1/discover", nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, map[string]string{
		telemetry.ProfilingLabelMethod:     http.MethodPost,
		telemetry.ProfilingLabelRoute:      "/api/v1/crm/connections/:id/discover",
		telemetry.ProfilingLabelController: "connections",
		telemetry.ProfilingLabelTenantID:   "tenant-9",
	}, labels)
}

func TestHTTPMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	engine := gin.New()
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		Meter:   provider.Meter("http.server"),
		Enabled: true,
	}))
	engine.GET("/api/v1/crm/providers", tenantStub("tenant-1", ""), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"crm_types": []string{"hubspot"}})
	})

	serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/crm/providers", nil))
	serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/crm/providers", nil))
	serve(engine, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	total, ok := byName["http_server_request_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	counts := map[string]int64{}
	for _, dp := range total.DataPoints {
		route, _ := dp.Attributes.Value(telemetry.AttrHTTPRoute)
		counts[route.AsString()] += dp.Value
		if route.AsString() == "/api/v1/crm/providers" {
			tenant, _ := dp.Attributes.Value(telemetry.AttrTenantID)
			assert.Equal(t, "tenant-1", tenant.AsString())
		}
	}
	assert.Equal(t, map[string]int64{"/api/v1/crm/providers": 2, "unknown": 1}, counts)

	inFlight, ok := byName["http_server_active_requests"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range inFlight.DataPoints {
		assert.Zero(t, dp.Value)
	}
	assert.Contains(t, byName, "http_server_request_duration_seconds")
	assert.Contains(t, byName, "http_server_response_size_bytes")
}

func TestHTTPMetrics_Disabled(t *testing.T) {
	engine := gin.New()
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{Enabled: true}))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(engine, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}
