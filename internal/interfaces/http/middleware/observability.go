package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/crmgateway/backend/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracingConfig configures TracingWithConfig
type TracingConfig struct {
	ServiceName string
	Enabled     bool
	// SkipPaths are served without a server span
	SkipPaths []string
}

// TracingWithConfig starts a server span per request through otelgin. The
// span has ended once this middleware returns; caller attributes are added
// by RequestAttributes further down the chain.
func TracingWithConfig(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return passThrough
	}
	traced := otelgin.Middleware(cfg.ServiceName)
	return func(c *gin.Context) {
		if pathSkipped(c.Request.URL.Path, cfg.SkipPaths) {
			c.Next()
			return
		}
		traced(c)
	}
}

// RequestAttributesConfig configures RequestAttributes
type RequestAttributesConfig struct {
	// Profiling tags CPU samples with route, method and tenant labels
	Profiling bool
}

// RequestAttributes copies the request id, tenant and user onto the server
// span and, with profiling on, into pprof labels for the rest of the chain.
// It must run after tenant resolution.
func RequestAttributes(cfg RequestAttributesConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			attrs := make([]attribute.KeyValue, 0, 3)
			for key, value := range map[string]string{
				"request_id": GetRequestID(c),
				"tenant_id":  GetTenantID(c),
				"user_id":    GetJWTUserID(c),
			} {
				if value != "" {
					attrs = append(attrs, attribute.String(key, value))
				}
			}
			span.SetAttributes(attrs...)
		}

		if !cfg.Profiling {
			c.Next()
			return
		}
		route := c.FullPath()
		labels := map[string]string{
			telemetry.ProfilingLabelMethod:     c.Request.Method,
			telemetry.ProfilingLabelRoute:      route,
			telemetry.ProfilingLabelController: controllerFromRoute(route),
			telemetry.ProfilingLabelTenantID:   GetTenantID(c),
		}
		telemetry.WithProfilingLabels(c.Request.Context(), labels, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

// controllerFromRoute names the resource a route addresses: the last static
// segment before the first parameter.
// "/api/v1/crm/connections/:id/fields" -> "connections"
func controllerFromRoute(route string) string {
	last := ""
	for _, part := range strings.Split(route, "/") {
		switch {
		case part == "", part == "api", isVersionSegment(part):
			continue
		case strings.HasPrefix(part, ":"), strings.HasPrefix(part, "*"):
			return last
		}
		last = part
	}
	return last
}

func isVersionSegment(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// HTTPMetricsConfig configures HTTPMetrics
type HTTPMetricsConfig struct {
	Meter   metric.Meter
	Enabled bool
	Logger  *zap.Logger
}

type httpInstruments struct {
	requests     *telemetry.Counter
	duration     *telemetry.Histogram
	responseSize *telemetry.Histogram
	inFlight     metric.Int64UpDownCounter
}

func newHTTPInstruments(meter metric.Meter) (*httpInstruments, error) {
	requests, err := telemetry.NewCounter(meter, "http_server_request_total", "HTTP requests served", "{request}")
	if err != nil {
		return nil, err
	}
	duration, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_duration_seconds",
		Description: "HTTP request latency",
		Unit:        "s",
		Boundaries:  telemetry.HTTPDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	responseSize, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_response_size_bytes",
		Description: "HTTP response body size",
		Unit:        "By",
		Boundaries:  []float64{100, 1000, 10000, 100000, 1000000},
	})
	if err != nil {
		return nil, err
	}
	inFlight, err := meter.Int64UpDownCounter("http_server_active_requests",
		metric.WithDescription("HTTP requests in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	return &httpInstruments{requests: requests, duration: duration, responseSize: responseSize, inFlight: inFlight}, nil
}

// HTTPMetrics records request count, latency, response size and in-flight
// requests. Series are keyed by route pattern; unmatched paths share "unknown".
func HTTPMetrics(cfg HTTPMetricsConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.Meter == nil {
		return passThrough
	}
	m, err := newHTTPInstruments(cfg.Meter)
	if err != nil {
		if cfg.Logger != nil {
			cfg.Logger.Error("HTTP metrics disabled", zap.Error(err))
		}
		return passThrough
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()
		m.inFlight.Add(ctx, 1)

		c.Next()

		m.inFlight.Add(ctx, -1)
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		base := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(route),
		}
		counted := append([]attribute.KeyValue{telemetry.AttrHTTPStatusCode.Int(c.Writer.Status())}, base...)
		if tenant := GetTenantID(c); tenant != "" {
			counted = append(counted, telemetry.AttrTenantID.String(tenant))
		}

		m.requests.Inc(ctx, counted...)
		m.duration.RecordDuration(ctx, time.Since(start), base...)
		if size := c.Writer.Size(); size > 0 {
			m.responseSize.Record(ctx, float64(size), base...)
		}
	}
}

func passThrough(c *gin.Context) { c.Next() }
