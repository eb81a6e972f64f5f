package main

import (
	"context"
	"time"

	"github.com/crmgateway/backend/internal/infrastructure/config"
	"github.com/crmgateway/backend/internal/infrastructure/telemetry"
	"github.com/crmgateway/backend/internal/interfaces/http/handler"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const telemetryShutdownTimeout = 10 * time.Second

// observability bundles the OTLP providers and the profiler
type observability struct {
	providers *telemetry.Providers
	profiler  *telemetry.Profiler
}

// startObservability brings up OTLP export and profiling. Neither is fatal:
// on failure the gateway runs with the global no-op providers. The returned
// logger also ships warnings and above to the collector.
func startObservability(ctx context.Context, cfg *config.Config, log *zap.Logger) (*observability, *zap.Logger) {
	tc := cfg.Telemetry
	obs := &observability{}

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		Insecure:          tc.Insecure,
		ServiceName:       tc.ServiceName,
		ServiceVersion:    handler.Version,
		SamplingRatio:     tc.SamplingRatio,
	}, log)
	if err != nil {
		log.Warn("Telemetry unavailable, continuing without export", zap.Error(err))
		providers, _ = telemetry.Setup(ctx, telemetry.Config{}, log)
	}
	obs.providers = providers
	log = providers.BridgeLogger(log, zapcore.WarnLevel)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         tc.ProfilingEnabled,
		ServerAddress:   tc.PyroscopeEndpoint,
		ApplicationName: tc.ServiceName,
	}, log)
	if err != nil {
		log.Warn("Profiler unavailable", zap.Error(err))
		return obs, log
	}
	obs.profiler = profiler
	if profiler.Enabled() {
		providers.EnableSpanProfiles()
	}
	return obs, log
}

func (o *observability) shutdown(log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()

	if o.profiler != nil {
		if err := o.profiler.Stop(); err != nil {
			log.Error("Profiler stop failed", zap.Error(err))
		}
	}
	if err := o.providers.Shutdown(ctx); err != nil {
		log.Error("Telemetry flush failed", zap.Error(err))
	}
}
