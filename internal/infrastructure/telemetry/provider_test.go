package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), Config{}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Meter("test"))

	log := zap.NewNop()
	assert.Same(t, log, p.BridgeLogger(log, zapcore.InfoLevel))
	p.EnableSpanProfiles()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_Enabled(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	p, err := Setup(context.Background(), Config{
		Enabled:           true,
		CollectorEndpoint: "127.0.0.1:4317",
		Insecure:          true,
		ServiceName:       "crm-gateway-test",
		ServiceVersion:    "test",
		SamplingRatio:     1,
		MetricInterval:    time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	core, logs := observer.New(zapcore.DebugLevel)
	bridged := p.BridgeLogger(zap.New(core), zapcore.WarnLevel)
	bridged.Info("still written to the base core")
	assert.Equal(t, 1, logs.Len())

	// nothing listens on the collector port, so only bound the wait
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestMinLevelCore(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	filtered := &minLevelCore{Core: core, min: zapcore.WarnLevel}
	log := zap.New(filtered).With(zap.String("crm_type", "hubspot"))

	log.Info("dropped")
	log.Warn("kept")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
	assert.Equal(t, "hubspot", logs.All()[0].ContextMap()["crm_type"])
	assert.False(t, filtered.Enabled(zapcore.DebugLevel))
}
