package telemetry

import (
	"context"
	"runtime/pprof"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProfiler_Disabled(t *testing.T) {
	p, err := NewProfiler(ProfilerConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())
}

func TestNewProfiler_RequiresServer(t *testing.T) {
	_, err := NewProfiler(ProfilerConfig{Enabled: true, ApplicationName: "crm-gateway"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewProfiler(ProfilerConfig{Enabled: true, ServerAddress: "http://pyroscope:4040"}, zap.NewNop())
	assert.Error(t, err)
}

func TestWithProfilingLabels(t *testing.T) {
	long := strings.Repeat("x", maxLabelValueLength+10)
	labels := map[string]string{
		ProfilingLabelRoute:    "/api/v1/crm/connections/:id",
		ProfilingLabelTenantID: "",
		"request_id":           "req-1",
		ProfilingLabelCRMType:  long,
	}

	called := false
	WithProfilingLabels(context.Background(), labels, func(ctx context.Context) {
		called = true

		route, ok := pprof.Label(ctx, ProfilingLabelRoute)
		assert.True(t, ok)
		assert.Equal(t, "/api/v1/crm/connections/:id", route)

		_, ok = pprof.Label(ctx, ProfilingLabelTenantID)
		assert.False(t, ok, "empty values are dropped")
		_, ok = pprof.Label(ctx, "request_id")
		assert.False(t, ok, "per-request ids are dropped")

		crmType, _ := pprof.Label(ctx, ProfilingLabelCRMType)
		assert.Len(t, crmType, maxLabelValueLength)
	})
	assert.True(t, called)
}

func TestWithProfilingLabels_NothingToApply(t *testing.T) {
	ctx := context.WithValue(context.Background(), struct{}{}, "marker")
	WithProfilingLabels(ctx, map[string]string{"trace_id": "abc"}, func(got context.Context) {
		assert.Equal(t, ctx, got)
	})
}

func TestCRMOperationLabels(t *testing.T) {
	labels := CRMOperationLabels("hubspot", "get_fields")
	assert.Equal(t, map[string]string{
		ProfilingLabelRegion:    "external_api",
		ProfilingLabelOperation: "get_fields",
		ProfilingLabelCRMType:   "hubspot",
	}, labels)
}
