package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// CRMMetrics records outbound CRM provider activity and connection health.
type CRMMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	providerCallsTotal   *Counter
	credentialRefreshes  *Counter
	providerCallDuration *Histogram

	// Gauge metrics (point-in-time values)
	discoveredFields *Gauge
	connections      *Gauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
}

// ConnectionStatsProvider reports how many connections sit in each status.
// It lets the collector read storage without depending on the domain.
type ConnectionStatsProvider interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// CRMMetricsConfig holds configuration for CRM metrics.
type CRMMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// Call outcomes used as the outcome attribute.
const (
	OutcomeSuccess = "success"
)

// NewCRMMetrics creates a new CRMMetrics instance.
func NewCRMMetrics(cfg CRMMetricsConfig) (*CRMMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &CRMMetrics{
		meter:    cfg.Meter,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	var err error

	m.providerCallsTotal, err = NewCounter(
		cfg.Meter,
		"crm_provider_calls_total",
		"Total number of CRM provider operations",
		"{calls}",
	)
	if err != nil {
		return nil, err
	}

	m.providerCallDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "crm_provider_call_duration_seconds",
		Description: "Duration of CRM provider operations",
		Unit:        "s",
		Boundaries:  ProviderDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	m.credentialRefreshes, err = NewCounter(
		cfg.Meter,
		"crm_credential_refresh_total",
		"Total number of CRM credential refresh attempts",
		"{refreshes}",
	)
	if err != nil {
		return nil, err
	}

	m.discoveredFields, err = NewGauge(
		cfg.Meter,
		"crm_discovered_fields",
		"Number of fields stored by the last discovery run",
		"{fields}",
	)
	if err != nil {
		return nil, err
	}

	m.connections, err = NewGauge(
		cfg.Meter,
		"crm_connections",
		"Current number of CRM connections by status",
		"{connections}",
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NewNopCRMMetrics returns metrics backed by a no-op meter.
func NewNopCRMMetrics() *CRMMetrics {
	m, _ := NewCRMMetrics(CRMMetricsConfig{Meter: noop.NewMeterProvider().Meter(TracerName)})
	return m
}

// RecordProviderCall records one provider operation and its duration.
// outcome is OutcomeSuccess or a failure classification.
func (m *CRMMetrics) RecordProviderCall(ctx context.Context, crmType, operation, outcome string, d time.Duration) {
	attrs := []attribute.KeyValue{
		AttrCRMType.String(crmType),
		AttrOperation.String(operation),
		AttrOutcome.String(outcome),
	}
	m.providerCallsTotal.Inc(ctx, attrs...)
	m.providerCallDuration.RecordDuration(ctx, d, attrs...)
}

// RecordCredentialRefresh records a refresh attempt.
func (m *CRMMetrics) RecordCredentialRefresh(ctx context.Context, crmType, outcome string) {
	m.credentialRefreshes.Inc(ctx,
		AttrCRMType.String(crmType),
		AttrOutcome.String(outcome),
	)
}

// RecordDiscoveredFields records the size of a freshly stored field batch.
func (m *CRMMetrics) RecordDiscoveredFields(ctx context.Context, crmType, objectType string, count int) {
	m.discoveredFields.Record(ctx, int64(count),
		AttrCRMType.String(crmType),
		AttrObjectType.String(objectType),
	)
}

// RecordConnections records the number of connections in one status.
func (m *CRMMetrics) RecordConnections(ctx context.Context, status string, count int64) {
	m.connections.Record(ctx, count, AttrConnectionStatus.String(status))
}

// StartPeriodicCollection starts periodic collection of the connection gauge.
// This is non-blocking - use Stop() to stop collection.
func (m *CRMMetrics) StartPeriodicCollection(ctx context.Context, provider ConnectionStatsProvider, interval time.Duration) {
	m.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		go m.runPeriodicCollection(ctx, provider, interval)
	})
}

func (m *CRMMetrics) runPeriodicCollection(ctx context.Context, provider ConnectionStatsProvider, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	m.collectConnectionMetrics(ctx, provider)

	for {
		select {
		case <-m.stopChan:
			m.logger.Info("Stopping periodic CRM metrics collection")
			return
		case <-ctx.Done():
			m.logger.Info("Context cancelled, stopping periodic CRM metrics collection")
			return
		case <-ticker.C:
			m.collectConnectionMetrics(ctx, provider)
		}
	}
}

func (m *CRMMetrics) collectConnectionMetrics(ctx context.Context, provider ConnectionStatsProvider) {
	counts, err := provider.CountByStatus(ctx)
	if err != nil {
		m.logger.Warn("Failed to count CRM connections", zap.Error(err))
		return
	}
	for status, count := range counts {
		m.RecordConnections(ctx, status, count)
	}
}

// Stop stops the periodic collection.
func (m *CRMMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

// ErrMeterNil is returned by NewCRMMetrics without a meter.
var ErrMeterNil = errors.New("crm metrics: meter is nil")
