package telemetry

import (
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const queryStartKey = "crmgw:query_start"

// DBConfig controls GORM instrumentation.
type DBConfig struct {
	Enabled bool
	// FullSQL keeps bound values in db.statement. Leave off outside development:
	// credential envelopes are written through these queries.
	FullSQL       bool
	SlowThreshold time.Duration
	// TracerProvider defaults to the global provider
	TracerProvider trace.TracerProvider
}

// InstrumentDB registers otelgorm, which traces every statement and reports
// connection pool stats, plus a marker that flags slow statements on their span.
func InstrumentDB(db *gorm.DB, cfg DBConfig, log *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}

	// registered first so the marker runs while otelgorm's span is still open
	if cfg.SlowThreshold > 0 {
		if err := registerSlowQueryMarker(db, cfg.SlowThreshold); err != nil {
			return err
		}
	}

	opts := []otelgorm.Option{otelgorm.WithDBName("postgresql")}
	if !cfg.FullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if cfg.TracerProvider != nil {
		opts = append(opts, otelgorm.WithTracerProvider(cfg.TracerProvider))
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	log.Info("Database instrumentation enabled",
		zap.Bool("full_sql", cfg.FullSQL),
		zap.Duration("slow_threshold", cfg.SlowThreshold),
	)
	return nil
}

func registerSlowQueryMarker(db *gorm.DB, threshold time.Duration) error {
	start := func(tx *gorm.DB) { tx.InstanceSet(queryStartKey, time.Now()) }
	mark := func(tx *gorm.DB) { markSlowQuery(tx, threshold) }

	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register("crmgw:start_create", start),
		cb.Create().After("gorm:create").Register("crmgw:mark_create", mark),
		cb.Query().Before("gorm:query").Register("crmgw:start_query", start),
		cb.Query().After("gorm:query").Register("crmgw:mark_query", mark),
		cb.Update().Before("gorm:update").Register("crmgw:start_update", start),
		cb.Update().After("gorm:update").Register("crmgw:mark_update", mark),
		cb.Delete().Before("gorm:delete").Register("crmgw:start_delete", start),
		cb.Delete().After("gorm:delete").Register("crmgw:mark_delete", mark),
		cb.Raw().Before("gorm:raw").Register("crmgw:start_raw", start),
		cb.Raw().After("gorm:raw").Register("crmgw:mark_raw", mark),
	)
}

func markSlowQuery(tx *gorm.DB, threshold time.Duration) {
	if tx.Statement == nil || tx.Statement.Context == nil {
		return
	}
	v, ok := tx.InstanceGet(queryStartKey)
	if !ok {
		return
	}
	began, ok := v.(time.Time)
	if !ok {
		return
	}
	elapsed := time.Since(began)
	if elapsed < threshold {
		return
	}

	span := trace.SpanFromContext(tx.Statement.Context)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.Bool("db.slow_query", true),
		attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		attribute.String("db.sql.table", tx.Statement.Table),
	)
}
