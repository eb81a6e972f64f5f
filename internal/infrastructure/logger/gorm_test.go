package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newObservedGormLogger(level gormlogger.LogLevel, opts ...GormLoggerOption) (*GormLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewGormLogger(zap.New(core), level, opts...), logs
}

func sqlFunc(sql string, rows int64) func() (string, int64) {
	return func() (string, int64) { return sql, rows }
}

func TestGormLogger_Trace(t *testing.T) {
	ctx := context.Background()
	longAgo := time.Now().Add(-time.Second)

	tests := []struct {
		name      string
		level     gormlogger.LogLevel
		begin     time.Time
		err       error
		wantLevel zapcore.Level
		wantMsg   string
	}{
		{"query at info", gormlogger.Info, time.Now(), nil, zapcore.DebugLevel, "SQL"},
		{"error", gormlogger.Error, time.Now(), errors.New("connection reset"), zapcore.ErrorLevel, "SQL error"},
		{"slow", gormlogger.Warn, longAgo, nil, zapcore.WarnLevel, "Slow SQL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, logs := newObservedGormLogger(tt.level)
			l.Trace(ctx, tt.begin, sqlFunc(`SELECT * FROM "crm_connections"`, 1), tt.err)

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tt.wantLevel, entry.Level)
			assert.Equal(t, tt.wantMsg, entry.Message)
			assert.Equal(t, `SELECT * FROM "crm_connections"`, entry.ContextMap()["sql"])
			assert.Equal(t, "gorm", entry.LoggerName)
		})
	}
}

func TestGormLogger_TraceSuppressed(t *testing.T) {
	ctx := context.Background()

	t.Run("record not found", func(t *testing.T) {
		l, logs := newObservedGormLogger(gormlogger.Info)
		l.Trace(ctx, time.Now(), sqlFunc("SELECT 1", 0), gorm.ErrRecordNotFound)
		// logged as a plain query, never as an error
		require.Equal(t, 1, logs.Len())
		assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)
	})

	t.Run("fast query at warn", func(t *testing.T) {
		l, logs := newObservedGormLogger(gormlogger.Warn)
		l.Trace(ctx, time.Now(), sqlFunc("SELECT 1", 1), nil)
		assert.Zero(t, logs.Len())
	})

	t.Run("silent", func(t *testing.T) {
		l, logs := newObservedGormLogger(gormlogger.Silent)
		l.Trace(ctx, time.Now(), sqlFunc("SELECT 1", 1), errors.New("boom"))
		assert.Zero(t, logs.Len())
	})

	t.Run("slow threshold disabled", func(t *testing.T) {
		l, logs := newObservedGormLogger(gormlogger.Warn, WithSlowThreshold(0))
		l.Trace(ctx, time.Now().Add(-time.Hour), sqlFunc("SELECT 1", 1), nil)
		assert.Zero(t, logs.Len())
	})
}

func TestGormLogger_UsesRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)
	l := NewGormLogger(base, gormlogger.Error)

	ctx := WithContext(context.Background(), base)
	ctx, _ = WithTenantID(ctx, FromContext(ctx), "tenant-3")

	l.Trace(ctx, time.Now(), sqlFunc("DELETE FROM crm_discovered_fields", 0), errors.New("locked"))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "tenant-3", logs.All()[0].ContextMap()["tenant_id"])
}

func TestGormLogger_LogModeCopies(t *testing.T) {
	l, logs := newObservedGormLogger(gormlogger.Warn)

	verbose := l.LogMode(gormlogger.Info)
	verbose.Info(context.Background(), "migrated %d tables", 2)
	l.Info(context.Background(), "hidden")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "migrated 2 tables", logs.All()[0].Message)
}

func TestGormLogger_WithSQLite(t *testing.T) {
	l, logs := newObservedGormLogger(gormlogger.Info)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: l})
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE probe (id INTEGER)").Error)

	queries := logs.FilterMessage("SQL").All()
	require.NotEmpty(t, queries)
	assert.Contains(t, queries[len(queries)-1].ContextMap()["sql"], "CREATE TABLE probe")
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("info"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("warn"))
	assert.Equal(t, gormlogger.Error, MapGormLogLevel("error"))
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel(""))
}
