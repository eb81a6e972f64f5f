package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	integrationapp "github.com/crmgateway/backend/internal/application/integration"
	"github.com/crmgateway/backend/internal/infrastructure/auth"
	"github.com/crmgateway/backend/internal/infrastructure/cache"
	"github.com/crmgateway/backend/internal/infrastructure/config"
	"github.com/crmgateway/backend/internal/infrastructure/crm"
	"github.com/crmgateway/backend/internal/infrastructure/logger"
	"github.com/crmgateway/backend/internal/infrastructure/migration"
	"github.com/crmgateway/backend/internal/infrastructure/persistence"
	"github.com/crmgateway/backend/internal/infrastructure/telemetry"
	"github.com/crmgateway/backend/internal/infrastructure/vault"
	"github.com/crmgateway/backend/internal/interfaces/http/handler"
	"github.com/crmgateway/backend/internal/interfaces/http/middleware"
	"github.com/crmgateway/backend/internal/interfaces/http/router"
	"github.com/crmgateway/backend/migrations"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	connectionMetricsInterval = time.Minute
	databaseConnectTimeout    = 15 * time.Second
	shutdownGracePeriod       = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("CRM gateway stopped", zap.Error(err))
		_ = logger.Sync(log)
		os.Exit(1)
	}
	_ = logger.Sync(log)
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting CRM gateway",
		zap.String("env", cfg.App.Env),
		zap.String("version", handler.Version),
	)

	obs, log := startObservability(ctx, cfg, log)
	defer obs.shutdown(log)

	if cfg.Database.AutoMigrate {
		if err := applyMigrations(ctx, cfg.Database.DSN(), log); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("Database close failed", zap.Error(err))
		}
	}()

	credentialVault, err := vault.New(cfg.Vault.Key)
	if err != nil {
		return fmt.Errorf("credential vault: %w", err)
	}

	registry, err := crm.NewDefaultRegistry(&crm.HubSpotConfig{
		ClientID:     cfg.HubSpot.ClientID,
		ClientSecret: cfg.HubSpot.ClientSecret,
		APIBaseURL:   cfg.HubSpot.APIBaseURL,
		AuthBaseURL:  cfg.HubSpot.AuthBaseURL,
		Timeout:      cfg.CRM.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("crm providers: %w", err)
	}
	log.Info("CRM providers registered", zap.Any("crm_types", registry.List()))

	locker, err := cache.NewDiscoveryLockerFactory(cfg.Redis,
		cache.WithLockTTL(cfg.CRM.DiscoveryLockTTL),
		cache.WithLogger(log),
	).CreateLocker(cfg.CRM.DiscoveryLockBackend)
	if err != nil {
		return fmt.Errorf("discovery lock: %w", err)
	}

	connRepo := persistence.NewGormConnectionRepository(db.DB)
	fieldRepo := persistence.NewGormDiscoveredFieldRepository(db.DB)
	purger := persistence.NewGormConnectionPurger(db.DB)

	crmMetrics, err := telemetry.NewCRMMetrics(telemetry.CRMMetricsConfig{
		Meter:  obs.providers.Meter(telemetry.TracerName + "/crm"),
		Logger: log,
	})
	if err != nil {
		log.Warn("CRM metrics unavailable", zap.Error(err))
		crmMetrics = telemetry.NewNopCRMMetrics()
	}
	crmMetrics.StartPeriodicCollection(ctx, connRepo, connectionMetricsInterval)
	defer crmMetrics.Stop()

	connectionService := integrationapp.NewConnectionService(
		connRepo, purger, credentialVault, registry, crmMetrics, log,
		integrationapp.ConnectionServiceConfig{RequestTimeout: cfg.CRM.RequestTimeout},
	)
	fieldService := integrationapp.NewFieldDiscoveryService(
		connectionService, connRepo, fieldRepo, locker, crmMetrics, log,
	)
	connectionService.SetFieldDiscoverer(fieldService)

	engine := newEngine(cfg, log, obs, db,
		handler.NewCRMConnectionHandler(connectionService, fieldService, registry),
		auth.NewJWTService(cfg.JWT),
	)

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config, log *zap.Logger) (*persistence.Database, error) {
	connectCtx, cancel := context.WithTimeout(ctx, databaseConnectTimeout)
	defer cancel()

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.Open(connectCtx, &cfg.Database, gormLog)
	if err != nil {
		return nil, err
	}

	if err := telemetry.InstrumentDB(db.DB, telemetry.DBConfig{
		Enabled:       cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		FullSQL:       cfg.Telemetry.DBLogFullSQL,
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
	}, log); err != nil {
		log.Warn("Database instrumentation failed", zap.Error(err))
	}

	log.Info("Database connected",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.DBName),
	)
	return db, nil
}

// newEngine assembles the middleware chain. Order matters: request ids come
// first so every later log line carries one, and span attributes are set only
// once the tenant is known.
func newEngine(
	cfg *config.Config,
	log *zap.Logger,
	obs *observability,
	db *persistence.Database,
	crmHandler *handler.CRMConnectionHandler,
	jwtService *auth.JWTService,
) *gin.Engine {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Ignoring trusted proxies", zap.Error(err))
		}
	}

	engine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
			SkipPaths:   []string{"/health"},
		}),
		middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
			Meter:   obs.providers.Meter("http.server"),
			Enabled: obs.providers.Enabled(),
			Logger:  log,
		}),
		logger.GinMiddleware(log),
		middleware.Secure(),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
			AllowMethods:     cfg.HTTP.CORSAllowMethods,
			AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
			ExposeHeaders:    []string{middleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)
	if cfg.HTTP.RateLimitEnabled {
		engine.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	engine.GET("/health", healthHandler(db))

	jwtConfig := middleware.DefaultJWTConfig(jwtService)
	jwtConfig.Logger = log
	tenantConfig := middleware.DefaultTenantConfig()
	tenantConfig.Logger = log

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Use(
		middleware.JWTAuthMiddlewareWithConfig(jwtConfig),
		middleware.TenantMiddlewareWithConfig(tenantConfig),
		middleware.RequestAttributes(middleware.RequestAttributesConfig{Profiling: cfg.Telemetry.ProfilingEnabled}),
	)
	r.Register(router.CRMRoutes(crmHandler, log)).
		RegisterPublic(router.SystemRoutes(handler.NewSystemHandler(cfg.App.Name)))
	r.Setup()

	return engine
}

// applyMigrations uses its own connection: closing the migrator closes the
// handle it was given.
func applyMigrations(ctx context.Context, dsn string, log *zap.Logger) error {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	m, err := migration.NewFromFS(sqlDB, migrations.FS, log)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("Migrator close failed", zap.Error(err))
		}
	}()

	if err := m.Up(); err != nil {
		return err
	}
	return m.VerifySchema(ctx)
}

func healthHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		open, inUse := db.PoolStats()
		body := gin.H{
			"time":                  time.Now().UTC().Format(time.RFC3339),
			"db_open_connections":   open,
			"db_in_use_connections": inUse,
		}
		if err := db.Ping(ctx); err != nil {
			logger.GetGinLogger(c).Warn("Health check failed", zap.Error(err))
			body["status"], body["database"] = "unhealthy", "unreachable"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["status"], body["database"] = "healthy", "ok"
		c.JSON(http.StatusOK, body)
	}
}
