package cache

import (
	"fmt"
	"time"

	"github.com/crmgateway/backend/internal/domain/integration"
	"github.com/crmgateway/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Discovery lock backends
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// DiscoveryLockerFactory creates discovery lockers based on configuration
type DiscoveryLockerFactory struct {
	redisConfig           config.RedisConfig
	ttl                   time.Duration
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// DiscoveryLockerFactoryOption is a functional option for configuring the factory
type DiscoveryLockerFactoryOption func(*DiscoveryLockerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) DiscoveryLockerFactoryOption {
	return func(f *DiscoveryLockerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory locker when Redis is unavailable
// Default is true (allow fallback)
func WithInMemoryFallback(allow bool) DiscoveryLockerFactoryOption {
	return func(f *DiscoveryLockerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// WithLockTTL sets the expiry of Redis locks
func WithLockTTL(ttl time.Duration) DiscoveryLockerFactoryOption {
	return func(f *DiscoveryLockerFactory) {
		f.ttl = ttl
	}
}

// NewDiscoveryLockerFactory creates a new factory
func NewDiscoveryLockerFactory(cfg config.RedisConfig, opts ...DiscoveryLockerFactoryOption) *DiscoveryLockerFactory {
	f := &DiscoveryLockerFactory{
		redisConfig:           cfg,
		ttl:                   defaultLockTTL,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateRedisLocker creates a Redis-based discovery locker
func (f *DiscoveryLockerFactory) CreateRedisLocker() (*RedisDiscoveryLocker, error) {
	redisCfg := RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	}

	locker, err := NewRedisDiscoveryLocker(redisCfg, f.ttl, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis discovery locker: %w", err)
	}

	return locker, nil
}

// CreateLocker creates a locker for the given backend.
// WARNING: in-memory locks do not coordinate across process instances, so two
// instances may run discovery for the same key at once. The atomic replace
// keeps the stored catalog consistent either way.
func (f *DiscoveryLockerFactory) CreateLocker(backend string) (integration.DiscoveryLocker, error) {
	switch backend {
	case "", LockBackendMemory:
		return NewInMemoryDiscoveryLocker(), nil
	case LockBackendRedis:
	default:
		return nil, fmt.Errorf("unknown discovery lock backend %q", backend)
	}

	locker, err := f.CreateRedisLocker()
	if err == nil {
		f.logger.Info("using Redis discovery locker")
		return locker, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for discovery locking but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory discovery locker. "+
		"Concurrent discovery may run on several instances.",
		zap.Error(err),
	)
	return NewInMemoryDiscoveryLocker(), nil
}
