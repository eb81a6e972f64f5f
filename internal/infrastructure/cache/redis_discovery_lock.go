package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/crmgateway/backend/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultLockKeyPrefix     = "crm:discovery:lock:"
	defaultLockTTL           = 2 * time.Minute
	defaultLockRetryInterval = 100 * time.Millisecond
	lockReleaseTimeout       = 5 * time.Second
)

// releaseScript deletes the lock only while it still carries our token, so an
// expired holder never frees a lock another instance has since taken.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisDiscoveryLocker serializes discovery runs across instances with
// SET NX PX locks. The TTL bounds how long a crashed holder blocks a key.
type RedisDiscoveryLocker struct {
	client        *redis.Client
	keyPrefix     string
	ttl           time.Duration
	retryInterval time.Duration
	logger        *zap.Logger
}

// NewRedisDiscoveryLocker connects to Redis and creates a locker
func NewRedisDiscoveryLocker(cfg RedisConfig, ttl time.Duration, logger *zap.Logger) (*RedisDiscoveryLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisDiscoveryLockerWithClient(client, "", ttl, logger), nil
}

// NewRedisDiscoveryLockerWithClient creates a locker with an existing Redis client
func NewRedisDiscoveryLockerWithClient(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisDiscoveryLocker {
	if keyPrefix == "" {
		keyPrefix = defaultLockKeyPrefix
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisDiscoveryLocker{
		client:        client,
		keyPrefix:     keyPrefix,
		ttl:           ttl,
		retryInterval: defaultLockRetryInterval,
		logger:        logger,
	}
}

// Lock polls SETNX until the key is acquired or ctx is done
func (l *RedisDiscoveryLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.keyPrefix + key
	token := uuid.NewString()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to acquire discovery lock: %w", err)
		}
		if acquired {
			return l.unlockFunc(redisKey, token), nil
		}
		timer.Reset(l.retryInterval)
	}
}

func (l *RedisDiscoveryLocker) unlockFunc(redisKey, token string) func() {
	return func() {
		// The caller's context may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
		defer cancel()

		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("failed to release discovery lock; it will expire with its TTL",
				zap.String("key", redisKey),
				zap.Error(err),
			)
		}
	}
}

// Close closes the Redis client
func (l *RedisDiscoveryLocker) Close() error {
	return l.client.Close()
}

// GetClient returns the underlying Redis client (for testing/monitoring)
func (l *RedisDiscoveryLocker) GetClient() *redis.Client {
	return l.client
}

// Ensure RedisDiscoveryLocker implements DiscoveryLocker
var _ integration.DiscoveryLocker = (*RedisDiscoveryLocker)(nil)
