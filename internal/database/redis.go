package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/neuratrade-intraday/internal/config"
	"github.com/irfndi/neuratrade-intraday/internal/observability"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RetryPolicy bounds the connection attempts made at startup.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns the startup retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

// RedisClient wraps a Redis client with logging and lock helpers.
type RedisClient struct {
	Client *redis.Client
	logger *zap.Logger
}

// NewRedisClient wraps an already constructed client.
func NewRedisClient(client *redis.Client, logger *zap.Logger) *RedisClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisClient{Client: client, logger: logger}
}

// NewRedisConnectionWithRetry creates a new Redis connection, retrying the
// initial ping with exponential backoff.
//
// Parameters:
//
//	ctx: Context bounding the whole connection attempt.
//	cfg: Redis configuration.
//	policy: Retry policy.
//	logger: Logger, nil for none.
//
// Returns:
//
//	*RedisClient: The initialized client.
//	error: Error if every attempt fails.
func NewRedisConnectionWithRetry(ctx context.Context, cfg config.RedisConfig, policy RetryPolicy, logger *zap.Logger) (*RedisClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	rdb.AddHook(observability.RedisSentryHook{})

	delay := policy.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = rdb.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			logger.Info("Successfully connected to Redis", zap.String("addr", cfg.Addr()), zap.Int("attempt", attempt))
			return &RedisClient{Client: rdb, logger: logger}, nil
		}

		logger.Warn("Redis connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.Attempts),
			zap.Error(lastErr))

		if attempt == policy.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	_ = rdb.Close()
	return nil, fmt.Errorf("failed to connect to Redis: %w", lastErr)
}

// Close closes the Redis connection.
func (r *RedisClient) Close() {
	if r.Client == nil {
		return
	}
	if err := r.Client.Close(); err != nil {
		r.log().Error("Error closing Redis client", zap.Error(err))
		return
	}
	r.log().Info("Redis connection closed")
}

func (r *RedisClient) log() *zap.Logger {
	if r.logger == nil {
		return zap.NewNop()
	}
	return r.logger
}

// HealthCheck verifies the Redis connection.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return r.Client.Ping(ctx).Err()
}

// AcquireLock sets key to a fresh token if it does not exist yet.
// The token must be presented to ReleaseLock.
func (r *RedisClient) AcquireLock(ctx context.Context, key string, expiration time.Duration) (string, bool, error) {
	if r.Client == nil {
		return "", false, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return "", false, fmt.Errorf("lock key cannot be empty")
	}
	if expiration <= 0 {
		return "", false, fmt.Errorf("lock expiration must be positive")
	}

	token := uuid.NewString()
	acquired, err := r.Client.SetNX(ctx, key, token, expiration).Result()
	if err != nil {
		return "", false, err
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock deletes key only if it still holds token.
func (r *RedisClient) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return false, fmt.Errorf("lock key cannot be empty")
	}
	if token == "" {
		return false, fmt.Errorf("lock token cannot be empty")
	}

	deleted, err := releaseLockScript.Run(ctx, r.Client, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}
