package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"example.com/worklog/internal/domain"
)

// RedisConfig configures the distributed lock.
type RedisConfig struct {
	Address  string
	Password string
	Database int
	// Prefix is prepended to every lock key.
	Prefix string
	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration
	// Timeout applies to each Redis round trip.
	Timeout time.Duration
}

// DefaultRedisConfig returns a 15 minute lease under "worklog:lock:".
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address: address,
		Prefix:  "worklog:lock:",
		TTL:     15 * time.Minute,
		Timeout: 5 * time.Second,
	}
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Redis is a domain.Locker backed by SET NX with a lease.
type Redis struct {
	cfg    RedisConfig
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis lock: ping %s: %w", cfg.Address, err)
	}
	return NewRedisWithClient(client, cfg, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, cfg RedisConfig, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Redis{cfg: cfg, client: client, logger: logger}
}

// Acquire implements domain.Locker.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	full := r.cfg.Prefix + key

	ok, err := r.client.SetNX(ctx, full, token, r.cfg.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrSubmissionInProgress
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{full}, token).Err(); err != nil {
			r.logger.Warn("failed to release draft lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
