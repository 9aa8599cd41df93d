package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/permit-service/internal/config"
)

// Redis wraps the go-redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to Redis using the provided configuration. An empty
// address leaves the client unset.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not provided; completion locks disabled")
		return &Redis{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis")
	}

	return &Redis{Client: client}
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// ErrLockUnavailable is returned when no Redis client is configured.
var ErrLockUnavailable = errors.New("redis lock unavailable")

const completionLockPrefix = "permit:txn-completion:"

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// CompletionLock serializes completion of a single transaction across
// service instances.
type CompletionLock struct {
	redis *Redis
	ttl   time.Duration
}

// NewCompletionLock builds a lock backed by r. Keys expire after ttl.
func NewCompletionLock(r *Redis, ttl time.Duration) *CompletionLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CompletionLock{redis: r, ttl: ttl}
}

// Acquire tries to take the lock for transactionID. When acquired is false
// another caller holds it. The release func is always safe to call.
func (l *CompletionLock) Acquire(ctx context.Context, transactionID string) (release func(), acquired bool, err error) {
	noop := func() {}
	if l == nil || l.redis == nil || l.redis.Client == nil {
		return noop, false, ErrLockUnavailable
	}

	key := completionLockPrefix + transactionID
	token := uuid.NewString()
	ok, err := l.redis.Client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return noop, false, err
	}
	if !ok {
		return noop, false, nil
	}

	release = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.redis.Client, []string{key}, token).Err()
	}
	return release, true, nil
}
