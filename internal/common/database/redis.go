// internal/common/database/redis.go
package database

import (
	"context"
	"fmt"
	"time"

	"enrollment-notifier/internal/common/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so a lock
// that expired and was re-acquired by another process is left alone.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisClient wraps the Redis client
type RedisClient struct {
	Client *redis.Client
}

// NewRedis creates a new Redis client
func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	return &RedisClient{Client: rdb}, nil
}

// Ping tests the Redis connection
func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}

// Lock is a held advisory lock.
type Lock struct {
	Key   string
	Token string
}

// Locker hands out short-lived advisory locks keyed by name.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, bool, error)
	ReleaseLock(ctx context.Context, lock *Lock) error
}

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client *redis.Client
	token  func() string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, token: func() string { return uuid.New().String() }}
}

// AcquireLock returns ok=false without error when another holder owns key.
func (l *RedisLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, bool, error) {
	token := l.token()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{Key: key, Token: token}, true, nil
}

func (l *RedisLocker) ReleaseLock(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	if err := l.client.Eval(ctx, releaseScript, []string{lock.Key}, lock.Token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", lock.Key, err)
	}
	return nil
}
