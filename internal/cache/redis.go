package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/lireddit/lireddit/pkg/config"
	"github.com/lireddit/lireddit/pkg/logging"
)

const namespace = "lireddit:"

var (
	// ErrNotFound is returned when a key is missing or expired
	ErrNotFound = errors.New("cache: key not found")
	// ErrCacheDisabled is returned when cache operations are attempted on a closed or nil cache
	ErrCacheDisabled = errors.New("cache is disabled")
)

// Store is a string key/value store with per-key TTL. Sessions and password
// reset tokens live here.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// GetDel returns the value of key and removes it in one step
	GetDel(ctx context.Context, key string) (string, error)
	Health(ctx context.Context) error
	Close() error
}

// Cache wraps Redis client
type Cache struct {
	client *redis.Client
}

// New returns a Redis backed store when Redis is configured and an in-process
// store otherwise.
func New(cfg *config.RedisConfig) (Store, error) {
	if !cfg.Enabled {
		logging.GetLogger().Warn("Redis disabled, sessions are kept in process memory")
		return NewMemory(), nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetLogger().Info("Redis connection established", zap.String("addr", opt.Addr))

	return NewRedis(client), nil
}

// NewRedis wraps an existing client
func NewRedis(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) namespaceKey(key string) string {
	return namespace + key
}

// Get retrieves a value from cache
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrCacheDisabled
	}
	val, err := c.client.Get(ctx, c.namespaceKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

// Set sets a value in cache with TTL. A zero ttl keeps the key forever.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Set(ctx, c.namespaceKey(key), value, ttl).Err()
}

// Delete removes a key from cache
func (c *Cache) Delete(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Del(ctx, c.namespaceKey(key)).Err()
}

// GetDel atomically reads and removes key
func (c *Cache) GetDel(ctx context.Context, key string) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrCacheDisabled
	}
	val, err := c.client.GetDel(ctx, c.namespaceKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Health checks Redis health
func (c *Cache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Ping(ctx).Err()
}
