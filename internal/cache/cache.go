package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache is the two-tier response cache. Reads try the local LRU first,
// then the backend. Backend failures degrade to local-only operation.
type Cache struct {
	local   *LRU
	backend *redis.Client
	ttl     time.Duration
	log     *zap.Logger
}

// Config selects the backend tier.
type Config struct {
	LRU LRUConfig
	// RedisAddr enables the Redis tier when non-empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New builds the cache. The Redis connection is verified lazily; a dead
// backend only surfaces as degraded operation, never as an error here.
func New(cfg Config) *Cache {
	c := &Cache{
		local: NewLRU(cfg.LRU),
		ttl:   cfg.LRU.TTL,
		log:   zap.L().Named("cache"),
	}
	if c.ttl <= 0 {
		c.ttl = time.Hour
	}
	if cfg.RedisAddr != "" {
		c.backend = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return c
}

// Get reads through both tiers. A backend hit is promoted into the
// local tier.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.local.Get(key); ok {
		return v, true
	}
	if c.backend == nil {
		return nil, false
	}

	v, err := c.backend.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Warn("backend read failed, degrading to local", zap.Error(err))
		return nil, false
	}
	c.local.Set(key, v)
	return v, true
}

// Set writes through both tiers. Oversize values are refused.
func (c *Cache) Set(ctx context.Context, key string, value []byte) bool {
	stored := c.local.Set(key, value)
	if !stored {
		return false
	}
	if c.backend != nil {
		if err := c.backend.Set(ctx, key, value, c.ttl).Err(); err != nil {
			c.log.Warn("backend write failed, local tier only", zap.Error(err))
		}
	}
	return true
}

// Delete removes the key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.local.Delete(key)
	if c.backend != nil {
		if err := c.backend.Del(ctx, key).Err(); err != nil {
			c.log.Warn("backend delete failed", zap.Error(err))
		}
	}
}

// Close releases the backend connection.
func (c *Cache) Close() error {
	if c.backend != nil {
		return c.backend.Close()
	}
	return nil
}
