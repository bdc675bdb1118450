// Package redis fronts the Postgres resource store with a short-TTL cache,
// grounded on the teacher's internal/streaming/manager.go Redis usage
// (GET/SET/EXPIRE idioms, carried over here from its XAdd/Incr stream
// bookkeeping now that the ring buffer itself lives in-process per
// SPEC_FULL §9's Non-goals).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache wraps a v9 client with namespaced keys and a default document TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// Config describes how to reach the Redis instance backing the cache.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// DefaultConfig returns a localhost client with a 5 minute document TTL.
func DefaultConfig() Config {
	return Config{Addr: "localhost:6379", TTL: 5 * time.Minute}
}

// NewCache builds a Cache and pings once to fail fast on misconfiguration.
func NewCache(ctx context.Context, cfg Config, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl, logger: logger}, nil
}

func resourceKey(kind, namespace, name string) string {
	return fmt.Sprintf("resource:%s:%s:%s", kind, namespace, name)
}

// GetResource returns a cached resource document, or (nil, nil) on a miss —
// callers fall through to the Postgres store on a miss, never treating it
// as an error.
func (c *Cache) GetResource(ctx context.Context, kind, namespace, name string) ([]byte, error) {
	val, err := c.client.Get(ctx, resourceKey(kind, namespace, name)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached resource: %w", err)
	}
	return val, nil
}

// SetResource caches doc under the store's TTL.
func (c *Cache) SetResource(ctx context.Context, kind, namespace, name string, doc []byte) error {
	if err := c.client.Set(ctx, resourceKey(kind, namespace, name), doc, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached resource: %w", err)
	}
	return nil
}

// InvalidateResource drops a cached document, called after Update/SoftDelete
// so readers never observe a stale entry past its write.
func (c *Cache) InvalidateResource(ctx context.Context, kind, namespace, name string) error {
	if err := c.client.Del(ctx, resourceKey(kind, namespace, name)).Err(); err != nil {
		return fmt.Errorf("invalidate cached resource: %w", err)
	}
	return nil
}

func listKey(kind, namespace string) string {
	return fmt.Sprintf("resource-list:%s:%s", kind, namespace)
}

// GetList returns a cached list of resource names for kind/namespace.
func (c *Cache) GetList(ctx context.Context, kind, namespace string) ([]string, bool, error) {
	val, err := c.client.Get(ctx, listKey(kind, namespace)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached list: %w", err)
	}
	var names []string
	if err := json.Unmarshal(val, &names); err != nil {
		return nil, false, fmt.Errorf("decode cached list: %w", err)
	}
	return names, true, nil
}

// SetList caches names under a shorter TTL than individual documents, since
// a list invalidates on any create/delete within the namespace.
func (c *Cache) SetList(ctx context.Context, kind, namespace string, names []string) error {
	b, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("encode list: %w", err)
	}
	if err := c.client.Set(ctx, listKey(kind, namespace), b, c.ttl/2).Err(); err != nil {
		return fmt.Errorf("set cached list: %w", err)
	}
	return nil
}

// InvalidateList drops the cached listing for kind/namespace.
func (c *Cache) InvalidateList(ctx context.Context, kind, namespace string) error {
	if err := c.client.Del(ctx, listKey(kind, namespace)).Err(); err != nil {
		return fmt.Errorf("invalidate cached list: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks connectivity for the liveness/readiness health checks.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
