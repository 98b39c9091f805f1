package raster

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/okian/geofeat/pkg/logger"
	"github.com/okian/geofeat/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// BlockCache stores fixed-size blocks of remote tiles. Implementations must be
// safe for concurrent use and must not retain the caller's slice after Set.
type BlockCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, block []byte)
}

// MemoryCache is an in-process LRU bounded by block count.
type MemoryCache struct {
	mu    sync.Mutex
	cap   int
	lst   *list.List
	items map[string]*list.Element
}

type memItem struct {
	key   string
	block []byte
}

// NewMemoryCache creates an LRU holding up to capacity blocks.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryCache{cap: capacity, lst: list.New(), items: make(map[string]*list.Element)}
}

// Get implements BlockCache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		metrics.RecordRasterCacheMiss("memory")
		return nil, false
	}
	c.lst.MoveToFront(e)
	metrics.RecordRasterCacheHit("memory")
	return e.Value.(memItem).block, true
}

// Set implements BlockCache.
func (c *MemoryCache) Set(_ context.Context, key string, block []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	block = append([]byte(nil), block...)
	if e, ok := c.items[key]; ok {
		e.Value = memItem{key: key, block: block}
		c.lst.MoveToFront(e)
		return
	}
	c.items[key] = c.lst.PushFront(memItem{key: key, block: block})
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.items, back.Value.(memItem).key)
		c.lst.Remove(back)
	}
}

// Len returns the number of cached blocks.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}

// RedisCache shares blocks between service instances. Redis failures are
// treated as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger logger.Logger
}

// NewRedisCache creates a Redis-backed block cache.
func NewRedisCache(client *redis.Client, ttl time.Duration, log logger.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "geofeat:block:", logger: log}
}

// OpenRedis connects to addr; an empty addr returns nil.
func OpenRedis(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

// Get implements BlockCache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil && c.logger != nil {
			c.logger.Debug(ctx, "redis block get failed", logger.String("key", key), logger.Error(err))
		}
		metrics.RecordRasterCacheMiss("redis")
		return nil, false
	}
	metrics.RecordRasterCacheHit("redis")
	return b, true
}

// Set implements BlockCache.
func (c *RedisCache) Set(ctx context.Context, key string, block []byte) {
	if err := c.client.Set(ctx, c.prefix+key, block, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.Debug(ctx, "redis block set failed", logger.String("key", key), logger.Error(err))
	}
}

// TieredCache checks a fast cache before a shared one and fills the fast
// cache on shared hits.
type TieredCache struct {
	near BlockCache
	far  BlockCache
}

// NewTieredCache combines two caches; a nil far cache degrades to near only.
func NewTieredCache(near, far BlockCache) BlockCache {
	if far == nil {
		return near
	}
	return &TieredCache{near: near, far: far}
}

// Get implements BlockCache.
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if b, ok := c.near.Get(ctx, key); ok {
		return b, true
	}
	b, ok := c.far.Get(ctx, key)
	if ok {
		c.near.Set(ctx, key, b)
	}
	return b, ok
}

// Set implements BlockCache.
func (c *TieredCache) Set(ctx context.Context, key string, block []byte) {
	c.near.Set(ctx, key, block)
	c.far.Set(ctx, key, block)
}
