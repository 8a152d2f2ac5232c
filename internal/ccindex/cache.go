package ccindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"submarine/internal/logging"
	"submarine/internal/types"
)

// Cache stores index query results keyed by querystring hash. Both backends
// treat errors as misses; the index is always the source of truth.
type Cache interface {
	Get(ctx context.Context, key string) ([]types.CCRecord, bool)
	Set(ctx context.Context, key string, records []types.CCRecord)
}

// cacheKey hashes the archive and querystring into a short stable key.
func cacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ===== In-memory backend =====

type cacheEntry struct {
	records   []types.CCRecord
	createdAt time.Time
	expiresAt time.Time
}

// MemoryCache is an in-memory TTL cache with oldest-entry eviction.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
}

// NewMemoryCache creates a cache with the given size limit and TTL.
func NewMemoryCache(maxSize int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves cached records by key.
func (c *MemoryCache) Get(_ context.Context, key string) ([]types.CCRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.records, true
}

// Set stores records in the cache.
func (c *MemoryCache) Set(_ context.Context, key string, records []types.CCRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := time.Now()
	c.entries[key] = &cacheEntry{
		records:   records,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
}

// Size returns the number of entries in the cache.
func (c *MemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// evictOldest removes the oldest entry by creation time. Caller holds the
// write lock.
func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// ===== Redis backend =====

// RedisCache shares index results across processes. Used when
// SUBMARINE_REDIS_ADDR is set.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache connects to addr. The connection is lazy; a dead Redis
// degrades every lookup to a miss.
func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		prefix: "submarine:ccindex:",
	}
}

// Get retrieves cached records by key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]types.CCRecord, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logging.PeriscopeDebug("Redis get failed: %v", err)
		}
		return nil, false
	}

	var records []types.CCRecord
	if err := json.Unmarshal(data, &records); err != nil {
		logging.PeriscopeDebug("Redis entry corrupt for %s: %v", key, err)
		return nil, false
	}
	return records, true
}

// Set stores records with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key string, records []types.CCRecord) {
	data, err := json.Marshal(records)
	if err != nil {
		logging.PeriscopeDebug("Redis marshal failed: %v", err)
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		logging.PeriscopeDebug("Redis set failed: %v", err)
	}
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
