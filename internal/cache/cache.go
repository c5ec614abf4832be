package cache

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/ristretto"

	"tripresence/internal/models"
)

// MemoryCache is the in-memory lookaside cache in front of the
// directory. Both trip member sets and user records share one cache
// under prefixed keys.
type MemoryCache interface {
	GetMembers(tripID string) ([]string, bool)
	SetMembers(tripID string, members []string)
	DeleteMembers(tripID string)
	GetUser(userID string) (models.User, bool)
	SetUser(userID string, user models.User)
	DeleteUser(userID string)
	Size() int
	Clear()
	Metrics() CacheMetrics
}

// CacheMetrics provides cache performance metrics
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	KeysAdded   uint64
	KeysEvicted uint64
	CostAdded   uint64
	CostEvicted uint64
}

// Config holds Ristretto cache configuration
type Config struct {
	MaxCost     int64         // Maximum cost of cache (bytes)
	NumCounters int64         // Number of counters for TinyLFU admission policy
	BufferItems int64         // Buffer size for async operations
	Metrics     bool          // Enable metrics collection
	TTL         time.Duration // Application-level entry TTL; zero means never expire
}

// entry wraps a cached value with its application-level deadline.
// Ristretto handles admission and eviction; expiry is checked on read.
type entry struct {
	value     any
	expiresAt time.Time
}

func (e entry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// ristrettoCache implements MemoryCache using Ristretto
type ristrettoCache struct {
	cache  *ristretto.Cache
	config Config
}

// New creates a new Ristretto-based memory cache
func New(config Config) (MemoryCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		MaxCost:     config.MaxCost,
		NumCounters: config.NumCounters,
		BufferItems: config.BufferItems,
		Metrics:     config.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return &ristrettoCache{
		cache:  cache,
		config: config,
	}, nil
}

func (c *ristrettoCache) GetMembers(tripID string) ([]string, bool) {
	value, found := c.get("trip:" + tripID)
	if !found {
		return nil, false
	}
	members, ok := value.([]string)
	if !ok {
		c.cache.Del("trip:" + tripID)
		return nil, false
	}
	return members, true
}

func (c *ristrettoCache) SetMembers(tripID string, members []string) {
	c.set("trip:"+tripID, members, c.estimateCost(members))
}

func (c *ristrettoCache) DeleteMembers(tripID string) {
	c.cache.Del("trip:" + tripID)
	c.cache.Wait()
}

func (c *ristrettoCache) GetUser(userID string) (models.User, bool) {
	value, found := c.get("user:" + userID)
	if !found {
		return models.User{}, false
	}
	user, ok := value.(models.User)
	if !ok {
		c.cache.Del("user:" + userID)
		return models.User{}, false
	}
	return user, true
}

func (c *ristrettoCache) SetUser(userID string, user models.User) {
	c.set("user:"+userID, user, c.estimateCost(user))
}

func (c *ristrettoCache) DeleteUser(userID string) {
	c.cache.Del("user:" + userID)
	c.cache.Wait()
}

func (c *ristrettoCache) get(key string) (any, bool) {
	value, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	e, ok := value.(entry)
	if !ok {
		c.cache.Del(key)
		return nil, false
	}
	if e.expired() {
		c.cache.Del(key)
		return nil, false
	}
	return e.value, true
}

func (c *ristrettoCache) set(key string, value any, cost int64) {
	e := entry{value: value}
	if c.config.TTL > 0 {
		e.expiresAt = time.Now().Add(c.config.TTL)
	}
	c.cache.Set(key, e, cost)

	// Ristretto sets are asynchronous; wait so callers observe their own writes.
	c.cache.Wait()
}

// Size returns the approximate number of items in the cache
// Note: Ristretto is eventually consistent, so this might not be exact
func (c *ristrettoCache) Size() int {
	if c.config.Metrics {
		metrics := c.cache.Metrics
		return int(metrics.KeysAdded() - metrics.KeysEvicted())
	}
	return 0
}

// Clear removes all items from the cache
func (c *ristrettoCache) Clear() {
	c.cache.Clear()
}

// Metrics returns cache performance metrics
func (c *ristrettoCache) Metrics() CacheMetrics {
	if !c.config.Metrics {
		return CacheMetrics{}
	}

	metrics := c.cache.Metrics
	return CacheMetrics{
		Hits:        metrics.Hits(),
		Misses:      metrics.Misses(),
		KeysAdded:   metrics.KeysAdded(),
		KeysEvicted: metrics.KeysEvicted(),
		CostAdded:   metrics.CostAdded(),
		CostEvicted: metrics.CostEvicted(),
	}
}

// estimateCost estimates the memory cost of a cached value
func (c *ristrettoCache) estimateCost(value any) int64 {
	data, err := json.Marshal(value)
	if err != nil {
		return 200
	}
	// Add some overhead for Go object structure
	return int64(len(data) + 100)
}
