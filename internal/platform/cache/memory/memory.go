// Package memory provides an in-memory cache implementation with TTL support.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Monas-project/Prot-Prototype/internal/platform/cache"
	"github.com/Monas-project/Prot-Prototype/internal/platform/cfg"
)

func init() {
	cache.RegisterDriver("memory", func(raw map[string]any) (cache.Cache, error) {
		var c Config
		if err := cfg.Decode(raw, &c); err != nil {
			return nil, err
		}
		return New(c.DefaultTTL, c.CleanupInterval), nil
	})
}

// Config is the [cache.drivers.memory] table.
type Config struct {
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 24 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
}

// item represents a cached value with expiration.
type item struct {
	value     []byte
	expiresAt time.Time
}

func (i *item) isExpired(now time.Time) bool {
	return now.After(i.expiresAt)
}

// Cache is an in-memory cache with TTL support.
type Cache struct {
	mu         sync.RWMutex
	items      map[string]*item
	defaultTTL time.Duration
	stopClean  chan struct{}
	closeOnce  sync.Once
}

// New creates a new in-memory cache.
// cleanupInterval specifies how often to run the cleanup goroutine (0 disables).
func New(defaultTTL time.Duration, cleanupInterval time.Duration) *Cache {
	c := &Cache{
		items:      make(map[string]*item),
		defaultTTL: defaultTTL,
		stopClean:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}
	return c
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stopClean:
			return
		}
	}
}

func (c *Cache) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, v := range c.items {
		if v.isExpired(now) {
			delete(c.items, k)
		}
	}
}

// Get retrieves a copy of the value stored under key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || it.isExpired(time.Now()) {
		return nil, cache.ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a copy of value.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = c.newItem(value, ttl)
	return nil
}

// Add stores value unless a live entry exists.
func (c *Cache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[key]; ok && !it.isExpired(time.Now()) {
		return false, nil
	}
	c.items[key] = c.newItem(value, ttl)
	return true, nil
}

func (c *Cache) newItem(value []byte, ttl time.Duration) *item {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return &item{value: append([]byte(nil), value...), expiresAt: time.Now().Add(ttl)}
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() { close(c.stopClean) })
	return nil
}

var _ cache.Cache = (*Cache)(nil)
