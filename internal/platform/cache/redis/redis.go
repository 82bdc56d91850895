// Package redis provides a Redis/Valkey cache driver built on valkey-go.
// It lets several sharebox instances share one dispatch ledger.
package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/Monas-project/Prot-Prototype/internal/platform/cache"
	"github.com/Monas-project/Prot-Prototype/internal/platform/cfg"
)

func init() {
	cache.RegisterDriver("redis", func(raw map[string]any) (cache.Cache, error) {
		c := DefaultConfig()
		if err := cfg.Decode(raw, c); err != nil {
			return nil, err
		}
		return New(c)
	})
}

// Config holds Redis connection configuration.
type Config struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

// DefaultConfig returns sensible defaults for Redis connection.
func DefaultConfig() *Config {
	return &Config{
		Addr:        "localhost:6379",
		DialTimeout: 5 * time.Second,
		DefaultTTL:  24 * time.Hour,
		KeyPrefix:   "sharebox:",
	}
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = d.DefaultTTL
	}
}

// Cache is a valkey-backed cache.
type Cache struct {
	client valkey.Client
	cfg    Config
}

// New connects to the server and fails fast when it cannot be reached.
func New(c *Config) (*Cache, error) {
	if c == nil {
		c = DefaultConfig()
	}
	c.ApplyDefaults()

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{c.Addr},
		Password:          c.Password,
		SelectDB:          c.DB,
		Dialer:            net.Dialer{Timeout: c.DialTimeout},
		DisableCache:      true,
		ForceSingleClient: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", c.Addr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.DialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis health check failed: %w", err)
	}

	return &Cache{client: client, cfg: *c}, nil
}

func (c *Cache) key(k string) string { return c.cfg.KeyPrefix + k }

func (c *Cache) ttl(d time.Duration) int64 {
	if d <= 0 {
		d = c.cfg.DefaultTTL
	}
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return ms
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set stores a value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := c.client.B().Set().Key(c.key(key)).Value(valkey.BinaryString(value)).PxMilliseconds(c.ttl(ttl)).Build()
	return c.client.Do(ctx, cmd).Error()
}

// Add stores value only if key is absent (SET NX).
func (c *Cache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	cmd := c.client.B().Set().Key(c.key(key)).Value(valkey.BinaryString(value)).Nx().PxMilliseconds(c.ttl(ttl)).Build()
	err := c.client.Do(ctx, cmd).Error()
	if valkey.IsValkeyNil(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(c.key(key)).Build()).Error()
}

// Close releases the connection.
func (c *Cache) Close() error {
	c.client.Close()
	return nil
}

var _ cache.Cache = (*Cache)(nil)
