// Package cache provides TTL key-value storage used by the dispatch ledger.
// Drivers register themselves by name; import cache/loader to get them all.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("key not found")

// Cache provides TTL-based key-value storage.
type Cache interface {
	// Get retrieves a value by key. Returns ErrNotFound if absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. If TTL is 0, the driver default applies.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Add stores the value only if key is absent and reports whether it did.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}

// Factory builds a cache from its raw [cache.drivers.<name>] table.
type Factory func(config map[string]any) (Cache, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// RegisterDriver registers a cache driver factory by name.
func RegisterDriver(name string, f Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = f
}

// New builds the named driver. An empty name selects "memory".
func New(name string, config map[string]any) (Cache, error) {
	if name == "" {
		name = "memory"
	}
	driversMu.RLock()
	f, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown cache driver: %s", name)
	}
	return f(config)
}

// AvailableDrivers returns the registered driver names, sorted.
func AvailableDrivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
