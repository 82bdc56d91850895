package store

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// DriverFactory creates a driver from its raw [store.drivers.<name>] table.
type DriverFactory func(config map[string]any, logger *slog.Logger) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// Register registers a driver factory by name.
// This is typically called from init() in driver packages.
func Register(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// New creates the named driver. The driver is not initialized.
func New(name string, config map[string]any, logger *slog.Logger) (Driver, error) {
	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown store driver: %s", name)
	}
	return factory(config, logger)
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
