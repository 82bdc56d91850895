// Package cfg decodes per-driver configuration maps (the raw
// [store.drivers.<name>] and [cache.drivers.<name>] tables) into typed structs.
package cfg

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Setter is implemented by config structs that fill in their own defaults.
type Setter interface {
	ApplyDefaults()
}

func decode(input map[string]any, c any, md *mapstructure.Metadata) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata: md,
		Result:   c,
		TagName:  "mapstructure",
		// Durations may be written as "2s" in TOML.
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return err
	}
	if s, ok := c.(Setter); ok {
		s.ApplyDefaults()
	}
	return nil
}

// Decode decodes the raw input map into the target pointer c.
// If c implements Setter, ApplyDefaults() is called afterwards.
func Decode(input map[string]any, c any) error {
	return decode(input, c, nil)
}

// DecodeWithUnused decodes input to c and returns any unused keys (sorted),
// so the caller can warn about them.
func DecodeWithUnused(input map[string]any, c any) ([]string, error) {
	var md mapstructure.Metadata
	if err := decode(input, c, &md); err != nil {
		return nil, err
	}
	unused := md.Unused
	sort.Strings(unused)
	return unused, nil
}

// MustDecodeStrict decodes input to c and fails on unused keys.
// Use this in tests to catch dead config.
func MustDecodeStrict(input map[string]any, c any) error {
	unused, err := DecodeWithUnused(input, c)
	if err != nil {
		return err
	}
	if len(unused) > 0 {
		return fmt.Errorf("unused config keys: %v", unused)
	}
	return nil
}

// Section returns drivers[name] as a map, or nil when absent or not a table.
func Section(drivers map[string]any, name string) map[string]any {
	if drivers == nil {
		return nil
	}
	m, _ := drivers[name].(map[string]any)
	return m
}
