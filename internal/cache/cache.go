// Package cache is the key-value store holding the pending queues.
// Values are JSON encoded so any backend can hold lists and markers.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tx is the view of the store inside a single Update.
type Tx interface {
	Get(key string, dst any) (bool, error)
	Set(key string, value any) error
	Delete(key string) error
}

// Store offers get/set/delete plus an atomic multi-key Update.
type Store interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	// Update runs fn so that all of its writes land together or not at all.
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Open returns the store selected by driver ("sqlite" or "memory").
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return OpenSQLite(path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", driver)
	}
}

func encode(key string, value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	return raw, nil
}

func decode(key string, raw []byte, dst any) error {
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
