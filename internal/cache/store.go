// Package cache stores upstream tokens keyed by client credential, with a
// per-entry time to live.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"copilot-proxy-go/internal/config"
)

// ErrInvalidTTL is returned by Put when the TTL is not positive.
var ErrInvalidTTL = errors.New("cache: ttl must be positive")

// Store is a key-value cache with per-entry expiry.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Put stores value under key for ttl, replacing any existing entry.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Sweep removes entries that expired at or before now and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// Open returns the Store selected by cfg.Backend.
func Open(cfg config.CacheConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.CacheBackendSQLite:
		return NewSQLiteStore(cfg.Path)
	case config.CacheBackendMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
