// Package provider defines the byte store behind a ProviderCache.
//
// Implementations must be byte-for-byte transparent: Get returns exactly the
// bytes previously passed to Set for a key.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs, safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. Returns ok=false when the store
	// rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Clear removes every key starting with prefix. Stores that cannot
	// filter by prefix clear everything they hold.
	Clear(ctx context.Context, prefix string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
