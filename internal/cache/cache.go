// Package cache holds the key/value stores used by the bridge: the channel
// access credential and the set of recently processed webhook event IDs.
package cache

import (
	"context"
)

// TokenCache is a keyed store with entry expiry. The generic type T is the
// cached value: a credential, or the time an event was first seen.
type TokenCache[T any] interface {
	// Get retrieves a value from the cache.
	// Returns the value, whether it was found, and any error.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores a value in the cache.
	Set(ctx context.Context, key string, value T) error

	// Invalidate removes a value from the cache.
	Invalidate(ctx context.Context, key string) error

	// Close releases any resources held by the cache.
	Close() error
}
