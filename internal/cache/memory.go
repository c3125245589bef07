package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// Memory is an in-process cache implementation using otter. Entries expire a
// fixed duration after they are written.
type Memory[T any] struct {
	cache   *otter.Cache[string, T]
	ttl     time.Duration
	counter *stats.Counter
}

// NewMemory creates a new in-memory cache with the specified TTL and max size.
func NewMemory[T any](ttl time.Duration, maxSize int) (*Memory[T], error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxSize)
	}

	counter := stats.NewCounter()
	cache := otter.Must(&otter.Options[string, T]{
		MaximumSize:      maxSize,
		StatsRecorder:    counter,
		ExpiryCalculator: otter.ExpiryCreating[string, T](ttl),
	})

	return &Memory[T]{
		cache:   cache,
		ttl:     ttl,
		counter: counter,
	}, nil
}

// Get retrieves a value from the cache.
func (m *Memory[T]) Get(_ context.Context, key string) (T, bool, error) {
	entry, ok := m.cache.GetEntry(key)
	if !ok {
		var zero T
		return zero, false, nil
	}

	return entry.Value, true, nil
}

// Set stores a value in the cache, replacing any existing entry.
func (m *Memory[T]) Set(_ context.Context, key string, value T) error {
	m.cache.Set(key, value)
	return nil
}

// Invalidate removes a value from the cache.
func (m *Memory[T]) Invalidate(_ context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

// Close discards all entries.
func (m *Memory[T]) Close() error {
	m.cache.InvalidateAll()
	return nil
}

// TTL is the lifetime of each entry.
func (m *Memory[T]) TTL() time.Duration {
	return m.ttl
}
