package storage

import (
	"context"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// Memory is an in-memory KVStore using otter. Entries are bounded by size only:
// expiry is owned by the callers that encode it in their values.
type Memory struct {
	cache   *otter.Cache[string, string]
	counter *stats.Counter
}

// NewMemory creates a new in-memory store holding at most maxSize entries.
func NewMemory(maxSize int) (*Memory, error) {
	counter := stats.NewCounter()
	cache := otter.Must(&otter.Options[string, string]{
		MaximumSize:   maxSize,
		StatsRecorder: counter,
	})

	return &Memory{
		cache:   cache,
		counter: counter,
	}, nil
}

// GetString retrieves a value from the store.
func (m *Memory) GetString(ctx context.Context, key string) (string, bool, error) {
	value, ok := m.cache.GetIfPresent(key)
	if !ok {
		return "", false, nil
	}

	return value, true, nil
}

// SetString stores a value.
func (m *Memory) SetString(ctx context.Context, key string, value string) error {
	m.cache.Set(key, value)
	return nil
}

// Delete removes a value from the store.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

// AllKeys lists the keys currently held.
func (m *Memory) AllKeys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, m.cache.EstimatedSize())
	for key := range m.cache.Keys() {
		keys = append(keys, key)
	}
	return keys, nil
}

// Stats returns hit and miss counts recorded since creation.
func (m *Memory) Stats() stats.Stats {
	return m.counter.Snapshot()
}

// Close releases the entries held by the store.
func (m *Memory) Close() error {
	m.cache.InvalidateAll()
	return nil
}
