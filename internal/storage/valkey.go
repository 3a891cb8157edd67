package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
)

// clientCacheTTL bounds how long a value read through server-assisted
// client-side caching is held locally. The server invalidates it earlier when
// another writer changes the key.
const clientCacheTTL = time.Minute

// scanBatch is the COUNT hint for each SCAN round trip.
const scanBatch = 250

// Valkey implements KVStore using Valkey with server-assisted client-side
// caching. All keys are namespaced with prefix so several clients (or other
// applications) can share a database.
type Valkey struct {
	client valkey.Client
	prefix string
}

// NewValkey creates a Valkey-backed store.
func NewValkey(client valkey.Client, prefix string) *Valkey {
	return &Valkey{
		client: client,
		prefix: prefix,
	}
}

func (v *Valkey) storageKey(key string) string {
	return v.prefix + key
}

// GetString retrieves a value using server-assisted client-side caching.
func (v *Valkey) GetString(ctx context.Context, key string) (string, bool, error) {
	cmd := v.client.B().Get().Key(v.storageKey(key)).Cache()
	result := v.client.DoCache(ctx, cmd, clientCacheTTL)

	if err := result.Error(); err != nil {
		// Key not found is not an error in our semantics
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get stored value: %w", err)
	}

	val, err := result.ToString()
	if err != nil {
		return "", false, fmt.Errorf("failed to convert stored value to string: %w", err)
	}

	return val, true, nil
}

// SetString stores a value without expiry; callers encode their own.
func (v *Valkey) SetString(ctx context.Context, key string, value string) error {
	cmd := v.client.B().Set().Key(v.storageKey(key)).Value(value).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set stored value: %w", err)
	}
	return nil
}

// Delete removes a value.
func (v *Valkey) Delete(ctx context.Context, key string) error {
	cmd := v.client.B().Del().Key(v.storageKey(key)).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete stored value: %w", err)
	}
	return nil
}

// AllKeys walks the keyspace under the store's prefix with SCAN. The listing
// is not a snapshot: keys written concurrently may or may not appear.
func (v *Valkey) AllKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		cmd := v.client.B().Scan().Cursor(cursor).Match(v.prefix + "*").Count(scanBatch).Build()
		entry, err := v.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan stored keys: %w", err)
		}

		for _, k := range entry.Elements {
			keys = append(keys, strings.TrimPrefix(k, v.prefix))
		}

		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Close releases the client connection.
func (v *Valkey) Close() error {
	v.client.Close()
	return nil
}
