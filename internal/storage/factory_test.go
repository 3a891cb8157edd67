package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/groupbuy/groupbuy-client/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
)

func TestNewFromConfig_Memory(t *testing.T) {
	store, err := NewFromConfig(context.Background(), config.StorageConfig{Type: "memory", MemoryMaxEntries: 10})
	require.NoError(t, err)
	assert.IsType(t, &Instrumented{}, store)
	assert.NoError(t, store.Close())
}

func TestNewFromConfig_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.db")
	store, err := NewFromConfig(context.Background(), config.StorageConfig{Type: "sqlite", SQLitePath: path})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SetString(context.Background(), "k", "v"))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestNewFromConfig_InvalidType(t *testing.T) {
	store, err := NewFromConfig(context.Background(), config.StorageConfig{Type: "redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid storage type")
	assert.Contains(t, err.Error(), "redis")
	assert.Nil(t, store)
}

func TestNewFromConfig_ValkeyRequiresAddress(t *testing.T) {
	store, err := NewFromConfig(context.Background(), config.StorageConfig{Type: "valkey"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valkey address is required")
	assert.Nil(t, store)
}

func TestNewFromConfig_EncryptedWithKeysetFile(t *testing.T) {
	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	require.NoError(t, err)

	keysetPath := filepath.Join(t.TempDir(), "keyset.json")
	f, err := os.Create(keysetPath)
	require.NoError(t, err)
	require.NoError(t, insecurecleartextkeyset.Write(handle, keyset.NewJSONWriter(f)))
	require.NoError(t, f.Close())

	store, err := NewFromConfig(context.Background(), config.StorageConfig{
		Type:             "memory",
		MemoryMaxEntries: 10,
		Encryption: config.EncryptionConfig{
			Enabled:    true,
			KeysetFile: keysetPath,
		},
	})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.SetString(ctx, "auth:tokens", "secret"))

	value, found, err := store.GetString(ctx, "auth:tokens")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "secret", value)

	keys, err := store.AllKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"auth:tokens"}, keys)
}

func TestNewFromConfig_EncryptionFailureReported(t *testing.T) {
	_, err := NewFromConfig(context.Background(), config.StorageConfig{
		Type:             "memory",
		MemoryMaxEntries: 10,
		Encryption: config.EncryptionConfig{
			Enabled:    true,
			KeysetFile: filepath.Join(t.TempDir(), "missing.json"),
		},
	})
	assert.ErrorContains(t, err, "initializing encryption")
}
