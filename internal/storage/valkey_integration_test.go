//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/groupbuy/groupbuy-client/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
)

func setupValkey(t *testing.T) *Valkey {
	t.Helper()

	cfg := testhelpers.RunValkeyContainer(t)

	creds, err := valkeyAuth(context.Background(), cfg, nil)
	require.NoError(t, err)

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		AuthCredentialsFn: creds,
	})
	require.NoError(t, err)

	store := NewValkey(client, "groupbuy-test:")
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestIntegrationValkey_SetAndGet(t *testing.T) {
	store := setupValkey(t)
	ctx := context.Background()

	require.NoError(t, store.SetString(ctx, "key", "value"))

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		value, found, err := store.GetString(ctx, "key")
		assert.NoError(c, err)
		assert.True(c, found)
		assert.Equal(c, "value", value)
	}, 2*time.Second, 50*time.Millisecond)
}

func TestIntegrationValkey_GetNotFound(t *testing.T) {
	store := setupValkey(t)

	value, found, err := store.GetString(context.Background(), "nonexistent-key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, value)
}

func TestIntegrationValkey_DeleteAndAllKeys(t *testing.T) {
	store := setupValkey(t)
	ctx := context.Background()

	for _, k := range []string{"api_cache:/cart", "api_cache:/products/7", "auth:tokens"} {
		require.NoError(t, store.SetString(ctx, k, "v"))
	}
	require.NoError(t, store.Delete(ctx, "api_cache:/cart"))

	keys, err := store.AllKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"api_cache:/products/7", "auth:tokens"}, keys)
}
