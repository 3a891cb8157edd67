package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/groupbuy/groupbuy-client/internal/encryption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTinkStrategy(t *testing.T) *TinkEncryptionStrategy {
	t.Helper()
	aead, err := encryption.NewTestAEAD()
	require.NoError(t, err)
	return NewTinkEncryptionStrategy(aead)
}

func TestTinkEncryptionStrategy_RoundTrip(t *testing.T) {
	s := newTinkStrategy(t)
	ctx := context.Background()

	enc, err := s.EncryptValue(ctx, []byte(`{"accessToken":"a"}`), "auth:tokens")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, valuePrefix))
	assert.NotContains(t, enc, "accessToken")

	dec, err := s.DecryptValue(ctx, enc, "auth:tokens")
	require.NoError(t, err)
	assert.Equal(t, `{"accessToken":"a"}`, string(dec))
}

func TestTinkEncryptionStrategy_KeyBoundAsAssociatedData(t *testing.T) {
	s := newTinkStrategy(t)
	ctx := context.Background()

	enc, err := s.EncryptValue(ctx, []byte("value"), "api_cache:/cart")
	require.NoError(t, err)

	_, err = s.DecryptValue(ctx, enc, "api_cache:/products")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestTinkEncryptionStrategy_DecryptRejects(t *testing.T) {
	s := newTinkStrategy(t)

	_, err := s.DecryptValue(context.Background(), "plaintext", "k")
	assert.ErrorContains(t, err, "missing")

	_, err = s.DecryptValue(context.Background(), valuePrefix+"!!!", "k")
	assert.ErrorContains(t, err, "base64 decode failed")
}

func TestTinkEncryptionStrategy_Keys(t *testing.T) {
	s := newTinkStrategy(t)

	assert.Equal(t, "enc:auth:tokens", s.StorageKey("auth:tokens"))

	k, ok := s.LogicalKey("enc:auth:tokens")
	assert.True(t, ok)
	assert.Equal(t, "auth:tokens", k)

	_, ok = s.LogicalKey("auth:tokens")
	assert.False(t, ok)
}

func TestNoEncryptionStrategy(t *testing.T) {
	var s NoEncryptionStrategy
	ctx := context.Background()

	enc, err := s.EncryptValue(ctx, []byte("v"), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", enc)

	dec, err := s.DecryptValue(ctx, "v", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(dec))

	assert.Equal(t, "k", s.StorageKey("k"))
	k, ok := s.LogicalKey("k")
	assert.True(t, ok)
	assert.Equal(t, "k", k)
}

func TestEncrypted_StoresCiphertext(t *testing.T) {
	inner, err := NewMemory(100)
	require.NoError(t, err)
	store := NewEncrypted(inner, newTinkStrategy(t))
	ctx := context.Background()

	require.NoError(t, store.SetString(ctx, "auth:tokens", "secret-refresh-token"))

	raw, found, err := inner.GetString(ctx, "enc:auth:tokens")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotContains(t, raw, "secret-refresh-token")

	value, found, err := store.GetString(ctx, "auth:tokens")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "secret-refresh-token", value)
}

func TestEncrypted_UndecryptableEntryIsDiscarded(t *testing.T) {
	inner, err := NewMemory(100)
	require.NoError(t, err)
	store := NewEncrypted(inner, newTinkStrategy(t))
	ctx := context.Background()

	require.NoError(t, inner.SetString(ctx, "enc:auth:tokens", "left over plaintext"))

	_, found, err := store.GetString(ctx, "auth:tokens")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = inner.GetString(ctx, "enc:auth:tokens")
	require.NoError(t, err)
	assert.False(t, found, "undecryptable entry should be removed")
}

func TestEncrypted_AllKeysAndDelete(t *testing.T) {
	inner, err := NewMemory(100)
	require.NoError(t, err)
	store := NewEncrypted(inner, newTinkStrategy(t))
	ctx := context.Background()

	require.NoError(t, store.SetString(ctx, "api_cache:/cart", "{}"))
	require.NoError(t, store.SetString(ctx, "api_cache:/products", "{}"))
	require.NoError(t, inner.SetString(ctx, "plain", "x"))

	keys, err := store.AllKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"api_cache:/cart", "api_cache:/products"}, keys)

	require.NoError(t, store.Delete(ctx, "api_cache:/cart"))
	keys, err = store.AllKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"api_cache:/products"}, keys)

	assert.NoError(t, store.Close())
}
