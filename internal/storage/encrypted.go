package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// valuePrefix marks encrypted values so plaintext written before encryption
// was enabled is recognised rather than fed to the AEAD.
const valuePrefix = "gb-enc:"

// storageKeyPrefix namespaces encrypted entries apart from plaintext ones.
const storageKeyPrefix = "enc:"

// EncryptionStrategy defines how stored values are encrypted and how storage
// keys are decorated.
type EncryptionStrategy interface {
	// EncryptValue encrypts value for storage. key is bound as associated
	// data so ciphertext cannot be moved between entries.
	EncryptValue(ctx context.Context, value []byte, key string) (string, error)

	// DecryptValue reverses EncryptValue; key must match.
	DecryptValue(ctx context.Context, value string, key string) ([]byte, error)

	// StorageKey returns the key as written to the underlying store.
	StorageKey(key string) string

	// LogicalKey reverses StorageKey, reporting false for keys this strategy
	// did not produce.
	LogicalKey(storageKey string) (string, bool)

	Close() error
}

// NoEncryptionStrategy stores values as-is.
type NoEncryptionStrategy struct{}

func (NoEncryptionStrategy) EncryptValue(_ context.Context, value []byte, _ string) (string, error) {
	return string(value), nil
}

func (NoEncryptionStrategy) DecryptValue(_ context.Context, value string, _ string) ([]byte, error) {
	return []byte(value), nil
}

func (NoEncryptionStrategy) StorageKey(key string) string { return key }

func (NoEncryptionStrategy) LogicalKey(storageKey string) (string, bool) { return storageKey, true }

func (NoEncryptionStrategy) Close() error { return nil }

// TinkEncryptionStrategy encrypts values with a Tink AEAD, using the logical
// key as associated data. Ciphertext is base64 encoded and prefixed.
type TinkEncryptionStrategy struct {
	aead tink.AEAD
}

func NewTinkEncryptionStrategy(aead tink.AEAD) *TinkEncryptionStrategy {
	return &TinkEncryptionStrategy{aead: aead}
}

func (s *TinkEncryptionStrategy) EncryptValue(_ context.Context, value []byte, key string) (string, error) {
	ciphertext, err := s.aead.Encrypt(value, []byte(key))
	if err != nil {
		return "", fmt.Errorf("encrypting value: %w", err)
	}
	return valuePrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *TinkEncryptionStrategy) DecryptValue(_ context.Context, value string, key string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(value, valuePrefix)
	if !ok {
		return nil, fmt.Errorf("missing %q prefix: value may be unencrypted or corrupted", valuePrefix)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode failed: %w", err)
	}

	plaintext, err := s.aead.Decrypt(decoded, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

func (s *TinkEncryptionStrategy) StorageKey(key string) string {
	return storageKeyPrefix + key
}

func (s *TinkEncryptionStrategy) LogicalKey(storageKey string) (string, bool) {
	return strings.CutPrefix(storageKey, storageKeyPrefix)
}

func (s *TinkEncryptionStrategy) Close() error {
	if closer, ok := s.aead.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Encrypted is a KVStore that encrypts values before handing them to the
// wrapped store.
type Encrypted struct {
	inner    KVStore
	strategy EncryptionStrategy
}

func NewEncrypted(inner KVStore, strategy EncryptionStrategy) *Encrypted {
	return &Encrypted{inner: inner, strategy: strategy}
}

// GetString decrypts the stored value. An entry that cannot be decrypted
// (rotated away key, plaintext left over from before encryption) is removed
// and reported as absent.
func (e *Encrypted) GetString(ctx context.Context, key string) (string, bool, error) {
	storageKey := e.strategy.StorageKey(key)

	raw, found, err := e.inner.GetString(ctx, storageKey)
	if err != nil || !found {
		return "", found, err
	}

	plaintext, err := e.strategy.DecryptValue(ctx, raw, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discarding stored value that failed decryption")
		if delErr := e.inner.Delete(ctx, storageKey); delErr != nil {
			log.Warn().Err(delErr).Str("key", key).Msg("failed to remove undecryptable value")
		}
		return "", false, nil
	}

	return string(plaintext), true, nil
}

func (e *Encrypted) SetString(ctx context.Context, key string, value string) error {
	encrypted, err := e.strategy.EncryptValue(ctx, []byte(value), key)
	if err != nil {
		return err
	}
	return e.inner.SetString(ctx, e.strategy.StorageKey(key), encrypted)
}

func (e *Encrypted) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, e.strategy.StorageKey(key))
}

// AllKeys lists logical keys, skipping entries the strategy did not write.
func (e *Encrypted) AllKeys(ctx context.Context) ([]string, error) {
	stored, err := e.inner.AllKeys(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(stored))
	for _, s := range stored {
		if k, ok := e.strategy.LogicalKey(s); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (e *Encrypted) Close() error {
	strategyErr := e.strategy.Close()
	if err := e.inner.Close(); err != nil {
		return err
	}
	return strategyErr
}
