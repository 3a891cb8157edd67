package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/groupbuy/groupbuy-client/internal/config"
	"github.com/groupbuy/groupbuy-client/internal/encryption"
	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// iamConnLifetime keeps connections below the 12 hour limit ElastiCache
// places on IAM-authenticated connections.
const iamConnLifetime = 11 * time.Hour

// NewFromConfig creates the configured KVStore, wrapped with encryption when
// enabled and with instrumentation always.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig) (KVStore, error) {
	var (
		store KVStore
		err   error
	)

	switch cfg.Type {
	case "valkey":
		store, err = newValkeyFromConfig(ctx, cfg)
	case "sqlite":
		log.Debug().Str("storage_type", "sqlite").Msg("initializing sqlite storage")
		store, err = NewSQLite(cfg.SQLitePath)
	case "memory":
		log.Debug().Str("storage_type", "memory").Msg("initializing in-memory storage")
		store, err = NewMemory(cfg.MemoryMaxEntries)
	default:
		return nil, fmt.Errorf("invalid storage type %q: must be one of \"memory\", \"sqlite\" or \"valkey\"", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Encryption.Enabled {
		strategy, err := newEncryptionStrategy(ctx, cfg.Encryption)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("initializing encryption: %w", err)
		}
		store = NewEncrypted(store, strategy)

		log.Info().Msg("storage encryption enabled with automatic keyset refresh")
	}

	return NewInstrumented(store, cfg.Type), nil
}

func newEncryptionStrategy(ctx context.Context, cfg config.EncryptionConfig) (EncryptionStrategy, error) {
	var loader encryption.Loader
	switch {
	case cfg.KeysetFile != "":
		loader = encryption.FileLoader(cfg.KeysetFile)
	default:
		loader = encryption.KMSLoader(cfg.KeysetURI, cfg.KMSEnvelopeKeyURI)
	}

	aead, err := encryption.NewRefreshableAEAD(ctx, loader, encryption.DefaultRefreshInterval)
	if err != nil {
		return nil, err
	}

	return NewTinkEncryptionStrategy(aead), nil
}

func newValkeyFromConfig(ctx context.Context, cfg config.StorageConfig) (*Valkey, error) {
	vc := cfg.Valkey

	log.Info().
		Str("storage_type", "valkey").
		Str("address", vc.Address).
		Bool("tls", vc.TLS).
		Bool("iam_enabled", vc.IAMEnabled).
		Msg("initializing distributed storage")

	if vc.Address == "" {
		return nil, fmt.Errorf("valkey address is required when storage type is valkey")
	}

	opts := valkey.ClientOption{
		InitAddress: []string{vc.Address},
	}

	creds, err := valkeyAuth(ctx, vc, loadDefaultAWSConfig)
	if err != nil {
		return nil, fmt.Errorf("configuring valkey credentials: %w", err)
	}
	opts.AuthCredentialsFn = creds
	if vc.IAMEnabled {
		// IAM tokens expire, so connections are recycled before they do
		opts.ConnLifetime = iamConnLifetime
	}

	if vc.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	return NewValkey(client, cfg.KeyPrefix), nil
}
