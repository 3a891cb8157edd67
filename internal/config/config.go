package config

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Client  ClientConfig
	Storage StorageConfig
	Observe ObserveConfig
}

// ClientConfig holds the recognised options of the API client layer.
type ClientConfig struct {
	BaseURL string `env:"API_BASE_URL, default=http://localhost:8080"`

	// CacheTTL is how long a successful read stays servable from cache.
	CacheTTL time.Duration `env:"API_CACHE_TTL, default=10m"`

	MaxRetries int           `env:"API_MAX_RETRIES, default=3"`
	RetryDelay time.Duration `env:"API_RETRY_DELAY, default=1s"`

	EnableOfflineCache bool `env:"API_ENABLE_OFFLINE_CACHE, default=true"`

	// PreemptiveRefresh refreshes the access token before dispatch when it is
	// within RefreshBuffer of expiry.
	PreemptiveRefresh bool          `env:"API_PREEMPTIVE_REFRESH, default=true"`
	RefreshBuffer     time.Duration `env:"API_REFRESH_BUFFER, default=5m"`

	RequestTimeout  time.Duration `env:"API_REQUEST_TIMEOUT, default=30s"`
	LoginEndpoint   string        `env:"API_LOGIN_ENDPOINT, default=/auth/login"`
	RefreshEndpoint string        `env:"API_REFRESH_ENDPOINT, default=/auth/refresh"`

	OutgoingHTTPMaxIdleConns    int `env:"API_OUTGOING_MAX_IDLE_CONNS, default=20"`
	OutgoingHTTPMaxConnsPerHost int `env:"API_OUTGOING_MAX_CONNS_PER_HOST, default=10"`
}

// StorageConfig selects where tokens and cache entries are persisted.
type StorageConfig struct {
	// Type selects the store implementation: "sqlite" (default), "memory" or
	// "valkey".
	Type string `env:"STORAGE_TYPE, default=sqlite"`

	// SQLitePath is the database file used by the sqlite store. Empty means
	// $HOME/.groupbuy/client.db.
	SQLitePath string `env:"STORAGE_SQLITE_PATH"`

	// MemoryMaxEntries bounds the in-memory store.
	MemoryMaxEntries int `env:"STORAGE_MEMORY_MAX_ENTRIES, default=10000"`

	// KeyPrefix namespaces keys in shared stores.
	KeyPrefix string `env:"STORAGE_KEY_PREFIX, default=groupbuy:"`

	Valkey ValkeyConfig

	// Encryption holds at-rest encryption settings for stored values.
	Encryption EncryptionConfig
}

// ValkeyConfig specifies distributed store configuration.
type ValkeyConfig struct {
	// Address is the Valkey server address (host:port).
	Address string `env:"VALKEY_ADDRESS"`

	// TLS enables TLS connection to Valkey. Defaults to true so the secure option
	// is the default.
	TLS bool `env:"VALKEY_TLS, default=true"`

	Username string `env:"VALKEY_USERNAME"`
	Password string `env:"VALKEY_PASSWORD"`

	// IAMEnabled uses short-lived ElastiCache IAM tokens in place of the
	// password.
	IAMEnabled    bool   `env:"VALKEY_IAM_ENABLED, default=false"`
	IAMCacheName  string `env:"VALKEY_IAM_CACHE_NAME"`
	IAMServerless bool   `env:"VALKEY_IAM_SERVERLESS, default=false"`
}

// EncryptionConfig holds settings for value encryption.
type EncryptionConfig struct {
	Enabled bool `env:"STORAGE_ENCRYPTION_ENABLED, default=false"`

	// KeysetFile is a cleartext Tink JSON keyset, for local use.
	KeysetFile string `env:"STORAGE_ENCRYPTION_KEYSET_FILE"`

	// KeysetURI is the URI to the encrypted Tink keyset.
	// Format: aws-secretsmanager://secret-name
	KeysetURI string `env:"STORAGE_ENCRYPTION_KEYSET_URI"`

	// KMSEnvelopeKeyURI is the AWS KMS key URI for envelope encryption.
	// Format: aws-kms://arn:aws:kms:region:account:key/key-id
	KMSEnvelopeKeyURI string `env:"STORAGE_ENCRYPTION_KMS_ENVELOPE_KEY_URI"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=groupbuy-client"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Client.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid client configuration: %w", err)
	}

	err = cfg.Storage.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid storage configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the client configuration is usable.
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("API_BASE_URL is not a valid URL: %w", err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("API_BASE_URL must be absolute: %s", c.BaseURL)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("API_MAX_RETRIES must not be negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("API_RETRY_DELAY must not be negative")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("API_CACHE_TTL must be positive")
	}

	return nil
}

// Validate checks that the storage configuration is valid.
func (c *StorageConfig) Validate() error {
	switch c.Type {
	case "memory", "sqlite", "valkey":
	default:
		return fmt.Errorf("invalid STORAGE_TYPE %q: must be one of \"memory\", \"sqlite\" or \"valkey\"", c.Type)
	}

	// Valkey requires address
	if c.Type == "valkey" && c.Valkey.Address == "" {
		return fmt.Errorf("VALKEY_ADDRESS required when STORAGE_TYPE=valkey")
	}

	if c.Valkey.IAMEnabled && c.Valkey.IAMCacheName == "" {
		return fmt.Errorf("VALKEY_IAM_CACHE_NAME required when VALKEY_IAM_ENABLED=true")
	}

	// Encryption requires a keyset source
	if c.Encryption.Enabled && c.Encryption.KeysetFile == "" {
		if c.Encryption.KeysetURI == "" {
			return fmt.Errorf("STORAGE_ENCRYPTION_KEYSET_URI or STORAGE_ENCRYPTION_KEYSET_FILE required when encryption enabled")
		}
		if c.Encryption.KMSEnvelopeKeyURI == "" {
			return fmt.Errorf("STORAGE_ENCRYPTION_KMS_ENVELOPE_KEY_URI required when encryption enabled")
		}
	}

	return nil
}
