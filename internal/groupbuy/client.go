// Package groupbuy assembles the client stack: storage, the session
// coordinator, the request client and the response cache, sharing one
// connectivity monitor.
package groupbuy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/groupbuy/groupbuy-client/internal/api"
	"github.com/groupbuy/groupbuy-client/internal/auth"
	"github.com/groupbuy/groupbuy-client/internal/cache"
	"github.com/groupbuy/groupbuy-client/internal/config"
	"github.com/groupbuy/groupbuy-client/internal/network"
	"github.com/groupbuy/groupbuy-client/internal/observe"
	"github.com/groupbuy/groupbuy-client/internal/server"
	"github.com/groupbuy/groupbuy-client/internal/storage"
	"github.com/rs/zerolog/log"
)

// Client is the assembled stack. Requester is the entry point for API
// calls; it caches reads and invalidates them after writes.
type Client struct {
	Store     storage.KVStore
	Session   *auth.Coordinator
	Requester api.Requester
	Cache     *cache.Client
	Network   *network.Monitor

	authenticator auth.Authenticator
	shutdown      server.ShutdownHooks
}

type options struct {
	store      storage.KVStore
	httpClient *http.Client
	network    *network.Monitor
}

type Option func(*options)

// WithStore uses store instead of the one described by the storage
// configuration. The client takes ownership and closes it.
func WithStore(store storage.KVStore) Option {
	return func(o *options) { o.store = store }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithNetwork shares an existing connectivity monitor.
func WithNetwork(m *network.Monitor) Option {
	return func(o *options) { o.network = m }
}

// New builds the client from cfg.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{Network: o.network}
	if c.Network == nil {
		c.Network = network.NewMonitor(true)
	}

	store := o.store
	if store == nil {
		var err error
		store, err = storage.NewFromConfig(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("storage configuration failed: %w", err)
		}
	}
	c.Store = store
	c.shutdown.Add("storage", store.Close)

	tokenStore, err := sessionStore(cfg.Storage, store)
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("session storage configuration failed: %w", err)
	}
	if tokenStore != store {
		c.shutdown.Add("session storage", tokenStore.Close)
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Client.RequestTimeout,
			Transport: observe.HTTPTransport(configureHTTPTransport(cfg.Client), cfg.Observe),
		}
	}

	authenticator := auth.NewHTTPAuthenticator(cfg.Client, httpClient)
	c.authenticator = authenticator
	c.Session = auth.NewCoordinator(
		storage.NewKVTokenStorage(tokenStore),
		authenticator,
		auth.WithRefreshBuffer(cfg.Client.RefreshBuffer),
	)

	core, err := api.New(cfg.Client,
		api.WithHTTPClient(httpClient),
		api.WithTokenSource(c.Session),
	)
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("request client configuration failed: %w", err)
	}

	c.Cache = cache.New(core, store,
		cache.WithTTL(cfg.Client.CacheTTL),
		cache.WithEnabled(cfg.Client.EnableOfflineCache),
		cache.WithNetwork(c.Network),
	)
	c.Requester = c.Cache

	log.Debug().
		Str("base_url", cfg.Client.BaseURL).
		Str("storage_type", cfg.Storage.Type).
		Bool("cache_enabled", cfg.Client.EnableOfflineCache).
		Msg("client configured")

	return c, nil
}

// Login signs in and stores the session.
func (c *Client) Login(ctx context.Context, creds auth.Credentials) (auth.Grant, error) {
	return c.Session.Login(ctx, c.authenticator, creds)
}

// Logout clears the session and every cached response, since cached reads
// may belong to the signed-out user.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.Session.Logout(ctx); err != nil {
		return err
	}
	if _, err := c.Cache.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("cache clear on logout failed")
	}
	return nil
}

// Close releases the store and anything else the client owns.
func (c *Client) Close(ctx context.Context) error {
	return c.shutdown.Execute(ctx)
}

// sessionStore returns the store that holds the session tokens. The memory
// backend evicts by size, so cache churn could drop the tokens if they shared
// it; they get a store of their own there. Persistent backends never evict and
// are shared.
func sessionStore(cfg config.StorageConfig, store storage.KVStore) (storage.KVStore, error) {
	if cfg.Type != "memory" {
		return store, nil
	}
	return storage.NewMemory(sessionStoreSize)
}

// sessionStoreSize leaves room beyond the single tokens entry.
const sessionStoreSize = 16

func configureHTTPTransport(cfg config.ClientConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
