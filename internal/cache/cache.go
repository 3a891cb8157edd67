// Package cache decorates an api.Requester with a TTL response cache for
// reads, backed by a storage.KVStore. The cache is an optimisation only:
// losing it costs a network round trip, never correctness.
package cache

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/groupbuy/groupbuy-client/internal/api"
	"github.com/groupbuy/groupbuy-client/internal/network"
	"github.com/groupbuy/groupbuy-client/internal/result"
	"github.com/groupbuy/groupbuy-client/internal/storage"
	"github.com/rs/zerolog/log"
)

// KeyPrefix namespaces cache entries within a shared KVStore.
const KeyPrefix = "api_cache:"

// DefaultTTL is how long a successful read stays servable.
const DefaultTTL = 10 * time.Minute

const cachedMessage = "served from cache"

// Entry is one cached read as persisted in the store.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Expired reports whether the entry may no longer be served at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Key derives the cache key of a read from its endpoint path and parameters.
// Parameters are sorted, so their order does not matter; a query string on the
// endpoint is merged with params.
func Key(endpoint string, params url.Values) string {
	path, query := splitEndpoint(endpoint)
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	if len(query) == 0 {
		return KeyPrefix + path
	}
	return KeyPrefix + path + "?" + query.Encode()
}

// keyPath returns the endpoint path encoded in a cache key.
func keyPath(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return "", false
	}
	path, _, _ := strings.Cut(rest, "?")
	return path, true
}

func splitEndpoint(endpoint string) (string, url.Values) {
	path, rawQuery, _ := strings.Cut(endpoint, "?")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		query = url.Values{}
	}
	return path, query
}

// topSegment returns the first path segment: "cart" for "/cart/items/7".
func topSegment(path string) string {
	seg, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return seg
}

// Client is an api.Requester that serves and stores GET responses and
// invalidates related entries after successful mutations.
type Client struct {
	next    api.Requester
	store   storage.KVStore
	network network.Status
	ttl     time.Duration
	enabled bool
	now     func() time.Time

	// mu orders stores against invalidations. A read only stores its response
	// if no invalidation of its segment (or Clear) happened while it was out.
	mu          sync.Mutex
	cleared     uint64
	invalidated map[string]uint64
}

type Option func(*Client)

func WithTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithNetwork supplies the connectivity signal. Without one the client is
// always considered online.
func WithNetwork(s network.Status) Option {
	return func(c *Client) { c.network = s }
}

// WithEnabled turns serving and storing on or off. Invalidation applies
// either way so a re-enabled cache never serves pre-mutation data.
func WithEnabled(enabled bool) Option {
	return func(c *Client) { c.enabled = enabled }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(next api.Requester, store storage.KVStore, opts ...Option) *Client {
	c := &Client{
		next:    next,
		store:   store,
		ttl:     DefaultTTL,
		enabled: true,
		now:     time.Now,

		invalidated: map[string]uint64{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do implements api.Requester.
func (c *Client) Do(ctx context.Context, method, endpoint string, body any, opts ...api.RequestOption) result.Result[json.RawMessage] {
	if method == http.MethodGet {
		return c.get(ctx, endpoint, body, opts)
	}

	res := c.next.Do(ctx, method, endpoint, body, opts...)
	if res.Succeeded() {
		// invalidation must finish before the caller sees the mutation
		c.Invalidate(context.WithoutCancel(ctx), endpoint)
	}
	return res
}

func (c *Client) get(ctx context.Context, endpoint string, body any, opts []api.RequestOption) result.Result[json.RawMessage] {
	o := api.ResolveOptions(opts...)
	if !c.enabled || o.NoCache {
		return c.next.Do(ctx, http.MethodGet, endpoint, body, opts...)
	}

	key := Key(endpoint, o.Params)
	logger := log.With().Str("cache_key", key).Logger()

	path, _ := splitEndpoint(endpoint)
	seg := topSegment(path)

	if !c.online() || o.CachePreferred {
		if entry, ok := c.lookup(ctx, key); ok {
			logger.Debug().Time("expires_at", entry.ExpiresAt).Msg("serving cached response")
			return result.NewSuccess(entry.Data, cachedMessage).WithCache()
		}
	}

	gen := c.generation(seg)
	res := c.next.Do(ctx, http.MethodGet, endpoint, body, opts...)

	if data, ok := res.Data(); ok {
		ttl := c.ttl
		if o.CacheTTL > 0 {
			ttl = o.CacheTTL
		}
		c.saveUnlessInvalidated(ctx, seg, gen, key, data, ttl)
		return res
	}

	if err, failed := res.Failed(); failed && api.IsTransient(err) {
		if entry, ok := c.lookup(ctx, key); ok {
			logger.Warn().Err(err).Msg("network read failed, serving cached response")
			return result.NewSuccess(entry.Data, cachedMessage).WithCache()
		}
	}

	return res
}

func (c *Client) online() bool {
	return c.network == nil || c.network.Online()
}

// lookup returns a servable entry. Expired and corrupt entries are removed.
func (c *Client) lookup(ctx context.Context, key string) (Entry, bool) {
	raw, found, err := c.store.GetString(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("cache_key", key).Msg("cache read failed")
		return Entry{}, false
	}
	if !found {
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		log.Warn().Err(err).Str("cache_key", key).Msg("discarding corrupt cache entry")
		c.remove(ctx, key)
		return Entry{}, false
	}

	if entry.Expired(c.now()) {
		c.remove(ctx, key)
		return Entry{}, false
	}

	return entry, true
}

// generation changes whenever entries under seg are invalidated or the cache
// is cleared.
func (c *Client) generation(seg string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared + c.invalidated[seg]
}

// saveUnlessInvalidated stores the response of a read that started at
// generation gen. A mutation that completed while the read was in flight may
// have made the response stale, so it is dropped.
func (c *Client) saveUnlessInvalidated(ctx context.Context, seg string, gen uint64, key string, data json.RawMessage, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cleared+c.invalidated[seg] != gen {
		log.Debug().Str("cache_key", key).Msg("not caching response, invalidated while in flight")
		return
	}
	c.save(ctx, key, data, ttl)
}

func (c *Client) save(ctx context.Context, key string, data json.RawMessage, ttl time.Duration) {
	now := c.now()
	payload, err := json.Marshal(Entry{
		Data:      data,
		Timestamp: now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		log.Warn().Err(err).Str("cache_key", key).Msg("cache entry encoding failed")
		return
	}

	if err := c.store.SetString(ctx, key, string(payload)); err != nil {
		log.Warn().Err(err).Str("cache_key", key).Msg("cache write failed")
	}
}

func (c *Client) remove(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("cache_key", key).Msg("cache delete failed")
	}
}

// Invalidate removes every entry whose path shares endpoint's top-level
// segment: a change to /cart/items/7 drops everything under /cart. It returns
// the number of entries removed.
func (c *Client) Invalidate(ctx context.Context, endpoint string) int {
	path, _ := splitEndpoint(endpoint)
	seg := topSegment(path)

	c.mu.Lock()
	c.invalidated[seg]++
	c.mu.Unlock()

	keys, err := c.store.AllKeys(ctx)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("cache invalidation could not list keys")
		return 0
	}

	removed := 0
	for _, key := range keys {
		p, ok := keyPath(key)
		if !ok || topSegment(p) != seg {
			continue
		}
		c.remove(ctx, key)
		removed++
	}

	if removed > 0 {
		log.Debug().Str("endpoint", endpoint).Int("removed", removed).Msg("cache invalidated")
	}
	return removed
}

// Clear removes every cache entry, leaving other data in the store alone.
func (c *Client) Clear(ctx context.Context) (int, error) {
	c.mu.Lock()
	c.cleared++
	c.mu.Unlock()

	keys, err := c.store.AllKeys(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, KeyPrefix) {
			continue
		}
		if err := c.store.Delete(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Stats summarises the cache contents.
type Stats struct {
	Entries int
	Expired int
	Bytes   int64
	Oldest  time.Time
	Newest  time.Time
}

// Stats walks the cache entries. Corrupt entries count as expired.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	keys, err := c.store.AllKeys(ctx)
	if err != nil {
		return Stats{}, err
	}

	now := c.now()
	var s Stats
	for _, key := range keys {
		if !strings.HasPrefix(key, KeyPrefix) {
			continue
		}

		raw, found, err := c.store.GetString(ctx, key)
		if err != nil {
			return s, err
		}
		if !found {
			continue
		}

		s.Entries++
		s.Bytes += int64(len(raw))

		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Expired(now) {
			s.Expired++
			continue
		}

		if s.Oldest.IsZero() || entry.Timestamp.Before(s.Oldest) {
			s.Oldest = entry.Timestamp
		}
		if entry.Timestamp.After(s.Newest) {
			s.Newest = entry.Timestamp
		}
	}
	return s, nil
}
