package api

import (
	"net/http"
	"net/url"
	"time"
)

// RequestOptions are the per-call settings. Fields the core client does not
// use (the cache settings) are read by decorators.
type RequestOptions struct {
	Params  url.Values
	Headers http.Header

	// SkipAuth sends the call without an Authorization header and disables
	// 401 handling.
	SkipAuth bool

	// CachePreferred serves a fresh cached entry even when online.
	CachePreferred bool

	// CacheTTL overrides the cache decorator's TTL when positive.
	CacheTTL time.Duration

	// NoCache bypasses the cache decorator for this call.
	NoCache bool
}

type RequestOption func(*RequestOptions)

// ResolveOptions applies opts in order.
func ResolveOptions(opts ...RequestOption) RequestOptions {
	o := RequestOptions{
		Params:  url.Values{},
		Headers: http.Header{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithParam adds a query parameter.
func WithParam(key, value string) RequestOption {
	return func(o *RequestOptions) { o.Params.Add(key, value) }
}

// WithParams adds every entry of params as a query parameter.
func WithParams(params map[string]string) RequestOption {
	return func(o *RequestOptions) {
		for k, v := range params {
			o.Params.Add(k, v)
		}
	}
}

func WithHeader(key, value string) RequestOption {
	return func(o *RequestOptions) { o.Headers.Set(key, value) }
}

func WithoutAuth() RequestOption {
	return func(o *RequestOptions) { o.SkipAuth = true }
}

func WithCachePreferred() RequestOption {
	return func(o *RequestOptions) { o.CachePreferred = true }
}

func WithCacheTTL(ttl time.Duration) RequestOption {
	return func(o *RequestOptions) { o.CacheTTL = ttl }
}

func WithoutCache() RequestOption {
	return func(o *RequestOptions) { o.NoCache = true }
}
