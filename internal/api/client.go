// Package api is the core request client: authenticated JSON calls with
// reactive 401 handling, bounded linear-backoff retry and cooperative
// cancellation. Every outcome is returned as a result.Result.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/groupbuy/groupbuy-client/internal/auth"
	"github.com/groupbuy/groupbuy-client/internal/config"
	"github.com/groupbuy/groupbuy-client/internal/result"
	"github.com/rs/zerolog/log"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

// Requester performs one logical API operation. Client implements it, as do
// decorators such as the response cache.
type Requester interface {
	Do(ctx context.Context, method, endpoint string, body any, opts ...RequestOption) result.Result[json.RawMessage]
}

// TokenSource supplies and maintains the session's access token. The auth
// Coordinator is the production implementation.
type TokenSource interface {
	EnsureFreshToken(ctx context.Context) (string, error)
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context, stale string) (string, error)
	CanRefresh(ctx context.Context) bool
	Logout(ctx context.Context) error
}

// RequestContext is the per-call state of one Do invocation.
type RequestContext struct {
	// ID is sent as X-Request-ID on every attempt of the call.
	ID string

	// Attempt counts transient retries already made.
	Attempt int

	Headers http.Header
}

func newRequestContext(headers http.Header) *RequestContext {
	merged := http.Header{
		"Accept": {"application/json"},
	}
	for k, v := range headers {
		merged[k] = v
	}

	id := uuid.NewString()
	merged.Set("X-Request-ID", id)

	return &RequestContext{ID: id, Headers: merged}
}

type Client struct {
	baseURL    *url.URL
	http       *http.Client
	tokens     TokenSource
	maxRetries int
	retryDelay time.Duration
	preemptive bool

	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTokenSource enables authenticated calls.
func WithTokenSource(ts TokenSource) Option {
	return func(cl *Client) { cl.tokens = ts }
}

// New creates a client for the API at cfg.BaseURL.
func New(cfg config.ClientConfig, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	c := &Client{
		baseURL:    base,
		http:       &http.Client{Timeout: cfg.RequestTimeout},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		preemptive: cfg.PreemptiveRefresh,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Do performs method on endpoint. body is sent as JSON unless nil; a
// json.RawMessage or []byte body is sent verbatim. The result carries the
// response payload undecoded: the "data" member of an enveloped response, or
// the whole body otherwise.
func (c *Client) Do(ctx context.Context, method, endpoint string, body any, opts ...RequestOption) result.Result[json.RawMessage] {
	o := ResolveOptions(opts...)
	rc := newRequestContext(o.Headers)

	target, err := c.resolve(endpoint, o.Params)
	if err != nil {
		return result.NewFailed[json.RawMessage](err)
	}

	payload, err := encodeBody(body)
	if err != nil {
		return result.NewFailed[json.RawMessage](err)
	}

	logger := log.With().
		Str("request_id", rc.ID).
		Str("method", method).
		Str("endpoint", endpoint).
		Logger()

	refreshed := false

	for {
		if ctx.Err() != nil {
			return result.NewCancelled[json.RawMessage]()
		}

		token, err := c.authorize(ctx, o)
		if ctx.Err() != nil {
			return result.NewCancelled[json.RawMessage]()
		}
		if err != nil {
			return result.NewFailed[json.RawMessage](err)
		}

		logger.Debug().Int("attempt", rc.Attempt).Msg("sending request")

		status, raw, sendErr := c.send(ctx, method, target, payload, token, rc)
		if ctx.Err() != nil {
			return result.NewCancelled[json.RawMessage]()
		}

		var transient *TransientError

		switch {
		case sendErr != nil:
			transient = &TransientError{Err: sendErr}

		case status >= 200 && status <= 299:
			data, message := parseSuccess(raw)
			return result.NewSuccess(data, message)

		case status == http.StatusUnauthorized && !o.SkipAuth:
			if !refreshed && c.tokens != nil && c.tokens.CanRefresh(ctx) {
				refreshed = true
				logger.Debug().Msg("unauthorized, refreshing session")

				if _, err := c.tokens.Refresh(ctx, token); err != nil {
					if ctx.Err() != nil {
						return result.NewCancelled[json.RawMessage]()
					}
					// the coordinator has already cleared the session
					return result.NewFailed[json.RawMessage](fmt.Errorf("%w: %w", ErrUnauthorized, err))
				}
				continue
			}

			c.clearSession(ctx)
			return result.NewFailed[json.RawMessage](fmt.Errorf("%w: %s", ErrUnauthorized, errorMessage(raw, status)))

		case retryableStatus(status):
			transient = &TransientError{StatusCode: status, Message: errorMessage(raw, status)}

		default:
			return result.NewFailed[json.RawMessage](&StatusError{StatusCode: status, Message: errorMessage(raw, 0)})
		}

		if rc.Attempt >= c.maxRetries {
			transient.Attempts = rc.Attempt + 1
			logger.Warn().Err(transient).Msg("request failed, retries exhausted")
			return result.NewFailed[json.RawMessage](transient)
		}

		delay := c.retryDelay * time.Duration(rc.Attempt+1)
		logger.Warn().
			Int("attempt", rc.Attempt).
			Int("status", transient.StatusCode).
			AnErr("cause", transient.Err).
			Dur("delay", delay).
			Msg("transient failure, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			return result.NewCancelled[json.RawMessage]()
		}
		rc.Attempt++
	}
}

// authorize returns the bearer token for the next attempt, or "" for an
// anonymous call.
func (c *Client) authorize(ctx context.Context, o RequestOptions) (string, error) {
	if o.SkipAuth || c.tokens == nil {
		return "", nil
	}

	var (
		token string
		err   error
	)
	if c.preemptive {
		token, err = c.tokens.EnsureFreshToken(ctx)
	} else {
		token, err = c.tokens.AccessToken(ctx)
	}

	if errors.Is(err, auth.ErrNotAuthenticated) {
		return "", nil
	}
	return token, err
}

func (c *Client) clearSession(ctx context.Context) {
	if c.tokens == nil {
		return
	}
	if err := c.tokens.Logout(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to clear session after unauthorized response")
	}
}

func (c *Client) send(ctx context.Context, method, target string, payload []byte, token string, rc *RequestContext) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header = rc.Headers.Clone()
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response body: %w", err)
	}

	return resp.StatusCode, raw, nil
}

func (c *Client) resolve(endpoint string, params url.Values) (string, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint %q: %w", endpoint, err)
	}

	u := c.baseURL.JoinPath(ref.Path)

	query := ref.Query()
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	default:
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		return payload, nil
	}
}

// parseSuccess unwraps the {data, message} envelope when present.
func parseSuccess(raw []byte) (json.RawMessage, string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage("null"), ""
	}

	var env struct {
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	if trimmed[0] == '{' && json.Unmarshal(trimmed, &env) == nil && env.Data != nil {
		return env.Data, env.Message
	}

	return json.RawMessage(trimmed), env.Message
}

// errorMessage extracts the server's message from an error reply, falling
// back to the status text when status is non-zero.
func errorMessage(raw []byte, status int) string {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		var s string
		if json.Unmarshal(body.Error, &s) == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}

	if status != 0 {
		return http.StatusText(status)
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
