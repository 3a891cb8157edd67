// Package auth owns the session's token lifecycle. All reads and writes of the
// stored tokens go through a Coordinator, which guarantees that at most one
// refresh call is in flight at any time.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/groupbuy/groupbuy-client/internal/storage"
	"github.com/rs/zerolog/log"
)

// DefaultRefreshBuffer is how close to expiry a token may get before
// EnsureFreshToken refreshes it.
const DefaultRefreshBuffer = 5 * time.Minute

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Grant, error)
}

// Authenticator exchanges user credentials for a token pair.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (Grant, error)
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Grant is what the auth endpoints return: the tokens plus the user record as
// the server sent it.
type Grant struct {
	Tokens storage.TokenPair
	User   json.RawMessage
}

// Session is a snapshot of the stored session for display.
type Session struct {
	Authenticated bool
	ExpiresAt     time.Time
	Expired       bool
	CanRefresh    bool
}

type refreshOutcome struct {
	token string
	err   error
}

// Coordinator single-flights token refresh for one session. Each instance owns
// its refresh state, so several clients can coexist in one process.
type Coordinator struct {
	tokens    storage.TokenStorage
	refresher Refresher
	buffer    time.Duration
	now       func() time.Time

	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshOutcome

	// writeMu serialises token writes; epoch increments on every login or
	// logout so an in-flight refresh for a replaced session is discarded.
	writeMu sync.Mutex
	epoch   uint64
}

type Option func(*Coordinator)

func WithRefreshBuffer(d time.Duration) Option {
	return func(c *Coordinator) { c.buffer = d }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator over tokens. refresher may be nil, in
// which case the session cannot be refreshed.
func NewCoordinator(tokens storage.TokenStorage, refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		tokens:    tokens,
		refresher: refresher,
		buffer:    DefaultRefreshBuffer,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccessToken returns the stored access token without checking expiry.
func (c *Coordinator) AccessToken(ctx context.Context) (string, error) {
	return c.tokens.AccessToken(ctx)
}

// CanRefresh reports whether a refresh could be attempted.
func (c *Coordinator) CanRefresh(ctx context.Context) bool {
	if c.refresher == nil {
		return false
	}
	rt, err := c.tokens.RefreshToken(ctx)
	return err == nil && rt != ""
}

// EnsureFreshToken returns the stored access token when it is valid for longer
// than the refresh buffer, refreshing it otherwise. With no session it returns
// ErrNotAuthenticated.
func (c *Coordinator) EnsureFreshToken(ctx context.Context) (string, error) {
	access, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}
	expiresAt, err := c.tokens.ExpiresAt(ctx)
	if err != nil {
		return "", fmt.Errorf("reading token expiry: %w", err)
	}

	now := c.now()
	if access != "" && expiresAt.Sub(now) > c.buffer {
		return access, nil
	}

	if !c.CanRefresh(ctx) {
		// An unrefreshable token is still usable until it actually expires.
		if access != "" && now.Before(expiresAt) {
			return access, nil
		}
		return "", ErrNotAuthenticated
	}

	log.Debug().
		Time("expires_at", expiresAt).
		Dur("buffer", c.buffer).
		Msg("access token near expiry, refreshing")

	return c.Refresh(ctx, access)
}

// Refresh replaces stale, the access token the caller last saw, with a new
// one. If the stored token has already moved on from stale, it is returned
// without a network call. If a refresh is already running the caller waits for
// its outcome instead of starting another. The refresh itself is detached from
// ctx: a caller that gives up returns its context error while the refresh
// completes for everyone else.
func (c *Coordinator) Refresh(ctx context.Context, stale string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ch := make(chan refreshOutcome, 1)

	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	if !c.refreshing {
		c.refreshing = true
		go c.runRefresh(context.WithoutCancel(ctx), stale)
	}
	c.mu.Unlock()

	select {
	case out := <-ch:
		return out.token, out.err
	case <-ctx.Done():
		c.removeWaiter(ch)
		return "", ctx.Err()
	}
}

func (c *Coordinator) removeWaiter(ch chan refreshOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) pendingWaiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Coordinator) runRefresh(ctx context.Context, stale string) {
	token, err := c.refreshOnce(ctx, stale)

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	c.mu.Unlock()

	for _, w := range waiters {
		w <- refreshOutcome{token: token, err: err}
	}
}

func (c *Coordinator) refreshOnce(ctx context.Context, stale string) (string, error) {
	c.writeMu.Lock()
	epoch := c.epoch
	current, err := c.tokens.AccessToken(ctx)
	c.writeMu.Unlock()

	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}
	if current != "" && current != stale {
		// an earlier refresh or a login already replaced the caller's token
		log.Debug().Msg("access token already replaced, skipping refresh")
		return current, nil
	}

	refreshToken, err := c.tokens.RefreshToken(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: reading refresh token: %w", ErrSessionExpired, err)
	}
	if refreshToken == "" || c.refresher == nil {
		return "", fmt.Errorf("%w: no refresh token", ErrSessionExpired)
	}

	grant, refreshErr := c.refresher.Refresh(ctx, refreshToken)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.epoch != epoch {
		// A login or logout replaced the session while the call was out.
		log.Debug().Msg("discarding refresh result for replaced session")
		access, err := c.tokens.AccessToken(ctx)
		if err != nil || access == "" {
			return "", fmt.Errorf("%w: session ended during refresh", ErrSessionExpired)
		}
		return access, nil
	}

	if refreshErr != nil {
		log.Warn().Err(refreshErr).Msg("token refresh failed, clearing session")
		if err := c.tokens.ClearTokens(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to clear tokens after refresh failure")
		}
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, refreshErr)
	}

	pair := grant.Tokens
	if pair.RefreshToken == "" {
		// servers that do not rotate refresh tokens omit it
		pair.RefreshToken = refreshToken
	}

	if err := c.tokens.SetTokens(ctx, pair.AccessToken, pair.RefreshToken, pair.ExpiresAt); err != nil {
		return "", fmt.Errorf("storing refreshed tokens: %w", err)
	}

	log.Info().Time("expires_at", pair.ExpiresAt).Msg("access token refreshed")

	return pair.AccessToken, nil
}

// Login authenticates with creds and stores the resulting session, replacing
// any existing one.
func (c *Coordinator) Login(ctx context.Context, a Authenticator, creds Credentials) (Grant, error) {
	grant, err := a.Login(ctx, creds)
	if err != nil {
		return Grant{}, fmt.Errorf("login failed: %w", err)
	}

	if err := c.StoreSession(ctx, grant.Tokens); err != nil {
		return Grant{}, err
	}

	log.Info().Time("expires_at", grant.Tokens.ExpiresAt).Msg("logged in")
	return grant, nil
}

// StoreSession replaces the stored session with pair.
func (c *Coordinator) StoreSession(ctx context.Context, pair storage.TokenPair) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.epoch++
	if err := c.tokens.SetTokens(ctx, pair.AccessToken, pair.RefreshToken, pair.ExpiresAt); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// Logout clears the stored session.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.epoch++
	if err := c.tokens.ClearTokens(ctx); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// Session reports the stored session's state.
func (c *Coordinator) Session(ctx context.Context) (Session, error) {
	access, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("reading access token: %w", err)
	}
	expiresAt, err := c.tokens.ExpiresAt(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("reading token expiry: %w", err)
	}

	return Session{
		Authenticated: access != "",
		ExpiresAt:     expiresAt,
		Expired:       access != "" && !c.now().Before(expiresAt),
		CanRefresh:    c.CanRefresh(ctx),
	}, nil
}
