// Package storage provides the pluggable persistence used by the client: a
// generic string key-value store for cache entries and a token store for the
// session's access and refresh tokens.
package storage

import (
	"context"
	"time"
)

// KVStore is a generic persistent key-value primitive. Callers own key naming
// and serialization. Implementations report a missing key as found=false, never
// as an error.
type KVStore interface {
	// GetString retrieves a value. Returns the value, whether it was found, and
	// any error.
	GetString(ctx context.Context, key string) (string, bool, error)

	// SetString stores a value, replacing any existing one.
	SetString(ctx context.Context, key string, value string) error

	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// AllKeys lists every key currently held by the store.
	AllKeys(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// TokenPair is the session's credentials. ExpiresAt is the expiry asserted by
// the server for AccessToken.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Empty reports whether the pair holds no credentials at all.
func (p TokenPair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// TokenStorage persists the session's tokens. A missing value is returned as
// the zero value, not as an error.
type TokenStorage interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	ExpiresAt(ctx context.Context) (time.Time, error)
	SetTokens(ctx context.Context, access, refresh string, expiresAt time.Time) error
	ClearTokens(ctx context.Context) error
}
