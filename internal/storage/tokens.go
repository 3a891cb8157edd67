package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TokensKey is the KVStore key holding the session's TokenPair.
const TokensKey = "auth:tokens"

// KVTokenStorage keeps the TokenPair as a single JSON document in a KVStore,
// so the access token, refresh token and expiry are always replaced together.
type KVTokenStorage struct {
	store KVStore
}

func NewKVTokenStorage(store KVStore) *KVTokenStorage {
	return &KVTokenStorage{store: store}
}

// Tokens returns the stored pair, or the zero pair when nothing is stored.
func (s *KVTokenStorage) Tokens(ctx context.Context) (TokenPair, error) {
	raw, found, err := s.store.GetString(ctx, TokensKey)
	if err != nil {
		return TokenPair{}, fmt.Errorf("reading tokens: %w", err)
	}
	if !found {
		return TokenPair{}, nil
	}

	var pair TokenPair
	if err := json.Unmarshal([]byte(raw), &pair); err != nil {
		return TokenPair{}, fmt.Errorf("decoding stored tokens: %w", err)
	}
	return pair, nil
}

func (s *KVTokenStorage) AccessToken(ctx context.Context) (string, error) {
	pair, err := s.Tokens(ctx)
	return pair.AccessToken, err
}

func (s *KVTokenStorage) RefreshToken(ctx context.Context) (string, error) {
	pair, err := s.Tokens(ctx)
	return pair.RefreshToken, err
}

func (s *KVTokenStorage) ExpiresAt(ctx context.Context) (time.Time, error) {
	pair, err := s.Tokens(ctx)
	return pair.ExpiresAt, err
}

func (s *KVTokenStorage) SetTokens(ctx context.Context, access, refresh string, expiresAt time.Time) error {
	payload, err := json.Marshal(TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding tokens: %w", err)
	}

	if err := s.store.SetString(ctx, TokensKey, string(payload)); err != nil {
		return fmt.Errorf("storing tokens: %w", err)
	}
	return nil
}

func (s *KVTokenStorage) ClearTokens(ctx context.Context) error {
	if err := s.store.Delete(ctx, TokensKey); err != nil {
		return fmt.Errorf("clearing tokens: %w", err)
	}
	return nil
}
