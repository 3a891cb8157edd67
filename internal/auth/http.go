package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/groupbuy/groupbuy-client/internal/config"
	"github.com/groupbuy/groupbuy-client/internal/storage"
)

// maxAuthReplyBytes bounds how much of an auth reply is read.
const maxAuthReplyBytes = 1 << 20

// HTTPAuthenticator talks to the login and refresh endpoints of the API.
type HTTPAuthenticator struct {
	client          *http.Client
	baseURL         string
	loginEndpoint   string
	refreshEndpoint string
	now             func() time.Time
}

// NewHTTPAuthenticator creates an authenticator for the API at cfg.BaseURL.
func NewHTTPAuthenticator(cfg config.ClientConfig, client *http.Client) *HTTPAuthenticator {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAuthenticator{
		client:          client,
		baseURL:         cfg.BaseURL,
		loginEndpoint:   cfg.LoginEndpoint,
		refreshEndpoint: cfg.RefreshEndpoint,
		now:             time.Now,
	}
}

func (a *HTTPAuthenticator) Refresh(ctx context.Context, refreshToken string) (Grant, error) {
	return a.exchange(ctx, "refresh", a.refreshEndpoint, map[string]string{"refreshToken": refreshToken})
}

func (a *HTTPAuthenticator) Login(ctx context.Context, creds Credentials) (Grant, error) {
	return a.exchange(ctx, "login", a.loginEndpoint, creds)
}

func (a *HTTPAuthenticator) exchange(ctx context.Context, op, endpoint string, payload any) (Grant, error) {
	target, err := url.JoinPath(a.baseURL, endpoint)
	if err != nil {
		return Grant{}, fmt.Errorf("building %s URL: %w", op, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Grant{}, fmt.Errorf("encoding %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return Grant{}, fmt.Errorf("creating %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Grant{}, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAuthReplyBytes))
	if err != nil {
		return Grant{}, fmt.Errorf("reading %s reply: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Grant{}, &RejectedError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    replyMessage(raw),
		}
	}

	return a.parseGrant(raw)
}

// tokenReply is the body of a successful auth call, bare or inside a
// {"data": ...} envelope.
type tokenReply struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	ExpiresAt    flexibleTime    `json:"expiresAt"`
	ExpiresIn    int64           `json:"expiresIn"`
	User         json.RawMessage `json:"user"`
}

func (a *HTTPAuthenticator) parseGrant(raw []byte) (Grant, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		raw = envelope.Data
	}

	var reply tokenReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return Grant{}, fmt.Errorf("decoding token reply: %w", err)
	}

	if reply.AccessToken == "" {
		return Grant{}, fmt.Errorf("token reply has no access token")
	}

	expiresAt := time.Time(reply.ExpiresAt)
	if expiresAt.IsZero() && reply.ExpiresIn > 0 {
		expiresAt = a.now().Add(time.Duration(reply.ExpiresIn) * time.Second)
	}
	if expiresAt.IsZero() {
		return Grant{}, fmt.Errorf("token reply has no expiry")
	}

	return Grant{
		Tokens: storage.TokenPair{
			AccessToken:  reply.AccessToken,
			RefreshToken: reply.RefreshToken,
			ExpiresAt:    expiresAt,
		},
		User: reply.User,
	}, nil
}

// flexibleTime accepts an RFC 3339 string or epoch milliseconds.
type flexibleTime time.Time

func (f *flexibleTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parsing expiresAt: %w", err)
		}
		*f = flexibleTime(t)
		return nil
	}

	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("parsing expiresAt: %w", err)
	}
	*f = flexibleTime(time.UnixMilli(ms))
	return nil
}

// replyMessage extracts a human readable message from an error reply.
func replyMessage(raw []byte) string {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}

	var s string
	if json.Unmarshal(body.Error, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body.Error, &obj) == nil {
		return obj.Message
	}
	return ""
}
