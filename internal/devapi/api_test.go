package devapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/groupbuy/groupbuy-client/internal/devapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setup(t *testing.T, opts devapi.Options) (*devapi.API, *httptest.Server, *testClock) {
	t.Helper()

	clk := &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	if opts.Fixtures.Users == nil {
		opts.Fixtures = devapi.DefaultFixtures()
	}
	opts.Now = clk.Now

	api := devapi.New(opts)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return api, srv, clk
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func call(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp.StatusCode, env
}

func login(t *testing.T, srv *httptest.Server) devapi.TokenReply {
	t.Helper()

	status, env := call(t, srv, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "shopper@example.com",
		"password": "groupbuy",
	})
	require.Equal(t, http.StatusOK, status, env.Error)

	var reply devapi.TokenReply
	require.NoError(t, json.Unmarshal(env.Data, &reply))
	return reply
}

func TestDefaultFixtures(t *testing.T) {
	f := devapi.DefaultFixtures()
	assert.NotEmpty(t, f.Users)
	assert.NotEmpty(t, f.Products)
	assert.NotEmpty(t, f.Deals)
}

func TestDecodeFixtures_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  string
	}{
		{"unknown field", "users:\n  - id: 1\n    email: a@b.c\n    role: admin\n", "field role not found"},
		{"duplicate product", "products:\n  - id: 1\n  - id: 1\n", "duplicate product id 1"},
		{"deal without product", "deals:\n  - id: 1\n    productId: 9\n", "unknown product 9"},
		{"user without email", "users:\n  - id: 4\n", "user 4 has no email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := devapi.DecodeFixtures(strings.NewReader(tt.yaml))
			assert.ErrorContains(t, err, tt.err)
		})
	}
}

func TestLogin(t *testing.T) {
	_, srv, clk := setup(t, devapi.Options{AccessTTL: 10 * time.Minute})

	reply := login(t, srv)
	assert.NotEmpty(t, reply.AccessToken)
	assert.NotEmpty(t, reply.RefreshToken)
	assert.True(t, clk.Now().Add(10*time.Minute).Equal(reply.ExpiresAt), reply.ExpiresAt)
	assert.Equal(t, "shopper@example.com", reply.User.Email)

	status, env := call(t, srv, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "shopper@example.com",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid email or password", env.Error)
}

func TestRefreshRotatesTokens(t *testing.T) {
	_, srv, _ := setup(t, devapi.Options{})
	first := login(t, srv)

	status, env := call(t, srv, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": first.RefreshToken})
	require.Equal(t, http.StatusOK, status)

	var second devapi.TokenReply
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// the spent refresh token is rejected
	status, _ = call(t, srv, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": first.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAuthorizedRoutes(t *testing.T) {
	_, srv, clk := setup(t, devapi.Options{AccessTTL: time.Minute})
	tokens := login(t, srv)

	status, _ := call(t, srv, http.MethodGet, "/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, srv, http.MethodGet, "/cart", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, srv, http.MethodGet, "/cart", tokens.AccessToken, nil)
	assert.Equal(t, http.StatusOK, status)

	clk.Advance(time.Minute)
	status, env := call(t, srv, http.MethodGet, "/cart", tokens.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "access token expired", env.Error)
}

func TestProductsPagination(t *testing.T) {
	_, srv, _ := setup(t, devapi.Options{})

	status, env := call(t, srv, http.MethodGet, "/products?category=kitchen&page=2&pageSize=2", "", nil)
	require.Equal(t, http.StatusOK, status)

	var p struct {
		Items   []devapi.Product `json:"items"`
		Page    int              `json:"page"`
		Total   int              `json:"total"`
		HasNext bool             `json:"hasNext"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 2, p.Page)
	require.Len(t, p.Items, 1)
	assert.Equal(t, 3, p.Items[0].ID)
	assert.False(t, p.HasNext)
}

func TestCartAndCheckout(t *testing.T) {
	api, srv, _ := setup(t, devapi.Options{})
	token := login(t, srv).AccessToken

	status, _ := call(t, srv, http.MethodPost, "/cart/items", token, map[string]int{"productId": 2, "quantity": 2})
	require.Equal(t, http.StatusCreated, status)
	status, _ = call(t, srv, http.MethodPost, "/cart/items", token, map[string]int{"productId": 7, "quantity": 1})
	require.Equal(t, http.StatusCreated, status)
	status, _ = call(t, srv, http.MethodDelete, "/cart/items/7", token, nil)
	require.Equal(t, http.StatusOK, status)

	status, env := call(t, srv, http.MethodPost, "/orders", token, nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "order placed", env.Message)

	var order devapi.Order
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, 2*2599, order.TotalCents)

	status, _ = call(t, srv, http.MethodPost, "/orders", token, nil)
	assert.Equal(t, http.StatusConflict, status)

	assert.Equal(t, 2, api.Hits(http.MethodPost, "/orders"))
}

func TestPatchProductAndJoinDeal(t *testing.T) {
	_, srv, _ := setup(t, devapi.Options{})
	token := login(t, srv).AccessToken

	status, env := call(t, srv, http.MethodPatch, "/products/1", token, map[string]int{"stock": 3})
	require.Equal(t, http.StatusOK, status)
	var p devapi.Product
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 3, p.Stock)

	status, env = call(t, srv, http.MethodPost, "/deals/1/join", token, nil)
	require.Equal(t, http.StatusOK, status)
	var d devapi.Deal
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, 8, d.Participants)

	status, _ = call(t, srv, http.MethodPatch, "/products/99", token, map[string]int{"stock": 1})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestFailureInjection(t *testing.T) {
	_, srv, _ := setup(t, devapi.Options{FailEvery: 2})

	first, _ := call(t, srv, http.MethodGet, "/products", "", nil)
	second, env := call(t, srv, http.MethodGet, "/products", "", nil)
	third, _ := call(t, srv, http.MethodGet, "/products", "", nil)

	assert.Equal(t, http.StatusOK, first)
	assert.Equal(t, http.StatusServiceUnavailable, second)
	assert.Equal(t, "injected failure", env.Error)
	assert.Equal(t, http.StatusOK, third)
}

func TestHealthcheck(t *testing.T) {
	_, srv, _ := setup(t, devapi.Options{})

	resp, err := srv.Client().Get(srv.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
