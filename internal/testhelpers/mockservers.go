package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/groupbuy/groupbuy-client/internal/config"
	"github.com/groupbuy/groupbuy-client/internal/devapi"
)

// MockAPI is the development backend running on a local test server.
type MockAPI struct {
	Server *httptest.Server
	API    *devapi.API
}

// SetupMockAPI starts the development backend with the default fixtures
// unless opts supplies its own. The server is closed when the test ends.
func SetupMockAPI(t *testing.T, opts devapi.Options) *MockAPI {
	t.Helper()

	if opts.Fixtures.Users == nil && opts.Fixtures.Products == nil {
		opts.Fixtures = devapi.DefaultFixtures()
	}

	api := devapi.New(opts)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &MockAPI{Server: srv, API: api}
}

// URL is the base URL of the mock API.
func (m *MockAPI) URL() string {
	return m.Server.URL
}

// ClientConfig returns a client configuration pointed at baseURL with
// millisecond retry delays so retry paths stay fast in tests.
func ClientConfig(baseURL string) config.ClientConfig {
	return config.ClientConfig{
		BaseURL:                     baseURL,
		CacheTTL:                    10 * time.Minute,
		MaxRetries:                  3,
		RetryDelay:                  time.Millisecond,
		EnableOfflineCache:          true,
		PreemptiveRefresh:           true,
		RefreshBuffer:               5 * time.Minute,
		RequestTimeout:              5 * time.Second,
		LoginEndpoint:               "/auth/login",
		RefreshEndpoint:             "/auth/refresh",
		OutgoingHTTPMaxIdleConns:    10,
		OutgoingHTTPMaxConnsPerHost: 10,
	}
}

// WriteJSON writes payload as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
