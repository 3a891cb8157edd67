package observe_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/groupbuy/groupbuy-client/internal/config"
	"github.com/groupbuy/groupbuy-client/internal/observe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func TestConfigure_Disabled(t *testing.T) {
	shutdown, err := observe.Configure(context.Background(), config.ObserveConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigure_Stdout(t *testing.T) {
	shutdown, err := observe.Configure(context.Background(), config.ObserveConfig{
		Enabled:                   true,
		MetricsEnabled:            true,
		Type:                      "stdout",
		ServiceName:               "groupbuy-client-test",
		SDKLogLevel:               "warn",
		TraceBatchTimeoutSeconds:  1,
		MetricReadIntervalSeconds: 60,
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigure_UnsupportedType(t *testing.T) {
	_, err := observe.Configure(context.Background(), config.ObserveConfig{
		Enabled: true,
		Type:    "carrier-pigeon",
	})
	assert.ErrorContains(t, err, `unsupported telemetry type "carrier-pigeon"`)
}

func TestHTTPTransport(t *testing.T) {
	base := http.DefaultTransport

	tests := []struct {
		name    string
		cfg     config.ObserveConfig
		wrapped bool
	}{
		{"telemetry disabled", config.ObserveConfig{Enabled: false, HTTPTransportEnabled: true}, false},
		{"transport disabled", config.ObserveConfig{Enabled: true, HTTPTransportEnabled: false}, false},
		{"enabled", config.ObserveConfig{Enabled: true, HTTPTransportEnabled: true}, true},
		{"enabled with connection trace", config.ObserveConfig{Enabled: true, HTTPTransportEnabled: true, HTTPConnectionTraceEnabled: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := observe.HTTPTransport(base, tt.cfg)
			if !tt.wrapped {
				assert.Same(t, base, rt)
				return
			}
			assert.IsType(t, &otelhttp.Transport{}, rt)
		})
	}
}
