package observe

import (
	"context"
	"net/http"
	"testing"

	"github.com/chinmina/tenant-token-bridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func TestConfigure_Disabled(t *testing.T) {
	shutdown, err := Configure(context.Background(), config.ObserveConfig{Enabled: false})

	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigure_Stdout(t *testing.T) {
	shutdown, err := Configure(context.Background(), config.ObserveConfig{
		Enabled:                   true,
		MetricsEnabled:            true,
		Type:                      "stdout",
		ServiceName:               "test",
		TraceBatchTimeoutSeconds:  1,
		MetricReadIntervalSeconds: 60,
	})

	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestHTTPTransport(t *testing.T) {
	base := &http.Transport{}

	tests := []struct {
		name         string
		cfg          config.ObserveConfig
		instrumented bool
	}{
		{
			name: "telemetry disabled",
			cfg:  config.ObserveConfig{Enabled: false, HTTPTransportEnabled: true},
		},
		{
			name: "transport disabled",
			cfg:  config.ObserveConfig{Enabled: true, HTTPTransportEnabled: false},
		},
		{
			name:         "instrumented",
			cfg:          config.ObserveConfig{Enabled: true, HTTPTransportEnabled: true},
			instrumented: true,
		},
		{
			name:         "instrumented with connection trace",
			cfg:          config.ObserveConfig{Enabled: true, HTTPTransportEnabled: true, HTTPConnectionTraceEnabled: true},
			instrumented: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := HTTPTransport(base, tt.cfg)

			if tt.instrumented {
				assert.IsType(t, &otelhttp.Transport{}, rt)
			} else {
				assert.Same(t, base, rt)
			}
		})
	}
}

func TestSDKLogger_InvalidLevelFallsBack(t *testing.T) {
	logger := sdkLogger("nonsense")
	assert.True(t, logger.Enabled())
}
