package observe_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/care-team/care-bridge/internal/config"
	"github.com/care-team/care-bridge/internal/observe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport(t *testing.T) {
	base := http.DefaultTransport

	t.Run("unchanged when telemetry disabled", func(t *testing.T) {
		rt := observe.HTTPTransport(base, config.ObserveConfig{Enabled: false, HTTPTransportEnabled: true})
		assert.Same(t, base, rt)
	})

	t.Run("unchanged when transport tracing disabled", func(t *testing.T) {
		rt := observe.HTTPTransport(base, config.ObserveConfig{Enabled: true, HTTPTransportEnabled: false})
		assert.Same(t, base, rt)
	})

	t.Run("wrapped when enabled", func(t *testing.T) {
		rt := observe.HTTPTransport(base, config.ObserveConfig{
			Enabled:                    true,
			HTTPTransportEnabled:       true,
			HTTPConnectionTraceEnabled: true,
		})
		assert.NotSame(t, base, rt)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		resp, err := (&http.Client{Transport: rt}).Get(server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}
