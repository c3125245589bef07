package config

import (
	"context"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LINE_CHANNEL_SECRET", "secret")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	assert.Equal(t, 15, cfg.Gemini.TimeoutSeconds)
	assert.Equal(t, 10, cfg.Line.TokenTimeoutSeconds)
	assert.Equal(t, 10, cfg.Line.ReplyTimeoutSeconds)
	assert.True(t, cfg.Line.RefreshOnUnauthorized)
	assert.Equal(t, 600, cfg.Webhook.DedupTTLSeconds)
	assert.Equal(t, "care-bridge", cfg.Observe.ServiceName)
	assert.False(t, cfg.Observe.Enabled)
}

func TestLoad_RequiresChannelSecret(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{}))

	assert.ErrorContains(t, err, "LINE_CHANNEL_SECRET")
}

func TestLoad_RecognisedKeys(t *testing.T) {
	lookup := envconfig.MapLookuper(map[string]string{
		"GEMINI_API_KEY":            "gem-key",
		"MODEL_NAME":                "gemini-1.5-flash",
		"LINE_CHANNEL_ID":           "1234",
		"LINE_CHANNEL_SECRET":       "secret",
		"LINE_CHANNEL_ACCESS_TOKEN": "static-token",
	})

	cfg, err := load(context.Background(), lookup)
	require.NoError(t, err)

	assert.Equal(t, GeminiConfig{
		APIKey:         "gem-key",
		Model:          "gemini-1.5-flash",
		TimeoutSeconds: 15,
	}, cfg.Gemini)

	assert.Equal(t, "1234", cfg.Line.ChannelID)
	assert.True(t, cfg.Line.UsesStaticToken())
	assert.True(t, cfg.Line.CanIssueTokens())
}

func TestLineConfig_CanIssueTokens(t *testing.T) {
	cases := []struct {
		name     string
		cfg      LineConfig
		expected bool
	}{
		{"both set", LineConfig{ChannelID: "id", ChannelSecret: "secret"}, true},
		{"missing id", LineConfig{ChannelSecret: "secret"}, false},
		{"missing secret", LineConfig{ChannelID: "id"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.cfg.CanIssueTokens())
		})
	}
}

func TestLoad_InvalidObserveType(t *testing.T) {
	lookup := envconfig.MapLookuper(map[string]string{
		"LINE_CHANNEL_SECRET": "secret",
		"OBSERVE_TYPE":        "carrier-pigeon",
	})

	_, err := load(context.Background(), lookup)

	assert.ErrorContains(t, err, "invalid observe configuration")
}

func TestLoad_InvalidWebhookConfig(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"negative dedup", "WEBHOOK_DEDUP_TTL_SECS", "-1"},
		{"zero timeout", "WEBHOOK_EVENT_TIMEOUT_SECS", "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lookup := envconfig.MapLookuper(map[string]string{
				"LINE_CHANNEL_SECRET": "secret",
				tc.key:                tc.value,
			})

			_, err := load(context.Background(), lookup)

			assert.ErrorContains(t, err, "invalid webhook configuration")
		})
	}
}
