package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Gemini  GeminiConfig
	Line    LineConfig
	Observe ObserveConfig
	Server  ServerConfig
	Webhook WebhookConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// GeminiConfig configures the generative-text completion client.
type GeminiConfig struct {
	APIURL string // internal only

	APIKey         string `env:"GEMINI_API_KEY"`
	Model          string `env:"MODEL_NAME, default=gemini-2.0-flash"`
	TimeoutSeconds int    `env:"GEMINI_TIMEOUT_SECS, default=15"`

	// PersonaFile optionally points to a YAML file overriding the built-in
	// system instruction and apology texts.
	PersonaFile string `env:"GEMINI_PERSONA_FILE"`
}

// LineConfig configures access to the LINE Messaging API.
type LineConfig struct {
	APIURL   string // internal only
	TokenURL string // internal only

	ChannelID     string `env:"LINE_CHANNEL_ID"`
	ChannelSecret string `env:"LINE_CHANNEL_SECRET, required"`

	// ChannelAccessToken is a long-lived token that, when set, is always used
	// in preference to issuing short-lived tokens.
	ChannelAccessToken string `env:"LINE_CHANNEL_ACCESS_TOKEN"`

	TokenTimeoutSeconds int `env:"LINE_TOKEN_TIMEOUT_SECS, default=10"`
	ReplyTimeoutSeconds int `env:"LINE_REPLY_TIMEOUT_SECS, default=10"`

	// RefreshOnUnauthorized enables a single forced token refresh and
	// delivery retry when a reply is rejected with 401.
	RefreshOnUnauthorized bool `env:"LINE_REFRESH_ON_UNAUTHORIZED, default=true"`
}

// WebhookConfig configures the inbound event dispatcher.
type WebhookConfig struct {
	// DedupTTLSeconds is how long processed webhook event IDs are remembered.
	// Zero disables redelivery detection.
	DedupTTLSeconds     int `env:"WEBHOOK_DEDUP_TTL_SECS, default=600"`
	EventTimeoutSeconds int `env:"WEBHOOK_EVENT_TIMEOUT_SECS, default=60"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=care-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Observe.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid observe configuration: %w", err)
	}

	err = cfg.Webhook.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid webhook configuration: %w", err)
	}

	return cfg, nil
}

// UsesStaticToken reports whether a long-lived channel access token has been
// supplied.
func (c LineConfig) UsesStaticToken() bool {
	return c.ChannelAccessToken != ""
}

// CanIssueTokens reports whether short-lived tokens can be requested with the
// configured channel credentials.
func (c LineConfig) CanIssueTokens() bool {
	return c.ChannelID != "" && c.ChannelSecret != ""
}

func (c LineConfig) TokenTimeout() time.Duration {
	return time.Duration(c.TokenTimeoutSeconds) * time.Second
}

func (c LineConfig) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutSeconds) * time.Second
}

func (c GeminiConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c WebhookConfig) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLSeconds) * time.Second
}

func (c WebhookConfig) EventTimeout() time.Duration {
	return time.Duration(c.EventTimeoutSeconds) * time.Second
}

// Validate checks that the webhook configuration is usable.
func (c *WebhookConfig) Validate() error {
	if c.DedupTTLSeconds < 0 {
		return fmt.Errorf("WEBHOOK_DEDUP_TTL_SECS must not be negative")
	}

	if c.EventTimeoutSeconds <= 0 {
		return fmt.Errorf("WEBHOOK_EVENT_TIMEOUT_SECS must be positive")
	}

	return nil
}

// Validate checks that the telemetry exporter type is known.
func (c *ObserveConfig) Validate() error {
	switch c.Type {
	case "grpc", "stdout":
		return nil
	default:
		return fmt.Errorf("OBSERVE_TYPE must be one of \"grpc\" or \"stdout\", got %q", c.Type)
	}
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
