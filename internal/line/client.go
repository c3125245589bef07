// Package line binds the bridge to the LINE platform: issuing short-lived
// channel access tokens, delivering replies and parsing verified webhook
// callbacks.
package line

import (
	"net/http"
	"time"

	"github.com/care-team/care-bridge/internal/config"
)

const (
	defaultTokenURL = "https://api.line.me/oauth2/v3/token"

	tokenService = "line-token"
	replyService = "line-reply"

	// DefaultTokenTTL is assumed when the token endpoint omits expires_in.
	DefaultTokenTTL = 30 * 24 * time.Hour

	// MaxTextLength is the platform limit for a single text message.
	MaxTextLength = 5000
)

// Client calls the LINE token and messaging endpoints. It is safe for
// concurrent use.
type Client struct {
	channelID     string
	channelSecret string

	tokenURL string
	apiURL   string

	tokenTimeout time.Duration
	replyTimeout time.Duration

	httpClient *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient sets the client used for all outbound calls.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

func New(cfg config.LineConfig, opts ...ClientOption) *Client {
	c := &Client{
		channelID:     cfg.ChannelID,
		channelSecret: cfg.ChannelSecret,
		tokenURL:      cfg.TokenURL,
		apiURL:        cfg.APIURL,
		tokenTimeout:  cfg.TokenTimeout(),
		replyTimeout:  cfg.ReplyTimeout(),
		httpClient:    http.DefaultClient,
	}

	// for testing use
	if c.tokenURL == "" {
		c.tokenURL = defaultTokenURL
	}
	if c.tokenTimeout <= 0 {
		c.tokenTimeout = 10 * time.Second
	}
	if c.replyTimeout <= 0 {
		c.replyTimeout = 10 * time.Second
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}
