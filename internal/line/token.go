package line

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/care-team/care-bridge/internal/upstream"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// FetchChannelToken exchanges the channel ID and secret for a short-lived
// channel access token using the client-credentials grant. It returns the
// token and its lifetime. The call is attempted once.
func (c *Client) FetchChannelToken(ctx context.Context) (string, time.Duration, error) {
	if c.channelID == "" || c.channelSecret == "" {
		return "", 0, upstream.Configuration(tokenService,
			"LINE_CHANNEL_ID and LINE_CHANNEL_SECRET must be set to issue channel access tokens")
	}

	ctx, cancel := context.WithTimeout(ctx, c.tokenTimeout)
	defer cancel()

	// the oauth2 package picks up the outbound client from the context
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	grant := clientcredentials.Config{
		ClientID:     c.channelID,
		ClientSecret: c.channelSecret,
		TokenURL:     c.tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	tok, err := grant.Token(ctx)
	if err != nil {
		return "", 0, classifyTokenError(err)
	}

	ttl := DefaultTokenTTL
	if !tok.Expiry.IsZero() {
		ttl = time.Until(tok.Expiry)
	}

	log.Ctx(ctx).Info().
		Dur("ttl", ttl).
		Msg("line: channel access token issued")

	return tok.AccessToken, ttl, nil
}

func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return upstream.Status(tokenService, status, upstream.Body(retrieveErr.Body))
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return upstream.Transport(tokenService, err)
	}

	// The token endpoint answered 2xx but without a usable access_token.
	return &upstream.Error{Kind: upstream.KindUpstream, Service: tokenService, Err: err}
}
