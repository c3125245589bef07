package line

import (
	"context"
	"fmt"

	"github.com/care-team/care-bridge/internal/upstream"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/rs/zerolog/log"
)

// Reply sends text messages correlated to an inbound event. Reply tokens are
// single use: once a call has been accepted, later calls with the same token
// fail.
func (c *Client) Reply(ctx context.Context, accessToken string, replyToken string, texts ...string) error {
	if accessToken == "" {
		return upstream.Configuration(replyService, "channel access token is empty")
	}

	opts := []messaging_api.MessagingApiAPIOption{
		messaging_api.WithHTTPClient(c.httpClient),
	}
	// for testing use
	if c.apiURL != "" {
		opts = append(opts, messaging_api.WithEndpoint(c.apiURL))
	}

	bot, err := messaging_api.NewMessagingApiAPI(accessToken, opts...)
	if err != nil {
		return fmt.Errorf("line messaging client: %w", err)
	}

	messages := make([]messaging_api.MessageInterface, 0, len(texts))
	for _, text := range texts {
		messages = append(messages, messaging_api.TextMessage{Text: TruncateText(text)})
	}

	ctx, cancel := context.WithTimeout(ctx, c.replyTimeout)
	defer cancel()

	res, _, err := bot.WithContext(ctx).ReplyMessageWithHttpInfo(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   messages,
	})
	if err != nil {
		if res != nil && res.StatusCode/100 == 2 {
			// accepted; only the response body could not be decoded
			log.Ctx(ctx).Warn().Err(err).Int("status", res.StatusCode).Msg("line: reply accepted with unreadable response body")
			return nil
		}
		if res != nil {
			return upstream.Status(replyService, res.StatusCode, err.Error())
		}
		return upstream.Transport(replyService, err)
	}

	return nil
}

// IsUnauthorized reports whether err is a delivery rejected because the
// channel access token was not accepted.
func IsUnauthorized(err error) bool {
	ue, ok := upstream.As(err)
	return ok && ue.Kind == upstream.KindUpstream && ue.StatusCode == 401
}

// TruncateText shortens text to MaxTextLength characters.
func TruncateText(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxTextLength {
		return text
	}
	return string(runes[:MaxTextLength-1]) + "…"
}
