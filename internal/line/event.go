package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// SignatureHeader carries the HMAC signature of a webhook callback body.
const SignatureHeader = "X-Line-Signature"

var (
	// ErrMissingSignature is returned when a callback has no signature header.
	ErrMissingSignature = errors.New("missing X-Line-Signature header")

	// ErrInvalidSignature is returned when the callback signature does not
	// match the body.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Event is an inbound text message that can be answered.
type Event struct {
	// EventID is the platform's webhook event ID; stable across redelivery.
	EventID    string
	ReplyToken string
	Text       string

	// UserID is empty when the event source does not identify a user.
	UserID string
}

// ParseCallback verifies the callback signature and returns the text message
// events it contains. Other event and message types are counted in skipped
// but not returned.
func ParseCallback(channelSecret string, r *http.Request) (events []Event, skipped int, err error) {
	if r.Header.Get(SignatureHeader) == "" {
		return nil, 0, ErrMissingSignature
	}

	cb, err := webhook.ParseRequest(channelSecret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			return nil, 0, ErrInvalidSignature
		}
		return nil, 0, err
	}

	for _, ev := range cb.Events {
		msgEvent, ok := ev.(webhook.MessageEvent)
		if !ok {
			skipped++
			continue
		}

		text, ok := msgEvent.Message.(webhook.TextMessageContent)
		if !ok {
			skipped++
			continue
		}

		events = append(events, Event{
			EventID:    msgEvent.WebhookEventId,
			ReplyToken: msgEvent.ReplyToken,
			Text:       text.Text,
			UserID:     sourceUserID(msgEvent.Source),
		})
	}

	return events, skipped, nil
}

// Signature computes the callback signature of body for the channel secret.
func Signature(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func sourceUserID(source webhook.SourceInterface) string {
	switch s := source.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	default:
		return ""
	}
}
