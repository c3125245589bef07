package testhelpers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Sign computes the X-Line-Signature value for body.
func Sign(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// TextEvent describes a text message event for CallbackBody.
type TextEvent struct {
	EventID    string
	ReplyToken string
	Text       string
	UserID     string
}

// CallbackBody renders a webhook callback body containing the given text
// message events.
func CallbackBody(events ...TextEvent) []byte {
	rendered := make([]string, 0, len(events))
	for i, e := range events {
		source := `{"type":"user","userId":"` + e.UserID + `"}`
		if e.UserID == "" {
			source = `{"type":"group","groupId":"C0000000000"}`
		}

		rendered = append(rendered, fmt.Sprintf(`{
			"type": "message",
			"mode": "active",
			"timestamp": 1462629479859,
			"webhookEventId": %q,
			"deliveryContext": {"isRedelivery": false},
			"replyToken": %q,
			"source": %s,
			"message": {"type": "text", "id": "%d", "quoteToken": "q", "text": %q}
		}`, e.EventID, e.ReplyToken, source, 1000+i, e.Text))
	}

	return []byte(`{"destination": "U0000000000", "events": [` + strings.Join(rendered, ",") + `]}`)
}

// FollowEventBody renders a callback body holding a single follow event,
// which the bridge does not answer.
func FollowEventBody() []byte {
	return []byte(`{"destination": "U0000000000", "events": [{
		"type": "follow",
		"mode": "active",
		"timestamp": 1462629479859,
		"webhookEventId": "01FOLLOW",
		"deliveryContext": {"isRedelivery": false},
		"replyToken": "follow-reply",
		"source": {"type": "user", "userId": "U1"},
		"follow": {"isUnblocked": false}
	}]}`)
}
