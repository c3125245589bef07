// This command is only used for local testing: it produces a signed webhook
// callback carrying one text message, and optionally posts it to a locally
// running bridge. Replies to it will fail at LINE, as the reply token is
// made up.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/care-team/care-bridge/internal/line"
	"github.com/google/uuid"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	ChannelSecret string `env:"UTIL_CHANNEL_SECRET, required"`
	Text          string `env:"UTIL_TEXT, default=你好"`
	UserID        string `env:"UTIL_USER_ID, default=Ulocaltesting"`
	URL           string `env:"UTIL_URL"`
}

type source struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type message struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	QuoteToken string `json:"quoteToken"`
	Text       string `json:"text"`
}

type deliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

type event struct {
	Type            string          `json:"type"`
	Mode            string          `json:"mode"`
	Timestamp       int64           `json:"timestamp"`
	WebhookEventID  string          `json:"webhookEventId"`
	DeliveryContext deliveryContext `json:"deliveryContext"`
	ReplyToken      string          `json:"replyToken"`
	Source          source          `json:"source"`
	Message         message         `json:"message"`
}

type callback struct {
	Destination string  `json:"destination"`
	Events      []event `json:"events"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	body, err := json.Marshal(newCallback(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating callback: %v\n", err)
		os.Exit(1)
	}

	signature := line.Signature(cfg.ChannelSecret, body)

	if cfg.URL == "" {
		fmt.Printf("%s: %s\n%s\n", line.SignatureHeader, signature, body)
		return
	}

	status, err := post(cfg.URL, signature, body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error posting callback: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", status)
}

func newCallback(cfg Config) callback {
	return callback{
		Destination: "Ulocaltesting",
		Events: []event{{
			Type:            "message",
			Mode:            "active",
			Timestamp:       time.Now().UnixMilli(),
			WebhookEventID:  uuid.NewString(),
			DeliveryContext: deliveryContext{IsRedelivery: false},
			ReplyToken:      uuid.NewString(),
			Source:          source{Type: "user", UserID: cfg.UserID},
			Message: message{
				Type:       "text",
				ID:         fmt.Sprintf("%d", time.Now().UnixNano()),
				QuoteToken: uuid.NewString(),
				Text:       cfg.Text,
			},
		}},
	}
}

func post(url, signature string, body []byte) (string, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(line.SignatureHeader, signature)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	return fmt.Sprintf("%s %s", resp.Status, respBody), nil
}
