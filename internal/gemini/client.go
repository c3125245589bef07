// Package gemini requests single-turn text completions from the Gemini
// generateContent REST endpoint.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/care-team/care-bridge/internal/config"
	"github.com/care-team/care-bridge/internal/upstream"
	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	service        = "gemini"

	// maxResponseBytes bounds the response body read into memory.
	maxResponseBytes = 1 << 20
)

// Client sends completion requests. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	persona    Persona
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

func WithPersona(p Persona) ClientOption {
	return func(client *Client) {
		client.persona = p
	}
}

func New(cfg config.GeminiConfig, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.APIURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    cfg.Timeout(),
		persona:    DefaultPersona(),
		httpClient: http.DefaultClient,
	}

	// for testing use
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction content   `json:"systemInstruction"`
}

type generateResponse struct {
	Candidates []struct {
		Content *struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Complete generates an answer to userText. Every failure is returned as a
// *CompletionError; the request is attempted once.
func (c *Client) Complete(ctx context.Context, userText string) (string, error) {
	text, err := c.generate(ctx, userText)
	if err != nil {
		ce := classify(err)
		log.Ctx(ctx).Error().
			Err(err).
			Str("category", ce.Category.String()).
			Msg("gemini: completion failed")
		return "", ce
	}

	return text, nil
}

func (c *Client) generate(ctx context.Context, userText string) (string, error) {
	if c.apiKey == "" {
		return "", upstream.Configuration(service, "GEMINI_API_KEY is not set")
	}

	body, err := json.Marshal(generateRequest{
		Contents:          []content{{Role: "user", Parts: []part{{Text: userText}}}},
		SystemInstruction: content{Parts: []part{{Text: c.persona.SystemInstruction}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal gemini request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", upstream.Transport(service, redactKey(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", upstream.Transport(service, err)
	}

	if resp.StatusCode/100 != 2 {
		return "", upstream.Status(service, resp.StatusCode, upstream.Body(respBody))
	}

	return parseText(respBody)
}

// parseText extracts candidates[0].content.parts[0].text.
func parseText(body []byte) (string, error) {
	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", upstream.Malformed(service, fmt.Errorf("decode response: %w", err))
	}

	if len(parsed.Candidates) == 0 {
		return "", upstream.Malformed(service, errors.New("response has no candidates"))
	}

	first := parsed.Candidates[0]
	if first.Content == nil || len(first.Content.Parts) == 0 || first.Content.Parts[0].Text == nil {
		return "", upstream.Malformed(service, errors.New("first candidate has no text part"))
	}

	text := *first.Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", upstream.Malformed(service, errors.New("first candidate text is empty"))
	}

	return text, nil
}

// redactKey strips the query string, which carries the API key, from URL
// errors before they are logged.
func redactKey(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if u, parseErr := url.Parse(urlErr.URL); parseErr == nil {
			u.RawQuery = ""
			urlErr.URL = u.String()
		}
	}
	return err
}
