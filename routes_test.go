package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/care-team/care-bridge/internal/config"
	"github.com/care-team/care-bridge/internal/line"
	"github.com/care-team/care-bridge/internal/server"
	"github.com/care-team/care-bridge/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bridgeHarness runs the full route configuration against mock LINE and
// Gemini endpoints.
type bridgeHarness struct {
	Server    *httptest.Server
	Token     *testhelpers.MockLineTokenServer
	Messaging *testhelpers.MockLineMessagingServer
	Gemini    *testhelpers.MockGeminiServer

	hooks *server.ShutdownHooks
}

func newBridgeHarness(t *testing.T, modify ...func(*config.Config)) *bridgeHarness {
	t.Helper()
	testhelpers.SetupLogger(t)

	h := &bridgeHarness{
		Token:     testhelpers.SetupMockLineTokenServer(t),
		Messaging: testhelpers.SetupMockLineMessagingServer(t),
		Gemini:    testhelpers.SetupMockGeminiServer(t),
		hooks:     &server.ShutdownHooks{},
	}

	cfg := config.Config{
		Gemini: config.GeminiConfig{
			APIURL:         h.Gemini.URL(),
			APIKey:         "test_key",
			Model:          "gemini-2.0-flash",
			TimeoutSeconds: 5,
		},
		Line: config.LineConfig{
			APIURL:                h.Messaging.Server.URL,
			TokenURL:              h.Token.URL(),
			ChannelID:             "1234567890",
			ChannelSecret:         testChannelSecret,
			TokenTimeoutSeconds:   5,
			ReplyTimeoutSeconds:   5,
			RefreshOnUnauthorized: true,
		},
		Webhook: config.WebhookConfig{
			DedupTTLSeconds:     600,
			EventTimeoutSeconds: 10,
		},
	}
	for _, m := range modify {
		m(&cfg)
	}

	handler, err := configureServerRoutes(context.Background(), cfg, h.hooks)
	require.NoError(t, err)

	h.Server = httptest.NewServer(handler)
	t.Cleanup(h.Server.Close)

	return h
}

func (h *bridgeHarness) callback(t *testing.T, events ...testhelpers.TextEvent) *http.Response {
	t.Helper()

	body := testhelpers.CallbackBody(events...)
	req, err := http.NewRequest(http.MethodPost, h.Server.URL+"/api/v1/callback", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(line.SignatureHeader, testhelpers.Sign(testChannelSecret, body))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

// drain waits for dispatched events by running the shutdown hooks.
func (h *bridgeHarness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.hooks.Execute(ctx)
}

func TestRoutes_CallbackRepliesWithCompletion(t *testing.T) {
	h := newBridgeHarness(t)

	resp := h.callback(t, testhelpers.TextEvent{EventID: "01HEVENT1", ReplyToken: "tok1", Text: "你好", UserID: "U123"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	h.drain(t)

	assert.Equal(t, []testhelpers.Reply{
		{AccessToken: "issued-channel-token", ReplyToken: "tok1", Texts: []string{"AI 回覆內容"}},
	}, h.Messaging.Accepted())
	assert.Equal(t, 1, h.Token.RequestCount())
	assert.Equal(t, 1, h.Gemini.RequestCount())
}

func TestRoutes_CallbackReusesIssuedToken(t *testing.T) {
	h := newBridgeHarness(t)

	h.callback(t,
		testhelpers.TextEvent{EventID: "01HEVENT1", ReplyToken: "tok1", Text: "你好", UserID: "U1"},
		testhelpers.TextEvent{EventID: "01HEVENT2", ReplyToken: "tok2", Text: "hi", UserID: "U2"},
		testhelpers.TextEvent{EventID: "01HEVENT3", ReplyToken: "tok3", Text: "早安", UserID: "U3"},
	)
	h.drain(t)

	assert.Len(t, h.Messaging.Accepted(), 3)
	assert.Equal(t, 1, h.Token.RequestCount(), "concurrent events share a single token fetch")
}

func TestRoutes_CallbackSkipsRedelivery(t *testing.T) {
	h := newBridgeHarness(t)
	event := testhelpers.TextEvent{EventID: "01HEVENT1", ReplyToken: "tok1", Text: "你好", UserID: "U123"}

	first := h.callback(t, event)
	second := h.callback(t, event)
	h.drain(t)

	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Len(t, h.Messaging.Requests(), 1)
	assert.Equal(t, 1, h.Gemini.RequestCount())
}

func TestRoutes_CallbackCompletionFailureSendsApology(t *testing.T) {
	h := newBridgeHarness(t)
	h.Gemini.SetStatus(http.StatusTooManyRequests)

	h.callback(t, testhelpers.TextEvent{EventID: "01HEVENT1", ReplyToken: "tok1", Text: "你好", UserID: "U123"})
	h.drain(t)

	accepted := h.Messaging.Accepted()
	require.Len(t, accepted, 1)
	assert.Contains(t, accepted[0].Texts[0], "抱歉")
	assert.Contains(t, accepted[0].Texts[0], "配額")
}

func TestRoutes_CallbackStaticTokenSkipsIssuance(t *testing.T) {
	h := newBridgeHarness(t, func(cfg *config.Config) {
		cfg.Line.ChannelAccessToken = "static-channel-token"
	})

	h.callback(t, testhelpers.TextEvent{EventID: "01HEVENT1", ReplyToken: "tok1", Text: "你好", UserID: "U123"})
	h.drain(t)

	accepted := h.Messaging.Accepted()
	require.Len(t, accepted, 1)
	assert.Equal(t, "static-channel-token", accepted[0].AccessToken)
	assert.Equal(t, 0, h.Token.RequestCount())
}

func TestRoutes_CallbackTokenFailureAcknowledged(t *testing.T) {
	h := newBridgeHarness(t)
	h.Token.SetStatus(http.StatusUnauthorized)

	resp := h.callback(t, testhelpers.TextEvent{EventID: "01HEVENT1", ReplyToken: "tok1", Text: "你好", UserID: "U123"})
	h.drain(t)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, h.Messaging.Requests())
}

func TestRoutes_CallbackInvalidSignature(t *testing.T) {
	h := newBridgeHarness(t)

	body := testhelpers.CallbackBody(testhelpers.TextEvent{EventID: "e1", ReplyToken: "tok1", Text: "hi"})
	req, err := http.NewRequest(http.MethodPost, h.Server.URL+"/api/v1/callback", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(line.SignatureHeader, testhelpers.Sign("wrong-secret", body))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	h.drain(t)
	assert.Equal(t, 0, h.Gemini.RequestCount())
}

func TestRoutes_AIResponse(t *testing.T) {
	h := newBridgeHarness(t)

	resp, err := http.Post(h.Server.URL+"/api/v1/ai_response", "application/json", strings.NewReader(`{"user_input":"你好"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "AI 回覆內容", body["response"])
}

func TestRoutes_TokenStatusAfterIssue(t *testing.T) {
	h := newBridgeHarness(t)

	h.callback(t, testhelpers.TextEvent{EventID: "01HEVENT1", ReplyToken: "tok1", Text: "你好", UserID: "U123"})
	// wait for the event without closing the caches
	require.Eventually(t, func() bool { return len(h.Messaging.Accepted()) == 1 }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(h.Server.URL + "/api/v1/line/token")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))

	assert.Equal(t, false, status["using_static_token"])
	assert.Equal(t, true, status["has_cached_token"])
	assert.Equal(t, true, status["is_valid"])
	assert.NotContains(t, status, "token")
}

func TestRoutes_Liveness(t *testing.T) {
	h := newBridgeHarness(t)

	for path, expected := range map[string]string{
		"/":       `{"message":"CARE Backend Running"}`,
		"/health": `{"status":"Welcome to CARE Backend!"}`,
	} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(h.Server.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()

			var buf bytes.Buffer
			_, err = buf.ReadFrom(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, expected, buf.String())
		})
	}
}
