package testhelpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockLineTokenServer mocks the LINE channel access token endpoint.
type MockLineTokenServer struct {
	Server *httptest.Server

	mu           sync.Mutex
	token        string
	expiresIn    int // seconds; omitted from the response when zero
	statusCode   int
	omitToken    bool
	requestCount int
	lastForm     map[string]string
}

// SetupMockLineTokenServer creates a mock token endpoint returning a fixed
// token valid for one day. The server is closed when the test ends.
func SetupMockLineTokenServer(t *testing.T) *MockLineTokenServer {
	t.Helper()

	mock := &MockLineTokenServer{
		token:      "issued-channel-token",
		expiresIn:  86400,
		statusCode: http.StatusOK,
	}

	router := http.NewServeMux()
	router.HandleFunc("POST /oauth2/v3/token", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		defer mock.mu.Unlock()

		mock.requestCount++

		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mock.lastForm = map[string]string{}
		for k := range r.PostForm {
			mock.lastForm[k] = r.PostForm.Get(k)
		}

		if mock.statusCode != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(mock.statusCode)
			_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"invalid client"}`))
			return
		}

		response := map[string]any{"token_type": "Bearer", "key_id": "kid"}
		if !mock.omitToken {
			response["access_token"] = mock.token
		}
		if mock.expiresIn != 0 {
			response["expires_in"] = mock.expiresIn
		}

		WriteJSON(w, response)
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// URL is the token endpoint URL.
func (m *MockLineTokenServer) URL() string {
	return m.Server.URL + "/oauth2/v3/token"
}

func (m *MockLineTokenServer) SetToken(token string, expiresIn int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.expiresIn = expiresIn
}

func (m *MockLineTokenServer) SetStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCode = status
}

// OmitAccessToken makes successful responses leave out access_token.
func (m *MockLineTokenServer) OmitAccessToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitToken = true
}

func (m *MockLineTokenServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// LastForm returns the form fields of the most recent request.
func (m *MockLineTokenServer) LastForm() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastForm
}

// Reply is a reply request received by MockLineMessagingServer.
type Reply struct {
	AccessToken string
	ReplyToken  string
	Texts       []string
}

// MockLineMessagingServer mocks the LINE reply endpoint, including the
// single-use semantics of reply tokens.
type MockLineMessagingServer struct {
	Server *httptest.Server

	mu       sync.Mutex
	statuses []int // consumed one per request; 200 once exhausted
	used     map[string]bool
	requests []Reply
	accepted []Reply
}

// SetupMockLineMessagingServer creates a mock reply endpoint. The server is
// closed when the test ends.
func SetupMockLineMessagingServer(t *testing.T) *MockLineMessagingServer {
	t.Helper()

	mock := &MockLineMessagingServer{
		used: map[string]bool{},
	}

	router := http.NewServeMux()
	router.HandleFunc("POST /v2/bot/message/reply", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		defer mock.mu.Unlock()

		var body struct {
			ReplyToken string `json:"replyToken"`
			Messages   []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		reply := Reply{
			AccessToken: strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
			ReplyToken:  body.ReplyToken,
		}
		for _, m := range body.Messages {
			reply.Texts = append(reply.Texts, m.Text)
		}
		mock.requests = append(mock.requests, reply)

		status := http.StatusOK
		if len(mock.statuses) > 0 {
			status = mock.statuses[0]
			mock.statuses = mock.statuses[1:]
		}

		if status == http.StatusOK && mock.used[reply.ReplyToken] {
			status = http.StatusBadRequest
		}

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = fmt.Fprintf(w, `{"message":"request rejected with status %d"}`, status)
			return
		}

		mock.used[reply.ReplyToken] = true
		mock.accepted = append(mock.accepted, reply)

		WriteJSON(w, map[string]any{"sentMessages": []any{}})
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// QueueStatus makes the next requests answer with the given statuses, in
// order.
func (m *MockLineMessagingServer) QueueStatus(statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, statuses...)
}

// Requests returns every reply request received, accepted or not.
func (m *MockLineMessagingServer) Requests() []Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Reply(nil), m.requests...)
}

// Accepted returns the reply requests answered with 200.
func (m *MockLineMessagingServer) Accepted() []Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Reply(nil), m.accepted...)
}

// MockGeminiServer mocks the generateContent endpoint.
type MockGeminiServer struct {
	Server *httptest.Server

	mu           sync.Mutex
	text         string
	rawBody      string
	statusCode   int
	delay        time.Duration
	requestCount int
	lastKey      string
	lastModel    string
	lastBody     map[string]any
}

// SetupMockGeminiServer creates a mock generation endpoint answering with a
// single candidate. The server is closed when the test ends.
func SetupMockGeminiServer(t *testing.T) *MockGeminiServer {
	t.Helper()

	mock := &MockGeminiServer{
		text:       "AI 回覆內容",
		statusCode: http.StatusOK,
	}

	router := http.NewServeMux()
	router.HandleFunc("POST /v1beta/models/", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.lastKey = r.URL.Query().Get("key")
		mock.lastModel, _ = strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/v1beta/models/"), ":generateContent")

		body, _ := io.ReadAll(r.Body)
		mock.lastBody = map[string]any{}
		_ = json.Unmarshal(body, &mock.lastBody)

		delay, status, text, raw := mock.delay, mock.statusCode, mock.text, mock.rawBody
		mock.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"mock failure"}}`, status)
			return
		}

		if raw != "" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(raw))
			return
		}

		WriteJSON(w, map[string]any{
			"candidates": []any{
				map[string]any{
					"content": map[string]any{
						"role":  "model",
						"parts": []any{map[string]any{"text": text}},
					},
					"finishReason": "STOP",
				},
			},
		})
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// URL is the API base URL, including the version prefix.
func (m *MockGeminiServer) URL() string {
	return m.Server.URL + "/v1beta"
}

func (m *MockGeminiServer) SetText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
}

func (m *MockGeminiServer) SetStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCode = status
}

// SetRawBody replaces the successful response body verbatim.
func (m *MockGeminiServer) SetRawBody(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawBody = body
}

func (m *MockGeminiServer) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *MockGeminiServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// LastRequest returns the API key, model and decoded JSON body of the most
// recent request.
func (m *MockGeminiServer) LastRequest() (key string, model string, body map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastKey, m.lastModel, m.lastBody
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
