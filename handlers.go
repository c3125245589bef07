package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/care-team/care-bridge/internal/audit"
	"github.com/care-team/care-bridge/internal/config"
	"github.com/care-team/care-bridge/internal/credential"
	"github.com/care-team/care-bridge/internal/line"
	"github.com/care-team/care-bridge/internal/webhook"
	"github.com/rs/zerolog/log"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// completeFunc generates an answer to a user's question.
type completeFunc func(ctx context.Context, userText string) (string, error)

// dispatchFunc starts asynchronous processing of verified webhook events.
type dispatchFunc func(ctx context.Context, events []line.Event) webhook.Summary

type credentialStatusFunc func(ctx context.Context) credential.Status

func handleRoot() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, map[string]string{"message": "CARE Backend Running"})
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, map[string]string{"status": "Welcome to CARE Backend!"})
	})
}

type aiRequest struct {
	UserInput string `json:"user_input"`
}

type aiResponse struct {
	Response string `json:"response"`
}

// handlePostAIResponse answers a question directly, without going through
// LINE. Completion failures are reported with the status of their category.
func handlePostAIResponse(complete completeFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req aiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Info().Err(err).Msg("invalid ai_response request body")
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if strings.TrimSpace(req.UserInput) == "" {
			writeJSONError(w, http.StatusBadRequest, "user_input is required")
			return
		}

		answer, err := complete(r.Context(), req.UserInput)
		if err != nil {
			status, message := errorStatus(err)
			log.Info().Err(err).Int("status", status).Msg("completion failed")
			writeJSONError(w, status, message)
			return
		}

		writeJSON(w, http.StatusOK, aiResponse{Response: answer})
	})
}

// handlePostCallback verifies a LINE webhook callback and hands its text
// message events to dispatch. Once the signature is verified the callback is
// always acknowledged, whatever happens to the events, so that LINE does not
// redeliver them.
func handlePostCallback(channelSecret string, dispatch dispatchFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entry := audit.Log(r.Context())

		events, skipped, err := line.ParseCallback(channelSecret, r)
		if err != nil {
			entry.Rejected = err.Error()

			switch {
			case errors.Is(err, line.ErrMissingSignature):
				log.Info().Msg("callback rejected: missing signature")
				requestErrorMessage(w, http.StatusBadRequest, "Missing signature")
			case errors.Is(err, line.ErrInvalidSignature):
				log.Info().Msg("callback rejected: invalid signature")
				requestErrorMessage(w, http.StatusBadRequest, "Invalid signature")
			default:
				log.Info().Err(err).Msg("callback rejected: unreadable body")
				requestErrorMessage(w, http.StatusBadRequest, "Invalid request body")
			}
			return
		}

		summary := dispatch(r.Context(), events)

		entry.EventsReceived = summary.Received + skipped
		entry.EventsSkipped = skipped
		entry.EventsDispatched = summary.Dispatched
		entry.EventsDuplicate = summary.Duplicates
		entry.Events = make([]audit.EventRef, 0, len(events))
		for _, ev := range events {
			entry.Events = append(entry.Events, audit.EventRef{EventID: ev.EventID, UserID: ev.UserID})
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

type tokenStatusResponse struct {
	credential.Status
	ChannelIDSet     bool `json:"channel_id_set"`
	ChannelSecretSet bool `json:"channel_secret_set"`
}

// handleGetTokenStatus reports the state of the channel access credential.
// The token itself is never included.
func handleGetTokenStatus(status credentialStatusFunc, cfg config.LineConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, tokenStatusResponse{
			Status:           status(r.Context()),
			ChannelIDSet:     cfg.ChannelID != "",
			ChannelSecretSet: cfg.ChannelSecret != "",
		})
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// the status has been written, so logging is all that's left
		log.Info().Err(err).Msg("failed to write JSON response")
	}
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func requestErrorMessage(w http.ResponseWriter, statusCode int, message string) {
	http.Error(w, message, statusCode)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5MB max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
