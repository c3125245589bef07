// Package audit writes one structured log entry per inbound request,
// describing the request and what happened to the webhook events it carried.
package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the log level audit entries are written at. It sorts above every
// standard level so audit entries are never filtered out.
const Level = zerolog.Level(20)

type key struct{}

// EventRef identifies an event carried by a webhook callback.
type EventRef struct {
	EventID string
	UserID  string
}

func (r EventRef) MarshalZerologObject(e *zerolog.Event) {
	e.Str("eventID", r.EventID)
	if r.UserID != "" {
		e.Str("userID", r.UserID)
	}
}

// Entry is the audit record for a single request.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	// Rejected names the reason a callback was refused before any event was
	// dispatched.
	Rejected string

	EventsReceived   int
	EventsDispatched int
	EventsDuplicate  int
	EventsSkipped    int
	Events           []EventRef

	Error string
}

func (e *Entry) MarshalZerologObject(event *zerolog.Event) {
	request := zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent)
	event.Dict("request", request)

	webhook := NewOptionalEvent(nil).
		Str("rejected", e.Rejected).
		Int("received", e.EventsReceived).
		Int("dispatched", e.EventsDispatched).
		Int("duplicate", e.EventsDuplicate).
		Int("skipped", e.EventsSkipped).
		Arr("events", arr(e.Events))
	webhook.Set(event, "webhook")

	if e.Error != "" {
		event.Str("error", e.Error)
	}
}

// Begin records the request details.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()

	e.SourceIP = r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		e.SourceIP = host
	}
}

// End returns a function that writes the entry; a status of zero is
// recorded as 200. It is intended to be deferred, and records a panic in
// progress before re-raising it.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		r := recover()
		if r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)
		}

		if e.Status == 0 {
			e.Status = http.StatusOK
		}

		log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit_event")

		if r != nil {
			panic(r)
		}
	}
}

// Log returns the audit entry for the current request. Outside a request a
// detached entry is returned so callers never need a nil check.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Context returns the audit entry stored in ctx, creating one and a context
// carrying it if there is none.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(key{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, key{}, e), e
}

// Middleware writes an audit entry for every request passing through it.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r)
			defer entry.End(ctx)()

			next.ServeHTTP(&statusRecorder{ResponseWriter: w, entry: entry}, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.entry.Status == 0 {
		s.entry.Status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.entry.Status == 0 {
		s.entry.Status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
