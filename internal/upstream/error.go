// Package upstream classifies failures of calls made to external services
// (the LINE platform and the generative-text endpoint) into a small set of
// kinds that callers can match on.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind identifies the class of an upstream failure.
type Kind int

const (
	// KindConfiguration means the call could not be attempted because local
	// configuration (credentials, keys) is missing.
	KindConfiguration Kind = iota + 1
	// KindUpstream means the remote service answered with a non-2xx status.
	KindUpstream
	// KindTransport means the call did not complete: timeout or network
	// failure.
	KindTransport
	// KindMalformed means a 2xx response did not contain the expected fields.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindUpstream:
		return "upstream"
	case KindTransport:
		return "transport"
	case KindMalformed:
		return "malformed-response"
	default:
		return "unknown"
	}
}

// Error is a classified failure of a call to a named service.
type Error struct {
	Kind    Kind
	Service string

	// StatusCode is the HTTP status returned by the service, zero unless Kind
	// is KindUpstream.
	StatusCode int

	// Timeout is set for transport failures caused by a deadline.
	Timeout bool

	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindUpstream && e.StatusCode != 0:
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Service, e.Kind, e.StatusCode, e.Err)
	case e.Kind == KindTransport && e.Timeout:
		return fmt.Sprintf("%s: transport timeout: %v", e.Service, e.Err)
	default:
		return fmt.Sprintf("%s: %s error: %v", e.Service, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, upstream.KindTransport) style matching.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindTarget)
	return ok && Kind(k) == e.Kind
}

type kindTarget Kind

func (k kindTarget) Error() string {
	return Kind(k).String()
}

// Sentinel values for errors.Is matching on the kind of a classified error.
var (
	ErrConfiguration error = kindTarget(KindConfiguration)
	ErrUpstream      error = kindTarget(KindUpstream)
	ErrTransport     error = kindTarget(KindTransport)
	ErrMalformed     error = kindTarget(KindMalformed)
)

// Configuration returns a configuration error for service.
func Configuration(service string, msg string) *Error {
	return &Error{Kind: KindConfiguration, Service: service, Err: errors.New(msg)}
}

// Status returns an upstream error for a non-2xx response.
func Status(service string, statusCode int, body string) *Error {
	return &Error{
		Kind:       KindUpstream,
		Service:    service,
		StatusCode: statusCode,
		Err:        fmt.Errorf("response: %s", body),
	}
}

// Malformed returns an error for a successful response that could not be
// interpreted.
func Malformed(service string, err error) *Error {
	return &Error{Kind: KindMalformed, Service: service, Err: err}
}

// Transport classifies an error returned by an HTTP round trip. Deadline
// expiry (from a context or a net.Error) is reported as a timeout; everything
// else is a network failure.
func Transport(service string, err error) *Error {
	timeout := errors.Is(err, context.DeadlineExceeded)

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}

	return &Error{Kind: KindTransport, Service: service, Timeout: timeout, Err: err}
}

// As extracts a classified error from err.
func As(err error) (*Error, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// Body truncates a response body for inclusion in an error message.
func Body(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
