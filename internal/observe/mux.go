// Package observe configures OpenTelemetry for the bridge: global providers,
// route-tagged inbound handlers and traced outbound transports.
package observe

import (
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

// Mux registers routes with HTTP telemetry, tagging spans and metrics with
// the route rather than the raw request path.
type Mux struct {
	wrapped Multiplexer
}

func NewMux(wrapped Multiplexer) *Mux {
	return &Mux{
		wrapped: wrapped,
	}
}

func (mux *Mux) Handle(pattern string, handler http.Handler) {
	mux.wrapped.Handle(pattern, otelhttp.NewHandler(handler, RouteName(pattern)))
}

// HandleUntraced registers a route without telemetry. Used for liveness
// probes, which would otherwise dominate the trace volume.
func (mux *Mux) HandleUntraced(pattern string, handler http.Handler) {
	mux.wrapped.Handle(pattern, handler)
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.wrapped.ServeHTTP(w, r)
}

var methods = []string{
	http.MethodConnect,
	http.MethodDelete,
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPatch,
	http.MethodPost,
	http.MethodPut,
	http.MethodTrace,
}

// RouteName strips a leading HTTP method from a mux pattern, leaving the
// path used as the span name.
func RouteName(pattern string) string {
	method, resource, hasMethod := strings.Cut(pattern, " ")
	if hasMethod && slices.Contains(methods, method) {
		return resource
	}
	return pattern
}
