// Package reply answers a single inbound text message: it obtains a
// completion, acquires the channel credential and delivers the reply.
package reply

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/care-team/care-bridge/internal/gemini"
	"github.com/care-team/care-bridge/internal/line"
	"github.com/care-team/care-bridge/internal/upstream"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/text/unicode/norm"
)

// Outcome values recorded on the reply.outcomes counter.
const (
	OutcomeDelivered             = "delivered"
	OutcomeCredentialUnavailable = "credential-unavailable"
	OutcomeDeliveryFailed        = "delivery-failed"
	OutcomeUnexpected            = "unexpected"
)

const loggedTextLength = 50

type Completer interface {
	Complete(ctx context.Context, userText string) (string, error)
}

// Credentials supplies the bearer token used for delivery.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
	Static() bool
}

type Deliverer interface {
	Reply(ctx context.Context, accessToken string, replyToken string, texts ...string) error
}

// Orchestrator is safe for concurrent use; each call handles one event.
type Orchestrator struct {
	completer   Completer
	credentials Credentials
	deliverer   Deliverer

	persona               gemini.Persona
	refreshOnUnauthorized bool

	outcomes metric.Int64Counter
}

type Option func(*Orchestrator)

func WithPersona(p gemini.Persona) Option {
	return func(o *Orchestrator) {
		o.persona = p
	}
}

// WithRefreshOnUnauthorized controls whether a delivery rejected with 401 is
// retried once with a freshly issued credential. Enabled by default.
func WithRefreshOnUnauthorized(enabled bool) Option {
	return func(o *Orchestrator) {
		o.refreshOnUnauthorized = enabled
	}
}

func New(completer Completer, credentials Credentials, deliverer Deliverer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		completer:             completer,
		credentials:           credentials,
		deliverer:             deliverer,
		persona:               gemini.DefaultPersona(),
		refreshOnUnauthorized: true,
	}

	for _, opt := range opts {
		opt(o)
	}

	meter := otel.Meter("github.com/care-team/care-bridge/internal/reply")
	outcomes, err := meter.Int64Counter(
		"reply.outcomes",
		metric.WithDescription("Reply processing outcomes"),
	)
	if err != nil {
		otel.Handle(err)
	}
	o.outcomes = outcomes

	return o
}

// ProcessAndReply answers event and reports whether the reply was accepted
// by the platform. A failed completion is answered with an apology rather
// than reported as a failure. At most one reply is delivered, with one
// exception: after an unexpected failure a generic apology is attempted.
func (o *Orchestrator) ProcessAndReply(ctx context.Context, event line.Event) (delivered bool) {
	logger := log.Ctx(ctx)
	category := "none"

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("reply: panic while processing event")

			o.apologise(ctx, event.ReplyToken)
			o.record(ctx, OutcomeUnexpected, category)
			delivered = false
		}
	}()

	text := normalise(event.Text)
	logger.Info().Str("text", truncateForLog(text)).Msg("reply: processing message")

	answer, err := o.completer.Complete(ctx, text)
	if err != nil {
		var ce *gemini.CompletionError
		if errors.As(err, &ce) {
			category = ce.Category.String()
		} else {
			category = "unclassified"
		}
		logger.Warn().Err(err).Str("category", category).Msg("reply: completion failed, replying with apology")
		answer = o.persona.Apology(err)
	}

	token, err := o.credentials.Token(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("reply: no channel access credential, reply not sent")
		o.record(ctx, OutcomeCredentialUnavailable, category)
		return false
	}

	err = o.deliver(ctx, token, event.ReplyToken, answer)
	if err == nil {
		logger.Info().Msg("reply: delivered")
		o.record(ctx, OutcomeDelivered, category)
		return true
	}

	// the platform refused this reply token, so an apology on it would be refused too
	if _, classified := upstream.As(err); classified {
		logger.Error().Err(err).Msg("reply: delivery failed")
		o.record(ctx, OutcomeDeliveryFailed, category)
		return false
	}

	logger.Error().Err(err).Msg("reply: unexpected delivery failure")
	o.apologise(ctx, event.ReplyToken)
	o.record(ctx, OutcomeUnexpected, category)

	return false
}

func (o *Orchestrator) deliver(ctx context.Context, token, replyToken, text string) error {
	err := o.deliverer.Reply(ctx, token, replyToken, text)
	if err == nil || !line.IsUnauthorized(err) || !o.refreshOnUnauthorized || o.credentials.Static() {
		return err
	}

	// a rejected call does not consume the reply token
	log.Ctx(ctx).Warn().Msg("reply: channel access token rejected, refreshing and retrying once")

	fresh, refreshErr := o.credentials.ForceRefresh(ctx)
	if refreshErr != nil {
		log.Ctx(ctx).Error().Err(refreshErr).Msg("reply: credential refresh after 401 failed")
		return err
	}

	return o.deliverer.Reply(ctx, fresh, replyToken, text)
}

// apologise makes one attempt to send the generic apology. Failures are only
// logged.
func (o *Orchestrator) apologise(ctx context.Context, replyToken string) {
	logger := log.Ctx(ctx)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic sending apology: %v", r)
			}
		}()

		token, err := o.credentials.Token(ctx)
		if err != nil {
			return err
		}
		return o.deliverer.Reply(ctx, token, replyToken, o.persona.GenericApology)
	}()
	if err != nil {
		logger.Warn().Err(err).Msg("reply: apology could not be delivered")
		return
	}

	logger.Info().Msg("reply: apology delivered")
}

func (o *Orchestrator) record(ctx context.Context, outcome, category string) {
	if o.outcomes == nil {
		return
	}

	o.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reply.outcome", outcome),
		attribute.String("completion.category", category),
	))
}

func normalise(text string) string {
	return strings.TrimSpace(norm.NFC.String(text))
}

func truncateForLog(text string) string {
	runes := []rune(text)
	if len(runes) <= loggedTextLength {
		return text
	}
	return string(runes[:loggedTextLength]) + "…"
}

