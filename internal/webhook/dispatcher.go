// Package webhook hands verified inbound events to the reply orchestrator,
// one goroutine per event, skipping events that have already been seen.
package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/care-team/care-bridge/internal/cache"
	"github.com/care-team/care-bridge/internal/line"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const DefaultEventTimeout = 60 * time.Second

// Processor handles a single event and reports whether a reply was delivered.
type Processor interface {
	ProcessAndReply(ctx context.Context, event line.Event) bool
}

// Summary describes what happened to the events of one callback.
type Summary struct {
	Received   int
	Dispatched int
	Duplicates int
}

// Dispatcher processes events asynchronously. The caller acknowledges the
// callback without waiting for replies to be delivered.
type Dispatcher struct {
	processor Processor
	seen      cache.TokenCache[time.Time]
	timeout   time.Duration
	now       func() time.Time

	// serialises the check-then-mark of event IDs
	seenMu sync.Mutex

	inflight sync.WaitGroup
	events   metric.Int64Counter
}

type Option func(*Dispatcher)

// WithDedup remembers dispatched event IDs in seen; a redelivered event with
// a remembered ID is not processed again.
func WithDedup(seen cache.TokenCache[time.Time]) Option {
	return func(d *Dispatcher) {
		d.seen = seen
	}
}

// WithEventTimeout bounds the processing of each event.
func WithEventTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func New(processor Processor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		processor: processor,
		timeout:   DefaultEventTimeout,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	meter := otel.Meter("github.com/care-team/care-bridge/internal/webhook")
	events, err := meter.Int64Counter(
		"webhook.events",
		metric.WithDescription("Inbound webhook events by result"),
	)
	if err != nil {
		otel.Handle(err)
	}
	d.events = events

	return d
}

// Dispatch starts processing of each event and returns immediately. The
// processing context is detached from ctx so it outlives the request, but
// keeps its logger.
func (d *Dispatcher) Dispatch(ctx context.Context, events []line.Event) Summary {
	summary := Summary{Received: len(events)}

	for _, event := range events {
		eventID := event.EventID
		if eventID == "" {
			eventID = uuid.NewString()
		} else if d.duplicate(ctx, eventID) {
			log.Ctx(ctx).Info().Str("event_id", eventID).Msg("webhook: skipping redelivered event")
			d.record(ctx, "duplicate")
			summary.Duplicates++
			continue
		}

		d.inflight.Add(1)
		go d.process(ctx, eventID, event)

		summary.Dispatched++
	}

	return summary
}

func (d *Dispatcher) process(parent context.Context, eventID string, event line.Event) {
	defer d.inflight.Done()

	logCtx := log.Ctx(parent).With().Str("event_id", eventID)
	if event.UserID != "" {
		logCtx = logCtx.Str("user_id", event.UserID)
	}
	logger := logCtx.Logger()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
	defer cancel()
	ctx = logger.WithContext(ctx)

	result := "failed"
	if d.processor.ProcessAndReply(ctx, event) {
		result = "delivered"
	}

	logger.Debug().Str("result", result).Msg("webhook: event processed")
	d.record(ctx, result)
}

// duplicate reports whether eventID has been seen, marking it as seen if
// not.
func (d *Dispatcher) duplicate(ctx context.Context, eventID string) bool {
	if d.seen == nil {
		return false
	}

	d.seenMu.Lock()
	defer d.seenMu.Unlock()

	_, found, err := d.seen.Get(ctx, eventID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("webhook: dedup lookup failed, processing event")
		return false
	}
	if found {
		return true
	}

	if err := d.seen.Set(ctx, eventID, d.now()); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("webhook: dedup write failed")
	}

	return false
}

// Wait blocks until all dispatched events have been processed or ctx is
// done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) record(ctx context.Context, result string) {
	if d.events == nil {
		return
	}

	d.events.Add(ctx, 1, metric.WithAttributes(attribute.String("webhook.result", result)))
}
