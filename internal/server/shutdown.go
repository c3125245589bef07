package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type hookDefinition struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks runs cleanup after the HTTP server has stopped accepting
// requests: draining in-flight webhook events, flushing telemetry, closing
// caches. Hooks run in the order added; a failing hook does not stop the
// rest.
type ShutdownHooks struct {
	hooks []hookDefinition
}

// AddContext registers a hook that receives the shutdown context, which
// carries the remaining shutdown deadline. Nil hooks are ignored.
func (s *ShutdownHooks) AddContext(name string, hook func(context.Context) error) {
	if hook == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	log.Debug().Str("hook", name).Msg("adding shutdown hook")
	s.hooks = append(s.hooks, hookDefinition{name: name, fn: hook})
}

// Add registers a hook that does not need the shutdown context.
func (s *ShutdownHooks) Add(name string, hook func() error) {
	if hook == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	s.AddContext(name, func(context.Context) error {
		return hook()
	})
}

// Execute runs every hook. A hook is still run when the context has expired
// so that it can release resources without waiting.
func (s *ShutdownHooks) Execute(ctx context.Context) {
	l := log.Ctx(ctx)
	for _, hook := range s.hooks {
		hookLog := l.With().Str("hook", hook.name).Logger()

		start := time.Now()
		hookLog.Info().Msg("shutdown started")
		if err := hook.fn(ctx); err != nil {
			hookLog.Warn().Err(err).Dur("duration", time.Since(start)).Msg("shutdown failed")
		} else {
			hookLog.Info().Dur("duration", time.Since(start)).Msg("shutdown complete")
		}
	}
}
