// Package server runs the HTTP listener and coordinates graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve runs srv until ctx is cancelled or the process receives SIGINT or
// SIGTERM. It then stops accepting requests, waits for active requests to
// complete and runs hooks, all within shutdownTimeout.
func Serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, hooks *ShutdownHooks) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server: listening")
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", shutdownTimeout).Msg("server: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		log.Warn().Err(err).Msg("server: graceful shutdown incomplete")
	}

	if hooks != nil {
		hooks.Execute(shutdownCtx)
	}

	log.Info().Msg("server: stopped")

	return err
}
