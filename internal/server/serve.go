package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve runs srv on listener until ctx is done or the process receives
// SIGINT or SIGTERM, then shuts the server down gracefully and runs hooks.
// In-flight requests are given shutdownTimeout to complete.
func Serve(ctx context.Context, srv *http.Server, listener net.Listener, shutdownTimeout time.Duration, hooks *ShutdownHooks) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listener.Addr().String()).Msg("server: listening")
		serveErr <- srv.Serve(listener)
	}()

	var err error
	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		} else {
			err = fmt.Errorf("server failed: %w", err)
			log.Error().Err(err).Msg("server: stopped unexpectedly")
		}
	case <-ctx.Done():
		log.Info().Msg("server: shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err = srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server: graceful shutdown incomplete")
		}
	}

	// hooks run on every exit path, including a failed Serve
	if hooks != nil {
		hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		log.Info().Int("hooks", hooks.Len()).Msg("server: running shutdown hooks")
		err = errors.Join(err, hooks.Execute(hookCtx))
	}

	log.Info().Msg("server: stopped")

	return err
}
