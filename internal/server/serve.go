package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve runs srv on listener until ctx is cancelled, then shuts it down,
// allowing in-flight requests up to drainTimeout to complete. Registered
// hooks run after the server has stopped.
func Serve(ctx context.Context, srv *http.Server, listener net.Listener, drainTimeout time.Duration, hooks *ShutdownHooks) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listener.Addr().String()).Msg("server listening")
		serveErr <- srv.Serve(listener)
	}()

	var err error
	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		log.Info().Msg("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()

		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			err = fmt.Errorf("server shutdown: %w", shutdownErr)
		}
	}

	if hooks != nil {
		if hookErr := hooks.Execute(context.WithoutCancel(ctx)); hookErr != nil {
			err = errors.Join(err, hookErr)
		}
	}

	return err
}
