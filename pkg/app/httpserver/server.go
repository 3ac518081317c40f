package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultShutdownTimeout = 30 * time.Second

// ServeAndWait binds srv.Addr, serves until ctx is cancelled or the server
// fails, then drains connections within shutdownTimeout. The drain hooks run
// after the HTTP server has stopped accepting work, in the order given, so
// background workers are stopped only once no handler can hand them more.
//
// A bind failure is returned immediately without running the hooks.
func ServeAndWait(ctx context.Context, logger *zap.Logger, srv *http.Server, shutdownTimeout time.Duration, drain ...func()) error {
	if srv == nil {
		return fmt.Errorf("nil http server")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	logger.Info("HTTP server listening", zap.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error("HTTP server error", zap.Error(runErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("Shutting down HTTP server", zap.Duration("timeout", shutdownTimeout))
	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		logger.Error("HTTP server shutdown error", zap.Error(shutdownErr))
	}

	for _, fn := range drain {
		fn()
	}

	switch {
	case runErr != nil:
		return fmt.Errorf("http server failed: %w", runErr)
	case shutdownErr != nil:
		return fmt.Errorf("http shutdown: %w", shutdownErr)
	}
	logger.Info("HTTP server stopped")
	return nil
}
