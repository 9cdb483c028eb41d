package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cun0/batch-ingest/internal/config"
	"github.com/cun0/batch-ingest/internal/jsonlog"
	"github.com/hashicorp/go-multierror"
)

const shutdownTimeout = 15 * time.Second

// Serve runs the HTTP server until SIGINT/SIGTERM or ctx is done. On the way
// out it stops accepting requests first, then runs onShutdown so background
// work can drain without new submissions arriving.
func Serve(ctx context.Context, cfg config.HTTPConfig, logger *jsonlog.Logger, handler http.Handler, onShutdown func(context.Context) error) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		IdleTimeout:       60 * time.Second,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		ErrorLog:          log.New(logger, "", 0),
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownError := make(chan error, 1)

	go func() {
		<-sigCtx.Done()

		logger.PrintInfo("shutting down server", map[string]string{
			"reason": context.Cause(sigCtx).Error(),
		})

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(ctx)

		if onShutdown != nil {
			if hookErr := onShutdown(ctx); hookErr != nil {
				logger.PrintError(hookErr, map[string]string{
					"component": "shutdown_hook",
				})
				err = multierror.Append(err, hookErr).ErrorOrNil()
			}
		}

		shutdownError <- err
	}()

	logger.PrintInfo("starting server", map[string]string{
		"addr": srv.Addr,
	})

	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	// Wait for shutdown result.
	if err := <-shutdownError; err != nil {
		return err
	}

	logger.PrintInfo("stopped server", map[string]string{
		"addr": srv.Addr,
	})

	return nil
}
