// Package pushservice assembles the HTTP surface and the ingestion consumer
// into one runnable service.
package pushservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Runner is a background loop stopped by cancelling its context.
type Runner interface {
	Run(ctx context.Context) error
}

type Wrapper struct {
	server   *http.Server
	consumer Runner
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New assembles the service. consumer may be nil when ingestion is disabled.
func New(listenAddr string, handler http.Handler, consumer Runner, logger *slog.Logger) *Wrapper {
	return &Wrapper{
		server: &http.Server{
			Addr:              listenAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		consumer: consumer,
		logger:   logger,
	}
}

// Start runs the consumer and serves HTTP until Shutdown or a fatal error.
func (w *Wrapper) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.server.Addr, err)
	}
	return w.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (w *Wrapper) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	errCh := make(chan error, 2)
	if w.consumer != nil {
		w.logger.Info("Core processing pipeline starting...")
		go func() {
			defer close(done)
			if err := w.consumer.Run(ctx); err != nil {
				errCh <- fmt.Errorf("processing pipeline failed: %w", err)
			}
		}()
	} else {
		close(done)
		w.logger.Info("Pub/Sub ingestion disabled; serving HTTP only")
	}

	go func() {
		w.logger.Info("Service is now ready.", "addr", ln.Addr().String())
		if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	err := <-errCh
	cancel()
	return err
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	var finalErr error
	if err := w.server.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			w.logger.Error("Processing pipeline did not stop in time.")
			finalErr = errors.Join(finalErr, ctx.Err())
		}
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
