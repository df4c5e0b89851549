/*
Package services runs the long-lived parts of the poller (the HTTP server,
periodic maintenance and alert evaluation) under a suture supervisor so a
crashed service is restarted instead of taking the process down.
*/
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"
)

// HTTPServer is satisfied by *http.Server
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService adapts an HTTP server to suture's context-aware Serve
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	logger          *logrus.Logger
}

// NewHTTPServerService wraps server; shutdownTimeout bounds graceful shutdown
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration, logger *logrus.Logger) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

// Serve runs the server until ctx is canceled, then shuts it down gracefully
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		h.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}

		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string {
	return "http-server"
}

// Task is one unit of periodic work
type Task func(ctx context.Context) error

// TickerService runs a task on a fixed interval. Task errors are logged and
// do not stop the service.
type TickerService struct {
	name     string
	interval time.Duration
	task     Task
	logger   *logrus.Logger
}

// NewTickerService creates a periodic service
func NewTickerService(name string, interval time.Duration, task Task, logger *logrus.Logger) *TickerService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TickerService{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger,
	}
}

// Serve runs the task every interval until ctx is canceled
func (t *TickerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.run(ctx)
		}
	}
}

func (t *TickerService) run(ctx context.Context) {
	start := time.Now()
	if err := t.task(ctx); err != nil {
		t.logger.WithFields(logrus.Fields{
			"service": t.name,
			"error":   err.Error(),
		}).Warn("Periodic task failed")
		return
	}
	t.logger.WithFields(logrus.Fields{
		"service":     t.name,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Periodic task completed")
}

func (t *TickerService) String() string {
	return t.name
}

// SupervisorConfig tunes restart behavior
type SupervisorConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultSupervisorConfig matches suture's documented defaults
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// NewSupervisor creates a root supervisor that reports its events through logger
func NewSupervisor(name string, cfg SupervisorConfig, logger *logrus.Logger) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook:        EventHook(logger),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	})
}

// EventHook logs supervisor events. Service failures and backoff are warnings.
func EventHook(logger *logrus.Logger) suture.EventHook {
	return func(e suture.Event) {
		entry := logger.WithFields(logrus.Fields(e.Map()))
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
			entry.Warn(e.String())
		default:
			entry.Info(e.String())
		}
	}
}
