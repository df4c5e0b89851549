/*
Package main initializes the RSS feed poller server.

The poller receives one scheduling trigger per feed, fetches and parses the
feed, decides which items are new for every subscription, creates the
downstream content tasks and reports each subscription's next poll time to
the backend.

Run the application:

	$ go run main.go

Endpoints:
  - POST /rss?token=<verification-token>: Poll one feed for a batch of subscriptions.
  - GET /health, /health/live, /health/ready: Health probes.
  - GET /metrics: Prometheus metrics.
*/
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/config"
	"github.com/Nexora-Open-Source/rss-feed-poller/handlers"
	"github.com/Nexora-Open-Source/rss-feed-poller/middleware"
	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/Nexora-Open-Source/rss-feed-poller/services"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	clients map[string]*ClientLimiter
	mutex   sync.RWMutex
	rate    rate.Limit
	burst   int
}

// ClientLimiter represents a rate limiter for a specific client
type ClientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*ClientLimiter),
		rate:    r,
		burst:   b,
	}
}

// Allow checks if a client is allowed to make a request
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	client, exists := rl.clients[clientID]
	if !exists {
		client = &ClientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[clientID] = client
	}

	client.lastSeen = time.Now()
	return client.limiter.Allow()
}

// Cleanup removes client entries idle for longer than maxIdle
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	removed := 0
	for clientID, client := range rl.clients {
		if time.Since(client.lastSeen) > maxIdle {
			delete(rl.clients, clientID)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients
func (rl *RateLimiter) Len() int {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()
	return len(rl.clients)
}

func main() {
	appConfig, err := config.NewAppConfig()
	if err != nil {
		log.Fatalf("Failed to initialize application configuration: %v", err)
	}

	logger := middleware.InitLogger(appConfig.Config.LogLevel)
	logger.Info("Starting RSS feed poller")

	if err := run(appConfig); err != nil {
		logger.WithField("error", err.Error()).Error("Poller stopped with error")
		os.Exit(1)
	}
	logger.Info("Poller stopped")
}

func run(appConfig *config.AppConfig) error {
	cfg := appConfig.Config
	logger := middleware.Logger
	defer func() {
		if err := appConfig.Services.Close(); err != nil {
			logger.WithField("error", err.Error()).Error("Failed to close services")
		}
	}()

	tracerProvider := monitoring.InitTracing(cfg.Monitoring.ServiceName, cfg.Monitoring.TraceSampleRatio)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		monitoring.ShutdownTracing(ctx, tracerProvider, logger)
	}()

	handler, err := appConfig.Services.Container.GetHandler()
	if err != nil {
		return fmt.Errorf("failed to initialize handler: %w", err)
	}

	alertManager, err := appConfig.Services.Container.GetAlertManager()
	if err != nil {
		return fmt.Errorf("failed to initialize alert manager: %w", err)
	}

	maintenance, err := appConfig.Services.Container.GetMaintenance()
	if err != nil {
		return fmt.Errorf("failed to initialize store maintenance: %w", err)
	}

	limiter := NewRateLimiter(rate.Limit(cfg.RateLimitRequestsPerMinute/60.0), cfg.RateLimitBurst)

	router := mux.NewRouter()
	monitoring.SetupMetricsEndpoint(router)
	handler.RegisterRoutes(router, MonitoringMiddleware, RateLimitMiddleware(limiter))

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           middleware.LoggingMiddleware(router),
		ReadHeaderTimeout: 10 * time.Second,
		// A poll fetches a feed and calls downstream services for every subscription
		WriteTimeout: cfg.Fetch.Timeout + 5*time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	supervisorConfig := services.DefaultSupervisorConfig()
	supervisorConfig.ShutdownTimeout = cfg.ShutdownTimeout
	supervisor := services.NewSupervisor("rss-feed-poller", supervisorConfig, logger)

	supervisor.Add(services.NewHTTPServerService(server, cfg.ShutdownTimeout, logger))
	supervisor.Add(alertManager)
	supervisor.Add(services.NewTickerService("rate-limiter-cleanup", cfg.ClientCleanupInterval, func(ctx context.Context) error {
		if removed := limiter.Cleanup(5 * time.Minute); removed > 0 {
			logger.WithField("removed", removed).Debug("Removed idle rate limiter clients")
		}
		return nil
	}, logger))
	for name, task := range maintenance {
		supervisor.Add(services.NewTickerService(name, cfg.Store.CleanupInterval, task, logger))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithField("port", cfg.ServerPort).Info("Server starting")

	if err := supervisor.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// MonitoringMiddleware adds a tracing span around HTTP handlers
func MonitoringMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := monitoring.CreateSpan(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path))
		defer span.End()

		monitoring.SetSpanAttributes(span, map[string]interface{}{
			"http.method":     r.Method,
			"http.path":       r.URL.Path,
			"http.user_agent": r.UserAgent(),
			"remote.addr":     r.RemoteAddr,
		})

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(ctx))

		monitoring.SetSpanAttributes(span, map[string]interface{}{
			"http.status_code": rw.statusCode,
		})
		if rw.statusCode >= 400 {
			monitoring.SetSpanError(span, fmt.Errorf("HTTP %d", rw.statusCode))
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// getClientIdentifier derives a stable client identifier from the caller's
// address and user agent
func getClientIdentifier(r *http.Request) string {
	var identifiers []string

	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		ip = strings.TrimSpace(ips[0])
	} else if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		ip = realIP
	}
	identifiers = append(identifiers, "ip:"+ip)

	if fields := strings.Fields(strings.ToLower(r.UserAgent())); len(fields) > 0 {
		identifiers = append(identifiers, "ua:"+fields[0])
	}

	hash := sha256.Sum256([]byte(strings.Join(identifiers, "|")))
	return fmt.Sprintf("%x", hash)[:16]
}

// RateLimitMiddleware rejects clients that exceed their token bucket
func RateLimitMiddleware(limiter *RateLimiter) handlers.Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(getClientIdentifier(r)) {
				middleware.RespondRateLimited(w, errors.New("rate limit exceeded"), middleware.RequestID(r))
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}
