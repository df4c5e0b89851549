// Package health provides health check handlers for the feed poller
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/middleware"
	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// Version is reported by the health endpoint
var Version = "1.0.0"

var startTime = time.Now()

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the health check response structure
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
	Uptime    string            `json:"uptime"`

	// FeedFailureRate is the share of feed fetches that failed since start
	FeedFailureRate float64 `json:"feed_failure_rate"`
}

// Handler contains dependencies for health handlers
type Handler struct {
	Store        Pinger
	StoreBackend string
	Logger       *logrus.Logger
	Timeout      time.Duration
}

// NewHandler creates a new health handler
func NewHandler(store Pinger, storeBackend string, logger *logrus.Logger) *Handler {
	return &Handler{
		Store:        store,
		StoreBackend: storeBackend,
		Logger:       logger,
		Timeout:      5 * time.Second,
	}
}

// HandleHealthCheck reports the status of the process and the key-value store.
// It always answers 200; the body carries the per-service status.
func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   Version,
		Services:  make(map[string]string),
		Uptime:    time.Since(startTime).String(),

		FeedFailureRate: monitoring.GetFeedFailureRate(),
	}

	service := "store:" + h.StoreBackend
	if err := h.checkStore(r.Context()); err != nil {
		health.Status = "unhealthy"
		health.Services[service] = "unhealthy: " + err.Error()
		h.Logger.WithFields(logrus.Fields{
			"service": service,
			"error":   err.Error(),
		}).Error("Health check failed for store")
	} else {
		health.Services[service] = "healthy"
	}

	writeJSON(w, http.StatusOK, health)
}

// HandleLivenessCheck provides a simple liveness probe
func (h *Handler) HandleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(startTime).String(),
	})
}

// HandleReadinessCheck provides a readiness probe
func (h *Handler) HandleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestID(r)

	if err := h.checkStore(r.Context()); err != nil {
		middleware.RespondServiceUnavailable(w, err, requestID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().Format(time.RFC3339),
		"services": map[string]string{
			"store:" + h.StoreBackend: "ready",
		},
	})
}

func (h *Handler) checkStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()
	return h.Store.Ping(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
