/*
Package handlers provides HTTP handlers with dependency injection support.

This package defines the Handler struct that groups the poll trigger and
health handlers and registers their routes.
*/
package handlers

import (
	"net/http"

	"github.com/Nexora-Open-Source/rss-feed-poller/handlers/health"
	"github.com/Nexora-Open-Source/rss-feed-poller/handlers/rss"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Middleware decorates an endpoint, e.g. with rate limiting
type Middleware func(http.HandlerFunc) http.HandlerFunc

// Handler contains all HTTP handlers of the service
type Handler struct {
	RSS    *rss.Handler
	Health *health.Handler
	Logger *logrus.Logger
}

// NewHandler creates a new handler instance with injected dependencies
func NewHandler(poller rss.Poller, store health.Pinger, storeBackend, verificationToken string, logger *logrus.Logger) *Handler {
	return &Handler{
		RSS:    rss.NewHandler(poller, verificationToken, logger),
		Health: health.NewHandler(store, storeBackend, logger),
		Logger: logger,
	}
}

// RegisterRoutes mounts the health endpoints undecorated and the poll
// trigger wrapped in the given middleware, outermost first
func (h *Handler) RegisterRoutes(router *mux.Router, middleware ...Middleware) {
	router.HandleFunc("/health", h.Health.HandleHealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/health/live", h.Health.HandleLivenessCheck).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", h.Health.HandleReadinessCheck).Methods(http.MethodGet)

	poll := http.HandlerFunc(h.RSS.HandlePoll)
	for i := len(middleware) - 1; i >= 0; i-- {
		poll = middleware[i](poll)
	}
	router.HandleFunc("/rss", poll).Methods(http.MethodPost)
}
