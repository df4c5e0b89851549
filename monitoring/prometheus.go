// Package monitoring provides Prometheus metrics endpoint
package monitoring

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupMetricsEndpoint mounts the Prometheus scrape endpoint on the router
func SetupMetricsEndpoint(router *mux.Router) {
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}
