/*
Package middleware provides HTTP middleware for logging, error handling, and request/response tracking.
*/
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/Nexora-Open-Source/rss-feed-poller/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request correlation ID
const RequestIDHeader = "X-Request-ID"

// Logger is the global structured logger
var Logger *logrus.Logger

// ResponseWriter captures the response status for logging
type ResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *ResponseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// InitLogger initializes the structured logger at the given level.
// Unknown levels fall back to info.
func InitLogger(level string) *logrus.Logger {
	Logger = logrus.New()
	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	Logger.SetLevel(parsed)
	return Logger
}

func logger() *logrus.Logger {
	if Logger == nil {
		return logrus.StandardLogger()
	}
	return Logger
}

// RequestID returns the request's correlation ID, generating one if absent
func RequestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	id := utils.GenerateRequestID()
	r.Header.Set(RequestIDHeader, id)
	return id
}

// LoggingMiddleware logs HTTP requests and records request metrics.
// Bodies are never logged since they carry user identifiers.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := RequestID(r)
		w.Header().Set(RequestIDHeader, requestID)

		rw := &ResponseWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		monitoring.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(rw.status), duration.Seconds())

		fields := logrus.Fields{
			"method":         r.Method,
			"path":           r.URL.Path,
			"remote_addr":    r.RemoteAddr,
			"user_agent":     r.UserAgent(),
			"status":         rw.status,
			"response_bytes": rw.bytes,
			"duration_ms":    duration.Milliseconds(),
			"request_id":     requestID,
		}

		switch {
		case rw.status >= 500:
			logger().WithFields(fields).Error("Request completed with server error")
		case rw.status >= 400:
			logger().WithFields(fields).Warn("Request completed with client error")
		default:
			logger().WithFields(fields).Info("Request completed successfully")
		}
	})
}
