package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/middleware"
	"golang.org/x/time/rate"
)

func init() {
	// Initialize logger for tests
	middleware.InitLogger("panic")
}

// TestRateLimiting tests per-client token buckets on the poll trigger
func TestRateLimiting(t *testing.T) {
	limiter := NewRateLimiter(rate.Limit(10), 5)

	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
	rateLimitedHandler := RateLimitMiddleware(limiter)(handler)

	// Same IP but different user agents have separate buckets
	req1 := httptest.NewRequest("POST", "/rss", nil)
	req1.Header.Set("User-Agent", "Cloud-Scheduler")
	req1.RemoteAddr = "10.0.0.1:12345"

	req2 := httptest.NewRequest("POST", "/rss", nil)
	req2.Header.Set("User-Agent", "Google-Cloud-Tasks")
	req2.RemoteAddr = "10.0.0.1:12345"

	w1 := httptest.NewRecorder()
	w2 := httptest.NewRecorder()
	rateLimitedHandler(w1, req1)
	rateLimitedHandler(w2, req2)

	if w1.Code != http.StatusOK || w2.Code != http.StatusOK {
		t.Errorf("Both requests should be allowed initially")
	}

	// Requests with the same identity share one bucket
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("POST", "/rss", nil)
		req.Header.Set("User-Agent", "Cloud-Scheduler")
		req.RemoteAddr = "10.0.0.1:12345"

		w := httptest.NewRecorder()
		rateLimitedHandler(w, req)

		// the first request above already took one token
		if i < 4 && w.Code != http.StatusOK {
			t.Errorf("Request %d should be allowed", i)
		}
		if i >= 5 && w.Code != http.StatusTooManyRequests {
			t.Errorf("Request %d should be rate limited", i)
		}
	}
}

// TestClientIdentifier tests client identification for rate limiting
func TestClientIdentifier(t *testing.T) {
	testCases := []struct {
		name       string
		setupReq   func(*http.Request)
		expectSame bool
	}{
		{
			name: "Same IP and user agent",
			setupReq: func(req *http.Request) {
				req.RemoteAddr = "192.168.1.1:12345"
				req.Header.Set("User-Agent", "Mozilla/5.0")
			},
			expectSame: true,
		},
		{
			name: "Different IP, same user agent",
			setupReq: func(req *http.Request) {
				req.RemoteAddr = "192.168.1.2:12345"
				req.Header.Set("User-Agent", "Mozilla/5.0")
			},
			expectSame: false,
		},
		{
			name: "Same IP, different user agent",
			setupReq: func(req *http.Request) {
				req.RemoteAddr = "192.168.1.2:12345"
				req.Header.Set("User-Agent", "Chrome/91.0")
			},
			expectSame: false,
		},
		{
			name: "Forwarded for header wins over remote address",
			setupReq: func(req *http.Request) {
				req.RemoteAddr = "10.0.0.1:80"
				req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
				req.Header.Set("User-Agent", "Chrome/91.0")
			},
			expectSame: false,
		},
		{
			name: "Version suffix of user agent is ignored",
			setupReq: func(req *http.Request) {
				req.RemoteAddr = "10.0.0.2:80"
				req.Header.Set("X-Forwarded-For", "203.0.113.7")
				req.Header.Set("User-Agent", "Chrome/91.0 extra")
			},
			expectSame: true,
		},
	}

	var previousID string

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			tc.setupReq(req)

			clientID := getClientIdentifier(req)

			if i > 0 {
				if tc.expectSame && clientID != previousID {
					t.Errorf("Expected same client ID, got different: %s vs %s", previousID, clientID)
				}
				if !tc.expectSame && clientID == previousID {
					t.Errorf("Expected different client ID, got same: %s", clientID)
				}
			}

			previousID = clientID

			if len(clientID) != 16 {
				t.Errorf("Expected client ID length 16, got %d", len(clientID))
			}
		})
	}
}

// TestRateLimiterCleanup tests the rate limiter cleanup functionality
func TestRateLimiterCleanup(t *testing.T) {
	limiter := NewRateLimiter(rate.Limit(10), 5)

	limiter.Allow("client1")
	limiter.Allow("client2")
	limiter.Allow("client3")

	if limiter.Len() != 3 {
		t.Errorf("Expected 3 clients, got %d", limiter.Len())
	}

	// Age two clients past the idle limit
	limiter.mutex.Lock()
	limiter.clients["client1"].lastSeen = time.Now().Add(-10 * time.Minute)
	limiter.clients["client2"].lastSeen = time.Now().Add(-10 * time.Minute)
	limiter.mutex.Unlock()

	if removed := limiter.Cleanup(5 * time.Minute); removed != 2 {
		t.Errorf("Expected 2 clients removed, got %d", removed)
	}

	if limiter.Len() != 1 {
		t.Errorf("Expected 1 client after cleanup, got %d", limiter.Len())
	}
}

// TestMonitoringMiddlewareCapturesStatus tests that the wrapped handler's status reaches the client
func TestMonitoringMiddlewareCapturesStatus(t *testing.T) {
	handler := MonitoringMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("POST", "/rss", nil))

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}
