/*
Package fetcher downloads feed documents and fingerprints their content.

A fetch never returns an error to the caller. Any network failure, non-2xx
status or oversized body is logged and reported as a nil result so the poll
pipeline can count it toward the feed's failure history.
*/
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/sirupsen/logrus"
)

const (
	// UserAgent mimics a desktop browser; several publishers reject bot agents
	UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	// Accept prioritizes feed formats over generic XML and HTML
	Accept = "application/rss+xml, application/rdf+xml;q=0.8, application/atom+xml;q=0.6, application/xml;q=0.4, text/xml;q=0.4, text/html;q=0.2"
)

// Result is a successfully fetched feed document
type Result struct {
	URL      string
	Content  string
	Checksum string
}

// Config tunes the fetcher
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBytes     int64
}

// DefaultConfig returns the production fetch limits
func DefaultConfig() Config {
	return Config{
		Timeout:      60 * time.Second,
		MaxRedirects: 10,
		MaxBytes:     20 << 20,
	}
}

// Fetcher performs feed downloads
type Fetcher struct {
	client   *http.Client
	logger   *logrus.Logger
	maxBytes int64
}

// NewFetcher creates a fetcher with a bounded timeout and redirect chain
func NewFetcher(cfg Config, logger *logrus.Logger) *Fetcher {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	maxRedirects := cfg.MaxRedirects
	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		logger:   logger,
		maxBytes: cfg.MaxBytes,
	}
}

// Fetch downloads feedURL and returns its content with a SHA-256 checksum.
// It returns nil on any failure.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) *Result {
	start := time.Now()

	body, err := f.get(ctx, feedURL)
	duration := time.Since(start)
	if err != nil {
		f.logger.WithFields(logrus.Fields{
			"feed_url":    feedURL,
			"duration_ms": duration.Milliseconds(),
			"error":       err.Error(),
		}).Error("Failed to fetch feed")
		monitoring.RecordFeedFetch("error", duration.Seconds())
		return nil
	}

	sum := sha256.Sum256(body)
	result := &Result{
		URL:      feedURL,
		Content:  string(body),
		Checksum: hex.EncodeToString(sum[:]),
	}

	f.logger.WithFields(logrus.Fields{
		"feed_url":    feedURL,
		"bytes":       len(body),
		"checksum":    result.Checksum,
		"duration_ms": duration.Milliseconds(),
	}).Debug("Fetched feed")
	monitoring.RecordFeedFetch("success", duration.Seconds())

	return result
}

func (f *Fetcher) get(ctx context.Context, feedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", Accept)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", f.maxBytes)
	}

	return body, nil
}
