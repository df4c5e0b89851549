package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/Nexora-Open-Source/rss-feed-poller/utils"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrNoEndpoint is returned when a job kind has no configured endpoint
var ErrNoEndpoint = errors.New("task endpoint not configured")

// HTTPQueueConfig configures URL-addressed task delivery
type HTTPQueueConfig struct {
	FetchContentURL string
	PreviewSaveURL  string
	Token           string
	Timeout         time.Duration
}

// HTTPQueue posts jobs as JSON to task endpoints
type HTTPQueue struct {
	cfg     HTTPQueueConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *logrus.Logger
}

// NewHTTPQueue creates an HTTP task queue guarded by a circuit breaker
func NewHTTPQueue(cfg HTTPQueueConfig, breaker BreakerFactory, logger *logrus.Logger) *HTTPQueue {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if breaker == nil {
		breaker = DefaultBreaker(logger)
	}
	return &HTTPQueue{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker("task-queue"),
		logger:  logger,
	}
}

// BreakerFactory builds the circuit breaker for a named dependency
type BreakerFactory func(name string) *gobreaker.CircuitBreaker[struct{}]

// DefaultBreaker returns a factory using the default breaker settings
func DefaultBreaker(logger *logrus.Logger) BreakerFactory {
	return func(name string) *gobreaker.CircuitBreaker[struct{}] {
		return utils.NewCircuitBreaker[struct{}](utils.DefaultBreakerSettings(name), logger)
	}
}

// EnqueueFetchContent posts a fetch-content job
func (q *HTTPQueue) EnqueueFetchContent(ctx context.Context, job FetchContentJob) error {
	return q.post(ctx, KindFetchContent, q.cfg.FetchContentURL, job)
}

// EnqueuePreviewSave posts a preview save job
func (q *HTTPQueue) EnqueuePreviewSave(ctx context.Context, job PreviewSaveJob) error {
	return q.post(ctx, KindPreviewSave, q.cfg.PreviewSaveURL, job)
}

func (q *HTTPQueue) post(ctx context.Context, kind, endpoint string, payload interface{}) error {
	if endpoint == "" {
		monitoring.RecordTask(kind, "error")
		return fmt.Errorf("%s: %w", kind, ErrNoEndpoint)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		monitoring.RecordTask(kind, "error")
		return fmt.Errorf("encode %s job: %w", kind, err)
	}

	_, err = q.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, q.send(ctx, endpoint, body)
	})
	if err != nil {
		status := "error"
		if utils.IsBreakerRejection(err) {
			status = "rejected"
		}
		monitoring.RecordTask(kind, status)
		return fmt.Errorf("enqueue %s job: %w", kind, err)
	}

	monitoring.RecordTask(kind, "success")
	q.logger.WithFields(logrus.Fields{
		"kind":     kind,
		"endpoint": endpoint,
	}).Debug("Enqueued task")
	return nil
}

func (q *HTTPQueue) send(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+q.cfg.Token)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("task endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections
func (q *HTTPQueue) Close() error {
	q.client.CloseIdleConnections()
	return nil
}
