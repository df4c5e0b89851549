package cache

import (
	"context"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/sirupsen/logrus"
)

// Manager wraps a Store with logging and store metrics. It implements Store.
type Manager struct {
	store   Store
	logger  *logrus.Logger
	backend string
}

// NewManager creates a new instrumented store
func NewManager(store Store, backend string, logger *logrus.Logger) *Manager {
	return &Manager{
		store:   store,
		logger:  logger,
		backend: backend,
	}
}

// Backend returns the name of the underlying store
func (m *Manager) Backend() string {
	return m.backend
}

func (m *Manager) observe(operation, key string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.logger.WithFields(logrus.Fields{
			"backend":   m.backend,
			"operation": operation,
			"key":       key,
			"error":     err.Error(),
		}).Error("Store operation failed")
	}
	monitoring.RecordStoreOperation(operation, status, time.Since(start).Seconds())
}

// Get retrieves a counter
func (m *Manager) Get(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	count, err := m.store.Get(ctx, key)
	m.observe("get", key, start, err)
	return count, err
}

// Incr increments a counter
func (m *Manager) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	start := time.Now()
	count, err := m.store.Incr(ctx, key, ttl)
	m.observe("incr", key, start, err)

	if err == nil {
		m.logger.WithFields(logrus.Fields{
			"key":         key,
			"count":       count,
			"ttl_minutes": ttl.Minutes(),
		}).Debug("Incremented counter")
	}
	return count, err
}

// Set stores a marker
func (m *Manager) Set(ctx context.Context, key string, ttl time.Duration) error {
	start := time.Now()
	err := m.store.Set(ctx, key, ttl)
	m.observe("set", key, start, err)
	return err
}

// Exists checks for a marker
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	found, err := m.store.Exists(ctx, key)
	m.observe("exists", key, start, err)
	return found, err
}

// Ping checks the store
func (m *Manager) Ping(ctx context.Context) error {
	start := time.Now()
	err := m.store.Ping(ctx)
	m.observe("ping", "", start, err)
	return err
}

// Close closes the store
func (m *Manager) Close() error {
	err := m.store.Close()
	if err != nil {
		m.logger.WithError(err).WithField("backend", m.backend).Error("Failed to close store")
		return err
	}

	m.logger.WithField("backend", m.backend).Info("Store closed")
	return nil
}
