/*
Package container provides dependency injection capabilities for the RSS feed poller.

This package implements a simple dependency injection container that helps manage
service dependencies and reduces tight coupling between components.
*/
package container

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Nexora-Open-Source/rss-feed-poller/cache"
	"github.com/Nexora-Open-Source/rss-feed-poller/handlers"
	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/Nexora-Open-Source/rss-feed-poller/processor"
	"github.com/Nexora-Open-Source/rss-feed-poller/services"
	"github.com/Nexora-Open-Source/rss-feed-poller/tasks"
	"github.com/sirupsen/logrus"
)

const (
	ServiceLogger       = "logger"
	ServiceStore        = "store"
	ServiceQueue        = "queue"
	ServicePipeline     = "pipeline"
	ServiceAlertManager = "alert_manager"
	ServiceHandler      = "handler"
	ServiceMaintenance  = "maintenance"
)

// Dependencies are the core services registered by InitializeServices
type Dependencies struct {
	Logger       *logrus.Logger
	Store        cache.Store
	Queue        tasks.Queue
	Pipeline     *processor.Pipeline
	AlertManager *monitoring.AlertManager
	Handler      *handlers.Handler
	// Maintenance holds periodic store upkeep, keyed by service name
	Maintenance map[string]services.Task
}

// Container holds all service dependencies
type Container struct {
	mu         sync.RWMutex
	services   map[string]interface{}
	factories  map[string]func() (interface{}, error)
	singletons map[string]interface{}
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	return &Container{
		services:   make(map[string]interface{}),
		factories:  make(map[string]func() (interface{}, error)),
		singletons: make(map[string]interface{}),
	}
}

// Register registers a service instance
func (c *Container) Register(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = service
}

// RegisterFactory registers a factory function for lazy service creation
func (c *Container) RegisterFactory(name string, factory func() (interface{}, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = factory
}

// RegisterSingleton registers a singleton service
func (c *Container) RegisterSingleton(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.singletons[name] = service
}

// Get retrieves a service by name
func (c *Container) Get(name string) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.get(name)
}

func (c *Container) get(name string) (interface{}, error) {
	if service, exists := c.services[name]; exists {
		return service, nil
	}

	if singleton, exists := c.singletons[name]; exists {
		return singleton, nil
	}

	if factory, exists := c.factories[name]; exists {
		service, err := factory()
		if err != nil {
			return nil, fmt.Errorf("failed to create service %s: %w", name, err)
		}
		return service, nil
	}

	return nil, fmt.Errorf("service %s not found", name)
}

func resolve[T any](c *Container, name string) (T, error) {
	var zero T
	service, err := c.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("%s service is not of expected type", name)
	}
	return typed, nil
}

// GetLogger retrieves the logger service
func (c *Container) GetLogger() (*logrus.Logger, error) {
	return resolve[*logrus.Logger](c, ServiceLogger)
}

// GetStore retrieves the key-value store
func (c *Container) GetStore() (cache.Store, error) {
	return resolve[cache.Store](c, ServiceStore)
}

// GetQueue retrieves the downstream task queue
func (c *Container) GetQueue() (tasks.Queue, error) {
	return resolve[tasks.Queue](c, ServiceQueue)
}

// GetPipeline retrieves the poll pipeline
func (c *Container) GetPipeline() (*processor.Pipeline, error) {
	return resolve[*processor.Pipeline](c, ServicePipeline)
}

// GetAlertManager retrieves the alert manager
func (c *Container) GetAlertManager() (*monitoring.AlertManager, error) {
	return resolve[*monitoring.AlertManager](c, ServiceAlertManager)
}

// GetHandler retrieves the handler service
func (c *Container) GetHandler() (*handlers.Handler, error) {
	return resolve[*handlers.Handler](c, ServiceHandler)
}

// GetMaintenance retrieves the periodic store upkeep tasks
func (c *Container) GetMaintenance() (map[string]services.Task, error) {
	return resolve[map[string]services.Task](c, ServiceMaintenance)
}

// InitializeServices registers the core services
func (c *Container) InitializeServices(deps Dependencies) error {
	if deps.Logger == nil {
		return errors.New("logger is required")
	}
	if deps.Store == nil || deps.Queue == nil || deps.Pipeline == nil || deps.Handler == nil {
		return errors.New("store, queue, pipeline and handler are required")
	}

	c.RegisterSingleton(ServiceLogger, deps.Logger)
	c.RegisterSingleton(ServiceStore, deps.Store)
	c.RegisterSingleton(ServiceQueue, deps.Queue)
	c.RegisterSingleton(ServicePipeline, deps.Pipeline)
	c.RegisterSingleton(ServiceHandler, deps.Handler)

	alertManager := deps.AlertManager
	c.RegisterFactory(ServiceAlertManager, func() (interface{}, error) {
		if alertManager == nil {
			return nil, errors.New("alert manager not configured")
		}
		return alertManager, nil
	})

	maintenance := deps.Maintenance
	if maintenance == nil {
		maintenance = map[string]services.Task{}
	}
	c.RegisterSingleton(ServiceMaintenance, maintenance)

	return nil
}

// Close flushes the task queue and closes the store
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	if service, err := c.get(ServiceQueue); err == nil {
		if queue, ok := service.(tasks.Queue); ok && queue != nil {
			if err := queue.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close task queue: %w", err))
			}
		}
	}

	if service, err := c.get(ServiceStore); err == nil {
		if store, ok := service.(cache.Store); ok && store != nil {
			if err := store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close store: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}
