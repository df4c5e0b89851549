/*
Package config provides configuration management for the RSS feed poller.

Configuration is read from the environment, validated, and then used to
build every service the poll pipeline depends on. The built services are
registered in the dependency injection container.
*/
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/Nexora-Open-Source/rss-feed-poller/backend"
	"github.com/Nexora-Open-Source/rss-feed-poller/cache"
	"github.com/Nexora-Open-Source/rss-feed-poller/container"
	"github.com/Nexora-Open-Source/rss-feed-poller/fetcher"
	"github.com/Nexora-Open-Source/rss-feed-poller/handlers"
	"github.com/Nexora-Open-Source/rss-feed-poller/middleware"
	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/Nexora-Open-Source/rss-feed-poller/parser"
	"github.com/Nexora-Open-Source/rss-feed-poller/processor"
	"github.com/Nexora-Open-Source/rss-feed-poller/services"
	"github.com/Nexora-Open-Source/rss-feed-poller/tasks"
	"github.com/Nexora-Open-Source/rss-feed-poller/tracker"
	"github.com/Nexora-Open-Source/rss-feed-poller/utils"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	StoreMemory    = "memory"
	StoreBadger    = "badger"
	StoreDatastore = "datastore"

	QueueHTTP = "http"
	QueueNATS = "nats"
)

// Config holds all application configuration
type Config struct {
	LogLevel   string
	ServerPort string
	// VerificationToken authenticates the inbound poll trigger
	VerificationToken string
	ShutdownTimeout   time.Duration

	Backend    BackendConfig
	Fetch      FetchConfig
	Processing ProcessingConfig
	Store      StoreConfig
	Queue      QueueConfig
	Monitoring MonitoringConfig

	// Rate limiting configuration
	RateLimitRequestsPerMinute float64
	RateLimitBurst             int
	ClientCleanupInterval      time.Duration
}

// BackendConfig configures subscription updates sent to the GraphQL backend
type BackendConfig struct {
	Endpoint  string
	JWTSecret string
	JWTTTL    time.Duration
	Timeout   time.Duration
}

// FetchConfig bounds feed downloads
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBytes     int64
}

// ProcessingConfig tunes failure blocking and item selection
type ProcessingConfig struct {
	FeedFailureThreshold int
	FeedFailureTTL       time.Duration
	MaxItems             int
	StaleItemAge         time.Duration
}

// StoreConfig selects the key-value store holding failure counters and save markers
type StoreConfig struct {
	Backend            string
	BadgerDir          string
	ProjectID          string
	DatastoreNamespace string
	CleanupInterval    time.Duration
}

// QueueConfig selects where downstream tasks are sent
type QueueConfig struct {
	Backend string
	// HTTP delivery
	ContentFetchURL string
	PreviewSaveURL  string
	ServiceToken    string
	Timeout         time.Duration
	// NATS JetStream delivery
	NATSURL           string
	FetchContentTopic string
	PreviewSaveTopic  string
	AutoProvision     bool
}

// MonitoringConfig holds tracing and alerting settings
type MonitoringConfig struct {
	ServiceName          string
	TraceSampleRatio     float64
	AlertInterval        time.Duration
	FailureRateThreshold float64
}

// Services holds all service dependencies
type Services struct {
	Container *container.Container
	Logger    *logrus.Logger
}

// AppConfig holds both configuration and services
type AppConfig struct {
	Config   *Config
	Services *Services
}

// NewConfig creates a new configuration instance
func NewConfig() *Config {
	fetchDefaults := fetcher.DefaultConfig()

	return &Config{
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		VerificationToken: getEnv("VERIFICATION_TOKEN", ""),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		Backend: BackendConfig{
			Endpoint:  getEnv("REST_BACKEND_ENDPOINT", ""),
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTTTL:    getEnvDuration("JWT_TTL", time.Hour),
			Timeout:   getEnvDuration("BACKEND_TIMEOUT", 30*time.Second),
		},
		Fetch: FetchConfig{
			Timeout:      getEnvDuration("FETCH_TIMEOUT", fetchDefaults.Timeout),
			MaxRedirects: getEnvInt("FETCH_MAX_REDIRECTS", fetchDefaults.MaxRedirects),
			MaxBytes:     int64(getEnvInt("FETCH_MAX_BYTES", int(fetchDefaults.MaxBytes))),
		},
		Processing: ProcessingConfig{
			FeedFailureThreshold: getEnvInt("FEED_FAILURE_THRESHOLD", tracker.DefaultFailureThreshold),
			FeedFailureTTL:       getEnvDuration("FEED_FAILURE_TTL", tracker.DefaultFailureTTL),
			MaxItems:             getEnvInt("MAX_ITEMS_PER_SUBSCRIPTION", processor.DefaultMaxItems),
			StaleItemAge:         getEnvDuration("STALE_ITEM_AGE", processor.DefaultStaleAge),
		},
		Store: StoreConfig{
			Backend:            strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
			BadgerDir:          getEnv("BADGER_DIR", "./data/badger"),
			ProjectID:          getEnv("PROJECT_ID", ""),
			DatastoreNamespace: getEnv("DATASTORE_NAMESPACE", ""),
			CleanupInterval:    getEnvDuration("STORE_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Queue: QueueConfig{
			Backend:           strings.ToLower(getEnv("TASK_QUEUE_BACKEND", QueueHTTP)),
			ContentFetchURL:   getEnv("CONTENT_FETCH_URL", ""),
			PreviewSaveURL:    getEnv("PREVIEW_SAVE_URL", ""),
			ServiceToken:      getEnv("TASK_SERVICE_TOKEN", ""),
			Timeout:           getEnvDuration("TASK_TIMEOUT", 30*time.Second),
			NATSURL:           getEnv("NATS_URL", "nats://127.0.0.1:4222"),
			FetchContentTopic: getEnv("FETCH_CONTENT_TOPIC", "rss.fetch-content"),
			PreviewSaveTopic:  getEnv("PREVIEW_SAVE_TOPIC", "rss.save-preview"),
			AutoProvision:     getEnvBool("NATS_AUTO_PROVISION", true),
		},
		Monitoring: MonitoringConfig{
			ServiceName:          getEnv("SERVICE_NAME", "rss-feed-poller"),
			TraceSampleRatio:     getEnvFloat("TRACE_SAMPLE_RATIO", 0.1),
			AlertInterval:        getEnvDuration("ALERT_EVALUATION_INTERVAL", time.Minute),
			FailureRateThreshold: getEnvFloat("ALERT_FAILURE_RATE", 0.5),
		},
		RateLimitRequestsPerMinute: getEnvFloat("RATE_LIMIT_RPM", 600),
		RateLimitBurst:             getEnvInt("RATE_LIMIT_BURST", 50),
		ClientCleanupInterval:      getEnvDuration("CLIENT_CLEANUP_INTERVAL", time.Minute),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var missing []string
	if c.VerificationToken == "" {
		missing = append(missing, "VERIFICATION_TOKEN")
	}
	if c.Backend.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Backend.Endpoint == "" {
		missing = append(missing, "REST_BACKEND_ENDPOINT")
	}
	if c.Store.Backend == StoreDatastore && c.Store.ProjectID == "" {
		missing = append(missing, "PROJECT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	switch c.Store.Backend {
	case StoreMemory, StoreBadger, StoreDatastore:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Store.Backend)
	}

	switch c.Queue.Backend {
	case QueueHTTP:
		if c.Queue.ContentFetchURL == "" && c.Queue.PreviewSaveURL == "" {
			return fmt.Errorf("CONTENT_FETCH_URL or PREVIEW_SAVE_URL is required for the http task queue")
		}
	case QueueNATS:
		if c.Queue.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required for the nats task queue")
		}
	default:
		return fmt.Errorf("unsupported TASK_QUEUE_BACKEND %q", c.Queue.Backend)
	}

	if c.Processing.FeedFailureThreshold < 1 {
		return fmt.Errorf("FEED_FAILURE_THRESHOLD must be positive")
	}
	if c.RateLimitRequestsPerMinute <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	return nil
}

// NewServices creates and initializes all service dependencies using DI container
func NewServices(config *Config) (*Services, error) {
	logger := middleware.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	store, maintenance, err := newStore(config.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", config.Store.Backend, err)
	}
	storeManager := cache.NewManager(store, config.Store.Backend, logger)
	logger.WithField("backend", config.Store.Backend).Info("Key-value store initialized successfully")

	alertManager := monitoring.NewAlertManager(logger, config.Monitoring.AlertInterval, config.Monitoring.FailureRateThreshold)

	breakers := func(name string) utils.BreakerSettings {
		settings := utils.DefaultBreakerSettings(name)
		settings.OnOpen = func(name string) {
			alertManager.TriggerManualAlert(
				monitoring.AlertTypeCircuitOpen,
				monitoring.SeverityHigh,
				"Circuit breaker open",
				fmt.Sprintf("Circuit breaker %s opened after repeated failures", name),
				map[string]string{"breaker": name},
			)
		}
		return settings
	}

	queue, err := newQueue(config.Queue, breakers, logger)
	if err != nil {
		_ = storeManager.Close()
		return nil, fmt.Errorf("failed to initialize %s task queue: %w", config.Queue.Backend, err)
	}
	logger.WithField("backend", config.Queue.Backend).Info("Task queue initialized successfully")

	signer := backend.NewTokenSigner(config.Backend.JWTSecret, config.Backend.JWTTTL)
	backendClient := backend.NewClient(config.Backend.Endpoint, signer, config.Backend.Timeout, breakers("backend"), logger)

	failureTracker := tracker.NewFailureTracker(storeManager, config.Processing.FeedFailureThreshold, config.Processing.FeedFailureTTL, logger, alertManager)
	saveGuard := tracker.NewRecentSaveGuard(storeManager, logger)

	feedFetcher := fetcher.NewFetcher(fetcher.Config{
		Timeout:      config.Fetch.Timeout,
		MaxRedirects: config.Fetch.MaxRedirects,
		MaxBytes:     config.Fetch.MaxBytes,
	}, logger)
	feedParser := parser.NewParser(logger)

	subscriptionProcessor := processor.NewProcessor(processor.Config{
		MaxItems: config.Processing.MaxItems,
		StaleAge: config.Processing.StaleItemAge,
	}, saveGuard, queue, backendClient, logger)
	pipeline := processor.NewPipeline(failureTracker, feedFetcher, feedParser, subscriptionProcessor, queue, logger)

	diContainer := container.NewContainer()
	if err := diContainer.InitializeServices(container.Dependencies{
		Logger:       logger,
		Store:        storeManager,
		Queue:        queue,
		Pipeline:     pipeline,
		AlertManager: alertManager,
		Handler:      handlers.NewHandler(pipeline, storeManager, config.Store.Backend, config.VerificationToken, logger),
		Maintenance:  maintenance,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize dependency container: %w", err)
	}

	return &Services{
		Container: diContainer,
		Logger:    logger,
	}, nil
}

// newStore opens the configured store along with its periodic upkeep tasks
func newStore(cfg StoreConfig, logger *logrus.Logger) (cache.Store, map[string]services.Task, error) {
	switch cfg.Backend {
	case StoreBadger:
		store, err := cache.OpenBadgerStore(cfg.BadgerDir, cache.WithBadgerPrefix("rss:"))
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("dir", cfg.BadgerDir).Info("Badger store opened")
		return store, map[string]services.Task{
			"badger-value-log-gc": func(ctx context.Context) error {
				return store.RunValueLogGC(0.5)
			},
		}, nil
	case StoreDatastore:
		client, err := datastore.NewClient(context.Background(), cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Datastore client: %w", err)
		}
		logger.WithField("project_id", cfg.ProjectID).Info("Datastore client initialized successfully")
		store := cache.NewDatastoreStore(client, "", cfg.DatastoreNamespace)
		return store, map[string]services.Task{
			"datastore-purge-expired": func(ctx context.Context) error {
				purged, err := store.PurgeExpired(ctx)
				if purged > 0 {
					logger.WithField("purged", purged).Info("Purged expired store entries")
				}
				return err
			},
		}, nil
	default:
		return cache.NewInMemoryCache(cfg.CleanupInterval), nil, nil
	}
}

func newQueue(cfg QueueConfig, breakers func(string) utils.BreakerSettings, logger *logrus.Logger) (tasks.Queue, error) {
	factory := func(name string) *gobreaker.CircuitBreaker[struct{}] {
		return utils.NewCircuitBreaker[struct{}](breakers(name), logger)
	}

	switch cfg.Backend {
	case QueueNATS:
		publisher, err := tasks.NewNATSPublisher(tasks.NATSConfig{
			URL:           cfg.NATSURL,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			AutoProvision: cfg.AutoProvision,
		}, logger)
		if err != nil {
			return nil, err
		}
		return tasks.NewWatermillQueue(tasks.WatermillQueueConfig{
			FetchContentTopic: cfg.FetchContentTopic,
			PreviewSaveTopic:  cfg.PreviewSaveTopic,
		}, publisher, factory, logger), nil
	default:
		return tasks.NewHTTPQueue(tasks.HTTPQueueConfig{
			FetchContentURL: cfg.ContentFetchURL,
			PreviewSaveURL:  cfg.PreviewSaveURL,
			Token:           cfg.ServiceToken,
			Timeout:         cfg.Timeout,
		}, factory, logger), nil
	}
}

// NewAppConfig creates a new application configuration with all dependencies
func NewAppConfig() (*AppConfig, error) {
	config := NewConfig()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	services, err := NewServices(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &AppConfig{
		Config:   config,
		Services: services,
	}, nil
}

// Close gracefully closes all service connections
func (s *Services) Close() error {
	if s.Container != nil {
		return s.Container.Close()
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvFloat gets an environment variable as float64 with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as time.Duration with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as bool with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
