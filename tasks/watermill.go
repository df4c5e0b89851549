package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/Nexora-Open-Source/rss-feed-poller/utils"
	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
)

// WatermillQueueConfig names the topics jobs are published to
type WatermillQueueConfig struct {
	FetchContentTopic string
	PreviewSaveTopic  string
}

// WatermillQueue publishes jobs as JSON messages through a watermill publisher
type WatermillQueue struct {
	cfg       WatermillQueueConfig
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[struct{}]
	logger    *logrus.Logger

	mu     sync.RWMutex
	closed bool
}

// NewWatermillQueue wraps a watermill publisher
func NewWatermillQueue(cfg WatermillQueueConfig, publisher message.Publisher, breaker BreakerFactory, logger *logrus.Logger) *WatermillQueue {
	if breaker == nil {
		breaker = DefaultBreaker(logger)
	}
	return &WatermillQueue{
		cfg:       cfg,
		publisher: publisher,
		breaker:   breaker("task-publisher"),
		logger:    logger,
	}
}

// EnqueueFetchContent publishes a fetch-content job
func (q *WatermillQueue) EnqueueFetchContent(ctx context.Context, job FetchContentJob) error {
	return q.publish(ctx, KindFetchContent, q.cfg.FetchContentTopic, job, map[string]string{
		"url":          job.URL,
		"rss_feed_url": job.RSSFeedURL,
	})
}

// EnqueuePreviewSave publishes a preview save job
func (q *WatermillQueue) EnqueuePreviewSave(ctx context.Context, job PreviewSaveJob) error {
	return q.publish(ctx, KindPreviewSave, q.cfg.PreviewSaveTopic, job, map[string]string{
		"url":     job.URL,
		"user_id": job.UserID,
	})
}

func (q *WatermillQueue) publish(ctx context.Context, kind, topic string, payload interface{}, metadata map[string]string) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		monitoring.RecordTask(kind, "error")
		return fmt.Errorf("publish %s job: queue is closed", kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		monitoring.RecordTask(kind, "error")
		return fmt.Errorf("encode %s job: %w", kind, err)
	}

	msg := message.NewMessage(uuid.NewString(), data)
	msg.SetContext(ctx)
	msg.Metadata.Set("kind", kind)
	msg.Metadata.Set("source", SourceRSS)
	for k, v := range metadata {
		msg.Metadata.Set(k, v)
	}
	// JetStream de-duplicates redeliveries of the same message id
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)

	_, err = q.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, q.publisher.Publish(topic, msg)
	})
	if err != nil {
		status := "error"
		if utils.IsBreakerRejection(err) {
			status = "rejected"
		}
		monitoring.RecordTask(kind, status)
		return fmt.Errorf("publish %s job: %w", kind, err)
	}

	monitoring.RecordTask(kind, "success")
	q.logger.WithFields(logrus.Fields{
		"kind":       kind,
		"topic":      topic,
		"message_id": msg.UUID,
	}).Debug("Published task")
	return nil
}

// Close closes the underlying publisher
func (q *WatermillQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	return q.publisher.Close()
}

// NATSConfig configures the JetStream publisher
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	// AutoProvision creates missing streams for published subjects
	AutoProvision bool
}

// NewNATSPublisher connects a watermill publisher to NATS JetStream with
// message-id tracking enabled
func NewNATSPublisher(cfg NATSConfig, logger *logrus.Logger) (message.Publisher, error) {
	wmLogger := NewLogrusAdapter(logger)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				wmLogger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			wmLogger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: cfg.AutoProvision,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	return pub, nil
}

// LogrusAdapter routes watermill logs through logrus
type LogrusAdapter struct {
	entry *logrus.Entry
}

// NewLogrusAdapter creates a watermill logger backed by logger
func NewLogrusAdapter(logger *logrus.Logger) *LogrusAdapter {
	return &LogrusAdapter{entry: logrus.NewEntry(logger).WithField("component", "watermill")}
}

func (a *LogrusAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.entry.WithFields(logrus.Fields(fields)).WithError(err).Error(msg)
}

func (a *LogrusAdapter) Info(msg string, fields watermill.LogFields) {
	a.entry.WithFields(logrus.Fields(fields)).Info(msg)
}

func (a *LogrusAdapter) Debug(msg string, fields watermill.LogFields) {
	a.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (a *LogrusAdapter) Trace(msg string, fields watermill.LogFields) {
	a.entry.WithFields(logrus.Fields(fields)).Trace(msg)
}

func (a *LogrusAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &LogrusAdapter{entry: a.entry.WithFields(logrus.Fields(fields))}
}
