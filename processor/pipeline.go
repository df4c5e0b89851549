package processor

import (
	"context"
	"errors"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/fetcher"
	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/Nexora-Open-Source/rss-feed-poller/tasks"
	"github.com/Nexora-Open-Source/rss-feed-poller/types"
	"github.com/sirupsen/logrus"
)

var (
	// ErrFeedFetch means the feed could not be downloaded this cycle
	ErrFeedFetch = errors.New("failed to fetch feed")
	// ErrFeedParse means the downloaded feed could not be parsed
	ErrFeedParse = errors.New("failed to parse feed")
)

// FeedFetcher downloads a feed; nil means the fetch failed
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) *fetcher.Result
}

// FeedParser normalizes feed content; nil means the content is unparseable
type FeedParser interface {
	Parse(feedURL, content string) *types.NormalizedFeed
}

// FailureGate blocks persistently failing feeds
type FailureGate interface {
	IsBlocked(ctx context.Context, feedURL string) bool
	RecordFailure(ctx context.Context, feedURL string) (int64, error)
}

// PollSummary describes one poll cycle
type PollSummary struct {
	FeedURL       string
	Blocked       bool
	Checksum      string
	ItemsInFeed   int
	Subscriptions []Result
	TasksEnqueued int
	TasksFailed   int
	Duration      time.Duration
}

// Pipeline runs one feed poll: gate, fetch, parse, process every
// subscription in request order, then flush coalesced tasks
type Pipeline struct {
	gate      FailureGate
	fetcher   FeedFetcher
	parser    FeedParser
	processor *Processor
	queue     tasks.Queue
	logger    *logrus.Logger
}

// NewPipeline wires the poll stages together
func NewPipeline(gate FailureGate, fetcher FeedFetcher, parser FeedParser, processor *Processor, queue tasks.Queue, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		gate:      gate,
		fetcher:   fetcher,
		parser:    parser,
		processor: processor,
		queue:     queue,
		logger:    logger,
	}
}

// Poll processes one validated poll request. Only fetch and parse failures
// are returned as errors; a blocked feed is a normal, empty summary.
func (p *Pipeline) Poll(ctx context.Context, req *types.FeedPollRequest) (*PollSummary, error) {
	start := time.Now()
	summary := &PollSummary{FeedURL: req.FeedURL}

	ctx, span := monitoring.CreateSpan(ctx, "rss.poll")
	defer span.End()
	monitoring.SetSpanAttributes(span, map[string]interface{}{
		"feed_url":      req.FeedURL,
		"subscriptions": len(req.SubscriptionIDs),
	})

	log := p.logger.WithField("feed_url", req.FeedURL)

	if p.gate.IsBlocked(ctx, req.FeedURL) {
		summary.Blocked = true
		summary.Duration = time.Since(start)
		monitoring.RecordBlockedPoll()
		monitoring.RecordPoll("blocked", summary.Duration.Seconds())
		monitoring.AddSpanEvent(span, "blocked", nil)
		log.Info("Skipping blocked feed")
		return summary, nil
	}

	fetchCtx, fetchSpan := monitoring.CreateSpan(ctx, "rss.fetch")
	fetched := p.fetcher.Fetch(fetchCtx, req.FeedURL)
	fetchSpan.End()
	if fetched == nil {
		p.recordFailure(ctx, req.FeedURL)
		monitoring.SetSpanError(span, ErrFeedFetch)
		monitoring.RecordPoll("fetch_failed", time.Since(start).Seconds())
		return summary, ErrFeedFetch
	}
	summary.Checksum = fetched.Checksum

	_, parseSpan := monitoring.CreateSpan(ctx, "rss.parse")
	feed := p.parser.Parse(req.FeedURL, fetched.Content)
	parseSpan.End()
	if feed == nil {
		p.recordFailure(ctx, req.FeedURL)
		monitoring.SetSpanError(span, ErrFeedParse)
		monitoring.RecordPoll("parse_failed", time.Since(start).Seconds())
		return summary, ErrFeedParse
	}
	summary.ItemsInFeed = len(feed.Items)

	coalescer := NewCoalescer(req.FeedURL, p.logger)

	for _, sub := range req.Subscriptions() {
		subCtx, subSpan := monitoring.CreateSpan(ctx, "rss.subscription")
		result := p.processor.ProcessSubscription(subCtx, req.FeedURL, sub, fetched.Checksum, feed, coalescer)
		monitoring.SetSpanAttributes(subSpan, map[string]interface{}{
			"subscription_id": sub.ID,
			"outcome":         string(result.Outcome),
			"items_processed": result.ItemsProcessed,
		})
		subSpan.End()

		monitoring.RecordSubscription(string(result.Outcome))
		summary.Subscriptions = append(summary.Subscriptions, result)
	}

	flushCtx, flushSpan := monitoring.CreateSpan(ctx, "rss.flush")
	flushed := coalescer.Flush(flushCtx, p.queue)
	flushSpan.End()
	summary.TasksEnqueued = flushed.Enqueued
	summary.TasksFailed = flushed.Failed

	summary.Duration = time.Since(start)
	monitoring.RecordPoll("completed", summary.Duration.Seconds())

	log.WithFields(logrus.Fields{
		"subscriptions":  len(summary.Subscriptions),
		"items_in_feed":  summary.ItemsInFeed,
		"tasks_enqueued": summary.TasksEnqueued,
		"tasks_failed":   summary.TasksFailed,
		"duration_ms":    summary.Duration.Milliseconds(),
	}).Info("Feed poll completed")

	return summary, nil
}

func (p *Pipeline) recordFailure(ctx context.Context, feedURL string) {
	if _, err := p.gate.RecordFailure(ctx, feedURL); err != nil {
		p.logger.WithFields(logrus.Fields{
			"feed_url": feedURL,
			"error":    err.Error(),
		}).Error("Failed to record feed failure")
	}
}
