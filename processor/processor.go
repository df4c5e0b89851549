/*
Package processor decides, for every subscription of a polled feed, which
items are new, turns them into downstream work and computes when the
subscription should be polled next.
*/
package processor

import (
	"context"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/Nexora-Open-Source/rss-feed-poller/parser"
	"github.com/Nexora-Open-Source/rss-feed-poller/tasks"
	"github.com/Nexora-Open-Source/rss-feed-poller/types"
	"github.com/Nexora-Open-Source/rss-feed-poller/utils"
	"github.com/sirupsen/logrus"
)

// Outcome classifies what processing did to a subscription
type Outcome string

const (
	// OutcomeUnchanged means the feed checksum matched the last fetch
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeStaleBuildDate means the feed declared nothing newer than the last fetch
	OutcomeStaleBuildDate Outcome = "stale_build_date"
	// OutcomeNoNewItems means no item qualified; the schedule is left untouched
	OutcomeNoNewItems Outcome = "no_new_items"
	// OutcomeUpdated means items were processed and the backend accepted the new schedule
	OutcomeUpdated Outcome = "updated"
	// OutcomeUpdateRejected means items were processed but the schedule update failed
	OutcomeUpdateRejected Outcome = "update_rejected"
)

const (
	DefaultMaxItems = 100
	DefaultStaleAge = 24 * time.Hour

	maxLoggedTitle = 80
)

// SaveGuard reports items a user saved recently through another path
type SaveGuard interface {
	WasRecentlySaved(ctx context.Context, userID, url string) (bool, error)
}

// SubscriptionUpdater persists a subscription's schedule state
type SubscriptionUpdater interface {
	UpdateSubscription(ctx context.Context, userID string, update types.SubscriptionUpdate) (bool, error)
}

// Config tunes item selection
type Config struct {
	MaxItems int
	StaleAge time.Duration
}

// Result describes the processing of one subscription
type Result struct {
	SubscriptionID string
	Outcome        Outcome
	ItemsProcessed int
	ItemsFailed    int
	// Update is the schedule state sent to the backend, nil when none was sent
	Update *types.SubscriptionUpdate
}

// Processor processes subscriptions against an already fetched and parsed feed
type Processor struct {
	guard    SaveGuard
	queue    tasks.Queue
	updater  SubscriptionUpdater
	logger   *logrus.Logger
	maxItems int
	staleAge time.Duration
	now      func() time.Time
}

// Option configures a Processor
type Option func(*Processor)

// WithClock sets the time source for staleness checks
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// NewProcessor creates a subscription processor
func NewProcessor(cfg Config, guard SaveGuard, queue tasks.Queue, updater SubscriptionUpdater, logger *logrus.Logger, opts ...Option) *Processor {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.StaleAge <= 0 {
		cfg.StaleAge = DefaultStaleAge
	}

	p := &Processor{
		guard:    guard,
		queue:    queue,
		updater:  updater,
		logger:   logger,
		maxItems: cfg.MaxItems,
		staleAge: cfg.StaleAge,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsOldItem reports whether an item published at publishedAt is already
// known to a subscription last fetched at lastFetchedAt, or is older than
// staleAge. A zero lastFetchedAt means never fetched.
func IsOldItem(publishedAt, lastFetchedAt, now time.Time, staleAge time.Duration) bool {
	if !lastFetchedAt.IsZero() && !publishedAt.After(lastFetchedAt) {
		return true
	}
	return publishedAt.Before(now.Add(-staleAge))
}

// NextScheduledAt advances the previous schedule by the feed's declared
// update interval
func NextScheduledAt(previous time.Time, updatePeriod string, updateFrequency int) time.Time {
	if updateFrequency < 1 {
		updateFrequency = 1
	}
	hours := parser.UpdatePeriodHours(updatePeriod) * updateFrequency
	return previous.Add(time.Duration(hours) * time.Hour)
}

// ProcessSubscription walks the feed for one subscription. New items become
// preview saves or coalesced fetch-content tasks; the schedule is reported
// to the backend only when at least one item was handled.
func (p *Processor) ProcessSubscription(ctx context.Context, feedURL string, sub types.Subscription, checksum string, feed *types.NormalizedFeed, coalescer *Coalescer) Result {
	log := p.logger.WithFields(logrus.Fields{
		"feed_url":        feedURL,
		"subscription_id": sub.ID,
		"user_id":         sub.UserID,
	})
	result := Result{SubscriptionID: sub.ID}

	if checksum == sub.LastFetchedChecksum {
		log.Debug("Feed content unchanged since last fetch")
		result.Outcome = OutcomeUnchanged
		return result
	}

	if feed.LastBuildDate != nil && !feed.LastBuildDate.After(sub.LastFetchedAt) {
		log.WithField("last_build_date", feed.LastBuildDate.Format(time.RFC3339)).Debug("Feed build date not newer than last fetch")
		result.Outcome = OutcomeStaleBuildDate
		return result
	}

	now := p.now()
	var (
		lastFetchedAt time.Time
		lastValidItem *types.FeedItem
		lastValidLink string
		seen          = make(map[string]struct{})
	)

	items := feed.Items
	if len(items) > p.maxItems {
		items = items[:p.maxItems]
	}

	for i := range items {
		item := items[i]

		link := parser.GetLink(item.Links)
		if link == "" {
			monitoring.RecordItem("no_link")
			continue
		}
		if _, dup := seen[link]; dup {
			monitoring.RecordItem("duplicate")
			continue
		}
		seen[link] = struct{}{}

		if lastValidItem == nil || item.PublishedAt.After(lastValidItem.PublishedAt) {
			lastValidItem = &items[i]
			lastValidLink = link
		}

		if IsOldItem(item.PublishedAt, sub.LastFetchedAt, now, p.staleAge) {
			monitoring.RecordItem("old")
			continue
		}

		if err := p.handleItem(ctx, feedURL, sub, link, item, coalescer); err != nil {
			result.ItemsFailed++
			log.WithFields(logrus.Fields{
				"url":   link,
				"title": utils.TruncateString(item.Title, maxLoggedTitle),
				"error": err.Error(),
			}).Warn("Failed to create task for feed item")
			continue
		}

		result.ItemsProcessed++
		if item.PublishedAt.After(lastFetchedAt) {
			lastFetchedAt = item.PublishedAt
		}
	}

	if lastFetchedAt.IsZero() && sub.NeverFetched() && lastValidItem != nil {
		log.WithField("url", lastValidLink).Info("No new items for first fetch, using most recent item")

		if err := p.handleItem(ctx, feedURL, sub, lastValidLink, *lastValidItem, coalescer); err != nil {
			result.ItemsFailed++
			log.WithFields(logrus.Fields{
				"url":   lastValidLink,
				"title": utils.TruncateString(lastValidItem.Title, maxLoggedTitle),
				"error": err.Error(),
			}).Warn("Failed to create task for most recent item")
		} else {
			result.ItemsProcessed++
			lastFetchedAt = lastValidItem.PublishedAt
		}
	}

	if lastFetchedAt.IsZero() {
		log.Debug("No new items for subscription")
		result.Outcome = OutcomeNoNewItems
		return result
	}

	previous := sub.ScheduledAt
	if previous.IsZero() {
		previous = now
	}
	update := types.SubscriptionUpdate{
		ID:                  sub.ID,
		LastFetchedAt:       lastFetchedAt,
		LastFetchedChecksum: checksum,
		ScheduledAt:         NextScheduledAt(previous, feed.UpdatePeriod, feed.UpdateFrequency),
	}
	result.Update = &update

	ok, err := p.updater.UpdateSubscription(ctx, sub.UserID, update)
	if err != nil || !ok {
		fields := logrus.Fields{"items_processed": result.ItemsProcessed}
		if err != nil {
			fields["error"] = err.Error()
		}
		log.WithFields(fields).Error("Failed to update subscription")
		result.Outcome = OutcomeUpdateRejected
		return result
	}

	log.WithFields(logrus.Fields{
		"items_processed":   result.ItemsProcessed,
		"last_fetched_at":   update.LastFetchedAt.Format(time.RFC3339),
		"next_scheduled_at": update.ScheduledAt.Format(time.RFC3339),
	}).Info("Updated subscription")
	result.Outcome = OutcomeUpdated
	return result
}

// handleItem turns one new item into work for the subscription's user
func (p *Processor) handleItem(ctx context.Context, feedURL string, sub types.Subscription, link string, item types.FeedItem, coalescer *Coalescer) error {
	saved, err := p.guard.WasRecentlySaved(ctx, sub.UserID, link)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"user_id": sub.UserID,
			"url":     link,
			"error":   err.Error(),
		}).Warn("Recent save check failed, creating task anyway")
	}
	if saved {
		monitoring.RecordItem("recently_saved")
		return nil
	}

	if sub.Folder == types.FolderFollowing && !sub.FetchContent {
		job := tasks.NewPreviewSaveJob(feedURL, sub.UserID, link, sub.Folder, item)
		if err := p.queue.EnqueuePreviewSave(ctx, job); err != nil {
			monitoring.RecordItem("failed")
			return err
		}
		monitoring.RecordItem("preview")
		return nil
	}

	coalescer.Add(sub.UserID, sub.Folder, link, item)
	monitoring.RecordItem("fetch_content")
	return nil
}
