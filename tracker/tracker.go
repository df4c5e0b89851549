// Package tracker guards the poll pipeline against broken feeds and
// duplicate saves using TTL-bound entries in a shared key-value store.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/cache"
	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/sirupsen/logrus"
)

const (
	failureKeyPrefix    = "feed-failure:"
	recentSaveKeyPrefix = "recent-saved-item:"

	DefaultFailureThreshold = 10
	DefaultFailureTTL       = 24 * time.Hour
)

// Alerter receives a notification when a feed becomes blocked
type Alerter interface {
	TriggerManualAlert(alertType monitoring.AlertType, severity monitoring.AlertSeverity, title, description string, labels map[string]string)
}

// FailureTracker counts fetch and parse failures per feed URL. A feed whose
// count exceeds the threshold is blocked until the counter expires. Success
// never decrements the counter.
type FailureTracker struct {
	store     cache.Store
	threshold int64
	ttl       time.Duration
	logger    *logrus.Logger
	alerter   Alerter
}

// NewFailureTracker creates a failure tracker. Non-positive threshold or ttl
// fall back to the defaults. alerter may be nil.
func NewFailureTracker(store cache.Store, threshold int, ttl time.Duration, logger *logrus.Logger, alerter Alerter) *FailureTracker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if ttl <= 0 {
		ttl = DefaultFailureTTL
	}
	return &FailureTracker{
		store:     store,
		threshold: int64(threshold),
		ttl:       ttl,
		logger:    logger,
		alerter:   alerter,
	}
}

func failureKey(feedURL string) string {
	return failureKeyPrefix + feedURL
}

// IsBlocked reports whether the feed's failure count exceeds the threshold.
// A store error leaves the feed unblocked.
func (t *FailureTracker) IsBlocked(ctx context.Context, feedURL string) bool {
	count, err := t.store.Get(ctx, failureKey(feedURL))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"feed_url": feedURL,
			"error":    err.Error(),
		}).Warn("Failed to read feed failure count, treating feed as unblocked")
		return false
	}

	if count > t.threshold {
		t.logger.WithFields(logrus.Fields{
			"feed_url":      feedURL,
			"failure_count": count,
			"threshold":     t.threshold,
		}).Info("Feed is blocked")
		return true
	}
	return false
}

// RecordFailure increments the feed's failure count and resets its TTL
func (t *FailureTracker) RecordFailure(ctx context.Context, feedURL string) (int64, error) {
	count, err := t.store.Incr(ctx, failureKey(feedURL), t.ttl)
	if err != nil {
		return 0, fmt.Errorf("record failure for %s: %w", feedURL, err)
	}
	monitoring.RecordFeedFailure()

	t.logger.WithFields(logrus.Fields{
		"feed_url":      feedURL,
		"failure_count": count,
	}).Warn("Recorded feed failure")

	if count == t.threshold+1 && t.alerter != nil {
		t.alerter.TriggerManualAlert(
			monitoring.AlertTypeFeedBlocked,
			monitoring.SeverityMedium,
			"Feed blocked",
			fmt.Sprintf("Feed %s failed %d times and is skipped until its failure history expires", feedURL, count),
			map[string]string{"feed_url": feedURL},
		)
	}

	return count, nil
}

// Threshold returns the number of failures tolerated before blocking
func (t *FailureTracker) Threshold() int64 {
	return t.threshold
}

// RecentSaveGuard checks markers left by the save pipeline for items a user
// saved recently. It never writes markers itself.
type RecentSaveGuard struct {
	store  cache.Store
	logger *logrus.Logger
}

// NewRecentSaveGuard creates a recent-save guard
func NewRecentSaveGuard(store cache.Store, logger *logrus.Logger) *RecentSaveGuard {
	return &RecentSaveGuard{store: store, logger: logger}
}

// RecentSaveKey is the marker key written by the save pipeline
func RecentSaveKey(userID, url string) string {
	return recentSaveKeyPrefix + userID + ":" + url
}

// WasRecentlySaved reports whether a marker exists for the user and URL
func (g *RecentSaveGuard) WasRecentlySaved(ctx context.Context, userID, url string) (bool, error) {
	found, err := g.store.Exists(ctx, RecentSaveKey(userID, url))
	if err != nil {
		return false, fmt.Errorf("check recent save: %w", err)
	}

	if found {
		g.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"url":     url,
		}).Debug("Item was recently saved")
	}
	return found, nil
}
