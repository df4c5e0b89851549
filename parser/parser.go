/*
Package parser turns fetched feed documents into normalized feeds.

Feed URLs are dispatched through a table of strategies. Each strategy pairs a
URL matcher with an extractor; the first match wins and the generic
RSS/Atom/JSON strategy accepts everything else.
*/
package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/Nexora-Open-Source/rss-feed-poller/types"
	"github.com/sirupsen/logrus"
)

// Strategy parses the documents of one family of feed URLs
type Strategy struct {
	Name    string
	Matches func(feedURL string) bool
	Extract func(feedURL, content string) (*types.NormalizedFeed, error)
}

// DefaultStrategies returns the built-in strategy table, most specific first
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "telegram", Matches: IsTelegramChannelURL, Extract: ExtractTelegramChannel},
		{Name: "feed", Matches: func(string) bool { return true }, Extract: ExtractFeed},
	}
}

// Parser normalizes fetched feed content
type Parser struct {
	strategies []Strategy
	logger     *logrus.Logger
	now        func() time.Time
}

// Option configures a Parser
type Option func(*Parser)

// WithStrategies replaces the strategy table
func WithStrategies(strategies []Strategy) Option {
	return func(p *Parser) {
		p.strategies = strategies
	}
}

// WithClock sets the time source used for items without any date
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		p.now = now
	}
}

// NewParser creates a parser with the default strategies
func NewParser(logger *logrus.Logger, opts ...Option) *Parser {
	p := &Parser{
		strategies: DefaultStrategies(),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse returns the normalized feed, or nil when the content cannot be parsed
func (p *Parser) Parse(feedURL, content string) (feed *types.NormalizedFeed) {
	strategy, ok := p.strategyFor(feedURL)
	if !ok {
		p.logger.WithField("feed_url", feedURL).Error("No parser strategy matches feed URL")
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"feed_url": feedURL,
				"strategy": strategy.Name,
				"error":    fmt.Sprintf("%v", r),
			}).Error("Panic while parsing feed")
			monitoring.RecordFeedParse(strategy.Name, "panic", -1)
			feed = nil
		}
	}()

	parsed, err := strategy.Extract(feedURL, content)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"feed_url": feedURL,
			"strategy": strategy.Name,
			"error":    err.Error(),
		}).Error("Failed to parse feed")
		monitoring.RecordFeedParse(strategy.Name, "error", -1)
		return nil
	}

	p.finalize(feedURL, parsed)

	p.logger.WithFields(logrus.Fields{
		"feed_url":    feedURL,
		"strategy":    strategy.Name,
		"items_count": len(parsed.Items),
	}).Debug("Parsed feed")
	monitoring.RecordFeedParse(strategy.Name, "success", len(parsed.Items))

	return parsed
}

func (p *Parser) strategyFor(feedURL string) (Strategy, bool) {
	for _, s := range p.strategies {
		if s.Matches(feedURL) {
			return s, true
		}
	}
	return Strategy{}, false
}

// finalize applies the invariants every strategy output must satisfy.
// Item links and thumbnails are resolved against the feed URL.
func (p *Parser) finalize(feedURL string, feed *types.NormalizedFeed) {
	if feed.UpdateFrequency < 1 {
		feed.UpdateFrequency = 1
	}

	now := p.now()
	items := feed.Items[:0]
	for _, item := range feed.Items {
		for i := range item.Links {
			if href := strings.TrimSpace(item.Links[i].Href); href != "" {
				item.Links[i].Href = resolveURL(feedURL, href)
			}
		}
		if item.Thumbnail != "" {
			item.Thumbnail = resolveURL(feedURL, item.Thumbnail)
		}
		if GetLink(item.Links) == "" {
			continue
		}
		if item.PublishedAt.IsZero() {
			item.PublishedAt = now
		}
		items = append(items, item)
	}
	feed.Items = items
}
