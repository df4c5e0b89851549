package processor

import (
	"context"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/fetcher"
	"github.com/Nexora-Open-Source/rss-feed-poller/tasks"
	"github.com/Nexora-Open-Source/rss-feed-poller/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

// MockSaveGuard is a mock implementation of SaveGuard
type MockSaveGuard struct {
	mock.Mock
}

func (m *MockSaveGuard) WasRecentlySaved(ctx context.Context, userID, url string) (bool, error) {
	args := m.Called(ctx, userID, url)
	return args.Bool(0), args.Error(1)
}

// MockQueue is a mock implementation of tasks.Queue
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) EnqueueFetchContent(ctx context.Context, job tasks.FetchContentJob) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockQueue) EnqueuePreviewSave(ctx context.Context, job tasks.PreviewSaveJob) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockQueue) Close() error {
	return m.Called().Error(0)
}

// MockUpdater is a mock implementation of SubscriptionUpdater
type MockUpdater struct {
	mock.Mock
}

func (m *MockUpdater) UpdateSubscription(ctx context.Context, userID string, update types.SubscriptionUpdate) (bool, error) {
	args := m.Called(ctx, userID, update)
	return args.Bool(0), args.Error(1)
}

// MockGate is a mock implementation of FailureGate
type MockGate struct {
	mock.Mock
}

func (m *MockGate) IsBlocked(ctx context.Context, feedURL string) bool {
	return m.Called(ctx, feedURL).Bool(0)
}

func (m *MockGate) RecordFailure(ctx context.Context, feedURL string) (int64, error) {
	args := m.Called(ctx, feedURL)
	return args.Get(0).(int64), args.Error(1)
}

// MockFetcher is a mock implementation of FeedFetcher
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, feedURL string) *fetcher.Result {
	args := m.Called(ctx, feedURL)
	result, _ := args.Get(0).(*fetcher.Result)
	return result
}

// MockParser is a mock implementation of FeedParser
type MockParser struct {
	mock.Mock
}

func (m *MockParser) Parse(feedURL, content string) *types.NormalizedFeed {
	args := m.Called(feedURL, content)
	feed, _ := args.Get(0).(*types.NormalizedFeed)
	return feed
}

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

const testFeedURL = "https://example.com/feed.xml"

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func item(url string, published time.Time) types.FeedItem {
	return types.FeedItem{
		Title:       "Title " + url,
		Links:       []types.Link{{Href: url}},
		PublishedAt: published,
		Creator:     "Author",
		Summary:     "Summary",
	}
}

type fixture struct {
	guard     *MockSaveGuard
	queue     *MockQueue
	updater   *MockUpdater
	processor *Processor
	coalescer *Coalescer
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		guard:   &MockSaveGuard{},
		queue:   &MockQueue{},
		updater: &MockUpdater{},
	}
	f.processor = NewProcessor(cfg, f.guard, f.queue, f.updater, quietLogger(), WithClock(func() time.Time { return testNow }))
	f.coalescer = NewCoalescer(testFeedURL, quietLogger())
	return f
}
