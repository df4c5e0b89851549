package processor

import (
	"context"
	"testing"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/fetcher"
	"github.com/Nexora-Open-Source/rss-feed-poller/tasks"
	"github.com/Nexora-Open-Source/rss-feed-poller/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type pipelineFixture struct {
	*fixture
	gate     *MockGate
	fetcher  *MockFetcher
	parser   *MockParser
	pipeline *Pipeline
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		fixture: newFixture(Config{}),
		gate:    &MockGate{},
		fetcher: &MockFetcher{},
		parser:  &MockParser{},
	}
	f.pipeline = NewPipeline(f.gate, f.fetcher, f.parser, f.processor, f.queue, quietLogger())
	return f
}

func pollRequest() *types.FeedPollRequest {
	scheduled := testNow.UnixMilli()
	return &types.FeedPollRequest{
		FeedURL:               testFeedURL,
		SubscriptionIDs:       []string{"s1", "s2"},
		UserIDs:               []string{"user-1", "user-2"},
		LastFetchedTimestamps: []int64{0, 0},
		ScheduledTimestamps:   []int64{scheduled, scheduled},
		LastFetchedChecksums:  []string{"", ""},
		FetchContents:         []bool{false, true},
		Folders:               []types.Folder{types.FolderInbox, types.FolderFollowing},
	}
}

func TestPipeline_BlockedFeedIsSkipped(t *testing.T) {
	f := newPipelineFixture()
	f.gate.On("IsBlocked", mock.Anything, testFeedURL).Return(true)

	summary, err := f.pipeline.Poll(context.Background(), pollRequest())

	require.NoError(t, err)
	assert.True(t, summary.Blocked)
	f.fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	f.gate.AssertNotCalled(t, "RecordFailure", mock.Anything, mock.Anything)
}

func TestPipeline_FetchFailure(t *testing.T) {
	f := newPipelineFixture()
	f.gate.On("IsBlocked", mock.Anything, testFeedURL).Return(false)
	f.gate.On("RecordFailure", mock.Anything, testFeedURL).Return(int64(1), nil)
	f.fetcher.On("Fetch", mock.Anything, testFeedURL).Return(nil)

	_, err := f.pipeline.Poll(context.Background(), pollRequest())

	assert.ErrorIs(t, err, ErrFeedFetch)
	f.gate.AssertCalled(t, "RecordFailure", mock.Anything, testFeedURL)
	f.parser.AssertNotCalled(t, "Parse", mock.Anything, mock.Anything)
}

func TestPipeline_ParseFailure(t *testing.T) {
	f := newPipelineFixture()
	f.gate.On("IsBlocked", mock.Anything, testFeedURL).Return(false)
	f.gate.On("RecordFailure", mock.Anything, testFeedURL).Return(int64(3), nil)
	f.fetcher.On("Fetch", mock.Anything, testFeedURL).Return(&fetcher.Result{URL: testFeedURL, Content: "<html>", Checksum: "c"})
	f.parser.On("Parse", testFeedURL, "<html>").Return(nil)

	_, err := f.pipeline.Poll(context.Background(), pollRequest())

	assert.ErrorIs(t, err, ErrFeedParse)
	f.gate.AssertCalled(t, "RecordFailure", mock.Anything, testFeedURL)
	f.updater.AssertNotCalled(t, "UpdateSubscription", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_ProcessesSubscriptionsAndFlushes(t *testing.T) {
	f := newPipelineFixture()
	published := testNow.Add(-time.Hour)
	feed := &types.NormalizedFeed{
		Title:           "Example",
		UpdatePeriod:    "hourly",
		UpdateFrequency: 1,
		Items: []types.FeedItem{
			item("https://example.com/a", published),
			item("https://example.com/b", published.Add(-time.Minute)),
		},
	}

	f.gate.On("IsBlocked", mock.Anything, testFeedURL).Return(false)
	f.fetcher.On("Fetch", mock.Anything, testFeedURL).Return(&fetcher.Result{URL: testFeedURL, Content: "<rss/>", Checksum: "new"})
	f.parser.On("Parse", testFeedURL, "<rss/>").Return(feed)
	f.guard.On("WasRecentlySaved", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	f.updater.On("UpdateSubscription", mock.Anything, mock.Anything, mock.MatchedBy(func(u types.SubscriptionUpdate) bool {
		return u.LastFetchedChecksum == "new" && u.LastFetchedAt.Equal(published) && u.ScheduledAt.Equal(testNow.Add(time.Hour))
	})).Return(true, nil)
	f.queue.On("EnqueueFetchContent", mock.Anything, mock.MatchedBy(func(job tasks.FetchContentJob) bool {
		return len(job.Users) == 2
	})).Return(nil)

	summary, err := f.pipeline.Poll(context.Background(), pollRequest())

	require.NoError(t, err)
	assert.False(t, summary.Blocked)
	assert.Equal(t, "new", summary.Checksum)
	assert.Equal(t, 2, summary.ItemsInFeed)
	require.Len(t, summary.Subscriptions, 2)
	assert.Equal(t, "s1", summary.Subscriptions[0].SubscriptionID)
	assert.Equal(t, "s2", summary.Subscriptions[1].SubscriptionID)
	for _, result := range summary.Subscriptions {
		assert.Equal(t, OutcomeUpdated, result.Outcome)
	}
	assert.Equal(t, 2, summary.TasksEnqueued)
	assert.Equal(t, 0, summary.TasksFailed)
	f.queue.AssertNumberOfCalls(t, "EnqueueFetchContent", 2)
	f.gate.AssertNotCalled(t, "RecordFailure", mock.Anything, mock.Anything)
}

func TestPipeline_UnchangedFeedCreatesNoWork(t *testing.T) {
	f := newPipelineFixture()
	req := pollRequest()
	req.LastFetchedChecksums = []string{"same", "same"}

	f.gate.On("IsBlocked", mock.Anything, testFeedURL).Return(false)
	f.fetcher.On("Fetch", mock.Anything, testFeedURL).Return(&fetcher.Result{URL: testFeedURL, Content: "<rss/>", Checksum: "same"})
	f.parser.On("Parse", testFeedURL, "<rss/>").Return(&types.NormalizedFeed{UpdateFrequency: 1})

	summary, err := f.pipeline.Poll(context.Background(), req)

	require.NoError(t, err)
	for _, result := range summary.Subscriptions {
		assert.Equal(t, OutcomeUnchanged, result.Outcome)
	}
	assert.Equal(t, 0, summary.TasksEnqueued)
	f.queue.AssertNotCalled(t, "EnqueueFetchContent", mock.Anything, mock.Anything)
}
