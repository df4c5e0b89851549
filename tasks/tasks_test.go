package tasks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/types"
	"github.com/Nexora-Open-Source/rss-feed-poller/utils"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func sampleFetchJob() FetchContentJob {
	published := time.Date(2024, 4, 30, 9, 0, 0, 0, time.UTC)
	return FetchContentJob{
		URL:        "https://example.com/a",
		RSSFeedURL: "https://example.com/feed",
		Users: []types.Recipient{
			{UserID: "u1", Folder: types.FolderInbox},
			{UserID: "u2", Folder: types.FolderFollowing},
		},
		SavedAt:     published,
		PublishedAt: published,
		Source:      SourceRSS,
		Priority:    PriorityLow,
	}
}

func TestHTTPQueue_EnqueueFetchContent(t *testing.T) {
	var (
		gotAuth string
		gotBody map[string]interface{}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	q := NewHTTPQueue(HTTPQueueConfig{FetchContentURL: server.URL, Token: "secret"}, nil, quietLogger())
	defer q.Close()

	require.NoError(t, q.EnqueueFetchContent(context.Background(), sampleFetchJob()))

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "https://example.com/a", gotBody["url"])
	assert.Equal(t, "https://example.com/feed", gotBody["rssFeedUrl"])
	assert.Equal(t, "rss", gotBody["source"])
	assert.Equal(t, "low", gotBody["priority"])
	assert.Equal(t, "2024-04-30T09:00:00Z", gotBody["savedAt"])
	assert.Equal(t, gotBody["savedAt"], gotBody["publishedAt"])

	users, ok := gotBody["users"].([]interface{})
	require.True(t, ok)
	require.Len(t, users, 2)
	assert.Equal(t, map[string]interface{}{"id": "u1", "folder": "inbox"}, users[0])
}

func TestHTTPQueue_EnqueuePreviewSave(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	q := NewHTTPQueue(HTTPQueueConfig{PreviewSaveURL: server.URL + "/save-preview"}, nil, quietLogger())

	item := types.FeedItem{Title: "t", Creator: "c", Summary: "s", PublishedAt: time.Now()}
	job := NewPreviewSaveJob("https://example.com/feed", "u1", "https://example.com/a", types.FolderFollowing, item)

	require.NoError(t, q.EnqueuePreviewSave(context.Background(), job))
	assert.Equal(t, "/save-preview", gotPath)
	assert.Equal(t, "c", job.Author)
	assert.Equal(t, "s", job.Description)
	assert.Equal(t, item.PublishedAt, job.SavedAt)
}

func TestHTTPQueue_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	q := NewHTTPQueue(HTTPQueueConfig{FetchContentURL: server.URL}, nil, quietLogger())

	err := q.EnqueueFetchContent(context.Background(), sampleFetchJob())
	assert.Error(t, err)

	err = q.EnqueuePreviewSave(context.Background(), PreviewSaveJob{})
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestHTTPQueue_OpenBreakerRejects(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := func(name string) *gobreaker.CircuitBreaker[struct{}] {
		s := utils.DefaultBreakerSettings(name)
		s.MinRequests = 1
		s.FailureRatio = 1
		s.Timeout = time.Hour
		return utils.NewCircuitBreaker[struct{}](s, quietLogger())
	}
	q := NewHTTPQueue(HTTPQueueConfig{FetchContentURL: server.URL}, breaker, quietLogger())

	require.Error(t, q.EnqueueFetchContent(context.Background(), sampleFetchJob()))
	err := q.EnqueueFetchContent(context.Background(), sampleFetchJob())
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, 1, calls)
}

func TestWatermillQueue_PublishesToTopics(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 10}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fetchMsgs, err := pubSub.Subscribe(ctx, "rss.fetch-content")
	require.NoError(t, err)
	previewMsgs, err := pubSub.Subscribe(ctx, "rss.save-preview")
	require.NoError(t, err)

	q := NewWatermillQueue(WatermillQueueConfig{
		FetchContentTopic: "rss.fetch-content",
		PreviewSaveTopic:  "rss.save-preview",
	}, pubSub, nil, quietLogger())

	require.NoError(t, q.EnqueueFetchContent(ctx, sampleFetchJob()))
	require.NoError(t, q.EnqueuePreviewSave(ctx, PreviewSaveJob{UserID: "u1", URL: "https://example.com/b"}))

	select {
	case msg := <-fetchMsgs:
		msg.Ack()
		assert.Equal(t, KindFetchContent, msg.Metadata.Get("kind"))
		assert.Equal(t, msg.UUID, msg.Metadata.Get(natsgo.MsgIdHdr))

		var job FetchContentJob
		require.NoError(t, json.Unmarshal(msg.Payload, &job))
		assert.Equal(t, "https://example.com/a", job.URL)
		assert.Len(t, job.Users, 2)
	case <-ctx.Done():
		t.Fatal("fetch-content message not delivered")
	}

	select {
	case msg := <-previewMsgs:
		msg.Ack()
		assert.Equal(t, KindPreviewSave, msg.Metadata.Get("kind"))
		assert.Equal(t, "u1", msg.Metadata.Get("user_id"))
	case <-ctx.Done():
		t.Fatal("preview message not delivered")
	}
}

// recordingPublisher captures published messages or fails on demand
type recordingPublisher struct {
	mu       sync.Mutex
	messages map[string][]*message.Message
	err      error
	closed   bool
}

func (p *recordingPublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.messages == nil {
		p.messages = make(map[string][]*message.Message)
	}
	p.messages[topic] = append(p.messages[topic], msgs...)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestWatermillQueue_UniqueMessageIDs(t *testing.T) {
	pub := &recordingPublisher{}
	q := NewWatermillQueue(WatermillQueueConfig{FetchContentTopic: "fetch"}, pub, nil, quietLogger())

	for i := 0; i < 3; i++ {
		require.NoError(t, q.EnqueueFetchContent(context.Background(), sampleFetchJob()))
	}

	seen := map[string]bool{}
	for _, msg := range pub.messages["fetch"] {
		seen[msg.UUID] = true
	}
	assert.Len(t, seen, 3)
}

func TestWatermillQueue_ErrorsAndClose(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats down")}
	q := NewWatermillQueue(WatermillQueueConfig{FetchContentTopic: "fetch"}, pub, nil, quietLogger())

	assert.Error(t, q.EnqueueFetchContent(context.Background(), sampleFetchJob()))

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.True(t, pub.closed)
	assert.Error(t, q.EnqueuePreviewSave(context.Background(), PreviewSaveJob{}))
}

func TestLogrusAdapter(t *testing.T) {
	logger := quietLogger()
	var adapter watermill.LoggerAdapter = NewLogrusAdapter(logger)

	adapter = adapter.With(watermill.LogFields{"topic": "x"})
	adapter.Info("info", nil)
	adapter.Debug("debug", watermill.LogFields{"k": "v"})
	adapter.Trace("trace", nil)
	adapter.Error("error", errors.New("boom"), nil)
}
