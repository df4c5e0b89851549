package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Nexora-Open-Source/rss-feed-poller/middleware"
	"github.com/Nexora-Open-Source/rss-feed-poller/processor"
	"github.com/Nexora-Open-Source/rss-feed-poller/types"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testToken = "secret-token"

// MockPoller is a mock for the poll pipeline
type MockPoller struct {
	mock.Mock
}

// Poll mocks the Poll method
func (m *MockPoller) Poll(ctx context.Context, req *types.FeedPollRequest) (*processor.PollSummary, error) {
	args := m.Called(ctx, req)
	summary, _ := args.Get(0).(*processor.PollSummary)
	return summary, args.Error(1)
}

// MockStore is a mock for the key-value store health check
type MockStore struct {
	mock.Mock
}

// Ping mocks the Ping method
func (m *MockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func setupTestRouter(t *testing.T) (*mux.Router, *MockPoller, *MockStore) {
	t.Helper()

	poller := &MockPoller{}
	store := &MockStore{}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	middleware.Logger = logger

	router := mux.NewRouter()
	NewHandler(poller, store, "memory", testToken, logger).RegisterRoutes(router)
	return router, poller, store
}

const validBody = `{
	"feedUrl": "https://example.com/feed.xml",
	"subscriptionIds": ["s1", "s2"],
	"userIds": ["u1", "u2"],
	"lastFetchedTimestamps": [0, 1715337600000],
	"scheduledTimestamps": [1715337600000, 1715337600000],
	"lastFetchedChecksums": ["", "abc"],
	"fetchContents": [false, true],
	"folders": ["following", "inbox"]
}`

func postPoll(router http.Handler, token, body string) *httptest.ResponseRecorder {
	target := "/rss"
	if token != "" {
		target += "?token=" + token
	}
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.APIError {
	t.Helper()
	var apiErr middleware.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	return apiErr
}

func TestHandlePoll_Success(t *testing.T) {
	router, poller, _ := setupTestRouter(t)

	poller.On("Poll", mock.Anything, mock.MatchedBy(func(req *types.FeedPollRequest) bool {
		subs := req.Subscriptions()
		return req.FeedURL == "https://example.com/feed.xml" &&
			len(subs) == 2 &&
			subs[0].NeverFetched() &&
			subs[1].LastFetchedChecksum == "abc" &&
			subs[1].FetchContent &&
			subs[0].Folder == types.FolderFollowing
	})).Return(&processor.PollSummary{FeedURL: "https://example.com/feed.xml"}, nil)

	w := postPoll(router, testToken, validBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	poller.AssertExpectations(t)
}

func TestHandlePoll_BlockedFeedIsOK(t *testing.T) {
	router, poller, _ := setupTestRouter(t)
	poller.On("Poll", mock.Anything, mock.Anything).Return(&processor.PollSummary{Blocked: true}, nil)

	w := postPoll(router, testToken, validBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestHandlePoll_InvalidToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "missing token", token: ""},
		{name: "wrong token", token: "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, poller, _ := setupTestRouter(t)

			w := postPoll(router, tt.token, validBody)

			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.Equal(t, middleware.ErrCodeForbidden, decodeError(t, w).Error)
			poller.AssertNotCalled(t, "Poll", mock.Anything, mock.Anything)
		})
	}
}

func TestHandlePoll_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
		code middleware.ErrorCode
	}{
		{name: "empty body", body: "", code: middleware.ErrCodeBadRequest},
		{name: "malformed json", body: `{"feedUrl":`, code: middleware.ErrCodeBadRequest},
		{name: "missing feed url", body: strings.Replace(validBody, `"feedUrl": "https://example.com/feed.xml",`, "", 1), code: middleware.ErrCodeValidation},
		{name: "relative feed url", body: strings.Replace(validBody, "https://example.com/feed.xml", "/feed.xml", 1), code: middleware.ErrCodeValidation},
		{name: "length mismatch", body: strings.Replace(validBody, `"userIds": ["u1", "u2"]`, `"userIds": ["u1"]`, 1), code: middleware.ErrCodeValidation},
		{name: "unknown folder", body: strings.Replace(validBody, `["following", "inbox"]`, `["following", "archive"]`, 1), code: middleware.ErrCodeValidation},
		{name: "no subscriptions", body: `{"feedUrl":"https://example.com/feed.xml","subscriptionIds":[],"userIds":[],"lastFetchedTimestamps":[],"scheduledTimestamps":[],"lastFetchedChecksums":[],"fetchContents":[],"folders":[]}`, code: middleware.ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, poller, _ := setupTestRouter(t)

			w := postPoll(router, testToken, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Error)
			poller.AssertNotCalled(t, "Poll", mock.Anything, mock.Anything)
		})
	}
}

func TestHandlePoll_PipelineErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code middleware.ErrorCode
	}{
		{name: "fetch failure", err: processor.ErrFeedFetch, code: middleware.ErrCodeFetchFailed},
		{name: "parse failure", err: processor.ErrFeedParse, code: middleware.ErrCodeInvalidFeed},
		{name: "unexpected failure", err: errors.New("boom"), code: middleware.ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, poller, _ := setupTestRouter(t)
			poller.On("Poll", mock.Anything, mock.Anything).Return(&processor.PollSummary{}, tt.err)

			w := postPoll(router, testToken, validBody)

			assert.Equal(t, http.StatusInternalServerError, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Error)
		})
	}
}

func TestHandlePoll_PanicIsInternalError(t *testing.T) {
	router, poller, _ := setupTestRouter(t)
	poller.On("Poll", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		panic("unexpected nil")
	}).Return(nil, nil)

	w := postPoll(router, testToken, validBody)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, middleware.ErrCodeInternalError, decodeError(t, w).Error)
}

func TestHandlePoll_MethodNotAllowed(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/rss?token="+testToken, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRegisterRoutes_AppliesMiddlewareToPollOnly(t *testing.T) {
	poller := &MockPoller{}
	store := &MockStore{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	middleware.Logger = logger

	var order []string
	tag := func(name string) Middleware {
		return func(next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next(w, r)
			}
		}
	}

	router := mux.NewRouter()
	NewHandler(poller, store, "memory", testToken, logger).RegisterRoutes(router, tag("outer"), tag("inner"))

	poller.On("Poll", mock.Anything, mock.Anything).Return(&processor.PollSummary{}, nil)
	postPoll(router, testToken, validBody)
	assert.Equal(t, []string{"outer", "inner"}, order)

	order = nil
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)
	assert.Empty(t, order)
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		pingErr    error
		wantStatus int
		wantBody   string
	}{
		{name: "liveness", path: "/health/live", wantStatus: http.StatusOK, wantBody: `"alive"`},
		{name: "health ok", path: "/health", wantStatus: http.StatusOK, wantBody: `"healthy"`},
		{name: "health reports failure rate", path: "/health", wantStatus: http.StatusOK, wantBody: `"feed_failure_rate"`},
		{name: "health degraded", path: "/health", pingErr: errors.New("store down"), wantStatus: http.StatusOK, wantBody: `"unhealthy"`},
		{name: "ready", path: "/health/ready", wantStatus: http.StatusOK, wantBody: `"ready"`},
		{name: "not ready", path: "/health/ready", pingErr: errors.New("store down"), wantStatus: http.StatusServiceUnavailable, wantBody: string(middleware.ErrCodeServiceUnavailable)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _, store := setupTestRouter(t)
			store.On("Ping", mock.Anything).Return(tt.pingErr)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}
