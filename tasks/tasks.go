// Package tasks enqueues downstream work created by the poll pipeline: full
// content fetches fanned out to every recipient, and lightweight saves built
// from feed preview content.
package tasks

import (
	"context"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/types"
)

// Job kinds, used in metrics and message metadata
const (
	KindFetchContent = "fetch_content"
	KindPreviewSave  = "preview_save"
)

const (
	SourceRSS    = "rss"
	PriorityLow  = "low"
	PriorityHigh = "high"
)

// FetchContentJob asks the content service to fetch one URL once and save it
// for every listed user
type FetchContentJob struct {
	URL         string            `json:"url"`
	RSSFeedURL  string            `json:"rssFeedUrl"`
	Users       []types.Recipient `json:"users"`
	SavedAt     time.Time         `json:"savedAt"`
	PublishedAt time.Time         `json:"publishedAt"`
	Source      string            `json:"source"`
	Priority    string            `json:"priority"`
}

// PreviewSaveJob saves an item for one user from feed-supplied content
type PreviewSaveJob struct {
	UserID      string       `json:"userId"`
	URL         string       `json:"url"`
	RSSFeedURL  string       `json:"rssFeedUrl"`
	Folder      types.Folder `json:"folder"`
	Title       string       `json:"title"`
	Author      string       `json:"author,omitempty"`
	Description string       `json:"description,omitempty"`
	Thumbnail   string       `json:"thumbnail,omitempty"`
	SavedAt     time.Time    `json:"savedAt"`
	PublishedAt time.Time    `json:"publishedAt"`
	Source      string       `json:"source"`
}

// NewPreviewSaveJob builds a preview save from a feed item
func NewPreviewSaveJob(feedURL, userID, url string, folder types.Folder, item types.FeedItem) PreviewSaveJob {
	return PreviewSaveJob{
		UserID:      userID,
		URL:         url,
		RSSFeedURL:  feedURL,
		Folder:      folder,
		Title:       item.Title,
		Author:      item.Creator,
		Description: item.Summary,
		Thumbnail:   item.Thumbnail,
		SavedAt:     item.PublishedAt,
		PublishedAt: item.PublishedAt,
		Source:      SourceRSS,
	}
}

// Queue delivers jobs to the downstream services. Delivery is at-least-once;
// retries belong to the queue, not to the caller.
type Queue interface {
	EnqueueFetchContent(ctx context.Context, job FetchContentJob) error
	EnqueuePreviewSave(ctx context.Context, job PreviewSaveJob) error
	Close() error
}
