// Package types contains shared types used across the RSS feed poller
package types

import (
	"time"
)

// Folder is the library folder a subscription delivers new items into
type Folder string

const (
	// FolderFollowing delivers items from feed-supplied preview content
	FolderFollowing Folder = "following"
	// FolderInbox delivers items after a full content fetch
	FolderInbox Folder = "inbox"
)

// FeedPollRequest is one scheduling trigger: a feed URL plus parallel arrays
// where index i of every array describes the same subscription.
type FeedPollRequest struct {
	FeedURL               string   `json:"feedUrl" validate:"required,http_url"`
	SubscriptionIDs       []string `json:"subscriptionIds" validate:"required,min=1,dive,required"`
	UserIDs               []string `json:"userIds" validate:"required,eqfield=SubscriptionIDs,dive,required"`
	LastFetchedTimestamps []int64  `json:"lastFetchedTimestamps" validate:"required,eqfield=SubscriptionIDs"`
	ScheduledTimestamps   []int64  `json:"scheduledTimestamps" validate:"required,eqfield=SubscriptionIDs"`
	LastFetchedChecksums  []string `json:"lastFetchedChecksums" validate:"required,eqfield=SubscriptionIDs"`
	FetchContents         []bool   `json:"fetchContents" validate:"required,eqfield=SubscriptionIDs"`
	Folders               []Folder `json:"folders" validate:"required,eqfield=SubscriptionIDs,dive,oneof=following inbox"`
}

// Subscriptions assembles the parallel arrays into one record per subscription.
// The request must have been validated first.
func (r *FeedPollRequest) Subscriptions() []Subscription {
	subs := make([]Subscription, 0, len(r.SubscriptionIDs))
	for i, id := range r.SubscriptionIDs {
		subs = append(subs, Subscription{
			ID:                  id,
			UserID:              r.UserIDs[i],
			LastFetchedAt:       FromMillis(r.LastFetchedTimestamps[i]),
			ScheduledAt:         FromMillis(r.ScheduledTimestamps[i]),
			LastFetchedChecksum: r.LastFetchedChecksums[i],
			FetchContent:        r.FetchContents[i],
			Folder:              r.Folders[i],
		})
	}
	return subs
}

// Subscription is a single (user, feed) pairing with its own schedule state
type Subscription struct {
	ID     string
	UserID string
	// LastFetchedAt is zero when the subscription was never fetched
	LastFetchedAt       time.Time
	ScheduledAt         time.Time
	LastFetchedChecksum string
	FetchContent        bool
	Folder              Folder
}

// NeverFetched reports whether the subscription has no fetch history
func (s Subscription) NeverFetched() bool {
	return s.LastFetchedAt.IsZero()
}

// Link is one candidate link of a feed item
type Link struct {
	Href string
	Rel  string
}

// FeedItem is one normalized entry of a feed
type FeedItem struct {
	Title       string
	Links       []Link
	PublishedAt time.Time
	Thumbnail   string
	Creator     string
	Summary     string
}

// NormalizedFeed is the parser output consumed by the subscription processor
type NormalizedFeed struct {
	Title         string
	LastBuildDate *time.Time
	// UpdatePeriod is the canonical syndication period ("hourly", "daily", ...)
	UpdatePeriod string
	// UpdateFrequency is the syndication multiplier, always >= 1
	UpdateFrequency int
	Items           []FeedItem
}

// Recipient is one user that should receive a coalesced item
type Recipient struct {
	UserID string `json:"id"`
	Folder Folder `json:"folder"`
}

// FetchContentTask holds every recipient of one item URL within a poll cycle
type FetchContentTask struct {
	URL   string
	Item  FeedItem
	users map[string]Folder
	order []string
}

// NewFetchContentTask creates a task with a single recipient
func NewFetchContentTask(url string, item FeedItem, userID string, folder Folder) *FetchContentTask {
	task := &FetchContentTask{
		URL:   url,
		Item:  item,
		users: make(map[string]Folder),
	}
	task.AddUser(userID, folder)
	return task
}

// AddUser adds a recipient; a user already present has its folder overwritten
func (t *FetchContentTask) AddUser(userID string, folder Folder) {
	if _, exists := t.users[userID]; !exists {
		t.order = append(t.order, userID)
	}
	t.users[userID] = folder
}

// Recipients returns recipients in first-seen order
func (t *FetchContentTask) Recipients() []Recipient {
	recipients := make([]Recipient, 0, len(t.order))
	for _, userID := range t.order {
		recipients = append(recipients, Recipient{UserID: userID, Folder: t.users[userID]})
	}
	return recipients
}

// SubscriptionUpdate is the schedule state reported back to the backend
type SubscriptionUpdate struct {
	ID                  string
	LastFetchedAt       time.Time
	LastFetchedChecksum string
	ScheduledAt         time.Time
}

// FromMillis converts epoch milliseconds to time; zero or negative means unset
func FromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
