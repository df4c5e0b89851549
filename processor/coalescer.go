package processor

import (
	"context"

	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/Nexora-Open-Source/rss-feed-poller/tasks"
	"github.com/Nexora-Open-Source/rss-feed-poller/types"
	"github.com/sirupsen/logrus"
)

// Coalescer gathers the recipients of every item URL referenced during one
// poll cycle so each URL is fetched once. It belongs to a single poll and is
// not safe for concurrent use.
type Coalescer struct {
	feedURL string
	tasks   map[string]*types.FetchContentTask
	order   []string
	logger  *logrus.Logger
}

// FlushResult counts the tasks issued by a flush
type FlushResult struct {
	Enqueued int
	Failed   int
}

// NewCoalescer creates an empty coalescer for one poll of feedURL
func NewCoalescer(feedURL string, logger *logrus.Logger) *Coalescer {
	return &Coalescer{
		feedURL: feedURL,
		tasks:   make(map[string]*types.FetchContentTask),
		logger:  logger,
	}
}

// Add registers userID as a recipient of url. The first reference to a URL
// creates its task; later references add the user or overwrite that user's
// folder.
func (c *Coalescer) Add(userID string, folder types.Folder, url string, item types.FeedItem) {
	if task, ok := c.tasks[url]; ok {
		task.AddUser(userID, folder)
		return
	}

	c.tasks[url] = types.NewFetchContentTask(url, item, userID, folder)
	c.order = append(c.order, url)
}

// Len returns the number of distinct URLs gathered
func (c *Coalescer) Len() int {
	return len(c.order)
}

// Tasks returns the gathered tasks in first-reference order
func (c *Coalescer) Tasks() []*types.FetchContentTask {
	out := make([]*types.FetchContentTask, 0, len(c.order))
	for _, url := range c.order {
		out = append(out, c.tasks[url])
	}
	return out
}

// Flush issues one fetch-content job per URL carrying every recipient, then
// empties the coalescer. A failed URL is logged and dropped.
func (c *Coalescer) Flush(ctx context.Context, queue tasks.Queue) FlushResult {
	var result FlushResult

	for _, task := range c.Tasks() {
		recipients := task.Recipients()
		job := tasks.FetchContentJob{
			URL:         task.URL,
			RSSFeedURL:  c.feedURL,
			Users:       recipients,
			SavedAt:     task.Item.PublishedAt,
			PublishedAt: task.Item.PublishedAt,
			Source:      tasks.SourceRSS,
			Priority:    tasks.PriorityLow,
		}

		if err := queue.EnqueueFetchContent(ctx, job); err != nil {
			result.Failed++
			c.logger.WithFields(logrus.Fields{
				"feed_url":   c.feedURL,
				"url":        task.URL,
				"recipients": len(recipients),
				"error":      err.Error(),
			}).Error("Failed to create fetch content task")
			continue
		}

		result.Enqueued++
		monitoring.RecordTaskRecipients(len(recipients))
	}

	c.tasks = make(map[string]*types.FetchContentTask)
	c.order = nil

	return result
}
