package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Nexora-Open-Source/rss-feed-poller/types"
	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/mmcdole/gofeed/rss"
)

// ErrUnknownFeedType is returned when the content is neither RSS, Atom nor JSON Feed
var ErrUnknownFeedType = errors.New("unknown feed type")

// ExtractFeed parses RSS, Atom or JSON Feed content. RSS and Atom go through
// the format specific parsers so link rel attributes and namespaced
// extensions survive.
func ExtractFeed(_ string, content string) (*types.NormalizedFeed, error) {
	switch gofeed.DetectFeedType(strings.NewReader(content)) {
	case gofeed.FeedTypeRSS:
		fp := rss.Parser{}
		feed, err := fp.Parse(strings.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("parse rss: %w", err)
		}
		return normalizeRSS(feed), nil
	case gofeed.FeedTypeAtom:
		fp := atom.Parser{}
		feed, err := fp.Parse(strings.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("parse atom: %w", err)
		}
		return normalizeAtom(feed), nil
	case gofeed.FeedTypeJSON:
		feed, err := gofeed.NewParser().ParseString(content)
		if err != nil {
			return nil, fmt.Errorf("parse json feed: %w", err)
		}
		return normalizeJSON(feed), nil
	default:
		return nil, ErrUnknownFeedType
	}
}

func normalizeRSS(feed *rss.Feed) *types.NormalizedFeed {
	syn := NormalizeSyndication(feed.Extensions)
	out := &types.NormalizedFeed{
		Title:           strings.TrimSpace(feed.Title),
		UpdatePeriod:    syn.UpdatePeriod,
		UpdateFrequency: syn.UpdateFrequency,
		Items:           make([]types.FeedItem, 0, len(feed.Items)),
	}

	if feed.LastBuildDateParsed != nil {
		t := *feed.LastBuildDateParsed
		out.LastBuildDate = &t
	} else if t, ok := ParseDate(feed.LastBuildDate); ok {
		out.LastBuildDate = &t
	}

	for _, item := range feed.Items {
		out.Items = append(out.Items, normalizeRSSItem(item))
	}
	return out
}

func normalizeRSSItem(item *rss.Item) types.FeedItem {
	out := types.FeedItem{
		Title:   strings.TrimSpace(item.Title),
		Summary: strings.TrimSpace(item.Description),
		Creator: strings.TrimSpace(item.Author),
	}
	if out.Summary == "" {
		out.Summary = strings.TrimSpace(item.Content)
	}

	if item.Link != "" {
		out.Links = append(out.Links, types.Link{Href: item.Link})
	}
	out.Links = append(out.Links, extensionLinks(item.Extensions)...)

	if t, ok := firstDate(item.PubDateParsed); ok {
		out.PublishedAt = t
	} else if item.DublinCoreExt != nil && len(item.DublinCoreExt.Date) > 0 {
		if t, ok := ParseDate(item.DublinCoreExt.Date[0]); ok {
			out.PublishedAt = t
		}
	}
	if out.PublishedAt.IsZero() {
		if t, ok := extensionDate(item.Extensions, "published", "updated", "created"); ok {
			out.PublishedAt = t
		}
	}

	if out.Creator == "" && item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		out.Creator = strings.TrimSpace(item.DublinCoreExt.Creator[0])
	}

	out.Thumbnail = mediaThumbnail(item.Extensions)
	if out.Thumbnail == "" && item.Enclosure != nil && isImageType(item.Enclosure.Type) {
		out.Thumbnail = item.Enclosure.URL
	}

	return out
}

func normalizeAtom(feed *atom.Feed) *types.NormalizedFeed {
	syn := NormalizeSyndication(feed.Extensions)
	out := &types.NormalizedFeed{
		Title:           strings.TrimSpace(feed.Title),
		UpdatePeriod:    syn.UpdatePeriod,
		UpdateFrequency: syn.UpdateFrequency,
		Items:           make([]types.FeedItem, 0, len(feed.Entries)),
	}

	for _, entry := range feed.Entries {
		out.Items = append(out.Items, normalizeAtomEntry(entry))
	}
	return out
}

func normalizeAtomEntry(entry *atom.Entry) types.FeedItem {
	out := types.FeedItem{
		Title:   strings.TrimSpace(entry.Title),
		Summary: strings.TrimSpace(entry.Summary),
	}
	if out.Summary == "" && entry.Content != nil {
		out.Summary = strings.TrimSpace(entry.Content.Value)
	}
	if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		out.Creator = strings.TrimSpace(entry.Authors[0].Name)
	}

	for _, link := range entry.Links {
		if link == nil {
			continue
		}
		out.Links = append(out.Links, types.Link{Href: link.Href, Rel: link.Rel})
		if out.Thumbnail == "" && link.Rel == "enclosure" && isImageType(link.Type) {
			out.Thumbnail = link.Href
		}
	}
	out.Links = append(out.Links, extensionLinks(entry.Extensions)...)

	if t, ok := firstDate(entry.PublishedParsed, entry.UpdatedParsed); ok {
		out.PublishedAt = t
	} else if t, ok := extensionDate(entry.Extensions, "published", "updated", "created"); ok {
		out.PublishedAt = t
	}

	if thumb := mediaThumbnail(entry.Extensions); thumb != "" {
		out.Thumbnail = thumb
	}

	return out
}

func normalizeJSON(feed *gofeed.Feed) *types.NormalizedFeed {
	out := &types.NormalizedFeed{
		Title:           strings.TrimSpace(feed.Title),
		UpdateFrequency: 1,
		Items:           make([]types.FeedItem, 0, len(feed.Items)),
	}

	for _, item := range feed.Items {
		fi := types.FeedItem{
			Title:   strings.TrimSpace(item.Title),
			Summary: strings.TrimSpace(item.Description),
		}
		if item.Link != "" {
			fi.Links = append(fi.Links, types.Link{Href: item.Link})
		}
		if t, ok := firstDate(item.PublishedParsed, item.UpdatedParsed); ok {
			fi.PublishedAt = t
		}
		if item.Author != nil {
			fi.Creator = strings.TrimSpace(item.Author.Name)
		}
		if item.Image != nil {
			fi.Thumbnail = item.Image.URL
		}
		out.Items = append(out.Items, fi)
	}
	return out
}

// extensionLinks collects link elements that carry an href attribute, such
// as atom:link inside an RSS item.
func extensionLinks(extensions ext.Extensions) []types.Link {
	var links []types.Link
	for _, elements := range extensions {
		for _, e := range elements["link"] {
			href := e.Attrs["href"]
			if href == "" {
				href = strings.TrimSpace(e.Value)
			}
			if href == "" {
				continue
			}
			links = append(links, types.Link{Href: href, Rel: e.Attrs["rel"]})
		}
	}
	return links
}

// mediaThumbnail prefers media:thumbnail, then the first image media:content,
// looking inside media:group as well.
func mediaThumbnail(extensions ext.Extensions) string {
	media, ok := extensions["media"]
	if !ok {
		return ""
	}

	if url := thumbnailFrom(media); url != "" {
		return url
	}
	for _, group := range media["group"] {
		if url := thumbnailFrom(group.Children); url != "" {
			return url
		}
	}
	return ""
}

func thumbnailFrom(elements map[string][]ext.Extension) string {
	for _, thumb := range elements["thumbnail"] {
		if url := thumb.Attrs["url"]; url != "" {
			return url
		}
	}
	for _, content := range elements["content"] {
		url := content.Attrs["url"]
		if url == "" {
			continue
		}
		if content.Attrs["medium"] == "image" || isImageType(content.Attrs["type"]) {
			return url
		}
	}
	return ""
}

func isImageType(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "image/")
}
