package parser

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/types"
	"github.com/PuerkitoBio/goquery"
)

var (
	telegramChannelPattern = regexp.MustCompile(`^https?://t\.me/s/[A-Za-z0-9_]+/?(\?.*)?$`)
	backgroundImagePattern = regexp.MustCompile(`background-image:\s*url\(['"]?([^'")]+)['"]?\)`)
)

// ErrNoChannelPosts is returned when a channel page holds no recognizable posts
var ErrNoChannelPosts = errors.New("no channel posts found")

// IsTelegramChannelURL reports whether feedURL is a public channel preview page
func IsTelegramChannelURL(feedURL string) bool {
	return telegramChannelPattern.MatchString(feedURL)
}

// ExtractTelegramChannel scrapes posts from a t.me/s/<channel> page. Each post
// yields its permalink and the datetime attribute of its timestamp.
func ExtractTelegramChannel(feedURL, content string) (*types.NormalizedFeed, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse channel page: %w", err)
	}

	out := &types.NormalizedFeed{
		Title:           strings.TrimSpace(doc.Find(".tgme_channel_info_header_title").First().Text()),
		UpdateFrequency: 1,
	}

	posts := doc.Find(".tgme_widget_message_wrap")
	posts.Each(func(_ int, post *goquery.Selection) {
		date := post.Find("a.tgme_widget_message_date").First()
		href, ok := date.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}

		item := types.FeedItem{
			Title:   out.Title,
			Links:   []types.Link{{Href: resolveURL(feedURL, href)}},
			Creator: strings.TrimSpace(post.Find(".tgme_widget_message_owner_name").First().Text()),
			Summary: strings.TrimSpace(post.Find(".tgme_widget_message_text").First().Text()),
		}

		if datetime, ok := date.Find("time").Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, datetime); err == nil {
				item.PublishedAt = t
			}
		}

		if style, ok := post.Find(".tgme_widget_message_photo_wrap").First().Attr("style"); ok {
			if m := backgroundImagePattern.FindStringSubmatch(style); m != nil {
				item.Thumbnail = m[1]
			}
		}

		out.Items = append(out.Items, item)
	})

	if len(out.Items) == 0 && posts.Length() == 0 && out.Title == "" {
		return nil, ErrNoChannelPosts
	}

	return out, nil
}

func resolveURL(baseURL, href string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
