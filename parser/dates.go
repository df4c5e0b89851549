package parser

import (
	"strconv"
	"strings"
	"time"

	ext "github.com/mmcdole/gofeed/extensions"
)

// layouts tried, in order, for dates found in extension elements
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a feed date string; ok is false when no layout matches
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// extensionDate returns the first parseable date among the named extension
// elements, searching every namespace prefix.
func extensionDate(extensions ext.Extensions, names ...string) (time.Time, bool) {
	for _, name := range names {
		for _, elements := range extensions {
			for _, e := range elements[name] {
				if t, ok := ParseDate(e.Value); ok {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}

// firstDate returns the first non-nil, non-zero candidate
func firstDate(candidates ...*time.Time) (time.Time, bool) {
	for _, c := range candidates {
		if c != nil && !c.IsZero() {
			return *c, true
		}
	}
	return time.Time{}, false
}

// Syndication hints, declared under either the sy: or syn: prefix
var syndicationPrefixes = []string{"sy", "syn"}

// Syndication is the canonical form of the feed's update hints
type Syndication struct {
	UpdatePeriod    string
	UpdateFrequency int
}

// NormalizeSyndication reads updatePeriod and updateFrequency from the feed
// extensions. A missing, non-numeric or non-positive frequency becomes 1.
func NormalizeSyndication(extensions ext.Extensions) Syndication {
	s := Syndication{UpdateFrequency: 1}

	if v, ok := syndicationValue(extensions, "updatePeriod"); ok {
		s.UpdatePeriod = strings.ToLower(v)
	}
	if v, ok := syndicationValue(extensions, "updateFrequency"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			s.UpdateFrequency = n
		}
	}

	return s
}

func syndicationValue(extensions ext.Extensions, name string) (string, bool) {
	for _, prefix := range syndicationPrefixes {
		for _, e := range extensions[prefix][name] {
			if v := strings.TrimSpace(e.Value); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// UpdatePeriodHours maps a syndication period to hours; unknown periods count as hourly
func UpdatePeriodHours(period string) int {
	switch strings.ToLower(strings.TrimSpace(period)) {
	case "hourly":
		return 1
	case "daily":
		return 24
	case "weekly":
		return 24 * 7
	case "monthly":
		return 24 * 30
	case "yearly":
		return 24 * 365
	default:
		return 1
	}
}
