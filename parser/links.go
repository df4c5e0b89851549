package parser

import (
	"strings"

	"github.com/Nexora-Open-Source/rss-feed-poller/types"
)

// rel values that may carry the canonical item URL, most preferred first.
// An empty rel is an unqualified <link>.
var linkPreference = []string{"via", "alternate", "self", ""}

// GetLink picks the canonical item URL. Preference is absolute: a "via" link
// anywhere in the list beats an earlier "alternate". Other rel values
// (enclosure, replies, ...) never qualify.
func GetLink(links []types.Link) string {
	best := len(linkPreference)
	href := ""

	for _, link := range links {
		candidate := strings.TrimSpace(link.Href)
		if candidate == "" {
			continue
		}
		rank := linkRank(link.Rel)
		if rank < best {
			best = rank
			href = candidate
		}
	}

	return href
}

func linkRank(rel string) int {
	rel = strings.ToLower(strings.TrimSpace(rel))
	for i, preferred := range linkPreference {
		if rel == preferred {
			// self and unqualified share a rank
			if preferred == "" {
				return i - 1
			}
			return i
		}
	}
	return len(linkPreference)
}
