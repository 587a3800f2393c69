// Package filter drops blacklisted sitemap entries.
package filter

import (
	"net/url"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// Apply returns the entries that match no blacklist value and how many were
// removed. An entry matches when its URL, or its URL path, equals a value.
// The input slice is left untouched.
func Apply(entries []crawler.URLEntry, blacklist []string) ([]crawler.URLEntry, int) {
	kept := make([]crawler.URLEntry, 0, len(entries))
	if len(blacklist) == 0 {
		return append(kept, entries...), 0
	}

	blocked := make(map[string]struct{}, len(blacklist))
	for _, b := range blacklist {
		blocked[b] = struct{}{}
	}

	removed := 0
	for _, e := range entries {
		if isBlocked(e.URL, blocked) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	return kept, removed
}

func isBlocked(raw string, blocked map[string]struct{}) bool {
	if _, ok := blocked[raw]; ok {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	_, ok := blocked[u.Path]
	return ok
}
