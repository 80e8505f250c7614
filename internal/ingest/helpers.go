package ingest

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var descriptionPolicy = bluemonday.StrictPolicy()

// normalizeSpace collapses multiple spaces into one and trims the string.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// plainText strips markup from scraped descriptions.
func plainText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "<", " <")
	return normalizeSpace(html.UnescapeString(descriptionPolicy.Sanitize(s)))
}

// cleanList trims entries, drops empties and removes case-insensitive
// duplicates, keeping the first spelling.
func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, v := range items {
		v = normalizeSpace(plainText(v))
		if v == "" {
			continue
		}
		k := strings.ToLower(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

// truncateText cuts a string to maxLen runes, appending an ellipsis if truncated.
func truncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	if maxLen > 3 {
		return string(runes[:maxLen-3]) + "..."
	}
	return string(runes[:maxLen])
}
