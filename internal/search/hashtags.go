package search

import (
	"regexp"
	"strings"
)

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9\s]+`)

// QueryToHashtags turns a free-form research query into hashtag
// candidates: the full query collapsed into one tag, then each
// meaningful word on its own. Short filler words make terrible tags and
// are dropped.
func QueryToHashtags(query string) []string {
	cleaned := nonAlnumRe.ReplaceAllString(strings.ToLower(query), " ")
	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return nil
	}

	var tags []string
	seen := map[string]bool{}
	add := func(tag string) {
		if tag != "" && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	add(strings.Join(words, ""))
	for _, w := range words {
		if len(w) >= 4 {
			add(w)
		}
	}
	return tags
}
