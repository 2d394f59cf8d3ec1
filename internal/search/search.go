package search

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/codebuildervaibhav/clipminer/internal/browser"
)

// Searcher finds candidate video page URLs for a query.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]string, error)
}

// collectLinksJS harvests every /video/ link currently in the DOM.
const collectLinksJS = `(() => {
	const out = [];
	document.querySelectorAll('a[href*="/video/"]').forEach(a => {
		if (a.href) out.push(a.href);
	});
	return out;
})()`

const scrollJS = `window.scrollBy(0, window.innerHeight * 2); true`

// BrowserSearcher drives a real search results page: load, harvest
// video links, scroll, repeat until enough links or the page stops
// yielding new ones.
type BrowserSearcher struct {
	Session browser.Session
	// BaseURL is the site root, e.g. https://www.tiktok.com
	BaseURL string
	// ScrollPause is the wait between scroll rounds. Short in tests.
	ScrollPause time.Duration
	// MaxScrolls bounds the scroll loop.
	MaxScrolls int
}

func NewBrowserSearcher(s browser.Session, baseURL string) *BrowserSearcher {
	return &BrowserSearcher{
		Session:     s,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		ScrollPause: 2 * time.Second,
		MaxScrolls:  8,
	}
}

// Search loads the site's search page for the query and collects video
// page URLs in discovery order, deduplicated and capped at max.
func (b *BrowserSearcher) Search(ctx context.Context, query string, max int) ([]string, error) {
	if max <= 0 {
		max = 10
	}
	searchURL := fmt.Sprintf("%s/search?q=%s", b.BaseURL, url.QueryEscape(query))
	if err := b.Session.Navigate(ctx, searchURL); err != nil {
		return nil, fmt.Errorf("load search page: %w", err)
	}

	seen := map[string]bool{}
	var links []string
	stale := 0
	for round := 0; round <= b.MaxScrolls && len(links) < max; round++ {
		var hrefs []string
		if err := b.Session.Evaluate(ctx, collectLinksJS, &hrefs); err != nil {
			return nil, fmt.Errorf("collect links: %w", err)
		}

		before := len(links)
		for _, href := range hrefs {
			canonical := canonicalVideoURL(href)
			if canonical == "" || seen[canonical] {
				continue
			}
			seen[canonical] = true
			links = append(links, canonical)
			if len(links) == max {
				break
			}
		}

		if len(links) == before {
			stale++
			if stale >= 2 {
				break
			}
		} else {
			stale = 0
		}
		if len(links) >= max || round == b.MaxScrolls {
			break
		}

		b.Session.Evaluate(ctx, scrollJS, nil)
		if err := sleepCtx(ctx, b.ScrollPause); err != nil {
			return nil, err
		}
	}

	// Some queries render an empty results page while their hashtag
	// pages are full of videos. Try those before giving up.
	if len(links) == 0 {
		links = b.hashtagFallback(ctx, query, max, seen)
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("no videos found for %q", query)
	}
	log.Printf("Search: %d videos for %q", len(links), query)
	return links, nil
}

func (b *BrowserSearcher) hashtagFallback(ctx context.Context, query string, max int, seen map[string]bool) []string {
	var links []string
	for _, tag := range QueryToHashtags(query) {
		tagURL := fmt.Sprintf("%s/tag/%s", b.BaseURL, url.PathEscape(tag))
		if err := b.Session.Navigate(ctx, tagURL); err != nil {
			continue
		}
		var hrefs []string
		if err := b.Session.Evaluate(ctx, collectLinksJS, &hrefs); err != nil {
			continue
		}
		for _, href := range hrefs {
			canonical := canonicalVideoURL(href)
			if canonical == "" || seen[canonical] {
				continue
			}
			seen[canonical] = true
			links = append(links, canonical)
			if len(links) == max {
				return links
			}
		}
	}
	if len(links) > 0 {
		log.Printf("Search: hashtag fallback found %d videos for %q", len(links), query)
	}
	return links
}

// canonicalVideoURL strips queries and fragments so the same video seen
// twice dedups, and rejects anything that is not a video page.
func canonicalVideoURL(href string) string {
	u, err := url.Parse(href)
	if err != nil || !strings.Contains(u.Path, "/video/") {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
