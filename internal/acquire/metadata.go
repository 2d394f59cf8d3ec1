package acquire

import (
	"context"
	"regexp"
	"strings"

	"github.com/codebuildervaibhav/clipminer/internal/browser"
	"github.com/codebuildervaibhav/clipminer/internal/types"
)

var (
	videoIDRe = regexp.MustCompile(`/video/(\d+)`)
	creatorRe = regexp.MustCompile(`@([^/?#]+)`)
)

// Fallback values for metadata the page refused to give up. Acquisition
// never fails on missing metadata.
const (
	defaultDuration = 60.0
	defaultWidth    = 720
	defaultHeight   = 1280
	unknownCreator  = "Unknown creator"
)

// VideoIDFromURL pulls the numeric video id out of a page URL, or ""
// when the URL has no recognizable id.
func VideoIDFromURL(pageURL string) string {
	m := videoIDRe.FindStringSubmatch(pageURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// CreatorFromURL pulls the @handle out of a page URL, or "".
func CreatorFromURL(pageURL string) string {
	m := creatorRe.FindStringSubmatch(pageURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// metadataJS digs the caption and creator nickname out of the page's
// embedded hydration JSON, falling back to the meta description and the
// live <video> element. Every field may come back null.
const metadataJS = `(() => {
	const out = { desc: null, nickname: null, duration: null, width: null, height: null };
	try {
		const raw = document.getElementById('__UNIVERSAL_DATA_FOR_REHYDRATION__');
		if (raw && raw.textContent) {
			const d = raw.textContent.match(/"desc":"((?:[^"\\]|\\.)*)"/);
			if (d) out.desc = JSON.parse('"' + d[1] + '"');
			const n = raw.textContent.match(/"nickname":"((?:[^"\\]|\\.)*)"/);
			if (n) out.nickname = JSON.parse('"' + n[1] + '"');
		}
	} catch (e) {}
	if (!out.desc) {
		const meta = document.querySelector('meta[name="description"]');
		if (meta) out.desc = meta.getAttribute('content');
	}
	const v = document.querySelector('video');
	if (v) {
		if (isFinite(v.duration) && v.duration > 0) out.duration = v.duration;
		if (v.videoWidth > 0) out.width = v.videoWidth;
		if (v.videoHeight > 0) out.height = v.videoHeight;
	}
	return out;
})()`

// pageInfo mirrors metadataJS output. Pointer fields keep JS nulls
// distinguishable from zero values.
type pageInfo struct {
	Desc     *string  `json:"desc"`
	Nickname *string  `json:"nickname"`
	Duration *float64 `json:"duration"`
	Width    *int     `json:"width"`
	Height   *int     `json:"height"`
}

// ScrapeMetadata reads what it can from the rendered page and fills in
// defaults for everything else. An Evaluate failure still yields a
// usable record built from the URL alone.
func ScrapeMetadata(ctx context.Context, s browser.Session, pageURL string) types.PageMetadata {
	md := types.PageMetadata{
		VideoID:  VideoIDFromURL(pageURL),
		VideoURL: pageURL,
		Creator:  CreatorFromURL(pageURL),
		Duration: defaultDuration,
		Width:    defaultWidth,
		Height:   defaultHeight,
	}

	var info pageInfo
	if err := s.Evaluate(ctx, metadataJS, &info); err == nil {
		if info.Desc != nil {
			md.Caption = strings.TrimSpace(*info.Desc)
		}
		if info.Nickname != nil {
			md.CreatorNickname = strings.TrimSpace(*info.Nickname)
		}
		if info.Duration != nil {
			md.Duration = *info.Duration
		}
		if info.Width != nil {
			md.Width = *info.Width
		}
		if info.Height != nil {
			md.Height = *info.Height
		}
	}

	if md.Creator == "" {
		if md.CreatorNickname != "" {
			md.Creator = md.CreatorNickname
		} else {
			md.Creator = unknownCreator
		}
	}
	return md
}
