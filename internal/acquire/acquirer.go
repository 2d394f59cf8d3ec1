package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/codebuildervaibhav/clipminer/internal/browser"
	"github.com/codebuildervaibhav/clipminer/internal/types"
)

var playAddrRe = regexp.MustCompile(`"playAddr"\s*:\s*"([^"]+)"`)

// Options tune one acquirer. Zero values get sensible defaults.
type Options struct {
	// MinMediaBytes is the floor under which an intercepted response is
	// ignored as a thumbnail or preview chunk.
	MinMediaBytes int64
	// MinDownloadBytes is the floor under which a downloaded body counts
	// as an empty capture.
	MinDownloadBytes int64
	// SettleDelay is how long to let the page fetch media after play.
	SettleDelay time.Duration
	// CaptureFallback enables the in-page recording path when the
	// direct fetch is blocked or no media URL was seen.
	CaptureFallback bool
	// CaptureMaxWait bounds the in-page recording.
	CaptureMaxWait time.Duration
	// CDNHostHints mark hosts whose /video or /play responses are media
	// even when the content type lies.
	CDNHostHints []string
	UserAgent    string
}

func (o Options) withDefaults() Options {
	out := o
	if out.MinMediaBytes == 0 {
		out.MinMediaBytes = 100 * 1024
	}
	if out.MinDownloadBytes == 0 {
		out.MinDownloadBytes = 50 * 1024
	}
	if out.SettleDelay == 0 {
		out.SettleDelay = 3 * time.Second
	}
	if out.CaptureMaxWait == 0 {
		out.CaptureMaxWait = 90 * time.Second
	}
	if out.CDNHostHints == nil {
		out.CDNHostHints = []string{"cdn"}
	}
	if out.UserAgent == "" {
		out.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	return out
}

// Acquirer turns one page URL into a media file plus metadata. The
// primary path replays the CDN URL the page itself fetched, carrying the
// browser's cookie and header context; the fallback records the playing
// element in-page.
type Acquirer struct {
	Session browser.Session
	Client  *http.Client
	Limiter *rate.Limiter
	Opts    Options
}

func NewAcquirer(s browser.Session, client *http.Client, limiter *rate.Limiter, opts Options) *Acquirer {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Acquirer{Session: s, Client: client, Limiter: limiter, Opts: opts.withDefaults()}
}

// Acquire downloads the video behind target.PageURL into
// queryDir/<video-id>/ and writes metadata.json alongside it.
func (a *Acquirer) Acquire(ctx context.Context, target types.VideoTarget, queryDir string) (*types.AcquiredVideo, error) {
	opts := a.Opts.withDefaults()
	pageURL := cleanPageURL(target.PageURL)

	var mu sync.Mutex
	var candidates []browser.NetworkResponse
	stop := a.Session.ListenResponses(func(r browser.NetworkResponse) {
		if !isMediaResponse(r, opts) {
			return
		}
		mu.Lock()
		candidates = append(candidates, r)
		mu.Unlock()
	})
	defer stop()

	if err := a.Session.Navigate(ctx, pageURL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	a.waitForVideoElement(ctx)
	a.Session.Evaluate(ctx, playJS, nil)
	if err := sleepCtx(ctx, opts.SettleDelay); err != nil {
		return nil, err
	}
	stop()

	mu.Lock()
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ContentLength > candidates[j].ContentLength
	})
	var mediaURL string
	if len(candidates) > 0 {
		mediaURL = candidates[0].URL
	}
	mu.Unlock()

	if mediaURL == "" {
		mediaURL = a.playAddrFromHTML(ctx)
	}

	videoID := VideoIDFromURL(pageURL)
	if videoID == "" {
		videoID = "v_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	videoDir := filepath.Join(queryDir, videoID)
	if err := os.MkdirAll(videoDir, 0o755); err != nil {
		return nil, fmt.Errorf("create video dir: %w", err)
	}

	mediaPath, size, contentType, err := a.fetchMedia(ctx, pageURL, mediaURL, videoDir, opts)
	if err != nil {
		os.RemoveAll(videoDir)
		return nil, err
	}

	md := ScrapeMetadata(ctx, a.Session, pageURL)
	md.VideoID = videoID
	if err := writeMetadata(videoDir, md); err != nil {
		log.Printf("Acquirer: metadata.json for %s: %v", videoID, err)
	}

	return &types.AcquiredVideo{
		VideoID:     videoID,
		PageURL:     pageURL,
		MediaPath:   mediaPath,
		ContentType: contentType,
		Size:        size,
		Metadata:    md,
	}, nil
}

// fetchMedia tries the direct download first and falls back to in-page
// capture when the origin blocks us or never surfaced a media URL.
func (a *Acquirer) fetchMedia(ctx context.Context, pageURL, mediaURL, videoDir string, opts Options) (string, int64, string, error) {
	if mediaURL != "" {
		dest := filepath.Join(videoDir, "video.mp4")
		size, contentType, err := a.download(ctx, pageURL, mediaURL, dest, opts)
		if err == nil {
			return dest, size, contentType, nil
		}
		if !opts.CaptureFallback || !isBlocked(err) {
			return "", 0, "", err
		}
		log.Printf("Acquirer: direct fetch blocked, switching to capture: %v", err)
	} else if !opts.CaptureFallback {
		return "", 0, "", fmt.Errorf("no media URL observed: %w", ErrEmptyCapture)
	}

	dest := filepath.Join(videoDir, "video.webm")
	size, err := captureStream(ctx, a.Session, dest, opts.CaptureMaxWait)
	if err != nil {
		return "", 0, "", err
	}
	return dest, size, "video/webm", nil
}

func (a *Acquirer) download(ctx context.Context, pageURL, mediaURL, dest string, opts Options) (int64, string, error) {
	if a.Limiter != nil {
		if err := a.Limiter.Wait(ctx); err != nil {
			return 0, "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("build media request: %w", err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Referer", pageURL)
	if origin := originOf(pageURL); origin != "" {
		req.Header.Set("Origin", origin)
	}
	req.Header.Set("Sec-Fetch-Dest", "video")
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	if cookies, err := a.Session.Cookies(ctx); err == nil && len(cookies) > 0 {
		req.Header.Set("Cookie", cookieHeader(cookies))
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return 0, "", fmt.Errorf("media fetch status %d: %w", resp.StatusCode, ErrBlocked)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, "", fmt.Errorf("media fetch status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, "", fmt.Errorf("create media file: %w", err)
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(dest)
		return 0, "", fmt.Errorf("write media body: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(dest)
		return 0, "", closeErr
	}
	if n <= opts.MinDownloadBytes {
		os.Remove(dest)
		return 0, "", fmt.Errorf("media body %d bytes: %w", n, ErrEmptyCapture)
	}
	return n, resp.Header.Get("Content-Type"), nil
}

const playJS = `(() => {
	const v = document.querySelector('video');
	if (!v) return false;
	v.muted = true;
	const p = v.play();
	if (p && p.catch) p.catch(() => {});
	return true;
})()`

func (a *Acquirer) waitForVideoElement(ctx context.Context) {
	for i := 0; i < 8; i++ {
		var present bool
		if err := a.Session.Evaluate(ctx, `!!document.querySelector('video')`, &present); err == nil && present {
			return
		}
		if sleepCtx(ctx, 500*time.Millisecond) != nil {
			return
		}
	}
}

// playAddrFromHTML is the last-ditch media URL source: the player config
// embedded in the page source.
func (a *Acquirer) playAddrFromHTML(ctx context.Context) string {
	var html string
	if err := a.Session.Evaluate(ctx, `document.documentElement.outerHTML`, &html); err != nil {
		return ""
	}
	m := playAddrRe.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	addr := strings.ReplaceAll(m[1], `\u002F`, "/")
	addr = strings.ReplaceAll(addr, `\/`, "/")
	if !strings.HasPrefix(addr, "http") {
		return ""
	}
	return addr
}

func isMediaResponse(r browser.NetworkResponse, opts Options) bool {
	if r.ContentLength <= opts.MinMediaBytes {
		return false
	}
	if strings.Contains(strings.ToLower(r.MimeType), "video") {
		return true
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	hinted := false
	for _, hint := range opts.CDNHostHints {
		if strings.Contains(host, hint) {
			hinted = true
			break
		}
	}
	path := strings.ToLower(u.Path)
	return hinted && (strings.Contains(path, "/video") || strings.Contains(path, "/play"))
}

func isBlocked(err error) bool {
	return errors.Is(err, ErrBlocked)
}

func cleanPageURL(raw string) string {
	s := strings.ReplaceAll(strings.TrimSpace(raw), `\`, "")
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	return s
}

func originOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func cookieHeader(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+cookies[name])
	}
	return strings.Join(pairs, "; ")
}

func writeMetadata(videoDir string, md types.PageMetadata) error {
	raw, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(videoDir, "metadata.json"), raw, 0o644)
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
