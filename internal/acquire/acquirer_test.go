package acquire

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/clipminer/internal/browser"
	"github.com/codebuildervaibhav/clipminer/internal/types"
)

const pageURL = "https://www.example-videos.com/@somecreator/video/7312345678901234567"

// fastOpts keeps the acquirer's polling delays out of test time.
func fastOpts() Options {
	return Options{
		SettleDelay:    time.Millisecond,
		CaptureMaxWait: 5 * time.Second,
	}
}

// pageEval dispatches the acquirer's JS probes against a canned page.
func pageEval(captureData string) func(js string) (any, error) {
	captureDone := false
	return func(js string) (any, error) {
		switch {
		case strings.Contains(js, "__captureComplete = false"):
			captureDone = true
			return nil, nil
		case strings.Contains(js, "!!document.querySelector('video')"):
			return true, nil
		case strings.Contains(js, "v.play()"):
			return true, nil
		case strings.Contains(js, "readyState"):
			return 4, nil
		case strings.Contains(js, "__captureComplete === true"):
			return captureDone, nil
		case strings.Contains(js, "__captureError"):
			return nil, nil
		case strings.Contains(js, "__captureData"):
			if captureData == "" {
				return nil, nil
			}
			return captureData, nil
		case strings.Contains(js, "outerHTML"):
			return "<html></html>", nil
		case strings.Contains(js, "__UNIVERSAL_DATA_FOR_REHYDRATION__"):
			return map[string]any{
				"desc": "test caption", "nickname": "Some Creator",
				"duration": 12.5, "width": nil, "height": nil,
			}, nil
		default:
			return nil, nil
		}
	}
}

func TestAcquireDirectDownload(t *testing.T) {
	body := bytes.Repeat([]byte("v"), 200*1024)
	var gotCookie, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(body)
	}))
	defer srv.Close()

	sess := &browser.ScriptedSession{
		EvalFunc:  pageEval(""),
		CookieJar: map[string]string{"sessionid": "abc", "tt_csrf": "xyz"},
		Responses: []browser.NetworkResponse{
			{URL: srv.URL + "/ignore/small.mp4", MimeType: "video/mp4", ContentLength: 10 * 1024},
			{URL: srv.URL + "/media/play.mp4", MimeType: "video/mp4", ContentLength: 500 * 1024},
			{URL: srv.URL + "/media/other.mp4", MimeType: "video/mp4", ContentLength: 300 * 1024},
		},
	}

	dir := t.TempDir()
	a := NewAcquirer(sess, srv.Client(), nil, fastOpts())
	got, err := a.Acquire(context.Background(), types.VideoTarget{PageURL: pageURL + `?is_copy_url=1`}, dir)
	require.NoError(t, err)

	assert.Equal(t, "7312345678901234567", got.VideoID)
	assert.Equal(t, pageURL, got.PageURL, "query string must be stripped")
	assert.Equal(t, int64(len(body)), got.Size)
	assert.Equal(t, "video/mp4", got.ContentType)

	data, err := os.ReadFile(got.MediaPath)
	require.NoError(t, err)
	assert.Len(t, data, len(body))
	assert.Equal(t, filepath.Join(dir, got.VideoID, "video.mp4"), got.MediaPath)

	assert.Equal(t, "sessionid=abc; tt_csrf=xyz", gotCookie)
	assert.Equal(t, pageURL, gotReferer)

	_, err = os.Stat(filepath.Join(dir, got.VideoID, "metadata.json"))
	assert.NoError(t, err)
	assert.Equal(t, "test caption", got.Metadata.Caption)
	assert.Equal(t, "somecreator", got.Metadata.Creator)
	assert.Equal(t, 12.5, got.Metadata.Duration)
	assert.Equal(t, 720, got.Metadata.Width, "null width falls back to default")
}

func TestAcquireTinyBodyIsEmptyCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a video"))
	}))
	defer srv.Close()

	sess := &browser.ScriptedSession{
		EvalFunc: pageEval(""),
		Responses: []browser.NetworkResponse{
			{URL: srv.URL + "/media/play.mp4", MimeType: "video/mp4", ContentLength: 200 * 1024},
		},
	}

	dir := t.TempDir()
	a := NewAcquirer(sess, srv.Client(), nil, fastOpts())
	_, err := a.Acquire(context.Background(), types.VideoTarget{PageURL: pageURL}, dir)
	require.ErrorIs(t, err, ErrEmptyCapture)

	// A failed acquisition must not leave a half-built video dir behind.
	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestAcquireBlockedFallsBackToCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	webm := bytes.Repeat([]byte{0x1a, 0x45, 0xdf, 0xa3}, 8*1024)
	opts := fastOpts()
	opts.CaptureFallback = true

	sess := &browser.ScriptedSession{
		EvalFunc: pageEval(base64.StdEncoding.EncodeToString(webm)),
		Responses: []browser.NetworkResponse{
			{URL: srv.URL + "/media/play.mp4", MimeType: "video/mp4", ContentLength: 200 * 1024},
		},
	}

	dir := t.TempDir()
	a := NewAcquirer(sess, srv.Client(), nil, opts)
	got, err := a.Acquire(context.Background(), types.VideoTarget{PageURL: pageURL}, dir)
	require.NoError(t, err)

	assert.Equal(t, "video/webm", got.ContentType)
	assert.Equal(t, filepath.Join(dir, got.VideoID, "video.webm"), got.MediaPath)
	data, err := os.ReadFile(got.MediaPath)
	require.NoError(t, err)
	assert.Equal(t, webm, data)
}

func TestAcquireBlockedWithoutFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	sess := &browser.ScriptedSession{
		EvalFunc: pageEval(""),
		Responses: []browser.NetworkResponse{
			{URL: srv.URL + "/media/play.mp4", MimeType: "video/mp4", ContentLength: 200 * 1024},
		},
	}

	a := NewAcquirer(sess, srv.Client(), nil, fastOpts())
	_, err := a.Acquire(context.Background(), types.VideoTarget{PageURL: pageURL}, t.TempDir())
	require.ErrorIs(t, err, ErrBlocked)
}

func TestScrapeMetadataAllNulls(t *testing.T) {
	sess := &browser.ScriptedSession{
		EvalFunc: func(string) (any, error) {
			return map[string]any{
				"desc": nil, "nickname": nil, "duration": nil, "width": nil, "height": nil,
			}, nil
		},
	}

	md := ScrapeMetadata(context.Background(), sess, "https://www.example-videos.com/some/page")
	assert.Equal(t, unknownCreator, md.Creator)
	assert.Empty(t, md.Caption)
	assert.Equal(t, 60.0, md.Duration)
	assert.Equal(t, 720, md.Width)
	assert.Equal(t, 1280, md.Height)
	assert.Empty(t, md.VideoID)
}

func TestVideoAndCreatorFromURL(t *testing.T) {
	assert.Equal(t, "7312345678901234567", VideoIDFromURL(pageURL))
	assert.Equal(t, "somecreator", CreatorFromURL(pageURL))
	assert.Empty(t, VideoIDFromURL("https://www.example-videos.com/foryou"))
	assert.Empty(t, CreatorFromURL("https://www.example-videos.com/foryou"))
}

func TestIsMediaResponse(t *testing.T) {
	opts := Options{}.withDefaults()
	tests := []struct {
		name string
		r    browser.NetworkResponse
		want bool
	}{
		{"video mime over floor", browser.NetworkResponse{URL: "https://x.example.com/a", MimeType: "video/mp4", ContentLength: 200 * 1024}, true},
		{"video mime under floor", browser.NetworkResponse{URL: "https://x.example.com/a", MimeType: "video/mp4", ContentLength: 50 * 1024}, false},
		{"cdn host video path", browser.NetworkResponse{URL: "https://v16-cdn.example.com/video/123", MimeType: "application/octet-stream", ContentLength: 200 * 1024}, true},
		{"cdn host play path", browser.NetworkResponse{URL: "https://v16-cdn.example.com/play/123", MimeType: "", ContentLength: 200 * 1024}, true},
		{"cdn host other path", browser.NetworkResponse{URL: "https://v16-cdn.example.com/img/123.jpg", MimeType: "image/jpeg", ContentLength: 200 * 1024}, false},
		{"plain host octet stream", browser.NetworkResponse{URL: "https://www.example.com/video/123", MimeType: "", ContentLength: 200 * 1024}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isMediaResponse(tt.r, opts))
		})
	}
}

func TestCleanPageURL(t *testing.T) {
	assert.Equal(t, pageURL, cleanPageURL(pageURL+`?q=1&lang=en`))
	assert.Equal(t, pageURL, cleanPageURL(` `+strings.ReplaceAll(pageURL, "/", `\/`)+` `))
}
