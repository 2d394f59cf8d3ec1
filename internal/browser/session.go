package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// NetworkResponse describes one intercepted response, enough for the
// acquirer to spot CDN media fetches without touching the body.
type NetworkResponse struct {
	URL           string
	MimeType      string
	ContentLength int64
}

// Session is one controllable browser context. The production
// implementation drives a real Chrome over CDP; tests use ScriptedSession.
type Session interface {
	// Navigate loads a URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs JS in the page and unmarshals the JSON result into out.
	// Pass a nil out to discard the result.
	Evaluate(ctx context.Context, js string, out any) error
	// Cookies returns the browser's current cookies as name -> value.
	Cookies(ctx context.Context) (map[string]string, error)
	// ListenResponses registers fn for every network response until the
	// returned stop function is called.
	ListenResponses(fn func(NetworkResponse)) (stop func())
	// Close releases the browser context. Safe to call more than once.
	Close() error
}

// StartupError means the browser process never exposed its control port.
type StartupError struct {
	ProfileDir string
	Err        error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("browser startup failed (profile %s): %v", e.ProfileDir, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// Options configure one CDP session.
type Options struct {
	ProfileDir string
	Headless   bool
	// LocalMode auto-detects the browser and keeps the sandbox; off means
	// container settings (explicit executable, no sandbox, no /dev/shm).
	LocalMode bool
	ExecPath  string
	// StartTimeout bounds how long to wait for the control port. Slow
	// container boot is the common case, so keep this generous.
	StartTimeout time.Duration
	// ActionTimeout bounds each navigation/evaluate round trip.
	ActionTimeout time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.StartTimeout == 0 {
		out.StartTimeout = 60 * time.Second
	}
	if out.ActionTimeout == 0 {
		out.ActionTimeout = 30 * time.Second
	}
	if out.ExecPath == "" && !out.LocalMode {
		out.ExecPath = "/usr/bin/chromium"
	}
	return out
}

// CDPSession is the chromedp-backed Session.
type CDPSession struct {
	opts        Options
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewCDPSession starts a browser with a persistent profile directory.
func NewCDPSession(parent context.Context, opts Options) (*CDPSession, error) {
	opts = opts.withDefaults()

	if err := os.MkdirAll(opts.ProfileDir, 0o755); err != nil {
		return nil, &StartupError{ProfileDir: opts.ProfileDir, Err: err}
	}
	// A crashed prior session leaves Singleton* markers that make Chrome
	// refuse to reuse the profile.
	ClearProfileLocks(opts.ProfileDir)

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserDataDir(opts.ProfileDir),
		// captureStream on CDN-served video needs this.
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
	}
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Headless)
	}
	if !opts.LocalMode {
		allocOpts = append(allocOpts,
			chromedp.NoSandbox,
			chromedp.DisableGPU,
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-software-rasterizer", true),
		)
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	s := &CDPSession{opts: opts, allocCancel: allocCancel, ctx: ctx, cancel: cancel}

	// First Run launches the process; bound it so a wedged boot surfaces
	// as StartupError instead of hanging the worker slot.
	startCtx, startCancel := context.WithTimeout(ctx, opts.StartTimeout)
	defer startCancel()
	if err := chromedp.Run(startCtx, network.Enable()); err != nil {
		s.Close()
		return nil, &StartupError{ProfileDir: opts.ProfileDir, Err: err}
	}
	return s, nil
}

func (s *CDPSession) action(ctx context.Context) (context.Context, context.CancelFunc) {
	if err := ctx.Err(); err != nil {
		c, cancel := context.WithCancel(s.ctx)
		cancel()
		return c, cancel
	}
	return context.WithTimeout(s.ctx, s.opts.ActionTimeout)
}

func (s *CDPSession) Navigate(ctx context.Context, url string) error {
	actx, cancel := s.action(ctx)
	defer cancel()
	return chromedp.Run(actx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *CDPSession) Evaluate(ctx context.Context, js string, out any) error {
	actx, cancel := s.action(ctx)
	defer cancel()
	if out == nil {
		var discard any
		out = &discard
	}
	return chromedp.Run(actx, chromedp.Evaluate(js, out))
}

func (s *CDPSession) Cookies(ctx context.Context) (map[string]string, error) {
	actx, cancel := s.action(ctx)
	defer cancel()

	cookies := map[string]string{}
	err := chromedp.Run(actx, chromedp.ActionFunc(func(cctx context.Context) error {
		all, err := network.GetCookies().Do(cctx)
		if err != nil {
			return err
		}
		for _, c := range all {
			cookies[c.Name] = c.Value
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

func (s *CDPSession) ListenResponses(fn func(NetworkResponse)) (stop func()) {
	listenCtx, cancel := context.WithCancel(s.ctx)
	chromedp.ListenTarget(listenCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		fn(NetworkResponse{
			URL:           resp.Response.URL,
			MimeType:      resp.Response.MimeType,
			ContentLength: headerContentLength(resp.Response.Headers),
		})
	})
	return cancel
}

func (s *CDPSession) Close() error {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	return nil
}

func headerContentLength(h network.Headers) int64 {
	for _, key := range []string{"content-length", "Content-Length"} {
		if v, ok := h[key]; ok {
			if str, ok := v.(string); ok {
				if n, err := strconv.ParseInt(str, 10, 64); err == nil {
					return n
				}
			}
		}
	}
	return 0
}

// ClearProfileLocks removes stale Chrome singleton markers from a profile
// directory so a fresh session can start after an abnormal exit.
func ClearProfileLocks(profileDir string) {
	matches, err := filepath.Glob(filepath.Join(profileDir, "Singleton*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		os.Remove(m)
	}
}
