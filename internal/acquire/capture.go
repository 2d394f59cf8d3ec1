package acquire

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/codebuildervaibhav/clipminer/internal/browser"
)

// captureScript records the playing <video> element with MediaRecorder
// and parks the result as base64 on window. The recorder stops on ended
// or after the element's duration plus a second, capped at two minutes.
const captureScript = `(() => {
	window.__captureComplete = false;
	window.__captureError = null;
	window.__captureData = null;
	const v = document.querySelector('video');
	if (!v) {
		window.__captureError = 'no video element';
		window.__captureComplete = true;
		return;
	}
	try {
		v.muted = true;
		v.currentTime = 0;
		const p = v.play();
		if (p && p.catch) p.catch(() => {});
		const stream = v.captureStream();
		const rec = new MediaRecorder(stream, { mimeType: 'video/webm' });
		const chunks = [];
		rec.ondataavailable = (e) => { if (e.data && e.data.size > 0) chunks.push(e.data); };
		rec.onstop = () => {
			const blob = new Blob(chunks, { type: 'video/webm' });
			const reader = new FileReader();
			reader.onloadend = () => {
				const s = reader.result || '';
				const comma = s.indexOf(',');
				window.__captureData = comma >= 0 ? s.slice(comma + 1) : null;
				window.__captureComplete = true;
			};
			reader.readAsDataURL(blob);
		};
		const stopOnce = () => { try { rec.stop(); } catch (e) {} };
		v.onended = stopOnce;
		const budget = (isFinite(v.duration) && v.duration > 0 ? v.duration : 60) * 1000 + 1000;
		setTimeout(stopOnce, Math.min(budget, 120000));
		rec.start(500);
	} catch (e) {
		window.__captureError = String(e);
		window.__captureComplete = true;
	}
})()`

const captureMinBytes = 10 * 1024

// captureStream records the page's video element and writes the result
// to dest as webm. It requires the element to have buffered enough to
// play (readyState >= 3) before recording starts.
func captureStream(ctx context.Context, s browser.Session, dest string, maxWait time.Duration) (int64, error) {
	if err := waitReady(ctx, s); err != nil {
		return 0, err
	}
	if err := s.Evaluate(ctx, captureScript, nil); err != nil {
		return 0, fmt.Errorf("inject capture script: %w", err)
	}

	deadline := time.Now().Add(maxWait)
	for {
		var done bool
		if err := s.Evaluate(ctx, `window.__captureComplete === true`, &done); err == nil && done {
			break
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("capture never completed after %s: %w", maxWait, ErrTimeout)
		}
		if err := sleepCtx(ctx, 2*time.Second); err != nil {
			return 0, err
		}
	}

	var captureErr *string
	if err := s.Evaluate(ctx, `window.__captureError`, &captureErr); err == nil && captureErr != nil {
		return 0, fmt.Errorf("in-page capture: %s: %w", *captureErr, ErrEmptyCapture)
	}

	var data *string
	if err := s.Evaluate(ctx, `window.__captureData`, &data); err != nil {
		return 0, fmt.Errorf("read capture data: %w", err)
	}
	if data == nil || *data == "" {
		return 0, fmt.Errorf("capture produced no data: %w", ErrEmptyCapture)
	}
	raw, err := base64.StdEncoding.DecodeString(*data)
	if err != nil {
		return 0, fmt.Errorf("decode capture data: %w", err)
	}
	if len(raw) < captureMinBytes {
		return 0, fmt.Errorf("capture %d bytes: %w", len(raw), ErrEmptyCapture)
	}
	if err := os.WriteFile(dest, raw, 0o644); err != nil {
		return 0, fmt.Errorf("write capture file: %w", err)
	}
	return int64(len(raw)), nil
}

// waitReady polls the video element until it can play through the
// buffered data, up to 30 seconds.
func waitReady(ctx context.Context, s browser.Session) error {
	for i := 0; i < 30; i++ {
		var state int
		js := `(() => { const v = document.querySelector('video'); return v ? v.readyState : -1; })()`
		if err := s.Evaluate(ctx, js, &state); err == nil && state >= 3 {
			return nil
		}
		if err := sleepCtx(ctx, time.Second); err != nil {
			return err
		}
	}
	return fmt.Errorf("video element never reached playable state: %w", ErrTimeout)
}
