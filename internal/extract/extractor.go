package extract

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codebuildervaibhav/clipminer/internal/retry"
	"github.com/codebuildervaibhav/clipminer/internal/types"
)

// Extractor turns a downloaded video into its artifact bundle: frames,
// OCR text, audio, and transcript. The visual and audio branches run
// concurrently; each stage retries on its own, and one branch failing
// still leaves the other's artifacts in the bundle.
type Extractor struct {
	FFmpeg *FFmpeg
	ASR    *Transcriber
	OCR    *OCRClient

	// Policy bounds each stage's retries. Zero value gets the default
	// three attempts with exponential backoff.
	Policy retry.Policy
}

func NewExtractor(ffmpeg *FFmpeg, asr *Transcriber, ocr *OCRClient) *Extractor {
	return &Extractor{
		FFmpeg: ffmpeg,
		ASR:    asr,
		OCR:    ocr,
		Policy: retry.Policy{MaxAttempts: 3, Backoff: retry.Exponential(2 * time.Second)},
	}
}

func (e *Extractor) policy() retry.Policy {
	p := e.Policy
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
		p.Backoff = retry.Exponential(2 * time.Second)
	}
	return p
}

// Process extracts everything it can from video. The returned bundle is
// complete when StageErrors is empty; it errors out entirely only when
// neither branch produced anything usable.
func (e *Extractor) Process(ctx context.Context, video *types.AcquiredVideo) (*types.ArtifactBundle, error) {
	videoDir := filepath.Dir(video.MediaPath)
	bundle := &types.ArtifactBundle{
		VideoID:     video.VideoID,
		Dir:         videoDir,
		OCREntries:  map[string]string{},
		StageErrors: map[string]string{},
	}

	duration, err := e.FFmpeg.ProbeDuration(ctx, video.MediaPath)
	if err != nil || duration <= 0 {
		duration = video.Metadata.Duration
		log.Printf("Extractor: falling back to page duration %.1fs for %s", duration, video.VideoID)
	}

	p := e.policy()
	var mu sync.Mutex
	fail := func(stage string, err error) {
		mu.Lock()
		bundle.StageErrors[stage] = err.Error()
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		frames, err := retry.DoValue(ctx, p, func() ([]types.Frame, error) {
			return e.FFmpeg.ExtractFrames(ctx, video.MediaPath, filepath.Join(videoDir, "frames"), duration)
		})
		if err != nil {
			fail("frames", err)
			return nil
		}
		bundle.Frames = frames

		entries, err := retry.DoValue(ctx, p, func() (map[string]string, error) {
			return e.OCR.RecognizeFrames(ctx, frames)
		})
		if err != nil {
			fail("ocr", err)
			return nil
		}
		bundle.OCREntries = entries
		if err := WriteOCRJSON(videoDir, frames, entries); err != nil {
			fail("ocr", err)
		}
		return nil
	})

	g.Go(func() error {
		audioPath := filepath.Join(videoDir, "audio.mp3")
		err := retry.Do(ctx, p, func() error {
			return e.FFmpeg.ExtractAudio(ctx, video.MediaPath, audioPath)
		})
		if err != nil {
			fail("audio", err)
			return nil
		}
		bundle.AudioPath = audioPath

		result, err := retry.DoValue(ctx, p, func() (*TranscriptionResult, error) {
			return e.ASR.Transcribe(ctx, audioPath, videoDir)
		})
		if err != nil {
			fail("transcription", err)
			return nil
		}
		bundle.TranscriptText = result.Text
		bundle.Segments = result.Segments
		return nil
	})

	g.Wait()

	if len(bundle.Frames) == 0 && bundle.TranscriptText == "" {
		return bundle, fmt.Errorf("extraction produced nothing for %s: %v", video.VideoID, bundle.StageErrors)
	}
	if len(bundle.StageErrors) > 0 {
		log.Printf("Extractor: partial bundle for %s: %v", video.VideoID, bundle.StageErrors)
	}
	return bundle, nil
}

// KeyFrames applies the selection pass over a processed bundle.
func (e *Extractor) KeyFrames(bundle *types.ArtifactBundle) []types.Frame {
	return SelectKeyFrames(bundle.Frames, bundle.OCREntries, bundle.Segments)
}
