package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/clipminer/internal/retry"
	"github.com/codebuildervaibhav/clipminer/internal/types"
)

// scriptedFFmpeg fakes the binaries: ffprobe reports 12s, ffmpeg writes
// frames or the audio file on disk.
func scriptedFFmpeg(t *testing.T, frameCount int, failAudio bool) *FFmpeg {
	return &FFmpeg{Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
		switch name {
		case "ffprobe":
			return []byte("12.0\n"), nil
		case "ffmpeg":
			if contains(args, "-vn") {
				if failAudio {
					return []byte("no audio stream"), fmt.Errorf("exit status 1")
				}
				return nil, os.WriteFile(args[len(args)-1], []byte("mp3"), 0o644)
			}
			pattern := args[len(args)-1]
			dir := filepath.Dir(pattern)
			for i := 1; i <= frameCount; i++ {
				p := filepath.Join(dir, fmt.Sprintf("raw_%03d.jpg", i))
				if err := os.WriteFile(p, []byte("jpeg"), 0o644); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}
		return nil, fmt.Errorf("unexpected tool %s", name)
	}}
}

func scriptedWhisper(t *testing.T) *Transcriber {
	tr := NewTranscriber("small")
	tr.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		var outDir string
		for i, a := range args {
			if a == "--output_dir" && i+1 < len(args) {
				outDir = args[i+1]
			}
		}
		return nil, os.WriteFile(filepath.Join(outDir, "audio.json"), []byte(whisperJSON), 0o644)
	}
	return tr
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func noWaitPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func TestProcessFullBundle(t *testing.T) {
	requests := 0
	srv := ocrServer(t, &requests, func(batch, image int) string {
		return fmt.Sprintf("caption %d-%d", batch, image)
	})
	defer srv.Close()

	videoDir := t.TempDir()
	mediaPath := filepath.Join(videoDir, "video.mp4")
	require.NoError(t, os.WriteFile(mediaPath, []byte("mp4"), 0o644))

	ocr := NewOCRClient("key")
	ocr.Endpoint = srv.URL
	ocr.Client = srv.Client()

	e := NewExtractor(scriptedFFmpeg(t, 4, false), scriptedWhisper(t), ocr)
	e.Policy = noWaitPolicy()

	bundle, err := e.Process(context.Background(), &types.AcquiredVideo{
		VideoID:   "123",
		MediaPath: mediaPath,
		Metadata:  types.PageMetadata{Duration: 60},
	})
	require.NoError(t, err)

	assert.Empty(t, bundle.StageErrors)
	assert.Len(t, bundle.Frames, 4)
	assert.Len(t, bundle.OCREntries, 4)
	assert.Contains(t, bundle.TranscriptText, "three spots")
	assert.Len(t, bundle.Segments, 2)
	assert.Equal(t, filepath.Join(videoDir, "audio.mp3"), bundle.AudioPath)

	for _, name := range []string{"ocr.json", "transcript.txt", "transcript_timestamps.json"} {
		_, err := os.Stat(filepath.Join(videoDir, name))
		assert.NoError(t, err, name)
	}
}

func TestProcessAudioFailureIsPartial(t *testing.T) {
	requests := 0
	srv := ocrServer(t, &requests, func(int, int) string { return "on-screen text" })
	defer srv.Close()

	videoDir := t.TempDir()
	mediaPath := filepath.Join(videoDir, "video.mp4")
	require.NoError(t, os.WriteFile(mediaPath, []byte("mp4"), 0o644))

	ocr := NewOCRClient("key")
	ocr.Endpoint = srv.URL
	ocr.Client = srv.Client()

	e := NewExtractor(scriptedFFmpeg(t, 3, true), scriptedWhisper(t), ocr)
	e.Policy = noWaitPolicy()

	bundle, err := e.Process(context.Background(), &types.AcquiredVideo{
		VideoID:   "124",
		MediaPath: mediaPath,
	})
	require.NoError(t, err, "a partial bundle is not a processing error")

	assert.Len(t, bundle.Frames, 3)
	assert.Contains(t, bundle.StageErrors, "audio")
	assert.Empty(t, bundle.TranscriptText)
	assert.NotContains(t, bundle.StageErrors, "transcription", "transcription never ran")
}

func TestProcessTotalFailure(t *testing.T) {
	videoDir := t.TempDir()
	mediaPath := filepath.Join(videoDir, "video.mp4")
	require.NoError(t, os.WriteFile(mediaPath, []byte("mp4"), 0o644))

	broken := &FFmpeg{Run: func(context.Context, string, ...string) ([]byte, error) {
		return []byte("corrupt file"), fmt.Errorf("exit status 1")
	}}
	e := NewExtractor(broken, scriptedWhisper(t), NewOCRClient("key"))
	e.Policy = noWaitPolicy()

	bundle, err := e.Process(context.Background(), &types.AcquiredVideo{
		VideoID:   "125",
		MediaPath: mediaPath,
		Metadata:  types.PageMetadata{Duration: 60},
	})
	require.Error(t, err)
	assert.Contains(t, bundle.StageErrors, "frames")
	assert.Contains(t, bundle.StageErrors, "audio")
}

func TestKeyFramesUsesBundle(t *testing.T) {
	frames := makeFrames(6, 2)
	bundle := &types.ArtifactBundle{
		Frames: frames,
		OCREntries: map[string]string{
			frameKey(frames[0]): "a",
			frameKey(frames[3]): "b",
		},
	}

	e := &Extractor{}
	got := e.KeyFrames(bundle)
	require.NotEmpty(t, got)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 5, got[len(got)-1].Index)

	indexes := map[int]bool{}
	for _, f := range got {
		indexes[f.Index] = true
	}
	assert.True(t, indexes[3], "text change at frame 3 selected: %v", got)
}
