package extract

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/codebuildervaibhav/clipminer/internal/types"
)

// Runner executes an external tool and returns its combined output.
// Tests swap it out; production uses exec.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// FFmpeg extracts frames and audio from downloaded media via the ffmpeg
// and ffprobe binaries.
type FFmpeg struct {
	Run Runner
}

func NewFFmpeg() *FFmpeg {
	return &FFmpeg{Run: execRunner}
}

// assumedByteRate backs the last-resort duration estimate: size divided
// by a typical short-video bitrate.
const assumedByteRate = 500 * 1024

// ProbeDuration returns the media duration in seconds, trying ffprobe's
// format duration, then packet counting, then a size-based estimate.
// Capture fallback webm files often carry no duration header, which is
// why the chain exists.
func (f *FFmpeg) ProbeDuration(ctx context.Context, mediaPath string) (float64, error) {
	out, err := f.Run(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		mediaPath,
	)
	if err == nil {
		if d, perr := strconv.ParseFloat(strings.TrimSpace(string(out)), 64); perr == nil && d > 0 {
			return d, nil
		}
	}

	out, err = f.Run(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets,r_frame_rate",
		"-of", "csv=p=0",
		mediaPath,
	)
	if err == nil {
		if d := durationFromPackets(string(out)); d > 0 {
			return d, nil
		}
	}

	info, statErr := os.Stat(mediaPath)
	if statErr != nil {
		return 0, fmt.Errorf("probe duration of %s: %w", mediaPath, statErr)
	}
	d := float64(info.Size()) / assumedByteRate
	if d <= 0 {
		d = 1
	}
	log.Printf("FFmpeg: estimated duration %.1fs from file size for %s", d, filepath.Base(mediaPath))
	return d, nil
}

// durationFromPackets parses "r_frame_rate,nb_read_packets" csv output
// into packets/rate seconds.
func durationFromPackets(csv string) float64 {
	fields := strings.Split(strings.TrimSpace(csv), ",")
	if len(fields) < 2 {
		return 0
	}
	rate := parseRational(fields[0])
	packets, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil || rate <= 0 || packets <= 0 {
		return 0
	}
	return packets / rate
}

func parseRational(s string) float64 {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// FrameRateFor picks the sampling rate by clip length: short clips get
// denser sampling.
func FrameRateFor(duration float64) float64 {
	switch {
	case duration < 30:
		return 2
	case duration < 60:
		return 1
	default:
		return 0.5
	}
}

// ExtractFrames samples mediaPath into framesDir as sequential JPEGs
// named NNN_t<seconds>s.jpg and returns them in time order.
func (f *FFmpeg) ExtractFrames(ctx context.Context, mediaPath, framesDir string, duration float64) ([]types.Frame, error) {
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}
	fps := FrameRateFor(duration)

	pattern := filepath.Join(framesDir, "raw_%03d.jpg")
	out, err := f.Run(ctx, "ffmpeg",
		"-i", mediaPath,
		"-vf", fmt.Sprintf("fps=%g", fps),
		"-q:v", "2",
		"-y",
		pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg frame extraction failed: %v\nOutput: %s", err, string(out))
	}

	raw, err := filepath.Glob(filepath.Join(framesDir, "raw_*.jpg"))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frames for %s", mediaPath)
	}
	sort.Strings(raw)

	frames := make([]types.Frame, 0, len(raw))
	for i, src := range raw {
		ts := float64(i) / fps
		dst := filepath.Join(framesDir, fmt.Sprintf("%03d_t%.1fs.jpg", i, ts))
		if err := os.Rename(src, dst); err != nil {
			return nil, fmt.Errorf("rename frame %s: %w", src, err)
		}
		frames = append(frames, types.Frame{Index: i, Timestamp: ts, Path: dst})
	}
	log.Printf("FFmpeg: extracted %d frames at %g fps from %s", len(frames), fps, filepath.Base(mediaPath))
	return frames, nil
}

// ExtractAudio pulls the audio track into a 16kHz mono mp3, the shape
// the transcriber wants.
func (f *FFmpeg) ExtractAudio(ctx context.Context, mediaPath, audioPath string) error {
	out, err := f.Run(ctx, "ffmpeg",
		"-i", mediaPath,
		"-vn",
		"-ar", "16000",
		"-ac", "1",
		"-b:a", "64k",
		"-y",
		audioPath,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg audio extraction failed: %v\nOutput: %s", err, string(out))
	}
	info, statErr := os.Stat(audioPath)
	if statErr != nil || info.Size() == 0 {
		return fmt.Errorf("audio extraction produced no output for %s", mediaPath)
	}
	return nil
}
