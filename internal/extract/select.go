package extract

import (
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codebuildervaibhav/clipminer/internal/types"
)

const (
	// maxKeyFrames caps what gets uploaded per video.
	maxKeyFrames = 20
	// minKeyFrames is the floor below which the selector widens its net.
	minKeyFrames = 3
	// everyNth is the last-resort sampling stride.
	everyNth = 10
)

// SelectKeyFrames picks the frames worth uploading. Frames where the
// on-screen text changes carry the most information; speech-segment
// starts and even sampling back-fill sparse videos, and the first and
// last frame always make the cut.
func SelectKeyFrames(frames []types.Frame, ocr map[string]string, segments []types.Segment) []types.Frame {
	if len(frames) == 0 {
		return nil
	}

	picked := make(map[int]bool)

	// Text-change walk.
	lastText := ""
	for _, frame := range frames {
		text := normalizeOCRText(ocr[filepath.Base(frame.Path)])
		if text != "" && text != lastText {
			picked[frame.Index] = true
		}
		if text != "" {
			lastText = text
		}
	}

	// Sparse text: anchor on speech instead.
	if len(picked) < minKeyFrames {
		for _, seg := range segments {
			if f := nearestFrame(frames, seg.Start); f != nil {
				picked[f.Index] = true
			}
		}
	}

	// Still sparse: even sampling.
	if len(picked) < minKeyFrames {
		for i := 0; i < len(frames); i += everyNth {
			picked[frames[i].Index] = true
		}
	}

	first := frames[0].Index
	last := frames[len(frames)-1].Index
	picked[first] = true
	picked[last] = true

	selected := make([]types.Frame, 0, len(picked))
	for _, frame := range frames {
		if picked[frame.Index] {
			selected = append(selected, frame)
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Index < selected[j].Index })

	if len(selected) <= maxKeyFrames {
		return selected
	}

	// Over budget: keep the endpoints and the earliest of the rest.
	trimmed := make([]types.Frame, 0, maxKeyFrames)
	trimmed = append(trimmed, selected[0])
	for _, frame := range selected[1 : len(selected)-1] {
		if len(trimmed) == maxKeyFrames-1 {
			break
		}
		trimmed = append(trimmed, frame)
	}
	trimmed = append(trimmed, selected[len(selected)-1])
	return trimmed
}

// normalizeOCRText collapses a frame's text so cosmetic differences
// (case, whitespace, trailing ticker noise) don't read as scene changes.
func normalizeOCRText(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

func nearestFrame(frames []types.Frame, ts float64) *types.Frame {
	if len(frames) == 0 {
		return nil
	}
	best := 0
	bestDist := math.Abs(frames[0].Timestamp - ts)
	for i := 1; i < len(frames); i++ {
		if d := math.Abs(frames[i].Timestamp - ts); d < bestDist {
			best, bestDist = i, d
		}
	}
	return &frames[best]
}
