package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/codebuildervaibhav/clipminer/internal/types"
)

// Transcriber wraps Python's OpenAI Whisper for speech recognition.
// Whisper loads its model per invocation, so runs are serialized to keep
// memory bounded while the rest of the pipeline stays parallel.
type Transcriber struct {
	modelName string
	mu        sync.Mutex

	// run is swapped by tests; production invokes python -m whisper.
	run Runner
}

// NewTranscriber picks the whisper model size from a free-form model
// string ("small", "models/ggml-base.bin", ...).
func NewTranscriber(model string) *Transcriber {
	name := "small"
	for _, candidate := range []string{"tiny", "base", "small", "medium", "large"} {
		if strings.Contains(model, candidate) {
			name = candidate
			break
		}
	}
	log.Printf("Transcriber: using whisper model %q via python -m whisper", name)
	return &Transcriber{modelName: name, run: execRunner}
}

// TranscriptionResult is the parsed whisper output.
type TranscriptionResult struct {
	Text     string
	Language string
	Segments []types.Segment
}

// Transcribe runs whisper over audioPath and writes transcript.txt and
// transcript_timestamps.json into videoDir.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath, videoDir string) (*TranscriptionResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tempDir, err := os.MkdirTemp("", "whisper_output_")
	if err != nil {
		return nil, fmt.Errorf("create whisper temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	absAudioPath, err := filepath.Abs(audioPath)
	if err != nil {
		return nil, fmt.Errorf("resolve audio path: %w", err)
	}

	output, err := t.run(ctx, "python", "-m", "whisper",
		absAudioPath,
		"--model", t.modelName,
		"--output_dir", tempDir,
		"--output_format", "json",
		"--language", "en",
		"--fp16", "False",
	)
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %v\nOutput: %s", err, string(output))
	}

	baseName := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	jsonData, err := os.ReadFile(filepath.Join(tempDir, baseName+".json"))
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}

	result, err := parseWhisperOutput(jsonData)
	if err != nil {
		return nil, err
	}

	if err := writeTranscript(videoDir, result); err != nil {
		return nil, err
	}
	log.Printf("Transcriber: %d segments, %d chars for %s", len(result.Segments), len(result.Text), baseName)
	return result, nil
}

// whisperOutput matches Python Whisper's JSON output format.
type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func parseWhisperOutput(raw []byte) (*TranscriptionResult, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse whisper JSON: %w", err)
	}
	segments := make([]types.Segment, len(out.Segments))
	for i, seg := range out.Segments {
		segments[i] = types.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
	}
	return &TranscriptionResult{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
		Segments: segments,
	}, nil
}

func writeTranscript(videoDir string, result *TranscriptionResult) error {
	if err := os.WriteFile(filepath.Join(videoDir, "transcript.txt"), []byte(result.Text), 0o644); err != nil {
		return fmt.Errorf("write transcript.txt: %w", err)
	}
	raw, err := json.MarshalIndent(result.Segments, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(videoDir, "transcript_timestamps.json"), raw, 0o644); err != nil {
		return fmt.Errorf("write transcript_timestamps.json: %w", err)
	}
	return nil
}
