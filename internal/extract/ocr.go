package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/clipminer/internal/types"
)

const (
	defaultOCRBatchSize = 5
	defaultOCRModel     = "claude-3-haiku-20240307"
	defaultOCREndpoint  = "https://api.anthropic.com/v1/messages"
)

const ocrPrompt = `These images are frames sampled from a short video, in order. ` +
	`For each image, read any visible on-screen text (captions, overlays, signs). ` +
	`Reply with ONLY a JSON array of strings, one entry per image in the same order. ` +
	`Use "" for images with no readable text.`

// OCRClient reads on-screen text from frames through a vision messages
// API, batching frames to keep request sizes sane.
type OCRClient struct {
	Endpoint  string
	APIKey    string
	Model     string
	BatchSize int
	Client    *http.Client
}

func NewOCRClient(apiKey string) *OCRClient {
	return &OCRClient{
		Endpoint:  defaultOCREndpoint,
		APIKey:    apiKey,
		Model:     defaultOCRModel,
		BatchSize: defaultOCRBatchSize,
		Client:    &http.Client{Timeout: 90 * time.Second},
	}
}

// RecognizeFrames OCRs every frame and returns file name -> text. A
// failed batch fails the whole call so the caller's retry policy can
// re-run it; a frame with no visible text maps to "".
func (c *OCRClient) RecognizeFrames(ctx context.Context, frames []types.Frame) (map[string]string, error) {
	batchSize := c.BatchSize
	if batchSize <= 0 {
		batchSize = defaultOCRBatchSize
	}

	out := make(map[string]string, len(frames))
	for start := 0; start < len(frames); start += batchSize {
		end := start + batchSize
		if end > len(frames) {
			end = len(frames)
		}
		batch := frames[start:end]
		texts, err := c.recognizeBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("ocr batch %d-%d: %w", start, end-1, err)
		}
		for i, frame := range batch {
			out[filepath.Base(frame.Path)] = texts[i]
		}
	}
	return out, nil
}

func (c *OCRClient) recognizeBatch(ctx context.Context, batch []types.Frame) ([]string, error) {
	content := make([]map[string]any, 0, len(batch)+1)
	for _, frame := range batch {
		raw, err := os.ReadFile(frame.Path)
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %w", frame.Path, err)
		}
		content = append(content, map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": "image/jpeg",
				"data":       base64.StdEncoding.EncodeToString(raw),
			},
		})
	}
	content = append(content, map[string]any{"type": "text", "text": ocrPrompt})

	body, err := json.Marshal(map[string]any{
		"model":      c.Model,
		"max_tokens": 1024,
		"messages": []map[string]any{
			{"role": "user", "content": content},
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ocr API status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var apiResp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("parse ocr response: %w", err)
	}
	var text string
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	texts, err := parseOCRTexts(text)
	if err != nil {
		return nil, err
	}
	if len(texts) != len(batch) {
		log.Printf("OCR: got %d texts for %d frames, padding", len(texts), len(batch))
		for len(texts) < len(batch) {
			texts = append(texts, "")
		}
		texts = texts[:len(batch)]
	}
	return texts, nil
}

// parseOCRTexts accepts the model reply, tolerating markdown fences
// around the JSON array.
func parseOCRTexts(reply string) ([]string, error) {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	var texts []string
	if err := json.Unmarshal([]byte(s), &texts); err != nil {
		return nil, fmt.Errorf("ocr reply is not a JSON string array: %w", err)
	}
	return texts, nil
}

// WriteOCRJSON persists the OCR results as ocr.json: the unique
// non-empty texts plus the number of frames analyzed.
func WriteOCRJSON(videoDir string, frames []types.Frame, entries map[string]string) error {
	seen := make(map[string]bool)
	result := types.OCRResult{Scenes: len(frames), Items: []string{}}
	for _, frame := range frames {
		text := strings.TrimSpace(entries[filepath.Base(frame.Path)])
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		result.Items = append(result.Items, text)
	}
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(videoDir, "ocr.json"), raw, 0o644)
}
