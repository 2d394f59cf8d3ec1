package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/clipminer/internal/types"
)

// ocrServer replies with one text per image in the request.
func ocrServer(t *testing.T, requests *int, textFor func(batch, image int) string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*requests++
		var req struct {
			Messages []struct {
				Content []struct {
					Type string `json:"type"`
				} `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)

		images := 0
		for _, block := range req.Messages[0].Content {
			if block.Type == "image" {
				images++
			}
		}
		texts := make([]string, images)
		for i := range texts {
			texts[i] = textFor(*requests, i)
		}
		reply, _ := json.Marshal(texts)
		resp := map[string]any{
			"content": []map[string]any{{"type": "text", "text": string(reply)}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func writeTestFrames(t *testing.T, n int) []types.Frame {
	dir := t.TempDir()
	frames := make([]types.Frame, n)
	for i := range frames {
		ts := float64(i) / 2
		name := fmt.Sprintf("%03d_t%.1fs.jpg", i, ts)
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))
		frames[i] = types.Frame{Index: i, Timestamp: ts, Path: path}
	}
	return frames
}

func TestRecognizeFramesBatches(t *testing.T) {
	requests := 0
	srv := ocrServer(t, &requests, func(batch, image int) string {
		return fmt.Sprintf("text b%d i%d", batch, image)
	})
	defer srv.Close()

	c := NewOCRClient("test-key")
	c.Endpoint = srv.URL
	c.Client = srv.Client()

	frames := writeTestFrames(t, 12)
	got, err := c.RecognizeFrames(context.Background(), frames)
	require.NoError(t, err)

	assert.Equal(t, 3, requests, "12 frames at batch size 5 is 3 requests")
	require.Len(t, got, 12)
	assert.Equal(t, "text b1 i0", got["000_t0.0s.jpg"])
	assert.Equal(t, "text b3 i1", got["011_t5.5s.jpg"])
}

func TestRecognizeFramesBatchFailureFailsCall(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 2 {
			http.Error(w, "overloaded", http.StatusTooManyRequests)
			return
		}
		reply, _ := json.Marshal([]string{"a", "b", "c", "d", "e"})
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": string(reply)}},
		})
	}))
	defer srv.Close()

	c := NewOCRClient("test-key")
	c.Endpoint = srv.URL
	c.Client = srv.Client()

	_, err := c.RecognizeFrames(context.Background(), writeTestFrames(t, 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestParseOCRTexts(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{"plain array", `["a", "", "c"]`, []string{"a", "", "c"}},
		{"fenced", "```json\n[\"a\", \"b\"]\n```", []string{"a", "b"}},
		{"bare fence", "```\n[\"x\"]\n```", []string{"x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOCRTexts(tt.reply)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseOCRTexts("no text visible in these frames")
	assert.Error(t, err)
}

func TestWriteOCRJSON(t *testing.T) {
	dir := t.TempDir()
	frames := makeFrames(4, 2)
	entries := map[string]string{
		frameKey(frames[0]): "hello",
		frameKey(frames[1]): "hello",
		frameKey(frames[2]): "",
		frameKey(frames[3]): "world",
	}

	require.NoError(t, WriteOCRJSON(dir, frames, entries))

	raw, err := os.ReadFile(filepath.Join(dir, "ocr.json"))
	require.NoError(t, err)
	var got types.OCRResult
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 4, got.Scenes)
	assert.Equal(t, []string{"hello", "world"}, got.Items)
}

func TestWriteOCRJSONEmptyItemsIsArray(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteOCRJSON(dir, makeFrames(2, 2), map[string]string{}))

	raw, err := os.ReadFile(filepath.Join(dir, "ocr.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"items": []`, "items must be [] not null")
}
