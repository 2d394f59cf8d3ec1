package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/clipminer/internal/types"
)

// ErrValidation marks a bundle rejected before upload. Validation
// failures are not retryable: re-running won't grow a 2-char transcript.
var ErrValidation = errors.New("bundle failed validation")

const minTranscriptChars = 3

// Uploader persists a processed video: artifacts into the object store,
// one row into the record store, and only after the row reads back does
// the local working directory get deleted.
type Uploader struct {
	Store   ObjectStore
	Records *RecordStore
	// KeepLocal skips the final local cleanup.
	KeepLocal bool
	// IncludeVideo also uploads the raw media file.
	IncludeVideo bool
}

// Validate rejects bundles whose artifacts are too thin to be worth
// storing. It reads from disk because disk is what gets uploaded.
func (u *Uploader) Validate(bundle *types.ArtifactBundle) error {
	transcript, err := os.ReadFile(filepath.Join(bundle.Dir, "transcript.txt"))
	if err != nil {
		return fmt.Errorf("%w: transcript.txt missing: %v", ErrValidation, err)
	}
	if len(strings.TrimSpace(string(transcript))) < minTranscriptChars {
		return fmt.Errorf("%w: transcript under %d chars", ErrValidation, minTranscriptChars)
	}

	rawOCR, err := os.ReadFile(filepath.Join(bundle.Dir, "ocr.json"))
	if err != nil {
		return fmt.Errorf("%w: ocr.json missing: %v", ErrValidation, err)
	}
	var ocr types.OCRResult
	if err := json.Unmarshal(rawOCR, &ocr); err != nil || ocr.Items == nil {
		return fmt.Errorf("%w: ocr.json unparseable or missing items", ErrValidation)
	}

	audio, err := os.Stat(filepath.Join(bundle.Dir, "audio.mp3"))
	if err != nil || audio.Size() == 0 {
		return fmt.Errorf("%w: audio.mp3 missing or empty", ErrValidation)
	}

	if _, err := os.Stat(filepath.Join(bundle.Dir, "metadata.json")); err != nil {
		return fmt.Errorf("%w: metadata.json missing", ErrValidation)
	}
	return nil
}

// Upload runs the full persist sequence and reports whether a new row
// was inserted (false means this video was already in the corpus).
func (u *Uploader) Upload(ctx context.Context, video *types.AcquiredVideo, bundle *types.ArtifactBundle, keyFrames []types.Frame, query string) (types.UploadRecord, bool, error) {
	if err := u.Validate(bundle); err != nil {
		return types.UploadRecord{}, false, err
	}

	prefix := "videos/" + video.VideoID
	if err := u.putArtifacts(ctx, video, bundle, keyFrames, prefix); err != nil {
		return types.UploadRecord{}, false, err
	}

	rawOCR, _ := os.ReadFile(filepath.Join(bundle.Dir, "ocr.json"))
	var ocr types.OCRResult
	json.Unmarshal(rawOCR, &ocr)

	record := types.UploadRecord{
		VideoID:       video.VideoID,
		URL:           video.PageURL,
		Author:        video.Metadata.Creator,
		Title:         video.Metadata.Caption,
		DurationSec:   video.Metadata.Duration,
		Transcript:    bundle.TranscriptText,
		OCRText:       strings.Join(ocr.Items, "\n"),
		StoragePrefix: prefix,
		FrameCount:    len(keyFrames),
		Query:         query,
		ProcessedAt:   time.Now().UTC(),
	}

	stored, inserted, err := u.Records.InsertOrGet(record)
	if err != nil {
		return types.UploadRecord{}, false, fmt.Errorf("record insert for %s: %w", video.VideoID, err)
	}

	// The read-back is the confirmation gate: local files only go away
	// once the database row demonstrably exists.
	if _, err := u.Records.Get(video.VideoID); err != nil {
		return types.UploadRecord{}, false, fmt.Errorf("record confirm for %s: %w", video.VideoID, err)
	}

	if !u.KeepLocal {
		if err := os.RemoveAll(bundle.Dir); err != nil {
			log.Printf("Uploader: local cleanup of %s: %v", bundle.Dir, err)
		}
	}
	if !inserted {
		log.Printf("Uploader: %s already stored, kept existing record", video.VideoID)
	}
	return stored, inserted, nil
}

func (u *Uploader) putArtifacts(ctx context.Context, video *types.AcquiredVideo, bundle *types.ArtifactBundle, keyFrames []types.Frame, prefix string) error {
	files := []struct {
		name        string
		contentType string
		required    bool
	}{
		{"metadata.json", "application/json", true},
		{"transcript.txt", "text/plain", true},
		{"transcript_timestamps.json", "application/json", false},
		{"ocr.json", "application/json", true},
		{"audio.mp3", "audio/mpeg", true},
	}
	for _, f := range files {
		path := filepath.Join(bundle.Dir, f.name)
		if _, err := os.Stat(path); err != nil {
			if f.required {
				return fmt.Errorf("artifact %s: %w", f.name, err)
			}
			continue
		}
		if err := PutFile(ctx, u.Store, prefix+"/"+f.name, f.contentType, path); err != nil {
			return err
		}
	}

	for _, frame := range keyFrames {
		key := prefix + "/frames/" + filepath.Base(frame.Path)
		if err := PutFile(ctx, u.Store, key, "image/jpeg", frame.Path); err != nil {
			return err
		}
	}

	if u.IncludeVideo && video.MediaPath != "" {
		contentType := video.ContentType
		if contentType == "" {
			contentType = "video/mp4"
		}
		key := prefix + "/" + filepath.Base(video.MediaPath)
		if err := PutFile(ctx, u.Store, key, contentType, video.MediaPath); err != nil {
			return err
		}
	}
	return nil
}
