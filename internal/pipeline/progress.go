package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codebuildervaibhav/clipminer/internal/types"
)

// QueryKey identifies one query in progress.json. The index keeps two
// occurrences of the same query string in a research list distinct.
func QueryKey(index int, query string) string {
	return fmt.Sprintf("%d:%s", index, query)
}

// ProgressFile persists run progress after every query so an
// interrupted batch resumes where it stopped.
type ProgressFile struct {
	path string
}

func NewProgressFile(runRoot string) *ProgressFile {
	return &ProgressFile{path: filepath.Join(runRoot, "progress.json")}
}

// Load reads prior progress. A missing file is a fresh run, not an
// error.
func (p *ProgressFile) Load() (types.RunProgress, error) {
	raw, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return types.RunProgress{}, nil
	}
	if err != nil {
		return types.RunProgress{}, fmt.Errorf("read progress: %w", err)
	}
	var progress types.RunProgress
	if err := json.Unmarshal(raw, &progress); err != nil {
		return types.RunProgress{}, fmt.Errorf("parse progress: %w", err)
	}
	return progress, nil
}

// Save writes progress atomically: a temp file in the same directory
// renamed over the target, so a crash never leaves a torn file.
func (p *ProgressFile) Save(progress types.RunProgress) error {
	raw, err := json.MarshalIndent(progress, "", "  ")
	if err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write progress temp: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit progress: %w", err)
	}
	return nil
}

// FailureLog is the append-only failures.json record of everything that
// went wrong during a run.
type FailureLog struct {
	path string
}

func NewFailureLog(runRoot string) *FailureLog {
	return &FailureLog{path: filepath.Join(runRoot, "failures.json")}
}

// Append adds one failure record, preserving existing entries.
func (f *FailureLog) Append(record types.FailureRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	var records []types.FailureRecord
	raw, err := os.ReadFile(f.path)
	if err == nil {
		// A torn previous write loses history but must not block new
		// failures from being recorded.
		json.Unmarshal(raw, &records)
	}
	records = append(records, record)

	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write failures temp: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit failures: %w", err)
	}
	return nil
}

// Load reads every recorded failure.
func (f *FailureLog) Load() ([]types.FailureRecord, error) {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []types.FailureRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse failures: %w", err)
	}
	return records, nil
}
