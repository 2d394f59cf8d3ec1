package upload

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/clipminer/internal/types"
)

// ErrNotFound means no record exists for the requested video id.
var ErrNotFound = errors.New("video record not found")

// RecordStore persists one row per uploaded video in SQLite. The UNIQUE
// video_id column is what makes the whole pipeline idempotent: inserting
// an already-known video is a no-op that returns the existing row.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore opens (and migrates) the database at dbPath.
func NewRecordStore(dbPath string) (*RecordStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS videos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		author TEXT,
		title TEXT,
		duration_sec REAL,
		transcript TEXT,
		ocr_text TEXT,
		storage_prefix TEXT NOT NULL,
		frame_count INTEGER,
		query TEXT,
		processed_at DATETIME,
		uploaded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_videos_query ON videos(query);
	CREATE INDEX IF NOT EXISTS idx_videos_uploaded_at ON videos(uploaded_at);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %v", err)
	}

	return &RecordStore{db: db}, nil
}

const recordColumns = `video_id, url, author, title, duration_sec, transcript, ocr_text, storage_prefix, frame_count, query, processed_at, uploaded_at`

// InsertOrGet writes the record unless its video_id already exists, and
// returns the stored row either way, with inserted reporting which case
// happened.
func (s *RecordStore) InsertOrGet(record types.UploadRecord) (types.UploadRecord, bool, error) {
	if record.UploadedAt.IsZero() {
		record.UploadedAt = time.Now().UTC()
	}

	res, err := s.db.Exec(`
	INSERT OR IGNORE INTO videos (`+recordColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.VideoID, record.URL, record.Author, record.Title, record.DurationSec,
		record.Transcript, record.OCRText, record.StoragePrefix, record.FrameCount,
		record.Query, record.ProcessedAt, record.UploadedAt,
	)
	if err != nil {
		return types.UploadRecord{}, false, fmt.Errorf("failed to save video record: %v", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return types.UploadRecord{}, false, err
	}

	stored, err := s.Get(record.VideoID)
	if err != nil {
		return types.UploadRecord{}, false, err
	}
	return stored, affected > 0, nil
}

// Get retrieves one record by video id.
func (s *RecordStore) Get(videoID string) (types.UploadRecord, error) {
	row := s.db.QueryRow(`SELECT `+recordColumns+` FROM videos WHERE video_id = ?`, videoID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.UploadRecord{}, fmt.Errorf("%s: %w", videoID, ErrNotFound)
	}
	if err != nil {
		return types.UploadRecord{}, fmt.Errorf("failed to get video record: %v", err)
	}
	return record, nil
}

// KnownIDs returns every stored video id, for pre-download dedup.
func (s *RecordStore) KnownIDs() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT video_id FROM videos`)
	if err != nil {
		return nil, fmt.Errorf("failed to list video ids: %v", err)
	}
	defer rows.Close()

	known := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known[id] = true
	}
	return known, rows.Err()
}

// SearchVideos finds records whose transcript or on-screen text matches
// the term.
func (s *RecordStore) SearchVideos(term string, limit int) ([]types.UploadRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + term + "%"
	rows, err := s.db.Query(`
	SELECT `+recordColumns+` FROM videos
	WHERE transcript LIKE ? OR ocr_text LIKE ?
	ORDER BY uploaded_at DESC LIMIT ?
	`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search videos: %v", err)
	}
	defer rows.Close()

	var records []types.UploadRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Stats returns the number of stored videos.
func (s *RecordStore) Stats() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM videos`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count videos: %v", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (types.UploadRecord, error) {
	var r types.UploadRecord
	err := row.Scan(
		&r.VideoID, &r.URL, &r.Author, &r.Title, &r.DurationSec,
		&r.Transcript, &r.OCRText, &r.StoragePrefix, &r.FrameCount,
		&r.Query, &r.ProcessedAt, &r.UploadedAt,
	)
	return r, err
}
